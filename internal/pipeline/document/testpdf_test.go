package document

import (
	"bytes"
	"fmt"
)

type testPage struct {
	lines []string
	// side of a square unfiltered RGB image, 0 for none
	imageSide int
}

// buildPDF writes a minimal PDF with a correct xref table.
func buildPDF(pages []testPage) []byte {
	var objs []string
	add := func(body string) int {
		objs = append(objs, body)
		return len(objs)
	}
	catalog := add("")
	pagesObj := add("")
	fontObj := add("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	var kids []int
	for _, p := range pages {
		var content bytes.Buffer
		content.WriteString("BT /F1 24 Tf 72 460 Td\n")
		for i, l := range p.lines {
			if i > 0 {
				content.WriteString("0 -30 Td\n")
			}
			fmt.Fprintf(&content, "(%s) Tj\n", l)
		}
		content.WriteString("ET\n")
		xobj := ""
		if p.imageSide > 0 {
			content.WriteString("q 200 0 0 200 400 100 cm /Im1 Do Q\n")
			data := bytes.Repeat([]byte{0x20, 0x80, 0xC0}, p.imageSide*p.imageSide)
			img := add(fmt.Sprintf("<< /Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceRGB /BitsPerComponent 8 /Length %d >>\nstream\n%s\nendstream",
				p.imageSide, p.imageSide, len(data), data))
			xobj = fmt.Sprintf(" /XObject << /Im1 %d 0 R >>", img)
		}
		c := add(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()))
		kids = append(kids, add(fmt.Sprintf("<< /Type /Page /Parent %d 0 R /Resources << /Font << /F1 %d 0 R >>%s >> /Contents %d 0 R >>",
			pagesObj, fontObj, xobj, c)))
	}
	var kidRefs bytes.Buffer
	for _, k := range kids {
		fmt.Fprintf(&kidRefs, "%d 0 R ", k)
	}
	objs[catalog-1] = fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pagesObj)
	objs[pagesObj-1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 720 540] >>", kidRefs.String(), len(kids))

	var out bytes.Buffer
	out.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, body := range objs {
		offsets[i] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&out, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, catalog, xref)
	return out.Bytes()
}
