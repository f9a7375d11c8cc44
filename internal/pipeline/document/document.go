package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/image/draw"
)

var (
	ErrNotPDF  = errors.New("document: not a PDF")
	ErrNoPages = errors.New("document: no pages")
)

const (
	defaultPageWidth  = 960.0
	defaultPageHeight = 540.0
	// Images smaller than this on either side are ignored (bullets, rules).
	minImageSide = 16
	maxImageSide = 2048
)

type Image struct {
	Index int
	Img   image.Image
}

type Text struct {
	X, Y     float64
	FontSize float64
	S        string
}

type Page struct {
	Number int
	Width  float64
	Height float64
	Text   string
	Runs   []Text
	Images []Image
}

type Document struct {
	Pages []Page
}

// Parser turns uploaded bytes into pages.
type Parser interface {
	Parse(ctx context.Context, data []byte) (*Document, error)
}

type PDFParser struct{}

func NewPDFParser() *PDFParser { return &PDFParser{} }

func (PDFParser) Parse(ctx context.Context, data []byte) (*Document, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("%PDF")) {
		return nil, ErrNotPDF
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("pdf reader: %w", err)
	}
	n := r.NumPage()
	if n == 0 {
		return nil, ErrNoPages
	}
	doc := &Document{Pages: make([]Page, 0, n)}
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc.Pages = append(doc.Pages, readPage(r.Page(i), i))
	}
	return doc, nil
}

func readPage(p pdf.Page, number int) Page {
	out := Page{Number: number, Width: defaultPageWidth, Height: defaultPageHeight}
	if p.V.IsNull() {
		return out
	}
	out.Width, out.Height = mediaBox(p)
	out.Text = pageText(p)
	out.Runs = pageRuns(p)
	out.Images = pageImages(p)
	return out
}

func mediaBox(p pdf.Page) (float64, float64) {
	for v := p.V; !v.IsNull(); v = v.Key("Parent") {
		box := v.Key("MediaBox")
		if box.Kind() == pdf.Array && box.Len() == 4 {
			w := box.Index(2).Float64() - box.Index(0).Float64()
			h := box.Index(3).Float64() - box.Index(1).Float64()
			if w > 0 && h > 0 {
				return w, h
			}
		}
	}
	return defaultPageWidth, defaultPageHeight
}

func pageText(p pdf.Page) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
		}
	}()
	s, err := p.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return collapseWhitespace(s)
}

func pageRuns(p pdf.Page) (runs []Text) {
	defer func() {
		if r := recover(); r != nil {
			runs = nil
		}
	}()
	for _, t := range p.Content().Text {
		if t.S == "" {
			continue
		}
		runs = append(runs, Text{X: t.X, Y: t.Y, FontSize: t.FontSize, S: t.S})
	}
	return runs
}

func pageImages(p pdf.Page) []Image {
	xobjects := p.Resources().Key("XObject")
	var out []Image
	for _, name := range xobjects.Keys() {
		v := xobjects.Key(name)
		if v.Key("Subtype").Name() != "Image" {
			continue
		}
		img, err := decodeImage(v)
		if err != nil || img == nil {
			continue
		}
		b := img.Bounds()
		if b.Dx() < minImageSide || b.Dy() < minImageSide {
			continue
		}
		out = append(out, Image{Index: len(out), Img: Normalize(img, maxImageSide)})
	}
	return out
}

// decodeImage handles unfiltered and Flate-compressed 8-bit RGB and gray
// image XObjects. Anything else is skipped.
func decodeImage(v pdf.Value) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("decode image: %v", r)
		}
	}()
	switch f := v.Key("Filter"); f.Kind() {
	case pdf.Null:
	case pdf.Name:
		if f.Name() != "FlateDecode" {
			return nil, fmt.Errorf("unsupported filter %s", f.Name())
		}
	default:
		return nil, fmt.Errorf("unsupported filter chain")
	}
	if bpc := v.Key("BitsPerComponent").Int64(); bpc != 8 {
		return nil, fmt.Errorf("unsupported bits per component %d", bpc)
	}
	w, h := int(v.Key("Width").Int64()), int(v.Key("Height").Int64())
	if w <= 0 || h <= 0 || w*h > maxImageSide*maxImageSide*4 {
		return nil, fmt.Errorf("bad image size %dx%d", w, h)
	}
	var comps int
	switch v.Key("ColorSpace").Name() {
	case "DeviceRGB":
		comps = 3
	case "DeviceGray":
		comps = 1
	default:
		return nil, fmt.Errorf("unsupported color space")
	}

	rc := v.Reader()
	defer rc.Close()
	raw, err := io.ReadAll(io.LimitReader(rc, int64(w*h*comps)+1))
	if err != nil {
		return nil, err
	}
	if len(raw) < w*h*comps {
		return nil, fmt.Errorf("short image data: %d < %d", len(raw), w*h*comps)
	}

	if comps == 1 {
		g := image.NewGray(image.Rect(0, 0, w, h))
		copy(g.Pix, raw[:w*h])
		return g, nil
	}
	rgba := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		rgba.Pix[i*4+0] = raw[i*3+0]
		rgba.Pix[i*4+1] = raw[i*3+1]
		rgba.Pix[i*4+2] = raw[i*3+2]
		rgba.Pix[i*4+3] = 0xff
	}
	return rgba, nil
}

// Normalize bounds the longest side of img to maxSide, keeping aspect ratio.
func Normalize(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return img
	}
	scale := float64(maxSide) / float64(max(w, h))
	dst := image.NewNRGBA(image.Rect(0, 0, max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeImage decodes PNG bytes as stored by ingest.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}
