package document

import (
	"fmt"
	"image/color"
	"math"
	"strings"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// Renderer draws a page approximation as PNG: text runs at their positions
// and embedded images along the right edge.
type Renderer struct {
	Width int

	once  sync.Once
	font  *truetype.Font
	err   error
	mu    sync.Mutex
	faces map[int]font.Face
}

func NewRenderer(width int) *Renderer {
	if width <= 0 {
		width = 1280
	}
	return &Renderer{Width: width, faces: map[int]font.Face{}}
}

func (r *Renderer) face(size float64) (font.Face, error) {
	r.once.Do(func() {
		r.font, r.err = truetype.Parse(goregular.TTF)
	})
	if r.err != nil {
		return nil, fmt.Errorf("parse font: %w", r.err)
	}
	key := int(math.Round(size))
	if key < 6 {
		key = 6
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.faces[key]; ok {
		return f, nil
	}
	f := truetype.NewFace(r.font, &truetype.Options{Size: float64(key), DPI: 72, Hinting: font.HintingNone})
	r.faces[key] = f
	return f, nil
}

func (r *Renderer) Render(p Page) ([]byte, error) {
	pw, ph := p.Width, p.Height
	if pw <= 0 || ph <= 0 {
		pw, ph = defaultPageWidth, defaultPageHeight
	}
	scale := float64(r.Width) / pw
	w, h := r.Width, int(math.Round(ph*scale))

	dc := gg.NewContext(w, h)
	dc.SetColor(color.White)
	dc.Clear()
	dc.SetColor(color.Black)

	if len(p.Runs) > 0 {
		for _, t := range p.Runs {
			size := t.FontSize * scale
			if size <= 0 {
				size = 12 * scale
			}
			f, err := r.face(size)
			if err != nil {
				return nil, err
			}
			dc.SetFontFace(f)
			// PDF space has its origin bottom-left.
			dc.DrawString(t.S, t.X*scale, float64(h)-t.Y*scale)
		}
	} else if text := strings.TrimSpace(p.Text); text != "" {
		f, err := r.face(float64(w) / 48)
		if err != nil {
			return nil, err
		}
		dc.SetFontFace(f)
		margin := float64(w) / 20
		dc.DrawStringWrapped(text, margin, margin, 0, 0, float64(w)-2*margin, 1.4, gg.AlignLeft)
	}

	if n := len(p.Images); n > 0 {
		slot := float64(h) / float64(n)
		maxW := float64(w) / 4
		for i, im := range p.Images {
			b := im.Img.Bounds()
			s := math.Min(maxW/float64(b.Dx()), slot/float64(b.Dy()))
			scaled := Normalize(im.Img, int(math.Max(float64(b.Dx()), float64(b.Dy()))*s))
			dc.DrawImage(scaled, w-scaled.Bounds().Dx(), int(slot*float64(i)))
		}
	}

	img := dc.Image()
	return EncodePNG(img)
}
