package generation

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Fake is a deterministic Generator for tests and local runs. Hooks, when
// set, replace the default behaviour of the matching call.
type Fake struct {
	AnalyzeFunc   func(ctx context.Context, img []byte) (ImageAnalysis, error)
	ExplainFunc   func(ctx context.Context, in SlideInput) (SlideExplanation, error)
	SummarizeFunc func(ctx context.Context, title string, notes []SlideNote) (string, error)
	EmbedFunc     func(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions    int

	mu    sync.Mutex
	calls map[string]int
}

func (f *Fake) count(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[name]++
}

// Calls returns how many times a method ran ("AnalyzeImage", "ExplainSlide", "Summarize", "Embed").
func (f *Fake) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *Fake) EmbedModel() string { return "fake-embed" }

func (f *Fake) AnalyzeImage(ctx context.Context, img []byte) (ImageAnalysis, error) {
	f.count("AnalyzeImage")
	if f.AnalyzeFunc != nil {
		return f.AnalyzeFunc(ctx, img)
	}
	return ImageAnalysis{Type: "content", OCRText: "Figure text extracted from the slide diagram", AltText: "A diagram of the process"}, nil
}

func (f *Fake) ExplainSlide(ctx context.Context, in SlideInput) (SlideExplanation, error) {
	f.count("ExplainSlide")
	if f.ExplainFunc != nil {
		return f.ExplainFunc(ctx, in)
	}
	purpose := "content"
	if in.SlideNumber == 1 {
		purpose = "cover"
	}
	return SlideExplanation{
		Purpose:  purpose,
		Content:  fmt.Sprintf("Slide %d explains: %s", in.SlideNumber, strings.TrimSpace(in.RawText)),
		OneLiner: fmt.Sprintf("Slide %d in one line.", in.SlideNumber),
	}, nil
}

func (f *Fake) Summarize(ctx context.Context, title string, notes []SlideNote) (string, error) {
	f.count("Summarize")
	if f.SummarizeFunc != nil {
		return f.SummarizeFunc(ctx, title, notes)
	}
	return fmt.Sprintf("# Key Takeaways\n- %s covers %d slides", title, len(notes)), nil
}

func (f *Fake) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.count("Embed")
	if f.EmbedFunc != nil {
		return f.EmbedFunc(ctx, texts)
	}
	dims := f.Dimensions
	if dims <= 0 {
		dims = 4
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, dims)
		for j := range v {
			v[j] = float32((len(t) + i + j) % 7)
		}
		out[i] = v
	}
	return out, nil
}
