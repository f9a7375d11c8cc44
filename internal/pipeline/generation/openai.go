package generation

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	domain "github.com/srleom/miniclue/internal/domain/lectures"
	"github.com/srleom/miniclue/internal/platform/logger"
	"github.com/srleom/miniclue/internal/platform/openai"
	"github.com/srleom/miniclue/internal/platform/promptstyle"
)

type openAIGenerator struct {
	log    *logger.Logger
	client openai.Client
}

// NewOpenAI adapts an OpenAI client to the Generator contract.
func NewOpenAI(log *logger.Logger, client openai.Client) Generator {
	return &openAIGenerator{log: log.With("service", "generation.OpenAI"), client: client}
}

func (g *openAIGenerator) EmbedModel() string { return g.client.EmbedModel() }

func (g *openAIGenerator) AnalyzeImage(ctx context.Context, img []byte) (ImageAnalysis, error) {
	obj, err := g.client.GenerateJSON(ctx,
		promptstyle.ApplySystem(imageAnalysisPrompt, "json"),
		"Analyze this image.",
		[]openai.ImageInput{{ImageURL: openai.DataURL(http.DetectContentType(img), img), Detail: "low"}},
		"image_analysis", imageAnalysisSchema(),
	)
	if err != nil {
		return ImageAnalysis{}, Classify(err)
	}
	out := ImageAnalysis{
		Type:    strings.ToLower(stringField(obj, "type")),
		OCRText: stringField(obj, "ocr_text"),
		AltText: stringField(obj, "alt_text"),
	}
	if out.Type != domain.ImageTypeContent && out.Type != domain.ImageTypeDecorative {
		out.Type = ""
	}
	return out, nil
}

func (g *openAIGenerator) ExplainSlide(ctx context.Context, in SlideInput) (SlideExplanation, error) {
	var images []openai.ImageInput
	if len(in.Image) > 0 {
		images = append(images, openai.ImageInput{ImageURL: openai.DataURL("image/png", in.Image), Detail: "high"})
	}
	obj, err := g.client.GenerateJSON(ctx,
		promptstyle.ApplySystem(explanationPrompt, "json"),
		explanationUser(in), images,
		"slide_explanation", explanationSchema(),
	)
	if err != nil {
		return SlideExplanation{}, Classify(err)
	}
	out := SlideExplanation{
		Purpose:  strings.ToLower(stringField(obj, "slide_purpose")),
		Content:  stringField(obj, "explanation"),
		OneLiner: stringField(obj, "one_liner"),
	}
	switch out.Purpose {
	case domain.PurposeCover, domain.PurposeHeader, domain.PurposeContent:
	default:
		out.Purpose = domain.PurposeContent
	}
	if strings.TrimSpace(out.Content) == "" {
		return SlideExplanation{}, fmt.Errorf("%w: empty explanation for slide %d", ErrUnusableOutput, in.SlideNumber)
	}
	return out, nil
}

func (g *openAIGenerator) Summarize(ctx context.Context, title string, notes []SlideNote) (string, error) {
	text, err := g.client.GenerateText(ctx, promptstyle.ApplySystem(summaryPrompt, "text"), summaryUser(title, notes))
	if err != nil {
		return "", Classify(err)
	}
	return strings.TrimSpace(text), nil
}

func (g *openAIGenerator) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := g.client.Embed(ctx, texts)
	if err != nil {
		return nil, Classify(err)
	}
	return vecs, nil
}

func stringField(obj map[string]any, key string) string {
	if obj == nil {
		return ""
	}
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}
