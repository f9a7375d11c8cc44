package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/srleom/miniclue/internal/platform/httpx"
	"github.com/srleom/miniclue/internal/platform/openai"
)

var (
	// ErrAuth marks a rejected credential. Retrying cannot succeed.
	ErrAuth = errors.New("generation: authentication failed")
	// ErrNoCredential is returned by a Resolver that has no key for a tenant.
	ErrNoCredential = errors.New("generation: no credential for tenant")
	// ErrUnusableOutput marks a reply that was received but is empty,
	// malformed or refused. Stages store a flagged fallback for it; every
	// other non-permanent error is redelivered.
	ErrUnusableOutput = errors.New("generation: unusable output")
)

type ImageAnalysis struct {
	OCRText string
	AltText string
	// Hint from the model; the content-address classifier has the final say.
	Type string
}

type SlideInput struct {
	LectureTitle string
	SlideNumber  int
	TotalSlides  int
	RawText      string
	PrevText     string
	NextText     string
	Image        []byte
}

type SlideExplanation struct {
	Purpose  string
	Content  string
	OneLiner string
}

type SlideNote struct {
	SlideNumber int
	Purpose     string
	OneLiner    string
	Content     string
}

// Generator is the model-backed capability every content stage calls.
type Generator interface {
	AnalyzeImage(ctx context.Context, img []byte) (ImageAnalysis, error)
	ExplainSlide(ctx context.Context, in SlideInput) (SlideExplanation, error)
	Summarize(ctx context.Context, title string, notes []SlideNote) (string, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedModel() string
}

// Classify wraps provider errors so callers can test for ErrAuth and
// ErrUnusableOutput.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrUnusableOutput) {
		return err
	}
	if errors.Is(err, openai.ErrUnusableOutput) {
		return fmt.Errorf("%w: %w", ErrUnusableOutput, err)
	}
	if httpx.IsAuthStatus(httpx.StatusCode(err)) {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return err
}

// IsPermanent reports whether err can never succeed on retry.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrNoCredential)
}

// IsUnusable reports whether err is bad model output rather than a failed call.
func IsUnusable(err error) bool {
	return errors.Is(err, ErrUnusableOutput)
}
