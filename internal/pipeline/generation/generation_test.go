package generation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/platform/logger"
	"github.com/srleom/miniclue/internal/platform/openai"
)

type statusErr int

func (e statusErr) Error() string       { return "status" }
func (e statusErr) HTTPStatusCode() int { return int(e) }

func TestClassify(t *testing.T) {
	cases := []struct {
		err       error
		permanent bool
	}{
		{statusErr(http.StatusUnauthorized), true},
		{statusErr(http.StatusForbidden), true},
		{statusErr(http.StatusTooManyRequests), false},
		{errors.New("boom"), false},
		{ErrNoCredential, true},
	}
	for _, tc := range cases {
		if got := IsPermanent(Classify(tc.err)); got != tc.permanent {
			t.Fatalf("IsPermanent(Classify(%v)) = %v, want %v", tc.err, got, tc.permanent)
		}
	}
	if Classify(nil) != nil {
		t.Fatalf("Classify(nil) != nil")
	}
}

func TestParseTenantKeys(t *testing.T) {
	got := ParseTenantKeys(" acme = sk-1 ,broken, =x,globex=sk-2")
	if len(got) != 2 || got["acme"] != "sk-1" || got["globex"] != "sk-2" {
		t.Fatalf("ParseTenantKeys = %v", got)
	}
}

func TestOpenAIResolver(t *testing.T) {
	ctx := context.Background()
	r := NewOpenAIResolver(logger.Nop(), openai.Config{}, map[string]string{"acme": "sk-acme"})

	if _, err := r.ForTenant(ctx, envelope.Tenant{CustomerIdentifier: "nobody"}); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("missing key: %v", err)
	}
	g1, err := r.ForTenant(ctx, envelope.Tenant{CustomerIdentifier: "acme"})
	if err != nil {
		t.Fatalf("ForTenant: %v", err)
	}
	g2, _ := r.ForTenant(ctx, envelope.Tenant{CustomerIdentifier: "acme"})
	if g1 != g2 {
		t.Fatalf("expected cached generator")
	}

	shared := NewOpenAIResolver(logger.Nop(), openai.Config{APIKey: "sk-shared"}, nil)
	if _, err := shared.ForTenant(ctx, envelope.Tenant{CustomerIdentifier: "anyone"}); err != nil {
		t.Fatalf("shared key: %v", err)
	}
}

func TestOpenAIGeneratorMapsAuthErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	c, err := openai.NewClient(logger.Nop(), openai.Config{APIKey: "bad", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	g := NewOpenAI(logger.Nop(), c)
	if _, err := g.Embed(context.Background(), []string{"x"}); !errors.Is(err, ErrAuth) {
		t.Fatalf("Embed err = %v", err)
	}
	if _, err := g.Summarize(context.Background(), "t", nil); !errors.Is(err, ErrAuth) {
		t.Fatalf("Summarize err = %v", err)
	}
}

func TestOpenAIGeneratorExplainDefaultsPurpose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"{\"slide_purpose\":\"weird\",\"explanation\":\"Body\",\"one_liner\":\"Line\"}"}]}]}`))
	}))
	defer srv.Close()
	c, _ := openai.NewClient(logger.Nop(), openai.Config{APIKey: "k", BaseURL: srv.URL})
	out, err := NewOpenAI(logger.Nop(), c).ExplainSlide(context.Background(), SlideInput{SlideNumber: 2, TotalSlides: 3, Image: []byte{1}})
	if err != nil {
		t.Fatalf("ExplainSlide: %v", err)
	}
	if out.Purpose != "content" || out.Content != "Body" || out.OneLiner != "Line" {
		t.Fatalf("ExplainSlide = %+v", out)
	}
}

func TestOpenAIGeneratorSeparatesBadOutputFromFailedCalls(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		unusable bool
	}{
		{name: "malformed json", status: http.StatusOK, body: `{"output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"not json"}]}]}`, unusable: true},
		{name: "empty explanation", status: http.StatusOK, body: `{"output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"{\"slide_purpose\":\"content\",\"explanation\":\" \",\"one_liner\":\"\"}"}]}]}`, unusable: true},
		{name: "no output", status: http.StatusOK, body: `{"output":[]}`, unusable: true},
		{name: "server error", status: http.StatusBadGateway, body: `{"error":{"message":"upstream"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			c, _ := openai.NewClient(logger.Nop(), openai.Config{APIKey: "k", BaseURL: srv.URL})
			_, err := NewOpenAI(logger.Nop(), c).ExplainSlide(context.Background(), SlideInput{SlideNumber: 1, TotalSlides: 1})
			if err == nil {
				t.Fatalf("expected error")
			}
			if IsUnusable(err) != tc.unusable {
				t.Fatalf("IsUnusable(%v) = %v, want %v", err, IsUnusable(err), tc.unusable)
			}
			if IsPermanent(err) {
				t.Fatalf("unexpected permanent error: %v", err)
			}
		})
	}
}
