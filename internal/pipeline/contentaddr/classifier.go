package contentaddr

import (
	"strings"

	types "github.com/srleom/miniclue/internal/domain/lectures"
)

// Classifier decides whether an analysed image carries lecture content.
type Classifier interface {
	Classify(caption, ocrText string) string
}

type ClassifierFunc func(caption, ocrText string) string

func (f ClassifierFunc) Classify(caption, ocrText string) string { return f(caption, ocrText) }

var (
	contentKeywords    = []string{"diagram", "chart", "graph", "table", "screenshot", "code", "equation", "map", "plot"}
	decorativeKeywords = []string{"logo", "icon", "banner", "background", "illustration", "photo", "picture", "drawing", "artwork", "decoration"}
)

// KeywordClassifier is the default policy: caption keywords first, then the
// amount of recognised text, then the length of the caption.
type KeywordClassifier struct {
	MinOCRChars     int
	MinCaptionWords int
	MinCaptionChars int
}

func DefaultClassifier() KeywordClassifier {
	return KeywordClassifier{MinOCRChars: 30, MinCaptionWords: 4, MinCaptionChars: 30}
}

func (k KeywordClassifier) Classify(caption, ocrText string) string {
	c := strings.ToLower(strings.TrimSpace(caption))
	if containsAny(c, contentKeywords) {
		return types.ImageTypeContent
	}
	if containsAny(c, decorativeKeywords) {
		return types.ImageTypeDecorative
	}
	if len(strings.TrimSpace(ocrText)) >= k.MinOCRChars {
		return types.ImageTypeContent
	}
	if len(strings.Fields(c)) >= k.MinCaptionWords && len(c) >= k.MinCaptionChars {
		return types.ImageTypeContent
	}
	return types.ImageTypeDecorative
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
