package generation

import (
	"fmt"
	"sort"
	"strings"

	domain "github.com/srleom/miniclue/internal/domain/lectures"
)

func enumSchema(values ...string) map[string]any {
	return map[string]any{"type": "string", "enum": values}
}

func objectSchema(props map[string]any) map[string]any {
	required := make([]string, 0, len(props))
	for k := range props {
		required = append(required, k)
	}
	sort.Strings(required)
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func imageAnalysisSchema() map[string]any {
	return objectSchema(map[string]any{
		"type":     enumSchema(domain.ImageTypeContent, domain.ImageTypeDecorative),
		"ocr_text": map[string]any{"type": "string"},
		"alt_text": map[string]any{"type": "string"},
	})
}

func explanationSchema() map[string]any {
	return objectSchema(map[string]any{
		"slide_purpose": enumSchema(domain.PurposeCover, domain.PurposeHeader, domain.PurposeContent),
		"explanation":   map[string]any{"type": "string"},
		"one_liner":     map[string]any{"type": "string"},
	})
}

const imageAnalysisPrompt = `Analyze the image taken from a lecture slide.
Classify it as "content" when it carries information such as diagrams, charts, tables or important text, or "decorative" when it is a logo, background or stock photo.
Extract all visible text into ocr_text (empty string when none).
Write a concise alt_text describing the image and its purpose.`

const explanationPrompt = `Explain one lecture slide to a student who missed the lecture.
Set slide_purpose to "cover" for a title slide, "header" for a section divider and "content" otherwise.
Write the explanation in Markdown, using LaTeX for formulas.
Write one_liner as a single sentence capturing the slide's key point.`

const summaryPrompt = `Write a revision cheatsheet for a university lecture from the per-slide explanations.
Start with a "# Key Takeaways" section of 5 to 15 bullets, then organise the rest under "##" topics and "###" concepts.
Use plain English, Markdown formatting and LaTeX for math. Return only the Markdown.`

func explanationUser(in SlideInput) string {
	var b strings.Builder
	if in.LectureTitle != "" {
		fmt.Fprintf(&b, "Lecture: %s\n", in.LectureTitle)
	}
	fmt.Fprintf(&b, "Slide %d of %d.\n\n", in.SlideNumber, in.TotalSlides)
	fmt.Fprintf(&b, "Slide text:\n%s\n\n", orNA(in.RawText))
	b.WriteString("Context from adjacent slides:\n")
	fmt.Fprintf(&b, "- Previous slide text: %q\n", orNA(in.PrevText))
	fmt.Fprintf(&b, "- Next slide text: %q\n", orNA(in.NextText))
	return b.String()
}

func summaryUser(title string, notes []SlideNote) string {
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "Lecture: %s\n\n", title)
	}
	b.WriteString("## Slide Explanations\n")
	for _, n := range notes {
		fmt.Fprintf(&b, "\n[Slide %d]\n%s\n", n.SlideNumber, strings.TrimSpace(n.Content))
	}
	return b.String()
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return strings.TrimSpace(s)
}
