// Package envelope defines the job topics and their payload schemas.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Topic string

const (
	TopicIngestion     Topic = "ingestion"
	TopicImageAnalysis Topic = "image-analysis"
	TopicEmbedding     Topic = "embedding"
	TopicExplanation   Topic = "explanation"
	TopicSummary       Topic = "summary"
)

var Topics = []Topic{TopicIngestion, TopicImageAnalysis, TopicEmbedding, TopicExplanation, TopicSummary}

func ParseTopic(s string) (Topic, bool) {
	t := Topic(strings.TrimSpace(strings.ToLower(s)))
	for _, known := range Topics {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// ErrMalformed marks a message that can never be processed. Callers treat it
// as permanent.
var ErrMalformed = errors.New("malformed payload")

// Tenant identifies the customer a lecture belongs to. It selects the
// generation credentials.
type Tenant struct {
	CustomerIdentifier string `json:"customer_identifier"`
	Name               string `json:"name,omitempty"`
	Email              string `json:"email,omitempty"`
}

func (t Tenant) validate() error {
	if strings.TrimSpace(t.CustomerIdentifier) == "" {
		return errors.New("tenant.customer_identifier is required")
	}
	return nil
}

// Payload is implemented by every topic schema.
type Payload interface {
	Topic() Topic
	Lecture() uuid.UUID
	Customer() Tenant
	Validate() error
}

type IngestionPayload struct {
	LectureID   uuid.UUID `json:"lecture_id"`
	StoragePath string    `json:"storage_path"`
	Tenant      Tenant    `json:"tenant"`
}

func (IngestionPayload) Topic() Topic          { return TopicIngestion }
func (p IngestionPayload) Lecture() uuid.UUID { return p.LectureID }
func (p IngestionPayload) Customer() Tenant   { return p.Tenant }
func (p IngestionPayload) Validate() error {
	if p.LectureID == uuid.Nil {
		return errors.New("lecture_id is required")
	}
	if strings.TrimSpace(p.StoragePath) == "" {
		return errors.New("storage_path is required")
	}
	return p.Tenant.validate()
}

type ImageAnalysisPayload struct {
	LectureID uuid.UUID `json:"lecture_id"`
	AssetID   uuid.UUID `json:"asset_id"`
	ImageHash string    `json:"image_hash"`
	Tenant    Tenant    `json:"tenant"`
}

func (ImageAnalysisPayload) Topic() Topic          { return TopicImageAnalysis }
func (p ImageAnalysisPayload) Lecture() uuid.UUID { return p.LectureID }
func (p ImageAnalysisPayload) Customer() Tenant   { return p.Tenant }
func (p ImageAnalysisPayload) Validate() error {
	if p.LectureID == uuid.Nil || p.AssetID == uuid.Nil {
		return errors.New("lecture_id and asset_id are required")
	}
	if strings.TrimSpace(p.ImageHash) == "" {
		return errors.New("image_hash is required")
	}
	return p.Tenant.validate()
}

type EmbeddingPayload struct {
	LectureID uuid.UUID `json:"lecture_id"`
	Tenant    Tenant    `json:"tenant"`
}

func (EmbeddingPayload) Topic() Topic          { return TopicEmbedding }
func (p EmbeddingPayload) Lecture() uuid.UUID { return p.LectureID }
func (p EmbeddingPayload) Customer() Tenant   { return p.Tenant }
func (p EmbeddingPayload) Validate() error {
	if p.LectureID == uuid.Nil {
		return errors.New("lecture_id is required")
	}
	return p.Tenant.validate()
}

type ExplanationPayload struct {
	LectureID      uuid.UUID `json:"lecture_id"`
	SlideID        uuid.UUID `json:"slide_id"`
	SlideNumber    int       `json:"slide_number"`
	TotalSlides    int       `json:"total_slides"`
	SlideImagePath string    `json:"slide_image_path"`
	Tenant         Tenant    `json:"tenant"`
}

func (ExplanationPayload) Topic() Topic          { return TopicExplanation }
func (p ExplanationPayload) Lecture() uuid.UUID { return p.LectureID }
func (p ExplanationPayload) Customer() Tenant   { return p.Tenant }
func (p ExplanationPayload) Validate() error {
	if p.LectureID == uuid.Nil || p.SlideID == uuid.Nil {
		return errors.New("lecture_id and slide_id are required")
	}
	if p.SlideNumber < 1 || p.TotalSlides < p.SlideNumber {
		return fmt.Errorf("slide_number %d out of range 1..%d", p.SlideNumber, p.TotalSlides)
	}
	return p.Tenant.validate()
}

type SummaryPayload struct {
	LectureID uuid.UUID `json:"lecture_id"`
	Tenant    Tenant    `json:"tenant"`
}

func (SummaryPayload) Topic() Topic          { return TopicSummary }
func (p SummaryPayload) Lecture() uuid.UUID { return p.LectureID }
func (p SummaryPayload) Customer() Tenant   { return p.Tenant }
func (p SummaryPayload) Validate() error {
	if p.LectureID == uuid.Nil {
		return errors.New("lecture_id is required")
	}
	return p.Tenant.validate()
}

func newPayload(topic Topic) (Payload, error) {
	switch topic {
	case TopicIngestion:
		return &IngestionPayload{}, nil
	case TopicImageAnalysis:
		return &ImageAnalysisPayload{}, nil
	case TopicEmbedding:
		return &EmbeddingPayload{}, nil
	case TopicExplanation:
		return &ExplanationPayload{}, nil
	case TopicSummary:
		return &SummaryPayload{}, nil
	}
	return nil, fmt.Errorf("%w: unknown topic %q", ErrMalformed, topic)
}

// Decode parses data strictly into the schema of topic. Unknown fields,
// trailing data and failed validation all wrap ErrMalformed. The returned
// value is the pointer form, e.g. *IngestionPayload.
func Decode(topic Topic, data []byte) (Payload, error) {
	p, err := newPayload(topic)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, topic, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: %s: trailing data", ErrMalformed, topic)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, topic, err)
	}
	return p, nil
}

// Encode validates and marshals p.
func Encode(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrMalformed)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, p.Topic(), err)
	}
	return json.Marshal(p)
}
