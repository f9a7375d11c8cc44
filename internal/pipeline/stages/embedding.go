package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/srleom/miniclue/internal/domain/lectures"
	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/platform/dbctx"
)

func (s *Service) embed(ctx context.Context, r *run, p *envelope.EmbeddingPayload) error {
	dbc := dbctx.New(ctx)
	l, err := s.Lectures.GetByID(dbc, p.LectureID)
	if err != nil {
		return err
	}
	if l == nil || l.EmbeddingsComplete {
		return nil
	}
	if l.Status.Before(types.StatusExplaining) {
		return fmt.Errorf("%w: lecture is %s", ErrNotReady, l.Status)
	}
	if l.ProcessedSubImages < l.TotalSubImages {
		return fmt.Errorf("%w: %d/%d images analysed", ErrNotReady, l.ProcessedSubImages, l.TotalSubImages)
	}

	chunks, err := s.Chunks.ListByLecture(dbc, l.ID)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	placements, err := s.Assets.ListPlacementsByLecture(dbc, l.ID)
	if err != nil {
		return fmt.Errorf("list placements: %w", err)
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = enrichChunk(c.Text, slideContext(placements, c.SlideID))
	}

	gen, err := s.Generators.ForTenant(ctx, p.Tenant)
	if err != nil {
		return err
	}
	vectors, err := s.embedBatches(ctx, gen.Embed, texts)
	if err != nil {
		return err
	}
	model := gen.EmbedModel()

	rows := make([]*types.Embedding, 0, len(chunks))
	perSlide := map[uuid.UUID]int{}
	for i, c := range chunks {
		vec, err := json.Marshal(vectors[i])
		if err != nil {
			return err
		}
		meta, err := json.Marshal(map[string]any{
			"slide_number": c.SlideNumber,
			"chunk_index":  c.ChunkIndex,
			"token_count":  c.TokenCount,
		})
		if err != nil {
			return err
		}
		rows = append(rows, &types.Embedding{
			ChunkID:     c.ID,
			SlideID:     c.SlideID,
			LectureID:   l.ID,
			SlideNumber: c.SlideNumber,
			Model:       model,
			Dimensions:  len(vectors[i]),
			Vector:      datatypes.JSON(vec),
			Metadata:    datatypes.JSON(meta),
		})
		perSlide[c.SlideID]++
	}

	return s.tx(ctx, func(dbc dbctx.Context) error {
		status, changed, err := s.Lectures.MarkEmbeddingsComplete(dbc, l.ID)
		if err != nil {
			return fmt.Errorf("mark embeddings complete: %w", err)
		}
		if !changed {
			r.log.Info("Embeddings already committed by another delivery")
			return nil
		}
		if err := s.Embeddings.Upsert(dbc, rows); err != nil {
			return fmt.Errorf("store embeddings: %w", err)
		}
		for slideID, n := range perSlide {
			if _, _, err := s.Slides.IncrementProcessedChunks(dbc, slideID, n); err != nil {
				return fmt.Errorf("advance slide chunks: %w", err)
			}
		}
		r.log.Info("Embeddings stored", "chunks", len(rows), "model", model)
		if status != types.StatusSummarising {
			return nil
		}
		done, err := s.Lectures.TryComplete(dbc, l.ID)
		if err != nil {
			return fmt.Errorf("complete lecture: %w", err)
		}
		r.completed = done
		return nil
	})
}

func (s *Service) embedBatches(ctx context.Context, embed func(context.Context, []string) ([][]float32, error), texts []string) ([][]float32, error) {
	size := s.Policy.Stage(envelope.TopicEmbedding).BatchSize
	if size <= 0 {
		size = len(texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vecs, err := embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embed chunks %d-%d: got %d vectors", start, end, len(vecs))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

type imageText struct {
	ocr string
	alt string
}

// slideContext collects the analysed text of content images on one slide.
func slideContext(placements []*types.SlideImage, slideID uuid.UUID) []imageText {
	var out []imageText
	for _, pl := range placements {
		if pl.SlideID != slideID || pl.Kind != types.PlacementSubImage || pl.Type != types.ImageTypeContent {
			continue
		}
		if pl.OCRText == "" && pl.AltText == "" {
			continue
		}
		out = append(out, imageText{ocr: pl.OCRText, alt: pl.AltText})
	}
	return out
}

func enrichChunk(text string, images []imageText) string {
	if len(images) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	for _, im := range images {
		if im.ocr != "" {
			b.WriteString("\n\nOCR Text: ")
			b.WriteString(im.ocr)
		}
		if im.alt != "" {
			b.WriteString("\n\nAlt Text: ")
			b.WriteString(im.alt)
		}
	}
	return b.String()
}
