package stages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	types "github.com/srleom/miniclue/internal/domain/lectures"
	"github.com/srleom/miniclue/internal/pipeline/contentaddr"
	"github.com/srleom/miniclue/internal/pipeline/document"
	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/platform/dbctx"
	"github.com/srleom/miniclue/internal/platform/gcp"
)

const ingestConcurrency = 4

// FullSlidePath is where the render of slide n is stored.
func FullSlidePath(lectureID uuid.UUID, n int) string {
	return fmt.Sprintf("lectures/%s/slides/%d/full_slide.png", lectureID, n)
}

type preparedImage struct {
	index  int
	hash   string
	png    []byte
	width  int
	height int
}

type preparedPage struct {
	page   document.Page
	render []byte
	chunks []document.Chunk
	images []preparedImage
}

func (s *Service) ingest(ctx context.Context, r *run, p *envelope.IngestionPayload) error {
	dbc := dbctx.New(ctx)
	l, err := s.Lectures.GetByID(dbc, p.LectureID)
	if err != nil {
		return err
	}
	if l == nil {
		return nil
	}
	switch l.Status {
	case types.StatusNew, types.StatusParsing, types.StatusProcessing:
	default:
		r.log.Info("Ingest already fanned out; acknowledging", "status", l.Status)
		return nil
	}

	data, err := s.Store.Get(ctx, p.StoragePath)
	if errors.Is(err, gcp.ErrObjectNotFound) {
		return permanent(fmt.Errorf("lecture file %s: %w", p.StoragePath, err))
	}
	if err != nil {
		return fmt.Errorf("download lecture: %w", err)
	}
	doc, err := s.Parser.Parse(ctx, data)
	if err != nil {
		return fmt.Errorf("parse lecture: %w", err)
	}
	if len(doc.Pages) == 0 {
		return permanent(document.ErrNoPages)
	}
	total := len(doc.Pages)

	if _, err := s.Lectures.BeginParsing(dbc, l.ID, total); err != nil {
		return fmt.Errorf("begin parsing: %w", err)
	}

	pages, err := s.preparePages(ctx, doc)
	if err != nil {
		return err
	}

	// Decide where every image lives before anything is written.
	local := contentaddr.NewLocal()
	uploads := map[string][]byte{}
	globals := map[string]*types.DecorativeImage{}
	seen := map[string]bool{}
	for _, pg := range pages {
		uploads[FullSlidePath(l.ID, pg.page.Number)] = pg.render
		for _, img := range pg.images {
			if seen[img.hash] {
				continue
			}
			seen[img.hash] = true
			g, err := s.global.Lookup(dbc, img.hash)
			if err != nil {
				return fmt.Errorf("global registry lookup: %w", err)
			}
			if g != nil {
				globals[img.hash] = g
				continue
			}
			if loc, isNew := local.LookupOrRegister(img.hash, contentaddr.LecturePath(l.ID, img.hash)); isNew {
				uploads[loc] = img.png
			}
		}
	}
	if err := s.uploadAll(ctx, uploads); err != nil {
		return err
	}

	pending, analysable, slides, err := s.persistPages(dbc, l, pages, local, globals)
	if err != nil {
		return err
	}
	if _, err := s.Lectures.SetStatusIf(dbc, l.ID, types.StatusProcessing, types.StatusParsing); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	next := types.StatusSummarising
	if s.Policy.Narrative {
		next = types.StatusExplaining
	}
	return s.tx(ctx, func(dbc dbctx.Context) error {
		moved, err := s.Lectures.FanOut(dbc, l.ID, next, analysable)
		if err != nil {
			return fmt.Errorf("fan out: %w", err)
		}
		if !moved {
			r.log.Info("Fan-out already done by another delivery")
			return nil
		}
		tenant := p.Tenant
		if len(pending) == 0 {
			if err := s.Dispatcher.Publish(dbc, envelope.TopicEmbedding, envelope.EmbeddingPayload{LectureID: l.ID, Tenant: tenant}); err != nil {
				return fmt.Errorf("publish embedding: %w", err)
			}
		}
		for _, a := range pending {
			if err := s.Dispatcher.Publish(dbc, envelope.TopicImageAnalysis, envelope.ImageAnalysisPayload{
				LectureID: l.ID, AssetID: a.ID, ImageHash: a.ImageHash, Tenant: tenant,
			}); err != nil {
				return fmt.Errorf("publish image analysis: %w", err)
			}
		}
		if !s.Policy.Narrative {
			return nil
		}
		// Explanations from a rolled-back fan-out may all be stored already,
		// and their summary job found the lecture not yet explaining.
		cur, err := s.Lectures.GetByID(dbc, l.ID)
		if err != nil {
			return fmt.Errorf("reload lecture: %w", err)
		}
		if cur != nil && cur.ProcessedSlides >= cur.TotalSlides {
			if err := s.Dispatcher.Publish(dbc, envelope.TopicSummary, envelope.SummaryPayload{LectureID: l.ID, Tenant: tenant}); err != nil {
				return fmt.Errorf("publish summary: %w", err)
			}
		}
		for _, sl := range slides {
			if err := s.Dispatcher.Publish(dbc, envelope.TopicExplanation, envelope.ExplanationPayload{
				LectureID:      l.ID,
				SlideID:        sl.ID,
				SlideNumber:    sl.SlideNumber,
				TotalSlides:    total,
				SlideImagePath: FullSlidePath(l.ID, sl.SlideNumber),
				Tenant:         tenant,
			}); err != nil {
				return fmt.Errorf("publish explanation: %w", err)
			}
		}
		r.log.Info("Lecture fanned out", "slides", total, "analysis_jobs", len(pending), "next", next)
		return nil
	})
}

// preparePages renders, chunks and hashes every page concurrently.
func (s *Service) preparePages(ctx context.Context, doc *document.Document) ([]preparedPage, error) {
	out := make([]preparedPage, len(doc.Pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ingestConcurrency)
	for i := range doc.Pages {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pg := doc.Pages[i]
			render, err := s.Renderer.Render(pg)
			if err != nil {
				return fmt.Errorf("render slide %d: %w", pg.Number, err)
			}
			prepared := preparedPage{
				page:   pg,
				render: render,
				chunks: document.ChunkText(pg.Text, s.Policy.ChunkTokens, s.Policy.ChunkOverlap),
			}
			for j, im := range pg.Images {
				hash, err := contentaddr.Hash(im.Img)
				if err != nil {
					return fmt.Errorf("hash slide %d image %d: %w", pg.Number, j, err)
				}
				data, err := document.EncodePNG(im.Img)
				if err != nil {
					return err
				}
				b := im.Img.Bounds()
				prepared.images = append(prepared.images, preparedImage{
					index: j + 1, hash: hash, png: data, width: b.Dx(), height: b.Dy(),
				})
			}
			out[i] = prepared
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) uploadAll(ctx context.Context, uploads map[string][]byte) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ingestConcurrency)
	for key, data := range uploads {
		key, data := key, data
		g.Go(func() error {
			if err := s.Store.Put(gctx, key, data, "image/png"); err != nil {
				return fmt.Errorf("upload %s: %w", key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// persistPages writes slides, chunks, assets and placements. Every write is
// an upsert or insert-if-absent so a replayed ingest converges on the same
// rows. It returns the assets that still need analysis, once each, and the
// number of distinct lecture-scoped assets. Only lecture-scoped assets pass
// through image analysis, so that count is the sub-image total whether or not
// an earlier delivery already analysed some of them.
func (s *Service) persistPages(
	dbc dbctx.Context,
	l *types.Lecture,
	pages []preparedPage,
	local *contentaddr.Local,
	globals map[string]*types.DecorativeImage,
) ([]*types.VisualAsset, int, []*types.Slide, error) {
	var (
		pending []*types.VisualAsset
		slides  = make([]*types.Slide, 0, len(pages))
		queued  = map[string]bool{}
		counted = map[string]bool{}
		now     = time.Now().UTC()
	)
	for _, pg := range pages {
		n := pg.page.Number
		slide, err := s.Slides.Upsert(dbc, &types.Slide{
			LectureID:   l.ID,
			SlideNumber: n,
			RawText:     pg.page.Text,
			TotalChunks: len(pg.chunks),
		})
		if err != nil {
			return nil, 0, nil, fmt.Errorf("upsert slide %d: %w", n, err)
		}
		slides = append(slides, slide)

		chunks := make([]*types.Chunk, 0, len(pg.chunks))
		for _, c := range pg.chunks {
			chunks = append(chunks, &types.Chunk{
				SlideID: slide.ID, LectureID: l.ID, SlideNumber: n,
				ChunkIndex: c.Index, Text: c.Text, TokenCount: c.TokenCount,
			})
		}
		if _, err := s.Chunks.InsertIfAbsent(dbc, chunks); err != nil {
			return nil, 0, nil, fmt.Errorf("insert chunks for slide %d: %w", n, err)
		}

		if err := s.Assets.UpsertPlacement(dbc, &types.SlideImage{
			SlideID: slide.ID, LectureID: l.ID, SlideNumber: n, ImageIndex: 0,
			Kind: types.PlacementFullSlide, StoragePath: FullSlidePath(l.ID, n),
		}); err != nil {
			return nil, 0, nil, fmt.Errorf("full slide placement %d: %w", n, err)
		}

		for _, img := range pg.images {
			candidate := &types.VisualAsset{
				LectureID: l.ID, ImageHash: img.hash, Width: img.width, Height: img.height,
			}
			if g := globals[img.hash]; g != nil {
				candidate.Scope = types.ScopeGlobal
				candidate.StoragePath = g.StoragePath
				candidate.Type = types.ImageTypeDecorative
				candidate.OCRText = g.OCRText
				candidate.AltText = g.AltText
				candidate.AnalyzedAt = &now
			} else {
				loc, _ := local.LookupOrRegister(img.hash, contentaddr.LecturePath(l.ID, img.hash))
				candidate.Scope = types.ScopeLecture
				candidate.StoragePath = loc
			}
			asset, err := s.Assets.Upsert(dbc, candidate)
			if err != nil {
				return nil, 0, nil, fmt.Errorf("upsert asset %s: %w", img.hash, err)
			}
			if asset.Scope == types.ScopeLecture {
				counted[asset.ImageHash] = true
			}
			if asset.AnalyzedAt == nil && !queued[asset.ImageHash] {
				queued[asset.ImageHash] = true
				pending = append(pending, asset)
			}
			assetID := asset.ID
			if err := s.Assets.UpsertPlacement(dbc, &types.SlideImage{
				SlideID: slide.ID, LectureID: l.ID, AssetID: &assetID, SlideNumber: n, ImageIndex: img.index,
				Kind: types.PlacementSubImage, ImageHash: asset.ImageHash, StoragePath: asset.StoragePath,
				Type: asset.Type, OCRText: asset.OCRText, AltText: asset.AltText,
				Width: img.width, Height: img.height,
			}); err != nil {
				return nil, 0, nil, fmt.Errorf("placement slide %d image %d: %w", n, img.index, err)
			}
		}
	}
	return pending, len(counted), slides, nil
}
