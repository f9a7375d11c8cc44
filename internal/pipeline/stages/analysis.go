package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lectrepo "github.com/srleom/miniclue/internal/data/repos/lectures"
	types "github.com/srleom/miniclue/internal/domain/lectures"
	"github.com/srleom/miniclue/internal/pipeline/contentaddr"
	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/pipeline/generation"
	"github.com/srleom/miniclue/internal/platform/dbctx"
	"github.com/srleom/miniclue/internal/platform/gcp"
)

func (s *Service) analyze(ctx context.Context, r *run, p *envelope.ImageAnalysisPayload) error {
	dbc := dbctx.New(ctx)
	asset, err := s.Assets.GetByID(dbc, p.AssetID)
	if err != nil {
		return err
	}
	if asset == nil {
		r.log.Warn("Asset missing; acknowledging", "asset_id", p.AssetID)
		return nil
	}
	if asset.AnalyzedAt != nil {
		return nil
	}
	log := r.log.With("asset_id", asset.ID, "image_hash", asset.ImageHash)

	data, err := s.Store.Get(ctx, asset.StoragePath)
	if errors.Is(err, gcp.ErrObjectNotFound) {
		return permanent(fmt.Errorf("asset image %s: %w", asset.StoragePath, err))
	}
	if err != nil {
		return fmt.Errorf("download asset: %w", err)
	}

	gen, err := s.Generators.ForTenant(ctx, p.Tenant)
	if err != nil {
		return err
	}
	res := lectrepo.AnalysisResult{}
	var fallbackErr error
	analysis, err := gen.AnalyzeImage(ctx, data)
	switch {
	case err == nil:
		res.OCRText = strings.TrimSpace(analysis.OCRText)
		res.AltText = strings.TrimSpace(analysis.AltText)
	case generation.IsPermanent(err):
		return err
	case generation.IsUnusable(err):
		log.Warn("Image analysis unusable; storing fallback", "error", err)
		fallbackErr = err
		res.IsFallback = true
	default:
		return fmt.Errorf("analyze image: %w", err)
	}

	if res.OCRText == "" && s.OCR != nil && !res.IsFallback {
		if text, oerr := s.OCR.OCRImageBytes(ctx, data); oerr != nil {
			log.Warn("OCR supplement failed", "error", oerr)
		} else {
			res.OCRText = strings.TrimSpace(text)
		}
	}

	if res.IsFallback {
		res.Type = types.ImageTypeContent
	} else {
		res.Type = s.Classifier.Classify(res.AltText, res.OCRText)
	}

	if res.Type == types.ImageTypeDecorative {
		if err := s.Store.Copy(ctx, asset.StoragePath, contentaddr.GlobalPath(asset.ImageHash)); err != nil {
			return fmt.Errorf("copy decorative image: %w", err)
		}
	}

	return s.tx(ctx, func(dbc dbctx.Context) error {
		won, err := s.Assets.MarkAnalyzed(dbc, asset.ID, res)
		if err != nil {
			return fmt.Errorf("mark analyzed: %w", err)
		}
		if !won {
			log.Info("Asset analysed by another delivery")
			return nil
		}
		if _, err := s.Assets.PropagateAnalysis(dbc, p.LectureID, asset.ImageHash, res); err != nil {
			return fmt.Errorf("propagate analysis: %w", err)
		}
		if res.Type == types.ImageTypeDecorative {
			if _, _, err := s.global.LookupOrRegister(dbc, &types.DecorativeImage{
				ImageHash: asset.ImageHash,
				OCRText:   res.OCRText,
				AltText:   res.AltText,
			}); err != nil {
				return fmt.Errorf("register decorative image: %w", err)
			}
		}
		if fallbackErr != nil {
			if err := s.Lectures.RecordError(dbc, p.LectureID, types.StageImageAnalysis, types.ErrorKindFallback,
				fmt.Sprintf("asset %s: %v", asset.ImageHash, fallbackErr)); err != nil {
				return err
			}
		}
		processed, total, err := s.Lectures.Increment(dbc, p.LectureID, lectrepo.CounterSubImages)
		if err != nil {
			return fmt.Errorf("increment sub images: %w", err)
		}
		log.Debug("Image analysed", "type", res.Type, "processed", processed, "total", total)
		if processed != total {
			return nil
		}
		if err := s.Dispatcher.Publish(dbc, envelope.TopicEmbedding, envelope.EmbeddingPayload{
			LectureID: p.LectureID, Tenant: p.Tenant,
		}); err != nil {
			return fmt.Errorf("publish embedding: %w", err)
		}
		return nil
	})
}
