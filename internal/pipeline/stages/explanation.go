package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	lectrepo "github.com/srleom/miniclue/internal/data/repos/lectures"
	types "github.com/srleom/miniclue/internal/domain/lectures"
	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/pipeline/generation"
	"github.com/srleom/miniclue/internal/platform/dbctx"
	"github.com/srleom/miniclue/internal/platform/gcp"
)

const fallbackExplanation = "An explanation for this slide could not be generated."

func (s *Service) explain(ctx context.Context, r *run, p *envelope.ExplanationPayload) error {
	dbc := dbctx.New(ctx)
	done, err := s.Explanations.Exists(dbc, p.SlideID)
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	slide, err := s.Slides.GetByID(dbc, p.SlideID)
	if err != nil {
		return err
	}
	if slide == nil {
		return fmt.Errorf("%w: slide %d not stored", ErrNotReady, p.SlideNumber)
	}
	l, err := s.Lectures.GetByID(dbc, p.LectureID)
	if err != nil {
		return err
	}
	if l == nil {
		return nil
	}
	log := r.log.With("slide_number", slide.SlideNumber)

	in := generation.SlideInput{
		LectureTitle: l.Title,
		SlideNumber:  slide.SlideNumber,
		TotalSlides:  p.TotalSlides,
		RawText:      slide.RawText,
	}
	if in.PrevText, err = s.neighbourText(dbc, l.ID, slide.SlideNumber-1); err != nil {
		return err
	}
	if in.NextText, err = s.neighbourText(dbc, l.ID, slide.SlideNumber+1); err != nil {
		return err
	}
	img, err := s.Store.Get(ctx, p.SlideImagePath)
	switch {
	case err == nil:
		in.Image = img
	case errors.Is(err, gcp.ErrObjectNotFound):
		log.Warn("Slide render missing; explaining from text only", "path", p.SlideImagePath)
	default:
		return fmt.Errorf("download slide render: %w", err)
	}

	gen, err := s.Generators.ForTenant(ctx, p.Tenant)
	if err != nil {
		return err
	}
	gctx, cancel := context.WithTimeout(ctx, s.Policy.Stage(envelope.TopicExplanation).Timeout)
	out, err := gen.ExplainSlide(gctx, in)
	cancel()

	row := &types.Explanation{
		SlideID:      slide.ID,
		LectureID:    l.ID,
		SlideNumber:  slide.SlideNumber,
		SlidePurpose: out.Purpose,
		Content:      out.Content,
		OneLiner:     out.OneLiner,
	}
	var fallbackErr error
	switch {
	case err == nil:
	case generation.IsPermanent(err):
		return err
	case generation.IsUnusable(err):
		log.Warn("Explanation unusable; storing fallback", "error", err)
		fallbackErr = err
		row.SlidePurpose = types.PurposeError
		row.Content = fallbackExplanation
		row.OneLiner = ""
		row.IsFallback = true
	default:
		return fmt.Errorf("explain slide %d: %w", slide.SlideNumber, err)
	}
	if row.SlidePurpose == "" {
		row.SlidePurpose = types.PurposeContent
	}

	return s.tx(ctx, func(dbc dbctx.Context) error {
		inserted, err := s.Explanations.InsertIfAbsent(dbc, row)
		if err != nil {
			return fmt.Errorf("store explanation: %w", err)
		}
		if !inserted {
			log.Info("Explanation stored by another delivery")
			return nil
		}
		if fallbackErr != nil {
			if err := s.Lectures.RecordError(dbc, l.ID, types.StageExplanation, types.ErrorKindFallback,
				fmt.Sprintf("slide %d: %v", slide.SlideNumber, fallbackErr)); err != nil {
				return err
			}
		}
		processed, total, err := s.Lectures.Increment(dbc, l.ID, lectrepo.CounterSlides)
		if err != nil {
			return fmt.Errorf("increment slides: %w", err)
		}
		log.Debug("Slide explained", "processed", processed, "total", total)
		if processed != total {
			return nil
		}
		return s.Dispatcher.Publish(dbc, envelope.TopicSummary, envelope.SummaryPayload{
			LectureID: l.ID, Tenant: p.Tenant,
		})
	})
}

func (s *Service) neighbourText(dbc dbctx.Context, lectureID uuid.UUID, n int) (string, error) {
	if n < 1 {
		return "", nil
	}
	sl, err := s.Slides.GetByNumber(dbc, lectureID, n)
	if err != nil || sl == nil {
		return "", err
	}
	return sl.RawText, nil
}
