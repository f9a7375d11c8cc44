package stages

import (
	"context"
	"fmt"
	"strings"

	types "github.com/srleom/miniclue/internal/domain/lectures"
	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/pipeline/generation"
	"github.com/srleom/miniclue/internal/platform/dbctx"
)

func (s *Service) summarize(ctx context.Context, r *run, p *envelope.SummaryPayload) error {
	dbc := dbctx.New(ctx)
	existing, err := s.Summaries.GetByLecture(dbc, p.LectureID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	l, err := s.Lectures.GetByID(dbc, p.LectureID)
	if err != nil {
		return err
	}
	if l == nil {
		return nil
	}
	if l.ProcessedSlides < l.TotalSlides {
		return fmt.Errorf("%w: %d/%d slides explained", ErrNotReady, l.ProcessedSlides, l.TotalSlides)
	}
	if l.Status.Before(types.StatusExplaining) {
		return fmt.Errorf("%w: lecture is %s", ErrNotReady, l.Status)
	}

	explanations, err := s.Explanations.ListByLecture(dbc, l.ID)
	if err != nil {
		return fmt.Errorf("list explanations: %w", err)
	}
	notes := make([]generation.SlideNote, 0, len(explanations))
	for _, e := range explanations {
		notes = append(notes, generation.SlideNote{
			SlideNumber: e.SlideNumber,
			Purpose:     e.SlidePurpose,
			OneLiner:    e.OneLiner,
			Content:     e.Content,
		})
	}

	gen, err := s.Generators.ForTenant(ctx, p.Tenant)
	if err != nil {
		return err
	}
	row := &types.Summary{LectureID: l.ID}
	var fallbackErr error
	content, err := gen.Summarize(ctx, l.Title, notes)
	switch {
	case err == nil && strings.TrimSpace(content) != "":
		row.Content = content
	case generation.IsPermanent(err):
		return err
	case err == nil, generation.IsUnusable(err):
		if err == nil {
			err = fmt.Errorf("%w: empty summary", generation.ErrUnusableOutput)
		}
		r.log.Warn("Summary failed; storing fallback", "error", err)
		fallbackErr = err
		row.Content = fallbackSummary(notes)
		row.IsFallback = true
	default:
		return fmt.Errorf("summarize: %w", err)
	}

	return s.tx(ctx, func(dbc dbctx.Context) error {
		embeddingsDone, entered, err := s.Lectures.EnterSummarising(dbc, l.ID)
		if err != nil {
			return fmt.Errorf("enter summarising: %w", err)
		}
		if !entered {
			status, err := s.Lectures.GetStatus(dbc, l.ID)
			if err != nil {
				return fmt.Errorf("read status: %w", err)
			}
			if status.Before(types.StatusExplaining) {
				return fmt.Errorf("%w: lecture is %s", ErrNotReady, status)
			}
			r.log.Info("Summary already handled by another delivery")
			return nil
		}
		if _, err := s.Summaries.InsertIfAbsent(dbc, row); err != nil {
			return fmt.Errorf("store summary: %w", err)
		}
		if fallbackErr != nil {
			if err := s.Lectures.RecordError(dbc, l.ID, types.StageSummary, types.ErrorKindFallback, fallbackErr.Error()); err != nil {
				return err
			}
		}
		if !embeddingsDone {
			r.log.Info("Summary stored; waiting for embeddings")
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

// fallbackSummary lists each slide's one-liner when the model gives nothing.
func fallbackSummary(notes []generation.SlideNote) string {
	var b strings.Builder
	b.WriteString("# Key Takeaways\n")
	for _, n := range notes {
		line := strings.TrimSpace(n.OneLiner)
		if line == "" {
			continue
		}
		fmt.Fprintf(&b, "- Slide %d: %s\n", n.SlideNumber, line)
	}
	return strings.TrimRight(b.String(), "\n")
}
