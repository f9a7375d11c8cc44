// Package hooks holds the side effects that follow a lecture reaching a
// terminal status.
package hooks

import (
	"context"
	"fmt"
	"time"

	"github.com/srleom/miniclue/internal/data/graph"
	lectrepo "github.com/srleom/miniclue/internal/data/repos/lectures"
	types "github.com/srleom/miniclue/internal/domain/lectures"
	"github.com/srleom/miniclue/internal/observability"
	"github.com/srleom/miniclue/internal/pipeline/stages"
	"github.com/srleom/miniclue/internal/platform/dbctx"
	"github.com/srleom/miniclue/internal/platform/logger"
	"github.com/srleom/miniclue/internal/platform/neo4jdb"
	"github.com/srleom/miniclue/internal/realtime"
	"github.com/srleom/miniclue/internal/realtime/bus"
)

// Notify publishes a lecture event on b.
func Notify(b bus.Bus) stages.Hook {
	return stages.HookFunc(func(ctx context.Context, l *types.Lecture) error {
		ev := realtime.LectureEvent{
			Event:     realtime.EventLectureComplete,
			LectureID: l.ID,
			UserID:    l.UserID,
			Status:    string(l.Status),
			Data: map[string]any{
				"title":        l.Title,
				"total_slides": l.TotalSlides,
			},
			At: time.Now().UTC(),
		}
		if l.Status == types.StatusFailed {
			ev.Event = realtime.EventLectureFailed
			if details, err := types.DecodeErrorDetails(l.ErrorDetails); err == nil {
				ev.Data["errors"] = details
			}
		}
		if err := b.Publish(ctx, ev); err != nil {
			return fmt.Errorf("publish lecture event: %w", err)
		}
		return nil
	})
}

// Project writes completed lectures into the Neo4j graph.
func Project(client *neo4jdb.Client, log *logger.Logger, slides lectrepo.SlideRepo, assets lectrepo.AssetRepo) stages.Hook {
	return stages.HookFunc(func(ctx context.Context, l *types.Lecture) error {
		if client == nil || l.Status != types.StatusComplete {
			return nil
		}
		dbc := dbctx.New(ctx)
		ss, err := slides.ListByLecture(dbc, l.ID)
		if err != nil {
			return err
		}
		placements, err := assets.ListPlacementsByLecture(dbc, l.ID)
		if err != nil {
			return err
		}
		return graph.UpsertLectureGraph(ctx, client, log, graph.BuildLectureGraph(l, ss, placements, time.Now()))
	})
}

// Metrics counts finished lectures by terminal status.
func Metrics() stages.Hook {
	return stages.HookFunc(func(ctx context.Context, l *types.Lecture) error {
		observability.Current().IncLectureFinished(string(l.Status))
		return nil
	})
}
