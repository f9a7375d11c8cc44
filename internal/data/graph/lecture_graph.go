// Package graph projects finished lectures into Neo4j: lectures, their
// slides, and the images shown on them, so decks that share an image can be
// found from either side.
package graph

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	types "github.com/srleom/miniclue/internal/domain/lectures"
	"github.com/srleom/miniclue/internal/platform/logger"
	"github.com/srleom/miniclue/internal/platform/neo4jdb"
)

type LectureGraph struct {
	Lecture map[string]any
	Slides  []map[string]any
	Images  []map[string]any
	Shows   []map[string]any
}

// BuildLectureGraph flattens a lecture into Cypher parameters. Images are
// keyed by hash; full-slide renders are not projected.
func BuildLectureGraph(l *types.Lecture, slides []*types.Slide, placements []*types.SlideImage, now time.Time) LectureGraph {
	synced := now.UTC().Format(time.RFC3339Nano)
	g := LectureGraph{
		Lecture: map[string]any{
			"id":           l.ID.String(),
			"title":        l.Title,
			"user_id":      l.UserID,
			"status":       string(l.Status),
			"total_slides": l.TotalSlides,
			"synced_at":    synced,
		},
	}
	for _, s := range slides {
		if s == nil || s.LectureID != l.ID {
			continue
		}
		g.Slides = append(g.Slides, map[string]any{
			"id":           s.ID.String(),
			"lecture_id":   l.ID.String(),
			"slide_number": s.SlideNumber,
			"synced_at":    synced,
		})
	}

	seen := map[string]bool{}
	for _, p := range placements {
		if p == nil || p.Kind != types.PlacementSubImage || p.ImageHash == "" {
			continue
		}
		if !seen[p.ImageHash] {
			seen[p.ImageHash] = true
			g.Images = append(g.Images, map[string]any{
				"hash":       p.ImageHash,
				"type":       p.Type,
				"decorative": p.Type == types.ImageTypeDecorative,
				"alt_text":   truncate(p.AltText, 500),
				"synced_at":  synced,
			})
		}
		g.Shows = append(g.Shows, map[string]any{
			"slide_id":    p.SlideID.String(),
			"hash":        p.ImageHash,
			"image_index": p.ImageIndex,
		})
	}
	return g
}

// UpsertLectureGraph writes g in one transaction. A nil client is a no-op.
func UpsertLectureGraph(ctx context.Context, client *neo4jdb.Client, log *logger.Logger, g LectureGraph) error {
	if client == nil || client.Driver == nil {
		return nil
	}
	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	for _, q := range []string{
		`CREATE CONSTRAINT lecture_id_unique IF NOT EXISTS FOR (l:Lecture) REQUIRE l.id IS UNIQUE`,
		`CREATE CONSTRAINT slide_id_unique IF NOT EXISTS FOR (s:Slide) REQUIRE s.id IS UNIQUE`,
		`CREATE CONSTRAINT image_hash_unique IF NOT EXISTS FOR (i:Image) REQUIRE i.hash IS UNIQUE`,
	} {
		if res, err := session.Run(ctx, q, nil); err != nil {
			log.Warn("neo4j schema init failed (continuing)", "error", err)
		} else {
			_, _ = res.Consume(ctx)
		}
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		stmts := []struct {
			cypher string
			params map[string]any
			skip   bool
		}{
			{`
MERGE (l:Lecture {id: $lecture.id})
SET l += $lecture
`, map[string]any{"lecture": g.Lecture}, false},
			{`
UNWIND $slides AS s
MERGE (sl:Slide {id: s.id})
SET sl += s
WITH sl, s
MATCH (l:Lecture {id: s.lecture_id})
MERGE (l)-[:HAS_SLIDE]->(sl)
`, map[string]any{"slides": g.Slides}, len(g.Slides) == 0},
			{`
UNWIND $images AS i
MERGE (im:Image {hash: i.hash})
SET im += i
`, map[string]any{"images": g.Images}, len(g.Images) == 0},
			{`
UNWIND $shows AS r
MATCH (sl:Slide {id: r.slide_id})
MATCH (im:Image {hash: r.hash})
MERGE (sl)-[e:SHOWS]->(im)
SET e.image_index = r.image_index
`, map[string]any{"shows": g.Shows}, len(g.Shows) == 0},
		}
		for _, st := range stmts {
			if st.skip {
				continue
			}
			res, err := tx.Run(ctx, st.cypher, st.params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
