package db

import (
	"gorm.io/gorm"

	"github.com/srleom/miniclue/internal/domain/jobs"
	"github.com/srleom/miniclue/internal/domain/lectures"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		// Unit of work
		&lectures.Lecture{},
		&lectures.Slide{},
		&lectures.Chunk{},

		// Visual assets + global registry
		&lectures.VisualAsset{},
		&lectures.SlideImage{},
		&lectures.DecorativeImage{},

		// Stage results
		&lectures.Embedding{},
		&lectures.Explanation{},
		&lectures.Summary{},

		// Delivery
		&lectures.DeadLetter{},
		&jobs.JobRun{},
	)
}
