package lectures

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/srleom/miniclue/internal/domain/lectures"
	"github.com/srleom/miniclue/internal/platform/dbctx"
	"github.com/srleom/miniclue/internal/platform/logger"
)

type ChunkRepo interface {
	InsertIfAbsent(dbc dbctx.Context, chunks []*types.Chunk) (inserted int64, err error)
	ListByLecture(dbc dbctx.Context, lectureID uuid.UUID) ([]*types.Chunk, error)
	CountByLecture(dbc dbctx.Context, lectureID uuid.UUID) (int64, error)
}

type chunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChunkRepo(db *gorm.DB, baseLog *logger.Logger) ChunkRepo {
	return &chunkRepo{db: db, log: baseLog.With("repo", "ChunkRepo")}
}

// InsertIfAbsent skips chunks whose (slide_id, chunk_index) already exists.
func (r *chunkRepo) InsertIfAbsent(dbc dbctx.Context, chunks []*types.Chunk) (int64, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	// Keep batches small because Text is large
	const batchSize = 100
	res := dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slide_id"}, {Name: "chunk_index"}},
			DoNothing: true,
		}).
		CreateInBatches(chunks, batchSize)
	return res.RowsAffected, res.Error
}

func (r *chunkRepo) ListByLecture(dbc dbctx.Context, lectureID uuid.UUID) ([]*types.Chunk, error) {
	var out []*types.Chunk
	if err := dbc.DB(r.db).
		Where("lecture_id = ?", lectureID).
		Order("slide_number ASC, chunk_index ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) CountByLecture(dbc dbctx.Context, lectureID uuid.UUID) (int64, error) {
	var n int64
	err := dbc.DB(r.db).Model(&types.Chunk{}).Where("lecture_id = ?", lectureID).Count(&n).Error
	return n, err
}
