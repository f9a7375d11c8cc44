package lectures

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/srleom/miniclue/internal/domain/lectures"
	"github.com/srleom/miniclue/internal/platform/dbctx"
	"github.com/srleom/miniclue/internal/platform/logger"
)

type EmbeddingRepo interface {
	Upsert(dbc dbctx.Context, rows []*types.Embedding) error
	CountByLecture(dbc dbctx.Context, lectureID uuid.UUID) (int64, error)
}

type embeddingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEmbeddingRepo(db *gorm.DB, baseLog *logger.Logger) EmbeddingRepo {
	return &embeddingRepo{db: db, log: baseLog.With("repo", "EmbeddingRepo")}
}

// Upsert replaces the vector of an existing chunk embedding.
func (r *embeddingRepo) Upsert(dbc dbctx.Context, rows []*types.Embedding) error {
	if len(rows) == 0 {
		return nil
	}
	return dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chunk_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"vector", "dimensions", "model", "metadata", "updated_at"}),
	}).CreateInBatches(rows, 100).Error
}

func (r *embeddingRepo) CountByLecture(dbc dbctx.Context, lectureID uuid.UUID) (int64, error) {
	var n int64
	err := dbc.DB(r.db).Model(&types.Embedding{}).Where("lecture_id = ?", lectureID).Count(&n).Error
	return n, err
}

type ExplanationRepo interface {
	Exists(dbc dbctx.Context, slideID uuid.UUID) (bool, error)
	InsertIfAbsent(dbc dbctx.Context, e *types.Explanation) (bool, error)
	ListByLecture(dbc dbctx.Context, lectureID uuid.UUID) ([]*types.Explanation, error)
}

type explanationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewExplanationRepo(db *gorm.DB, baseLog *logger.Logger) ExplanationRepo {
	return &explanationRepo{db: db, log: baseLog.With("repo", "ExplanationRepo")}
}

func (r *explanationRepo) Exists(dbc dbctx.Context, slideID uuid.UUID) (bool, error) {
	var n int64
	err := dbc.DB(r.db).Model(&types.Explanation{}).Where("slide_id = ?", slideID).Count(&n).Error
	return n > 0, err
}

// InsertIfAbsent never overwrites an earlier explanation for the slide.
func (r *explanationRepo) InsertIfAbsent(dbc dbctx.Context, e *types.Explanation) (bool, error) {
	res := dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slide_id"}},
		DoNothing: true,
	}).Create(e)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *explanationRepo) ListByLecture(dbc dbctx.Context, lectureID uuid.UUID) ([]*types.Explanation, error) {
	var out []*types.Explanation
	if err := dbc.DB(r.db).Where("lecture_id = ?", lectureID).Order("slide_number ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

type SummaryRepo interface {
	GetByLecture(dbc dbctx.Context, lectureID uuid.UUID) (*types.Summary, error)
	InsertIfAbsent(dbc dbctx.Context, s *types.Summary) (bool, error)
}

type summaryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSummaryRepo(db *gorm.DB, baseLog *logger.Logger) SummaryRepo {
	return &summaryRepo{db: db, log: baseLog.With("repo", "SummaryRepo")}
}

func (r *summaryRepo) GetByLecture(dbc dbctx.Context, lectureID uuid.UUID) (*types.Summary, error) {
	var out types.Summary
	err := dbc.DB(r.db).Where("lecture_id = ?", lectureID).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *summaryRepo) InsertIfAbsent(dbc dbctx.Context, s *types.Summary) (bool, error) {
	res := dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "lecture_id"}},
		DoNothing: true,
	}).Create(s)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
