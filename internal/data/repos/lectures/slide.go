package lectures

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/srleom/miniclue/internal/domain/lectures"
	"github.com/srleom/miniclue/internal/platform/dbctx"
	"github.com/srleom/miniclue/internal/platform/logger"
)

type SlideRepo interface {
	Upsert(dbc dbctx.Context, s *types.Slide) (*types.Slide, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Slide, error)
	GetByNumber(dbc dbctx.Context, lectureID uuid.UUID, number int) (*types.Slide, error)
	ListByLecture(dbc dbctx.Context, lectureID uuid.UUID) ([]*types.Slide, error)
	IncrementProcessedChunks(dbc dbctx.Context, slideID uuid.UUID, delta int) (processed int, total int, err error)
}

type slideRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSlideRepo(db *gorm.DB, baseLog *logger.Logger) SlideRepo {
	return &slideRepo{db: db, log: baseLog.With("repo", "SlideRepo")}
}

// Upsert keys on (lecture_id, slide_number) and returns the stored row, so a
// replayed ingest keeps the original slide id.
func (r *slideRepo) Upsert(dbc dbctx.Context, s *types.Slide) (*types.Slide, error) {
	gdb := dbc.DB(r.db)
	row := *s
	row.ID = uuid.Nil
	err := gdb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "lecture_id"}, {Name: "slide_number"}},
		DoUpdates: clause.AssignmentColumns([]string{"raw_text", "total_chunks", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return nil, err
	}
	return r.GetByNumber(dbc, s.LectureID, s.SlideNumber)
}

func (r *slideRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Slide, error) {
	var out types.Slide
	err := dbc.DB(r.db).Where("id = ?", id).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *slideRepo) GetByNumber(dbc dbctx.Context, lectureID uuid.UUID, number int) (*types.Slide, error) {
	var out types.Slide
	err := dbc.DB(r.db).Where("lecture_id = ? AND slide_number = ?", lectureID, number).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *slideRepo) ListByLecture(dbc dbctx.Context, lectureID uuid.UUID) ([]*types.Slide, error) {
	var out []*types.Slide
	if err := dbc.DB(r.db).Where("lecture_id = ?", lectureID).Order("slide_number ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *slideRepo) IncrementProcessedChunks(dbc dbctx.Context, slideID uuid.UUID, delta int) (int, int, error) {
	var out counterRow
	res := dbc.DB(r.db).Raw(
		`UPDATE slides SET processed_chunks = processed_chunks + ?, updated_at = ? WHERE id = ? RETURNING processed_chunks AS processed, total_chunks AS total`,
		delta, time.Now().UTC(), slideID,
	).Scan(&out)
	if res.Error != nil {
		return 0, 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, 0, gorm.ErrRecordNotFound
	}
	return out.Processed, out.Total, nil
}
