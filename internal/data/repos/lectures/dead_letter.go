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

type DeadLetterRepo interface {
	InsertIfAbsent(dbc dbctx.Context, d *types.DeadLetter) (bool, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.DeadLetter, error)
	List(dbc dbctx.Context, status string, limit int) ([]*types.DeadLetter, error)
	SetStatusIf(dbc dbctx.Context, id uuid.UUID, next, expected string) (bool, error)
}

type deadLetterRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDeadLetterRepo(db *gorm.DB, baseLog *logger.Logger) DeadLetterRepo {
	return &deadLetterRepo{db: db, log: baseLog.With("repo", "DeadLetterRepo")}
}

// InsertIfAbsent keys on message_id; the bus may push a dead letter twice.
func (r *deadLetterRepo) InsertIfAbsent(dbc dbctx.Context, d *types.DeadLetter) (bool, error) {
	res := dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoNothing: true,
	}).Create(d)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *deadLetterRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.DeadLetter, error) {
	var out types.DeadLetter
	err := dbc.DB(r.db).Where("id = ?", id).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *deadLetterRepo) List(dbc dbctx.Context, status string, limit int) ([]*types.DeadLetter, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := dbc.DB(r.db).Order("created_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []*types.DeadLetter
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *deadLetterRepo) SetStatusIf(dbc dbctx.Context, id uuid.UUID, next, expected string) (bool, error) {
	res := dbc.DB(r.db).Model(&types.DeadLetter{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(map[string]interface{}{"status": next, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
