package lectures

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/srleom/miniclue/internal/domain/lectures"
	"github.com/srleom/miniclue/internal/platform/dbctx"
	"github.com/srleom/miniclue/internal/platform/logger"
)

// DecorativeRepo is the persisted, global scope of the content-address
// registry.
type DecorativeRepo interface {
	Get(dbc dbctx.Context, hash string) (*types.DecorativeImage, error)
	InsertIfAbsent(dbc dbctx.Context, img *types.DecorativeImage) (stored *types.DecorativeImage, inserted bool, err error)
}

type decorativeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDecorativeRepo(db *gorm.DB, baseLog *logger.Logger) DecorativeRepo {
	return &decorativeRepo{db: db, log: baseLog.With("repo", "DecorativeRepo")}
}

func (r *decorativeRepo) Get(dbc dbctx.Context, hash string) (*types.DecorativeImage, error) {
	var out types.DecorativeImage
	err := dbc.DB(r.db).Where("image_hash = ?", hash).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// InsertIfAbsent converges concurrent registrations of one hash on the first
// stored row.
func (r *decorativeRepo) InsertIfAbsent(dbc dbctx.Context, img *types.DecorativeImage) (*types.DecorativeImage, bool, error) {
	gdb := dbc.DB(r.db)
	row := *img
	res := gdb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "image_hash"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return nil, false, res.Error
	}
	stored, err := r.Get(dbc, img.ImageHash)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, gorm.ErrRecordNotFound
	}
	return stored, res.RowsAffected == 1, nil
}
