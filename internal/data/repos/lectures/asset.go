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

// AnalysisResult is what image analysis writes back onto an asset.
type AnalysisResult struct {
	Type       string
	OCRText    string
	AltText    string
	IsFallback bool
}

type AssetRepo interface {
	Upsert(dbc dbctx.Context, a *types.VisualAsset) (*types.VisualAsset, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.VisualAsset, error)
	ListByLecture(dbc dbctx.Context, lectureID uuid.UUID) ([]*types.VisualAsset, error)
	MarkAnalyzed(dbc dbctx.Context, id uuid.UUID, res AnalysisResult) (bool, error)

	UpsertPlacement(dbc dbctx.Context, p *types.SlideImage) error
	PropagateAnalysis(dbc dbctx.Context, lectureID uuid.UUID, hash string, res AnalysisResult) (int64, error)
	ListPlacementsByLecture(dbc dbctx.Context, lectureID uuid.UUID) ([]*types.SlideImage, error)
	GetFullSlideRender(dbc dbctx.Context, slideID uuid.UUID) (*types.SlideImage, error)
}

type assetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAssetRepo(db *gorm.DB, baseLog *logger.Logger) AssetRepo {
	return &assetRepo{db: db, log: baseLog.With("repo", "AssetRepo")}
}

// Upsert inserts the asset unless (lecture_id, image_hash) exists and returns
// the stored row either way. Analysis fields of an existing row are kept.
func (r *assetRepo) Upsert(dbc dbctx.Context, a *types.VisualAsset) (*types.VisualAsset, error) {
	gdb := dbc.DB(r.db)
	row := *a
	row.ID = uuid.Nil
	if err := gdb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "lecture_id"}, {Name: "image_hash"}},
		DoNothing: true,
	}).Create(&row).Error; err != nil {
		return nil, err
	}
	var out types.VisualAsset
	if err := gdb.Where("lecture_id = ? AND image_hash = ?", a.LectureID, a.ImageHash).Take(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *assetRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.VisualAsset, error) {
	var out types.VisualAsset
	err := dbc.DB(r.db).Where("id = ?", id).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *assetRepo) ListByLecture(dbc dbctx.Context, lectureID uuid.UUID) ([]*types.VisualAsset, error) {
	var out []*types.VisualAsset
	if err := dbc.DB(r.db).Where("lecture_id = ?", lectureID).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// MarkAnalyzed writes the result only while analyzed_at is NULL. The caller
// that gets true is the one allowed to advance the lecture counter.
func (r *assetRepo) MarkAnalyzed(dbc dbctx.Context, id uuid.UUID, res AnalysisResult) (bool, error) {
	now := time.Now().UTC()
	out := dbc.DB(r.db).Model(&types.VisualAsset{}).
		Where("id = ? AND analyzed_at IS NULL", id).
		Updates(map[string]interface{}{
			"type":        res.Type,
			"ocr_text":    res.OCRText,
			"alt_text":    res.AltText,
			"is_fallback": res.IsFallback,
			"analyzed_at": now,
			"updated_at":  now,
		})
	if out.Error != nil {
		return false, out.Error
	}
	return out.RowsAffected == 1, nil
}

func (r *assetRepo) UpsertPlacement(dbc dbctx.Context, p *types.SlideImage) error {
	row := *p
	row.ID = uuid.Nil
	return dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "slide_id"}, {Name: "image_index"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"asset_id", "kind", "image_hash", "storage_path", "type", "ocr_text", "alt_text", "width", "height", "updated_at",
		}),
	}).Create(&row).Error
}

// PropagateAnalysis copies an asset's analysis onto every placement in the
// lecture that shares its hash.
func (r *assetRepo) PropagateAnalysis(dbc dbctx.Context, lectureID uuid.UUID, hash string, res AnalysisResult) (int64, error) {
	out := dbc.DB(r.db).Model(&types.SlideImage{}).
		Where("lecture_id = ? AND image_hash = ? AND kind = ?", lectureID, hash, types.PlacementSubImage).
		Updates(map[string]interface{}{
			"type":       res.Type,
			"ocr_text":   res.OCRText,
			"alt_text":   res.AltText,
			"updated_at": time.Now().UTC(),
		})
	return out.RowsAffected, out.Error
}

func (r *assetRepo) ListPlacementsByLecture(dbc dbctx.Context, lectureID uuid.UUID) ([]*types.SlideImage, error) {
	var out []*types.SlideImage
	if err := dbc.DB(r.db).
		Where("lecture_id = ?", lectureID).
		Order("slide_number ASC, image_index ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *assetRepo) GetFullSlideRender(dbc dbctx.Context, slideID uuid.UUID) (*types.SlideImage, error) {
	var out types.SlideImage
	err := dbc.DB(r.db).Where("slide_id = ? AND kind = ?", slideID, types.PlacementFullSlide).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}
