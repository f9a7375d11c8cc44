package lectures

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/srleom/miniclue/internal/domain/lectures"
	"github.com/srleom/miniclue/internal/platform/dbctx"
	"github.com/srleom/miniclue/internal/platform/logger"
)

var ErrNotFound = errors.New("lecture not found")

// Counter names a processed/total pair on the lecture row.
type Counter string

const (
	CounterSlides    Counter = "slides"
	CounterSubImages Counter = "sub_images"
)

var counterColumns = map[Counter][2]string{
	CounterSlides:    {"processed_slides", "total_slides"},
	CounterSubImages: {"processed_sub_images", "total_sub_images"},
}

type LectureRepo interface {
	Create(dbc dbctx.Context, l *types.Lecture) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Lecture, error)
	GetStatus(dbc dbctx.Context, id uuid.UUID) (types.Status, error)
	VerifyActive(dbc dbctx.Context, id uuid.UUID) (bool, error)

	Increment(dbc dbctx.Context, id uuid.UUID, counter Counter) (processed int, total int, err error)
	SetStatusIf(dbc dbctx.Context, id uuid.UUID, next, expected types.Status) (bool, error)
	BeginParsing(dbc dbctx.Context, id uuid.UUID, totalSlides int) (bool, error)
	FanOut(dbc dbctx.Context, id uuid.UUID, next types.Status, totalSubImages int) (bool, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error

	RecordError(dbc dbctx.Context, id uuid.UUID, stage, kind, message string) error
	MarkFailed(dbc dbctx.Context, id uuid.UUID, stage, message string) (bool, error)

	MarkEmbeddingsComplete(dbc dbctx.Context, id uuid.UUID) (status types.Status, changed bool, err error)
	EnterSummarising(dbc dbctx.Context, id uuid.UUID) (embeddingsComplete bool, entered bool, err error)
	TryComplete(dbc dbctx.Context, id uuid.UUID) (bool, error)
}

type lectureRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLectureRepo(db *gorm.DB, baseLog *logger.Logger) LectureRepo {
	return &lectureRepo{db: db, log: baseLog.With("repo", "LectureRepo")}
}

func (r *lectureRepo) Create(dbc dbctx.Context, l *types.Lecture) error {
	if l == nil {
		return fmt.Errorf("lecture required")
	}
	return dbc.DB(r.db).Create(l).Error
}

func (r *lectureRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Lecture, error) {
	var out types.Lecture
	err := dbc.DB(r.db).Where("id = ?", id).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *lectureRepo) GetStatus(dbc dbctx.Context, id uuid.UUID) (types.Status, error) {
	var rows []types.Status
	if err := dbc.DB(r.db).Model(&types.Lecture{}).Where("id = ?", id).Limit(1).Pluck("status", &rows).Error; err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", ErrNotFound
	}
	return rows[0], nil
}

// VerifyActive is false for terminal or missing lectures.
func (r *lectureRepo) VerifyActive(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	status, err := r.GetStatus(dbc, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !status.Terminal(), nil
}

type counterRow struct {
	Processed int
	Total     int
}

// Increment bumps the processed side of counter and returns the new pair in
// the same statement.
func (r *lectureRepo) Increment(dbc dbctx.Context, id uuid.UUID, counter Counter) (int, int, error) {
	cols, ok := counterColumns[counter]
	if !ok {
		return 0, 0, fmt.Errorf("unknown counter %q", counter)
	}
	q := fmt.Sprintf(
		`UPDATE lectures SET %[1]s = %[1]s + 1, updated_at = ? WHERE id = ? RETURNING %[1]s AS processed, %[2]s AS total`,
		cols[0], cols[1],
	)
	var out counterRow
	res := dbc.DB(r.db).Raw(q, time.Now().UTC(), id).Scan(&out)
	if res.Error != nil {
		return 0, 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, 0, ErrNotFound
	}
	return out.Processed, out.Total, nil
}

func (r *lectureRepo) SetStatusIf(dbc dbctx.Context, id uuid.UUID, next, expected types.Status) (bool, error) {
	if !expected.CanTransition(next) {
		return false, fmt.Errorf("illegal status transition %s -> %s", expected, next)
	}
	res := dbc.DB(r.db).Model(&types.Lecture{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(map[string]interface{}{"status": next, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// BeginParsing moves new -> parsing and stores the slide count. A redelivered
// ingest that finds the lecture already parsing refreshes the count.
func (r *lectureRepo) BeginParsing(dbc dbctx.Context, id uuid.UUID, totalSlides int) (bool, error) {
	res := dbc.DB(r.db).Model(&types.Lecture{}).
		Where("id = ? AND status IN ?", id, []types.Status{types.StatusNew, types.StatusParsing}).
		Updates(map[string]interface{}{
			"status":       types.StatusParsing,
			"total_slides": totalSlides,
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FanOut is the single transition out of ingest. Exactly one caller moves the
// lecture from parsing/processing to next; the rest get false.
func (r *lectureRepo) FanOut(dbc dbctx.Context, id uuid.UUID, next types.Status, totalSubImages int) (bool, error) {
	if next != types.StatusExplaining && next != types.StatusSummarising {
		return false, fmt.Errorf("fan-out cannot move to %s", next)
	}
	res := dbc.DB(r.db).Model(&types.Lecture{}).
		Where("id = ? AND status IN ?", id, []types.Status{types.StatusParsing, types.StatusProcessing}).
		Updates(map[string]interface{}{
			"status":           next,
			"total_sub_images": totalSubImages,
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *lectureRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return dbc.DB(r.db).Model(&types.Lecture{}).Where("id = ?", id).Updates(updates).Error
}

// RecordError appends to error_details[stage]. On Postgres this is a single
// jsonb statement; elsewhere the row is rewritten inside a transaction.
func (r *lectureRepo) RecordError(dbc dbctx.Context, id uuid.UUID, stage, kind, message string) error {
	entry := types.ErrorEntry{Message: message, Kind: kind, At: time.Now().UTC()}
	gdb := dbc.DB(r.db)
	if gdb.Dialector.Name() == "postgres" {
		raw, err := json.Marshal([]types.ErrorEntry{entry})
		if err != nil {
			return err
		}
		res := gdb.Exec(`
UPDATE lectures
SET error_details = jsonb_set(
		COALESCE(error_details, '{}'::jsonb),
		ARRAY[?::text],
		COALESCE(error_details -> ?::text, '[]'::jsonb) || ?::jsonb,
		true),
	updated_at = ?
WHERE id = ?`, stage, stage, string(raw), time.Now().UTC(), id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	}

	return gdb.Transaction(func(tx *gorm.DB) error {
		var l types.Lecture
		if err := tx.Select("id", "error_details").Where("id = ?", id).Take(&l).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		details, err := types.DecodeErrorDetails(l.ErrorDetails)
		if err != nil {
			details = types.ErrorDetails{}
		}
		details.Append(stage, entry)
		raw, err := json.Marshal(details)
		if err != nil {
			return err
		}
		return tx.Model(&types.Lecture{}).Where("id = ?", id).
			Updates(map[string]interface{}{"error_details": raw, "updated_at": time.Now().UTC()}).Error
	})
}

// MarkFailed records the error and moves any non-terminal lecture to failed.
func (r *lectureRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, stage, message string) (bool, error) {
	if err := r.RecordError(dbc, id, stage, types.ErrorKindPermanent, message); err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}
	res := dbc.DB(r.db).Model(&types.Lecture{}).
		Where("id = ? AND status NOT IN ?", id, []types.Status{types.StatusComplete, types.StatusFailed}).
		Updates(map[string]interface{}{"status": types.StatusFailed, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		r.log.Warn("Lecture failed", "lecture_id", id, "stage", stage, "error", message)
	}
	return res.RowsAffected == 1, nil
}

type statusRow struct {
	Status types.Status
}

// MarkEmbeddingsComplete sets the embedding track's flag and returns the
// status seen by that same statement. changed is false when the flag was
// already set, i.e. another delivery got there first.
func (r *lectureRepo) MarkEmbeddingsComplete(dbc dbctx.Context, id uuid.UUID) (types.Status, bool, error) {
	var out statusRow
	res := dbc.DB(r.db).Raw(
		`UPDATE lectures SET embeddings_complete = ?, updated_at = ? WHERE id = ? AND embeddings_complete = ? RETURNING status`,
		true, time.Now().UTC(), id, false,
	).Scan(&out)
	if res.Error != nil {
		return "", false, res.Error
	}
	if res.RowsAffected == 0 {
		return "", false, nil
	}
	return out.Status, true, nil
}

type flagRow struct {
	EmbeddingsComplete bool
}

// EnterSummarising moves explaining -> summarising and returns the embedding
// flag seen by that same statement.
func (r *lectureRepo) EnterSummarising(dbc dbctx.Context, id uuid.UUID) (bool, bool, error) {
	var out flagRow
	res := dbc.DB(r.db).Raw(
		`UPDATE lectures SET status = ?, updated_at = ? WHERE id = ? AND status = ? RETURNING embeddings_complete`,
		types.StatusSummarising, time.Now().UTC(), id, types.StatusExplaining,
	).Scan(&out)
	if res.Error != nil {
		return false, false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, false, nil
	}
	return out.EmbeddingsComplete, true, nil
}

// TryComplete is the rendezvous compare-and-swap. It succeeds for exactly one
// caller, once both tracks have finished.
func (r *lectureRepo) TryComplete(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	res := dbc.DB(r.db).Model(&types.Lecture{}).
		Where("id = ? AND status = ? AND embeddings_complete = ?", id, types.StatusSummarising, true).
		Updates(map[string]interface{}{
			"status":       types.StatusComplete,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
