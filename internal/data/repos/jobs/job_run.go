package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/srleom/miniclue/internal/domain/jobs"
	"github.com/srleom/miniclue/internal/platform/dbctx"
	"github.com/srleom/miniclue/internal/platform/logger"
)

type JobRunRepo interface {
	Enqueue(dbc dbctx.Context, jobType string, lectureID *uuid.UUID, payload []byte) (*types.JobRun, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.JobRun, error)
	ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.JobRun, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	MarkSucceeded(dbc dbctx.Context, id uuid.UUID) error
	MarkFailed(dbc dbctx.Context, id uuid.UUID, msg string, retry bool) error
	CountByStatus(dbc dbctx.Context, jobType, status string) (int64, error)
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return &jobRunRepo{
		db:  db,
		log: baseLog.With("repo", "JobRunRepo"),
	}
}

// Enqueue writes a queued job in the caller's transaction, so the job only
// becomes visible when that transaction commits.
func (r *jobRunRepo) Enqueue(dbc dbctx.Context, jobType string, lectureID *uuid.UUID, payload []byte) (*types.JobRun, error) {
	job := &types.JobRun{
		JobType:   jobType,
		LectureID: lectureID,
		Status:    types.StatusQueued,
		Payload:   datatypes.JSON(payload),
	}
	if err := dbc.DB(r.db).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRunRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.JobRun, error) {
	var out []*types.JobRun
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobRunRepo) ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.JobRun, error) {
	now := time.Now().UTC()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.JobRun
	err := dbc.DB(r.db).Transaction(func(txx *gorm.DB) error {
		var job types.JobRun
		q := txx
		if txx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		qErr := q.Where(`
        (
          (status = ? AND run_after <= ?)
          OR (
            status = ?
            AND attempts < ?
            AND (last_error_at IS NULL OR last_error_at < ?)
          )
          OR (
            status = ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
      `, types.StatusQueued, now, types.StatusFailed, maxAttempts, retryCutoff, types.StatusRunning, staleCutoff).
			Order("created_at ASC").
			First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.JobRun{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       types.StatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		job.Status = types.StatusRunning
		job.Attempts++
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now().UTC()
	return dbc.DB(r.db).Model(&types.JobRun{}).
		Where("id = ? AND status = ?", id, types.StatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

func (r *jobRunRepo) MarkSucceeded(dbc dbctx.Context, id uuid.UUID) error {
	return dbc.DB(r.db).Model(&types.JobRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     types.StatusSucceeded,
			"error":      "",
			"updated_at": time.Now().UTC(),
		}).Error
}

// MarkFailed leaves a retryable job claimable after the retry delay; a job
// that must not run again is parked as dead.
func (r *jobRunRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, msg string, retry bool) error {
	now := time.Now().UTC()
	status := types.StatusFailed
	if !retry {
		status = types.StatusDead
	}
	return dbc.DB(r.db).Model(&types.JobRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"error":         msg,
			"last_error_at": now,
			"updated_at":    now,
		}).Error
}

func (r *jobRunRepo) CountByStatus(dbc dbctx.Context, jobType, status string) (int64, error) {
	var n int64
	q := dbc.DB(r.db).Model(&types.JobRun{}).Where("status = ?", status)
	if jobType != "" {
		q = q.Where("job_type = ?", jobType)
	}
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
