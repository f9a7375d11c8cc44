package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	lectrepo "github.com/srleom/miniclue/internal/data/repos/lectures"
	types "github.com/srleom/miniclue/internal/domain/lectures"
	"github.com/srleom/miniclue/internal/pipeline/dispatch"
	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/platform/apierr"
	"github.com/srleom/miniclue/internal/platform/dbctx"
	"github.com/srleom/miniclue/internal/platform/gcp"
	"github.com/srleom/miniclue/internal/platform/logger"
)

type SubmitLecture struct {
	UserID      string          `json:"user_id"`
	Title       string          `json:"title"`
	StoragePath string          `json:"storage_path"`
	Tenant      envelope.Tenant `json:"tenant"`
	// Upload, when set, is stored under the lecture's prefix and replaces
	// StoragePath.
	Upload []byte `json:"-"`
}

type LectureView struct {
	Lecture *types.Lecture     `json:"lecture"`
	Errors  types.ErrorDetails `json:"errors,omitempty"`
	Summary *types.Summary     `json:"summary,omitempty"`
}

type LectureService interface {
	Submit(dbc dbctx.Context, in SubmitLecture) (*types.Lecture, error)
	Get(dbc dbctx.Context, id uuid.UUID) (*LectureView, error)
}

type lectureService struct {
	db         *gorm.DB
	log        *logger.Logger
	lectures   lectrepo.LectureRepo
	summaries  lectrepo.SummaryRepo
	store      gcp.ObjectStore
	dispatcher dispatch.Dispatcher
}

func NewLectureService(
	db *gorm.DB,
	baseLog *logger.Logger,
	lectures lectrepo.LectureRepo,
	summaries lectrepo.SummaryRepo,
	store gcp.ObjectStore,
	dispatcher dispatch.Dispatcher,
) LectureService {
	return &lectureService{
		db:         db,
		log:        baseLog.With("service", "LectureService"),
		lectures:   lectures,
		summaries:  summaries,
		store:      store,
		dispatcher: dispatcher,
	}
}

func UploadPath(lectureID uuid.UUID) string {
	return fmt.Sprintf("lectures/%s/original.pdf", lectureID)
}

// Submit creates the lecture and queues its ingestion in one transaction.
func (s *lectureService) Submit(dbc dbctx.Context, in SubmitLecture) (*types.Lecture, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.StoragePath = strings.TrimSpace(in.StoragePath)
	if strings.TrimSpace(in.Tenant.CustomerIdentifier) == "" {
		return nil, apierr.BadRequest(errors.New("tenant.customer_identifier is required"))
	}
	if len(in.Upload) == 0 && in.StoragePath == "" {
		return nil, apierr.BadRequest(errors.New("storage_path or file is required"))
	}

	l := &types.Lecture{
		ID:          uuid.New(),
		UserID:      strings.TrimSpace(in.UserID),
		Title:       in.Title,
		StoragePath: in.StoragePath,
		Status:      types.StatusNew,
	}
	if len(in.Upload) > 0 {
		l.StoragePath = UploadPath(l.ID)
		if err := s.store.Put(dbc.Context(), l.StoragePath, in.Upload, "application/pdf"); err != nil {
			return nil, fmt.Errorf("store upload: %w", err)
		}
	}

	err := dbc.DB(s.db).Transaction(func(tx *gorm.DB) error {
		inner := dbc.WithTx(tx)
		if err := s.lectures.Create(inner, l); err != nil {
			return err
		}
		return s.dispatcher.Publish(inner, envelope.TopicIngestion, &envelope.IngestionPayload{
			LectureID:   l.ID,
			StoragePath: l.StoragePath,
			Tenant:      in.Tenant,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Lecture submitted", "lecture_id", l.ID, "storage_path", l.StoragePath)
	return l, nil
}

func (s *lectureService) Get(dbc dbctx.Context, id uuid.UUID) (*LectureView, error) {
	l, err := s.lectures.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, apierr.NotFound(fmt.Errorf("lecture %s not found", id))
	}
	view := &LectureView{Lecture: l}
	if details, err := types.DecodeErrorDetails(l.ErrorDetails); err == nil && len(details) > 0 {
		view.Errors = details
	}
	if view.Summary, err = s.summaries.GetByLecture(dbc, id); err != nil {
		return nil, err
	}
	return view, nil
}
