package services

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	lectrepo "github.com/srleom/miniclue/internal/data/repos/lectures"
	types "github.com/srleom/miniclue/internal/domain/lectures"
	"github.com/srleom/miniclue/internal/observability"
	"github.com/srleom/miniclue/internal/pipeline/dispatch"
	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/platform/apierr"
	"github.com/srleom/miniclue/internal/platform/dbctx"
	"github.com/srleom/miniclue/internal/platform/logger"
)

type DeadLetterService interface {
	// Record stores a dead-lettered push. It reports false when the message
	// was already stored.
	Record(dbc dbctx.Context, req *envelope.PushRequest) (bool, error)
	List(dbc dbctx.Context, status string, limit int) ([]*types.DeadLetter, error)
	// Replay republishes a pending dead letter on its source topic.
	Replay(dbc dbctx.Context, id uuid.UUID) (*types.DeadLetter, error)
}

type deadLetterService struct {
	db         *gorm.DB
	log        *logger.Logger
	repo       lectrepo.DeadLetterRepo
	dispatcher dispatch.Dispatcher
}

func NewDeadLetterService(db *gorm.DB, baseLog *logger.Logger, repo lectrepo.DeadLetterRepo, dispatcher dispatch.Dispatcher) DeadLetterService {
	return &deadLetterService{
		db:         db,
		log:        baseLog.With("service", "DeadLetterService"),
		repo:       repo,
		dispatcher: dispatcher,
	}
}

func (s *deadLetterService) Record(dbc dbctx.Context, req *envelope.PushRequest) (bool, error) {
	if req == nil || req.Message.MessageID == "" {
		return false, apierr.BadRequest(errors.New("push message has no messageId"))
	}
	attrs, err := json.Marshal(req.Message.Attributes)
	if err != nil {
		return false, err
	}
	topic, _ := req.SourceTopic()
	payload := datatypes.JSON(req.Message.Data)
	if !json.Valid(payload) {
		// Keep undecodable bytes inspectable.
		raw, _ := json.Marshal(string(req.Message.Data))
		payload = datatypes.JSON(raw)
	}
	inserted, err := s.repo.InsertIfAbsent(dbc, &types.DeadLetter{
		Subscription: req.Subscription,
		MessageID:    req.Message.MessageID,
		Topic:        string(topic),
		Payload:      payload,
		Attributes:   datatypes.JSON(attrs),
		Status:       types.DeadLetterPending,
	})
	if err != nil {
		return false, err
	}
	if inserted {
		observability.Current().IncDeadLetter(string(topic))
		s.log.Warn("Dead letter recorded", "message_id", req.Message.MessageID, "topic", topic, "subscription", req.Subscription)
	}
	return inserted, nil
}

func (s *deadLetterService) List(dbc dbctx.Context, status string, limit int) ([]*types.DeadLetter, error) {
	return s.repo.List(dbc, status, limit)
}

func (s *deadLetterService) Replay(dbc dbctx.Context, id uuid.UUID) (*types.DeadLetter, error) {
	d, err := s.repo.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, apierr.NotFound(fmt.Errorf("dead letter %s not found", id))
	}
	if d.Status != types.DeadLetterPending {
		return nil, apierr.Conflict(fmt.Errorf("dead letter is %s", d.Status))
	}
	topic, ok := envelope.ParseTopic(d.Topic)
	if !ok {
		return nil, apierr.BadRequest(fmt.Errorf("dead letter has unknown topic %q", d.Topic))
	}
	payload, err := envelope.Decode(topic, d.Payload)
	if err != nil {
		return nil, apierr.BadRequest(err)
	}

	err = dbc.DB(s.db).Transaction(func(tx *gorm.DB) error {
		inner := dbc.WithTx(tx)
		ok, err := s.repo.SetStatusIf(inner, d.ID, types.DeadLetterReplayed, types.DeadLetterPending)
		if err != nil {
			return err
		}
		if !ok {
			return apierr.Conflict(errors.New("dead letter was replayed concurrently"))
		}
		return s.dispatcher.Publish(inner, topic, payload)
	})
	if err != nil {
		return nil, err
	}
	d.Status = types.DeadLetterReplayed
	s.log.Info("Dead letter replayed", "dead_letter_id", d.ID, "topic", topic, "lecture_id", payload.Lecture())
	return d, nil
}
