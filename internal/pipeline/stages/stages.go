// Package stages runs the lecture pipeline: one handler per topic, each
// guarded against redelivery and against lectures that already finished.
package stages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	lectrepo "github.com/srleom/miniclue/internal/data/repos/lectures"
	types "github.com/srleom/miniclue/internal/domain/lectures"
	"github.com/srleom/miniclue/internal/observability"
	"github.com/srleom/miniclue/internal/pipeline/contentaddr"
	"github.com/srleom/miniclue/internal/pipeline/dispatch"
	"github.com/srleom/miniclue/internal/pipeline/document"
	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/pipeline/generation"
	"github.com/srleom/miniclue/internal/pipeline/policy"
	"github.com/srleom/miniclue/internal/platform/dbctx"
	"github.com/srleom/miniclue/internal/platform/gcp"
	"github.com/srleom/miniclue/internal/platform/logger"
)

// OCR supplements model-extracted text for images. Optional.
type OCR interface {
	OCRImageBytes(ctx context.Context, img []byte) (string, error)
}

// Hook runs once after a lecture reaches complete or failed, outside any
// transaction. Errors are logged and never affect the lecture.
type Hook interface {
	LectureFinished(ctx context.Context, l *types.Lecture) error
}

type HookFunc func(ctx context.Context, l *types.Lecture) error

func (f HookFunc) LectureFinished(ctx context.Context, l *types.Lecture) error { return f(ctx, l) }

type Deps struct {
	DB  *gorm.DB
	Log *logger.Logger

	Lectures     lectrepo.LectureRepo
	Slides       lectrepo.SlideRepo
	Chunks       lectrepo.ChunkRepo
	Assets       lectrepo.AssetRepo
	Decorative   lectrepo.DecorativeRepo
	Embeddings   lectrepo.EmbeddingRepo
	Explanations lectrepo.ExplanationRepo
	Summaries    lectrepo.SummaryRepo

	Store      gcp.ObjectStore
	Dispatcher dispatch.Dispatcher
	Generators generation.Resolver

	Parser     document.Parser
	Renderer   *document.Renderer
	Classifier contentaddr.Classifier
	OCR        OCR
	Policy     *policy.Policy
	Hooks      []Hook
}

type Service struct {
	Deps
	log    *logger.Logger
	global *contentaddr.Global
	tracer trace.Tracer
}

func New(d Deps) (*Service, error) {
	switch {
	case d.DB == nil:
		return nil, errors.New("stages: db required")
	case d.Log == nil:
		return nil, errors.New("stages: logger required")
	case d.Lectures == nil || d.Slides == nil || d.Chunks == nil || d.Assets == nil ||
		d.Decorative == nil || d.Embeddings == nil || d.Explanations == nil || d.Summaries == nil:
		return nil, errors.New("stages: all repos required")
	case d.Store == nil:
		return nil, errors.New("stages: object store required")
	case d.Dispatcher == nil:
		return nil, errors.New("stages: dispatcher required")
	case d.Generators == nil:
		return nil, errors.New("stages: generation resolver required")
	}
	if d.Parser == nil {
		d.Parser = document.NewPDFParser()
	}
	if d.Policy == nil {
		d.Policy = policy.Default()
	}
	if d.Renderer == nil {
		d.Renderer = document.NewRenderer(d.Policy.RenderWidth)
	}
	if d.Classifier == nil {
		d.Classifier = contentaddr.DefaultClassifier()
	}
	return &Service{
		Deps:   d,
		log:    d.Log.With("service", "PipelineStages"),
		global: contentaddr.NewGlobal(d.Decorative),
		tracer: otel.Tracer("github.com/srleom/miniclue/internal/pipeline/stages"),
	}, nil
}

// run carries per-delivery state through a stage.
type run struct {
	msg       dispatch.Message
	lectureID uuid.UUID
	log       *logger.Logger
	// set by the single caller whose TryComplete succeeded
	completed bool
}

type stageFunc func(ctx context.Context, r *run, p envelope.Payload) error

func (s *Service) stageFor(topic envelope.Topic) (stageFunc, string) {
	switch topic {
	case envelope.TopicIngestion:
		return func(ctx context.Context, r *run, p envelope.Payload) error {
			return s.ingest(ctx, r, p.(*envelope.IngestionPayload))
		}, types.StageIngestion
	case envelope.TopicImageAnalysis:
		return func(ctx context.Context, r *run, p envelope.Payload) error {
			return s.analyze(ctx, r, p.(*envelope.ImageAnalysisPayload))
		}, types.StageImageAnalysis
	case envelope.TopicEmbedding:
		return func(ctx context.Context, r *run, p envelope.Payload) error {
			return s.embed(ctx, r, p.(*envelope.EmbeddingPayload))
		}, types.StageEmbedding
	case envelope.TopicExplanation:
		return func(ctx context.Context, r *run, p envelope.Payload) error {
			return s.explain(ctx, r, p.(*envelope.ExplanationPayload))
		}, types.StageExplanation
	case envelope.TopicSummary:
		return func(ctx context.Context, r *run, p envelope.Payload) error {
			return s.summarize(ctx, r, p.(*envelope.SummaryPayload))
		}, types.StageSummary
	}
	return nil, ""
}

// Handlers returns one dispatch handler per topic.
func (s *Service) Handlers() map[envelope.Topic]dispatch.HandlerFunc {
	out := make(map[envelope.Topic]dispatch.HandlerFunc, len(envelope.Topics))
	for _, t := range envelope.Topics {
		out[t] = s.Handle
	}
	return out
}

// Handle processes one delivery. The returned error follows the
// dispatch.HandlerFunc contract.
func (s *Service) Handle(ctx context.Context, msg dispatch.Message) (err error) {
	start := time.Now()
	fn, stage := s.stageFor(msg.Topic)
	if fn == nil {
		s.log.Warn("Unknown topic; dropping", "topic", msg.Topic, "message_id", msg.ID)
		return dispatch.Permanent(fmt.Errorf("%w: unknown topic %q", envelope.ErrMalformed, msg.Topic))
	}
	log := s.log.With("stage", stage, "message_id", msg.ID, "attempt", msg.Attempt)

	payload, err := envelope.Decode(msg.Topic, msg.Data)
	if err != nil {
		log.Warn("Rejecting malformed payload", "error", err)
		observeStage(msg.Topic, "malformed", start)
		return dispatch.Permanent(err)
	}
	lectureID := payload.Lecture()
	log = log.With("lecture_id", lectureID)

	ctx, span := s.tracer.Start(ctx, "stage."+string(msg.Topic), trace.WithAttributes(
		attribute.String("lecture.id", lectureID.String()),
		attribute.String("message.id", msg.ID),
		attribute.Int("message.attempt", msg.Attempt),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.Policy.Stage(msg.Topic).Timeout+time.Minute)
	defer cancel()

	active, err := s.Lectures.VerifyActive(dbctx.New(ctx), lectureID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verify active")
		observeStage(msg.Topic, "transient", start)
		return fmt.Errorf("verify active: %w", err)
	}
	if !active {
		log.Info("Lecture inactive; acknowledging")
		span.SetAttributes(attribute.Bool("stage.skipped", true))
		observeStage(msg.Topic, "skipped", start)
		return nil
	}

	r := &run{msg: msg, lectureID: lectureID, log: log}
	runErr := s.protect(ctx, r, fn, payload)
	outcome, out := s.settle(ctx, r, stage, payload, runErr)
	if out != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, outcome)
	}
	span.SetAttributes(attribute.String("stage.outcome", outcome))
	observeStage(msg.Topic, outcome, start)

	if r.completed {
		s.finish(ctx, lectureID, log)
	}
	return out
}

func (s *Service) protect(ctx context.Context, r *run, fn stageFunc, p envelope.Payload) (err error) {
	defer func() {
		if v := recover(); v != nil {
			r.log.Error("Stage panic", "panic", v)
			err = &panicError{val: v}
		}
	}()
	return fn(ctx, r, p)
}

type panicError struct{ val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.val) }

// settle turns a stage error into the delivery outcome and records it on the
// lecture.
func (s *Service) settle(ctx context.Context, r *run, stage string, p envelope.Payload, err error) (string, error) {
	if err == nil {
		return "ok", nil
	}
	id := p.Lecture()
	dbc := dbctx.New(context.WithoutCancel(ctx))
	maxAttempts := s.Policy.MaxAttempts

	// The committed path that makes a stage ready always publishes again, so
	// a message that never became ready is dropped without failing the lecture.
	if errors.Is(err, ErrNotReady) {
		if maxAttempts > 0 && r.msg.Attempt >= maxAttempts {
			r.log.Warn("Dropping message that never became ready", "error", err)
			return "abandoned", dispatch.Permanent(err)
		}
		r.log.Info("Upstream not ready; retrying later", "error", err)
		return "not_ready", err
	}

	if isPermanent(err) || (maxAttempts > 0 && r.msg.Attempt >= maxAttempts) {
		msg := err.Error()
		if !isPermanent(err) {
			msg = fmt.Sprintf("gave up after %d attempts: %s", r.msg.Attempt, msg)
		}
		r.log.Warn("Stage failed permanently", "error", msg)
		failed, ferr := s.Lectures.MarkFailed(dbc, id, stage, msg)
		if ferr != nil {
			r.log.Error("MarkFailed failed", "error", ferr)
			return "transient", fmt.Errorf("mark failed: %w", ferr)
		}
		if failed {
			s.finish(ctx, id, r.log)
		}
		return "permanent", dispatch.Permanent(err)
	}

	r.log.Warn("Stage failed; will retry", "error", err)
	if rerr := s.Lectures.RecordError(dbc, id, stage, types.ErrorKindTransient, err.Error()); rerr != nil {
		r.log.Warn("RecordError failed", "error", rerr)
	}
	return "transient", err
}

// finish loads the terminal lecture and runs every hook.
func (s *Service) finish(ctx context.Context, id uuid.UUID, log *logger.Logger) {
	ctx = context.WithoutCancel(ctx)
	l, err := s.Lectures.GetByID(dbctx.New(ctx), id)
	if err != nil || l == nil {
		log.Warn("Completion hooks skipped; lecture not loaded", "error", err)
		return
	}
	if l.Status == types.StatusComplete {
		log.Info("Lecture complete")
	}
	for _, h := range s.Hooks {
		if err := h.LectureFinished(ctx, l); err != nil {
			log.Warn("Lecture hook failed", "status", l.Status, "error", err)
		}
	}
}

// tx runs fn in one database transaction. Publishes made through dbc join it.
func (s *Service) tx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.New(ctx).WithTx(tx))
	})
}

func observeStage(topic envelope.Topic, outcome string, start time.Time) {
	if m := observability.Current(); m != nil {
		m.ObserveStage(string(topic), outcome, time.Since(start))
	}
}
