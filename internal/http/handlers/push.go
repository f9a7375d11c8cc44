package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/srleom/miniclue/internal/http/response"
	"github.com/srleom/miniclue/internal/pipeline/dispatch"
	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/platform/apierr"
	"github.com/srleom/miniclue/internal/platform/dbctx"
	"github.com/srleom/miniclue/internal/platform/logger"
	"github.com/srleom/miniclue/internal/services"
)

const maxPushBody = 10 << 20

// PushHandler receives push deliveries and runs them through the stage
// handlers. 204 acknowledges; 500 asks the bus to redeliver.
type PushHandler struct {
	log         *logger.Logger
	handlers    map[envelope.Topic]dispatch.HandlerFunc
	deadLetters services.DeadLetterService
	// MaxDeliveryAttempts acknowledges a transient failure once the bus has
	// tried this often. Zero disables the cut-off.
	maxDeliveryAttempts int
}

func NewPushHandler(log *logger.Logger, handlers map[envelope.Topic]dispatch.HandlerFunc, deadLetters services.DeadLetterService, maxDeliveryAttempts int) *PushHandler {
	return &PushHandler{
		log:                 log.With("handler", "PushHandler"),
		handlers:            handlers,
		deadLetters:         deadLetters,
		maxDeliveryAttempts: maxDeliveryAttempts,
	}
}

func (h *PushHandler) readPush(c *gin.Context) (*envelope.PushRequest, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxPushBody))
	if err != nil {
		return nil, err
	}
	return envelope.DecodePush(body)
}

// POST /push/:topic
func (h *PushHandler) Push(c *gin.Context) {
	topic, ok := envelope.ParseTopic(c.Param("topic"))
	handle := h.handlers[topic]
	if !ok || handle == nil {
		response.RespondError(c, http.StatusNotFound, apierr.CodeNotFound, errors.New("unknown topic"))
		return
	}

	req, err := h.readPush(c)
	if err != nil {
		// Redelivering a body we cannot parse never helps.
		h.log.Warn("Dropping malformed push", "topic", topic, "error", err)
		c.Status(http.StatusNoContent)
		return
	}
	msg := dispatch.FromPush(req, topic)
	log := h.log.With("topic", topic, "message_id", msg.ID, "attempt", msg.Attempt)

	err = handle(c.Request.Context(), msg)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case dispatch.IsPermanent(err):
		log.Info("Push acknowledged after permanent failure", "error", err)
		c.Status(http.StatusNoContent)
	case h.maxDeliveryAttempts > 0 && msg.Attempt >= h.maxDeliveryAttempts:
		log.Warn("Delivery attempts exhausted; acknowledging", "error", err)
		c.Status(http.StatusNoContent)
	default:
		log.Warn("Push failed; requesting redelivery", "error", err)
		_ = c.Error(err)
		response.RespondError(c, http.StatusInternalServerError, apierr.CodeUnavailable, errors.New("processing failed"))
	}
}

// POST /push/dead-letter
func (h *PushHandler) DeadLetter(c *gin.Context) {
	req, err := h.readPush(c)
	if err != nil {
		response.RespondErr(c, apierr.BadRequest(err))
		return
	}
	if _, err := h.deadLetters.Record(dbctx.New(c.Request.Context()), req); err != nil {
		var ae *apierr.Error
		if errors.As(err, &ae) {
			response.RespondErr(c, err)
			return
		}
		// The message is already on the dead-letter topic; a redelivery
		// would only repeat this failure.
		h.log.Error("Failed to store dead letter", "message_id", req.Message.MessageID, "error", err)
	}
	c.Status(http.StatusNoContent)
}
