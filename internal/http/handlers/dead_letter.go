package handlers

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/srleom/miniclue/internal/http/response"
	"github.com/srleom/miniclue/internal/platform/apierr"
	"github.com/srleom/miniclue/internal/platform/dbctx"
	"github.com/srleom/miniclue/internal/services"
)

type DeadLetterHandler struct {
	deadLetters services.DeadLetterService
}

func NewDeadLetterHandler(deadLetters services.DeadLetterService) *DeadLetterHandler {
	return &DeadLetterHandler{deadLetters: deadLetters}
}

// GET /api/dead-letters?status=pending&limit=100
func (h *DeadLetterHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	list, err := h.deadLetters.List(dbctx.New(c.Request.Context()), c.Query("status"), limit)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"dead_letters": list})
}

// POST /api/dead-letters/:id/replay
func (h *DeadLetterHandler) Replay(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondErr(c, apierr.BadRequest(errors.New("invalid dead letter id")))
		return
	}
	d, err := h.deadLetters.Replay(dbctx.New(c.Request.Context()), id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"dead_letter": d})
}
