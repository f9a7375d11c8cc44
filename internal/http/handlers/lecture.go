package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/srleom/miniclue/internal/http/response"
	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/platform/apierr"
	"github.com/srleom/miniclue/internal/platform/dbctx"
	"github.com/srleom/miniclue/internal/services"
)

const maxUploadBytes = 100 << 20

type LectureHandler struct {
	lectures services.LectureService
}

func NewLectureHandler(lectures services.LectureService) *LectureHandler {
	return &LectureHandler{lectures: lectures}
}

// POST /api/lectures
//
// Accepts JSON (storage_path of an already uploaded deck) or multipart form
// data with the deck in "file".
func (h *LectureHandler) Create(c *gin.Context) {
	var in services.SubmitLecture
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
		fh, err := c.FormFile("file")
		if err != nil {
			response.RespondErr(c, apierr.BadRequest(errors.New("file is required")))
			return
		}
		f, err := fh.Open()
		if err != nil {
			response.RespondErr(c, apierr.BadRequest(err))
			return
		}
		defer f.Close()
		if in.Upload, err = io.ReadAll(f); err != nil {
			response.RespondErr(c, apierr.BadRequest(err))
			return
		}
		in.Title = c.PostForm("title")
		in.UserID = c.PostForm("user_id")
		in.Tenant = envelope.Tenant{
			CustomerIdentifier: c.PostForm("customer_identifier"),
			Name:               c.PostForm("name"),
			Email:              c.PostForm("email"),
		}
		if in.Title == "" {
			in.Title = strings.TrimSuffix(fh.Filename, ".pdf")
		}
	} else if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondErr(c, apierr.BadRequest(err))
		return
	}

	l, err := h.lectures.Submit(dbctx.New(c.Request.Context()), in)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"lecture": l})
}

// GET /api/lectures/:id
func (h *LectureHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondErr(c, apierr.BadRequest(errors.New("invalid lecture id")))
		return
	}
	view, err := h.lectures.Get(dbctx.New(c.Request.Context()), id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, view)
}
