package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-exam/internal/middleware"
	"github.com/stemsi/cbt-exam/internal/model"
	"github.com/stemsi/cbt-exam/internal/response"
	"github.com/stemsi/cbt-exam/internal/service"
	"github.com/stemsi/cbt-exam/internal/validator"
)

// ExamService is the exam business logic the handler drives.
type ExamService interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	List(ctx context.Context, page, perPage int) ([]model.Exam, *response.Pagination, error)
	Create(ctx context.Context, actor service.Actor, req model.CreateExamRequest) (*model.Exam, error)
	Update(ctx context.Context, actor service.Actor, id uuid.UUID, req model.UpdateExamRequest) (*model.Exam, error)
	Delete(ctx context.Context, actor service.Actor, id uuid.UUID) error
}

// ExamHandler handles exam CRUD endpoints.
type ExamHandler struct {
	examService ExamService
	log         zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(examService ExamService, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		examService: examService,
		log:         log.With().Str("component", "exam_handler").Logger(),
	}
}

// ListExams godoc
// GET /api/v1/exam/list/
// Lists exams with pagination, newest first.
func (h *ExamHandler) ListExams(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	exams, pagination, err := h.examService.List(c.Request.Context(), page, perPage)
	if err != nil {
		h.internalError(c, err, "List exams failed")
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"exams": exams}, pagination)
}

// CreateExam godoc
// POST /api/v1/exam/create/
// Creates an exam. Requires a token whose user has a CBT profile.
func (h *ExamHandler) CreateExam(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam, err := h.examService.Create(c.Request.Context(), actorFrom(c, principal), req)
	if err != nil {
		h.internalError(c, err, "Create exam failed")
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"exam": exam})
}

// ReadExam godoc
// GET /api/v1/exam/read/:id/
// Returns one exam. Public.
func (h *ExamHandler) ReadExam(c *gin.Context) {
	examID, ok := parseExamID(c)
	if !ok {
		return
	}

	exam, err := h.examService.GetByID(c.Request.Context(), examID)
	if err != nil {
		h.fail(c, err, "Read exam failed")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// UpdateExam godoc
// PUT /api/v1/exam/update/:id/
// Replaces title, description and exam_code. The payload is validated before the lookup.
func (h *ExamHandler) UpdateExam(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.UpdateExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	examID, ok := parseExamID(c)
	if !ok {
		return
	}

	exam, err := h.examService.Update(c.Request.Context(), actorFrom(c, principal), examID, req)
	if err != nil {
		h.fail(c, err, "Update exam failed")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// DeleteExam godoc
// DELETE /api/v1/exam/delete/:id/
func (h *ExamHandler) DeleteExam(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := parseExamID(c)
	if !ok {
		return
	}

	if err := h.examService.Delete(c.Request.Context(), actorFrom(c, principal), examID); err != nil {
		h.fail(c, err, "Delete exam failed")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "exam deleted successfully"})
}

// parseExamID reads the :id path param. A value that is not a UUID cannot name an exam,
// so it is answered with 404 rather than 400.
func parseExamID(c *gin.Context) (uuid.UUID, bool) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return uuid.Nil, false
	}
	return examID, true
}

func actorFrom(c *gin.Context, principal *model.Principal) service.Actor {
	return service.Actor{
		UserID:    principal.UserID,
		RequestID: response.RequestID(c),
	}
}

func (h *ExamHandler) fail(c *gin.Context, err error, msg string) {
	if errors.Is(err, service.ErrExamNotFound) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	h.internalError(c, err, msg)
}

func (h *ExamHandler) internalError(c *gin.Context, err error, msg string) {
	h.log.Error().Err(err).Str("request_id", response.RequestID(c)).Msg(msg)
	response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
}
