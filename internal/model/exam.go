package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Field limits for exams, counted in characters. The binding tags below repeat them.
const (
	ExamTitleMaxLength       = 255
	ExamDescriptionMaxLength = 2000
	ExamCodeMaxLength        = 50
)

// Exam represents a test or assessment definition.
type Exam struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ExamCode    string    `json:"exam_code"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateExamRequest is the payload for creating a new exam.
type CreateExamRequest struct {
	Title       string `json:"title" binding:"required,nonul,max=255"`
	Description string `json:"description" binding:"required,nonul,max=2000"`
	ExamCode    string `json:"exam_code" binding:"required,nonul,max=50"`
}

// Normalize trims surrounding whitespace, so blank values fail "required"
// and the length limits apply to the trimmed text.
func (r *CreateExamRequest) Normalize() {
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	r.ExamCode = strings.TrimSpace(r.ExamCode)
}

// UpdateExamRequest is the payload for replacing an existing exam. All fields are required.
type UpdateExamRequest struct {
	Title       string `json:"title" binding:"required,nonul,max=255"`
	Description string `json:"description" binding:"required,nonul,max=2000"`
	ExamCode    string `json:"exam_code" binding:"required,nonul,max=50"`
}

// Normalize trims surrounding whitespace, as CreateExamRequest does.
func (r *UpdateExamRequest) Normalize() {
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	r.ExamCode = strings.TrimSpace(r.ExamCode)
}
