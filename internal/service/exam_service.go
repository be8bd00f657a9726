package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-exam/internal/model"
	"github.com/stemsi/cbt-exam/internal/response"
)

// maxListOffset is the largest OFFSET List ever sends to the store.
const maxListOffset = math.MaxInt32

// Domain Errors
var (
	ErrExamNotFound = errors.New("exam not found")
)

// ExamStore is the persistence the exam service needs.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListPaginated(ctx context.Context, limit, offset int) ([]model.Exam, int, error)
	Create(ctx context.Context, e *model.Exam) error
	Update(ctx context.Context, e *model.Exam) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ExamCache is the read-through cache in front of ExamStore.
// Get returns a nil exam on a miss together with the entry's generation. Invalidate bumps the
// generation, and Set must drop the write when the generation no longer matches, so a read
// that loaded a row before an update or delete cannot cache it afterwards.
type ExamCache interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Exam, int64, error)
	Set(ctx context.Context, e *model.Exam, generation int64) error
	Invalidate(ctx context.Context, id uuid.UUID) error
}

// AuditPublisher receives one event per successful mutation.
type AuditPublisher interface {
	Publish(ctx context.Context, ev model.ExamAuditEvent) error
}

// Actor identifies who performed a mutation, for the audit trail.
type Actor struct {
	UserID    int
	RequestID string
}

// ExamService handles exam business logic, caching and auditing.
type ExamService struct {
	store ExamStore
	cache ExamCache
	audit AuditPublisher
	log   zerolog.Logger
	now   func() time.Time
}

// NewExamService creates a new ExamService.
func NewExamService(store ExamStore, cache ExamCache, audit AuditPublisher, log zerolog.Logger) *ExamService {
	return &ExamService{
		store: store,
		cache: cache,
		audit: audit,
		log:   log.With().Str("component", "exam_service").Logger(),
		now:   time.Now,
	}
}

// GetByID returns an exam, preferring the cache. Cache failures fall through to the store.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	cached, generation, cacheErr := s.cache.Get(ctx, id)
	if cacheErr != nil {
		s.log.Warn().Err(cacheErr).Str("exam_id", id.String()).Msg("Exam cache read failed")
	}
	if cached != nil {
		return cached, nil
	}

	exam, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}

	// Without a generation the write cannot be guarded, so skip it.
	if cacheErr == nil {
		if err := s.cache.Set(ctx, exam, generation); err != nil {
			s.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Exam cache write failed")
		}
	}
	return exam, nil
}

// List returns one page of exams, newest first.
func (s *ExamService) List(ctx context.Context, page, perPage int) ([]model.Exam, *response.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}
	// Keep (page-1)*perPage from overflowing; such pages are past the end anyway.
	if maxPage := maxListOffset/perPage + 1; page > maxPage {
		page = maxPage
	}

	exams, total, err := s.store.ListPaginated(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, fmt.Errorf("list exams: %w", err)
	}
	if exams == nil {
		exams = []model.Exam{}
	}

	return exams, response.NewPagination(page, perPage, total), nil
}

// Create inserts a new exam.
func (s *ExamService) Create(ctx context.Context, actor Actor, req model.CreateExamRequest) (*model.Exam, error) {
	exam := &model.Exam{
		Title:       req.Title,
		Description: req.Description,
		ExamCode:    req.ExamCode,
	}
	if err := s.store.Create(ctx, exam); err != nil {
		return nil, fmt.Errorf("create exam: %w", err)
	}

	s.publish(ctx, actor, exam.ID, model.AuditActionCreate)
	s.log.Info().Str("exam_id", exam.ID.String()).Int("user_id", actor.UserID).Msg("Exam created")
	return exam, nil
}

// Update replaces the title, description and exam code of an existing exam.
func (s *ExamService) Update(ctx context.Context, actor Actor, id uuid.UUID, req model.UpdateExamRequest) (*model.Exam, error) {
	exam := &model.Exam{
		ID:          id,
		Title:       req.Title,
		Description: req.Description,
		ExamCode:    req.ExamCode,
	}
	if err := s.store.Update(ctx, exam); err != nil {
		return nil, mapNotFound(err)
	}

	s.invalidate(ctx, id)
	s.publish(ctx, actor, id, model.AuditActionUpdate)
	s.log.Info().Str("exam_id", id.String()).Int("user_id", actor.UserID).Msg("Exam updated")
	return exam, nil
}

// Delete removes an exam. Deleting an id that no longer exists returns ErrExamNotFound.
func (s *ExamService) Delete(ctx context.Context, actor Actor, id uuid.UUID) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return mapNotFound(err)
	}

	s.invalidate(ctx, id)
	s.publish(ctx, actor, id, model.AuditActionDelete)
	s.log.Info().Str("exam_id", id.String()).Int("user_id", actor.UserID).Msg("Exam deleted")
	return nil
}

func (s *ExamService) invalidate(ctx context.Context, id uuid.UUID) {
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Exam cache invalidation failed")
	}
}

func (s *ExamService) publish(ctx context.Context, actor Actor, id uuid.UUID, action model.AuditAction) {
	ev := model.ExamAuditEvent{
		ExamID:     id,
		Action:     action,
		UserID:     actor.UserID,
		RequestID:  actor.RequestID,
		OccurredAt: s.now().UTC(),
	}
	if err := s.audit.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).
			Str("exam_id", id.String()).
			Str("action", string(action)).
			Msg("Audit enqueue failed")
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrExamNotFound
	}
	return fmt.Errorf("exam store: %w", err)
}
