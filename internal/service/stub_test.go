package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/cbt-exam/internal/model"
)

// memExamStore is an in-memory ExamStore that mirrors the repository's not-found behavior.
type memExamStore struct {
	mu    sync.Mutex
	exams map[uuid.UUID]model.Exam
	gets  int
	// offsets records every OFFSET passed to ListPaginated.
	offsets []int
	err     error
	nextID  uuid.UUID
}

func newMemExamStore() *memExamStore {
	return &memExamStore{exams: make(map[uuid.UUID]model.Exam)}
}

func (m *memExamStore) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.err != nil {
		return nil, m.err
	}
	e, ok := m.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &e, nil
}

func (m *memExamStore) ListPaginated(_ context.Context, limit, offset int) ([]model.Exam, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offsets = append(m.offsets, offset)
	if m.err != nil {
		return nil, 0, m.err
	}
	all := make([]model.Exam, 0, len(m.exams))
	for _, e := range m.exams {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Title < all[j].Title })
	if offset >= len(all) {
		return nil, len(all), nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (m *memExamStore) Create(_ context.Context, e *model.Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	e.ID = m.nextID
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.exams[e.ID] = *e
	return nil
}

func (m *memExamStore) Update(_ context.Context, e *model.Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.exams[e.ID]; !ok {
		return pgx.ErrNoRows
	}
	m.exams[e.ID] = *e
	return nil
}

func (m *memExamStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.exams[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(m.exams, id)
	return nil
}

// memExamCache mirrors the generation guard of the Redis exam cache.
type memExamCache struct {
	mu          sync.Mutex
	exams       map[uuid.UUID]model.Exam
	generations map[uuid.UUID]int64
	getErr      error
	invalidated []uuid.UUID
}

func newMemExamCache() *memExamCache {
	return &memExamCache{
		exams:       make(map[uuid.UUID]model.Exam),
		generations: make(map[uuid.UUID]int64),
	}
}

func (c *memExamCache) Get(_ context.Context, id uuid.UUID) (*model.Exam, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, 0, c.getErr
	}
	e, ok := c.exams[id]
	if !ok {
		return nil, c.generations[id], nil
	}
	return &e, c.generations[id], nil
}

func (c *memExamCache) Set(_ context.Context, e *model.Exam, generation int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[e.ID] != generation {
		return nil
	}
	c.exams[e.ID] = *e
	return nil
}

func (c *memExamCache) Invalidate(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.exams, id)
	c.generations[id]++
	c.invalidated = append(c.invalidated, id)
	return nil
}

func (c *memExamCache) cached(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.exams[id]
	return ok
}

// gatedExamStore pauses the first armed GetByID after it has read the row,
// until release is closed.
type gatedExamStore struct {
	*memExamStore
	armed   atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func newGatedExamStore(inner *memExamStore) *gatedExamStore {
	g := &gatedExamStore{
		memExamStore: inner,
		read:         make(chan struct{}),
		release:      make(chan struct{}),
	}
	g.armed.Store(true)
	return g
}

func (g *gatedExamStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e, err := g.memExamStore.GetByID(ctx, id)
	if g.armed.CompareAndSwap(true, false) {
		close(g.read)
		<-g.release
	}
	return e, err
}

type recordingPublisher struct {
	events []model.ExamAuditEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev model.ExamAuditEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

type stubPrincipalStore struct {
	principals map[string]model.Principal
	calls      int
}

func (s *stubPrincipalStore) FindPrincipalByToken(_ context.Context, key string) (*model.Principal, error) {
	s.calls++
	p, ok := s.principals[key]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &p, nil
}

type memPrincipalCache struct {
	entries map[string]model.Principal
	getErr  error
}

func (c *memPrincipalCache) Get(_ context.Context, key string) (*model.Principal, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	p, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (c *memPrincipalCache) Set(_ context.Context, key string, p *model.Principal) error {
	c.entries[key] = *p
	return nil
}

var errBoom = errors.New("boom")
