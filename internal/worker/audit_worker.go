package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-exam/internal/model"
)

const defaultMaxAttempts = 5

var auditDeadLettered = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cbt",
		Subsystem: "audit",
		Name:      "dead_lettered_total",
		Help:      "Audit events moved to the dead-letter list, by reason (malformed, max_attempts).",
	},
	[]string{"reason"},
)

// AuditQueue is the Redis list the exam service publishes audit events to.
type AuditQueue interface {
	Pop(ctx context.Context, timeout time.Duration) (string, bool, error)
	TryPop(ctx context.Context) (string, bool, error)
	Requeue(ctx context.Context, raw string) error
	DeadLetter(ctx context.Context, raw string) error
}

// AuditSink stores audit events durably.
type AuditSink interface {
	Insert(ctx context.Context, ev model.ExamAuditEvent) error
}

// AuditWorker consumes persist_exam_audit_queue and INSERTs rows into exam_audit_logs.
type AuditWorker struct {
	queue      AuditQueue
	sink       AuditSink
	log        zerolog.Logger
	popTimeout time.Duration
	retryDelay time.Duration
	// maxAttempts is how many failed inserts an event gets before it is dead-lettered.
	maxAttempts int
	done        chan struct{}
}

// NewAuditWorker creates a new AuditWorker.
func NewAuditWorker(queue AuditQueue, sink AuditSink, log zerolog.Logger) *AuditWorker {
	return &AuditWorker{
		queue:       queue,
		sink:        sink,
		log:         log.With().Str("component", "audit_worker").Logger(),
		popTimeout:  time.Second,
		retryDelay:  5 * time.Second,
		maxAttempts: defaultMaxAttempts,
		done:        make(chan struct{}),
	}
}

// Start begins the worker loop and returns after ctx is cancelled and the queue is drained.
// Call in a goroutine.
func (w *AuditWorker) Start(ctx context.Context) {
	defer close(w.done)
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

// Done is closed once Start has returned.
func (w *AuditWorker) Done() <-chan struct{} {
	return w.done
}

func (w *AuditWorker) processNext(ctx context.Context) {
	// Pop blocks until an item is available or the timeout (1 second) expires.
	raw, ok, err := w.queue.Pop(ctx, w.popTimeout)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
			w.sleep(ctx, w.popTimeout)
		}
		return
	}
	if !ok {
		return
	}

	ev, ok := w.decode(context.WithoutCancel(ctx), raw)
	if !ok {
		return
	}

	if err := w.sink.Insert(ctx, ev); err != nil {
		w.log.Error().Err(err).
			Str("exam_id", ev.ExamID.String()).
			Str("action", string(ev.Action)).
			Int("attempt", ev.Attempts+1).
			Msg("Persist error")
		// The cancelled ctx cannot be used here.
		if w.retry(context.WithoutCancel(ctx), ev) {
			w.sleep(ctx, w.retryDelay)
		}
	}
}

// retry requeues ev with its attempt count bumped, or dead-letters it once maxAttempts is reached.
// It reports whether the event went back on the work queue.
func (w *AuditWorker) retry(ctx context.Context, ev model.ExamAuditEvent) bool {
	ev.Attempts++
	data, err := json.Marshal(ev)
	if err != nil {
		w.log.Error().Err(err).Msg("Marshal error, audit event lost")
		return false
	}

	if ev.Attempts >= w.maxAttempts {
		w.deadLetter(ctx, string(data), "max_attempts")
		return false
	}
	if err := w.queue.Requeue(ctx, string(data)); err != nil {
		w.log.Error().Err(err).Msg("Requeue failed, audit event lost")
		return false
	}
	return true
}

func (w *AuditWorker) deadLetter(ctx context.Context, raw, reason string) {
	auditDeadLettered.WithLabelValues(reason).Inc()
	if err := w.queue.DeadLetter(ctx, raw); err != nil {
		w.log.Error().Err(err).Str("payload", raw).Msg("Dead-letter failed, audit event lost")
		return
	}
	w.log.Warn().Str("reason", reason).Str("payload", raw).Msg("Audit event dead-lettered")
}

// drain persists everything still queued. It stops at the first failure and retries that item.
func (w *AuditWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raw, ok, err := w.queue.TryPop(ctx)
		if err != nil || !ok {
			break
		}

		ev, ok := w.decode(ctx, raw)
		if !ok {
			continue
		}

		if err := w.sink.Insert(ctx, ev); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.retry(ctx, ev)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

// decode dead-letters malformed payloads.
func (w *AuditWorker) decode(ctx context.Context, raw string) (model.ExamAuditEvent, bool) {
	var ev model.ExamAuditEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		w.deadLetter(ctx, raw, "malformed")
		return ev, false
	}
	return ev, true
}

func (w *AuditWorker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
