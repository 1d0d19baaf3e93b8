package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/v0gel/mason/internal/job"
	"github.com/v0gel/mason/internal/lock"
	"github.com/v0gel/mason/internal/queue"
)

// requeueDelay is how long a job reserved under lock contention waits before
// it becomes reservable again.
const requeueDelay = 30 * time.Second

// Handler processes one reserved job. An error is terminal for that job only.
type Handler interface {
	Handle(ctx context.Context, p *job.Payload) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, p *job.Payload) error

func (f HandlerFunc) Handle(ctx context.Context, p *job.Payload) error {
	return f(ctx, p)
}

// Worker is the job reservation loop for one tube. It reserves a message,
// deletes it from the queue, takes the per-identifier processing lock and runs
// the handler inside a panic boundary. The lock, not the queue, is the
// exactly-once guard: a message is acked before processing and contention is
// resolved by a delayed requeue of the payload.
type Worker struct {
	Queue   queue.Queue // required
	Locks   lock.Locker // required
	Tube    job.Tube    // required
	Handler Handler     // required
	Metrics *Metrics    // optional

	inFlight atomic.Int64
}

// Metrics are the worker's prometheus collectors.
type Metrics struct {
	ProcessedTotal  *prometheus.CounterVec
	ContentionTotal prometheus.Counter
	PanicsTotal     prometheus.Counter
	InFlight        prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer, tube job.Tube) *Metrics {
	m := &Metrics{
		ProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "mason_jobs_processed_total",
			Help:        "Jobs processed, by result.",
			ConstLabels: prometheus.Labels{"tube": string(tube)},
		}, []string{"result"}),
		ContentionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mason_lock_contention_total",
			Help:        "Reservations requeued because the job lock was held.",
			ConstLabels: prometheus.Labels{"tube": string(tube)},
		}),
		PanicsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mason_handler_panics_total",
			Help:        "Handler panics recovered by the job boundary.",
			ConstLabels: prometheus.Labels{"tube": string(tube)},
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "mason_jobs_in_flight",
			Help:        "Jobs currently being processed.",
			ConstLabels: prometheus.Labels{"tube": string(tube)},
		}),
	}
	reg.MustRegister(m.ProcessedTotal, m.ContentionTotal, m.PanicsTotal, m.InFlight)
	return m
}

// Run reserves and processes jobs until ctx is canceled. An in-flight job
// finishes before Run returns; an idle loop returns immediately. Queue
// failures are retried with exponential backoff and jitter.
func (w *Worker) Run(ctx context.Context) error {
	retries := 0
	for {
		err := w.cycle(ctx)
		if err == nil {
			if retries > 0 {
				slog.Info("recovered", "tube", w.Tube, "retries", retries)
				retries = 0
			}
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		slog.Error("didn't complete reservation cycle", "tube", w.Tube, "err", err)
		retries++
		select {
		case <-time.After(retryWaitDuration(retries - 1)):
		case <-ctx.Done():
			return nil
		}
		slog.Info("retrying", "tube", w.Tube, "retries", retries)
	}
}

// InFlight reports the number of jobs currently being processed.
func (w *Worker) InFlight() int64 {
	return w.inFlight.Load()
}

func (w *Worker) cycle(ctx context.Context) error {
	m, err := w.Queue.Reserve(ctx)
	if err != nil {
		return fmt.Errorf("worker.Worker: %w", err)
	}

	// Ack before processing. Redelivery after this point only happens via an
	// explicit Put; the processing lock below is the duplicate-execution guard.
	err = w.Queue.Delete(ctx, m)
	if err != nil {
		return fmt.Errorf("worker.Worker: %w", err)
	}

	p, err := job.Decode(m.Body)
	if err != nil {
		slog.Error("dropping undecodable message", "tube", w.Tube, "err", err)
		w.count("invalid")
		return nil
	}

	key := lock.ProcessingKey(string(w.Tube), p.Identifier)
	err = w.Locks.Acquire(ctx, key, lock.ProcessingTTL)
	if err != nil {
		if errors.Is(err, lock.ErrAlreadyLocked) {
			return w.requeue(ctx, p)
		}
		return fmt.Errorf("worker.Worker: %w", err)
	}

	w.inFlight.Add(1)
	if w.Metrics != nil {
		w.Metrics.InFlight.Inc()
	}
	defer func() {
		w.inFlight.Add(-1)
		if w.Metrics != nil {
			w.Metrics.InFlight.Dec()
		}
	}()
	defer func() {
		// Best effort. A failed release is recovered by the lock TTL.
		releaseErr := w.Locks.Release(context.WithoutCancel(ctx), key)
		if releaseErr != nil {
			slog.Error("didn't release job lock", "key", key, "err", releaseErr)
		}
	}()

	// Cancellation stops new reservations, not the job in flight. The job
	// was already acked, so aborting it here would lose the delivery.
	handleErr := w.handle(context.WithoutCancel(ctx), p)
	if handleErr != nil {
		slog.Error("job failed", "tube", w.Tube, "identifier", p.Identifier, "err", handleErr)
		w.count("error")
		return nil
	}

	slog.Info("job done", "tube", w.Tube, "identifier", p.Identifier)
	w.count("ok")
	return nil
}

// handle runs the handler inside a panic boundary so one bad job cannot take
// down the reservation loop.
func (w *Worker) handle(ctx context.Context, p *job.Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if w.Metrics != nil {
				w.Metrics.PanicsTotal.Inc()
			}
			err = fmt.Errorf("worker.Worker: handler panic: %v", r)
		}
	}()
	return w.Handler.Handle(ctx, p)
}

// requeue puts a reserved-but-locked job back with a fixed delay. There is no
// retry ceiling; Requeues and the contention counter make a hot identifier
// visible to operators.
func (w *Worker) requeue(ctx context.Context, p *job.Payload) error {
	if w.Metrics != nil {
		w.Metrics.ContentionTotal.Inc()
	}
	p.Data.Requeues++

	body, err := job.Encode(p)
	if err != nil {
		return fmt.Errorf("worker.Worker: %w", err)
	}
	err = w.Queue.Put(ctx, w.Tube, &queue.PutParams{Delay: requeueDelay, Body: body})
	if err != nil {
		return fmt.Errorf("worker.Worker: %w", err)
	}

	slog.Info("requeued contended job", "tube", w.Tube, "identifier", p.Identifier, "requeues", p.Data.Requeues)
	return nil
}

func (w *Worker) count(result string) {
	if w.Metrics != nil {
		w.Metrics.ProcessedTotal.WithLabelValues(result).Inc()
	}
}

// retryWaitDuration calculates the wait duration for a retry.
// It is calculated using exponential backoff with jitter and stops growing
// after the thirteenth retry. The first retry number is 0.
func retryWaitDuration(retry int) time.Duration {
	n := min(retry, 12)
	second := int(time.Second)

	// start with 0.5s
	duration := second / 2

	// multiply by 1.5 to the power of n
	for i := 0; i < n; i++ {
		duration /= 2
		duration *= 3
	}

	// add or subtract up to 50%
	jitter := rand.IntN(duration) - duration/2
	duration += jitter

	return time.Duration(duration)
}
