// Package accumulator buffers chunks per session and flushes them to the
// dispatcher when a time window elapses or a size threshold is reached,
// whichever comes first. Chunks are never dropped silently: transient
// dispatch failures requeue the batch at the head of its buffer.
package accumulator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/thebtf/recall/internal/clock"
	"github.com/thebtf/recall/internal/dispatch"
	"github.com/thebtf/recall/pkg/models"
)

// sweepInterval is how often the background sweep re-evaluates flush
// conditions. Much smaller than any flush window.
const sweepInterval = 200 * time.Millisecond

// degradedThreshold is the consecutive-failure count after which the
// accumulator reports degraded mode. Capture keeps buffering; durability
// lags.
const degradedThreshold = 3

// maxBackoff caps the delay between delivery attempts.
const maxBackoff = 30 * time.Second

// Dispatcher delivers one flushed batch.
type Dispatcher interface {
	Send(ctx context.Context, chunks []models.Chunk) (*models.CaptureResponse, error)
}

// Options configures an Accumulator.
type Options struct {
	FlushInterval time.Duration
	MaxBatchSize  int
	Clock         clock.Clock
	// OnFlush runs after each successful delivery.
	OnFlush func(sessionID string, resp *models.CaptureResponse)
}

type sessionBuffer struct {
	chunks  []models.Chunk
	firstAt time.Time // arrival of the oldest unflushed chunk
}

// Accumulator owns the per-session buffers and the single background sweep
// for the whole process.
type Accumulator struct {
	mu      sync.Mutex
	buffers map[string]*sessionBuffer

	dispatcher    Dispatcher
	clk           clock.Clock
	flushInterval time.Duration
	maxBatch      int
	onFlush       func(string, *models.CaptureResponse)

	consecutiveFailures int
	nextAttempt         time.Time
	degraded            bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	chunksIngested  metric.Int64Counter
	batchesFlushed  metric.Int64Counter
	batchesRequeued metric.Int64Counter
}

// New creates an accumulator. Zero option fields fall back to the defaults
// (2s window, 100 chunks, system clock).
func New(d Dispatcher, opts Options) *Accumulator {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 100
	}
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}

	meter := otel.Meter("github.com/thebtf/recall/internal/accumulator")
	chunksIngested, _ := meter.Int64Counter("recall.chunks.ingested")
	batchesFlushed, _ := meter.Int64Counter("recall.batches.flushed")
	batchesRequeued, _ := meter.Int64Counter("recall.batches.requeued")

	return &Accumulator{
		buffers:         make(map[string]*sessionBuffer),
		dispatcher:      d,
		clk:             opts.Clock,
		flushInterval:   opts.FlushInterval,
		maxBatch:        opts.MaxBatchSize,
		onFlush:         opts.OnFlush,
		chunksIngested:  chunksIngested,
		batchesFlushed:  batchesFlushed,
		batchesRequeued: batchesRequeued,
	}
}

// AddChunk appends a chunk to its session's buffer. Never blocks beyond the
// append; safe for concurrent producers.
func (a *Accumulator) AddChunk(sessionID string, chunk models.Chunk) {
	if sessionID == "" {
		sessionID = chunk.SessionID
	}
	a.mu.Lock()
	buf := a.buffers[sessionID]
	if buf == nil {
		buf = &sessionBuffer{}
		a.buffers[sessionID] = buf
	}
	if len(buf.chunks) == 0 {
		buf.firstAt = a.clk.Now()
	}
	buf.chunks = append(buf.chunks, chunk)
	a.mu.Unlock()

	a.chunksIngested.Add(context.Background(), 1)
}

// Start launches the background sweep goroutine.
func (a *Accumulator) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.sweep(ctx, a.clk.Now())
			}
		}
	}()
}

// Stop halts the sweep and drains every remaining buffer.
func (a *Accumulator) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.Drain(context.Background())
}

// Degraded reports whether repeated delivery failures have tripped the
// backoff. Buffering continues; durability lags.
func (a *Accumulator) Degraded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.degraded
}

// Pending returns the number of buffered chunks for a session.
func (a *Accumulator) Pending(sessionID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if buf := a.buffers[sessionID]; buf != nil {
		return len(buf.chunks)
	}
	return 0
}

// sweep evaluates flush conditions for every session and dispatches the due
// batches. One sweep runs at a time, so a session never has two batches in
// flight. Dispatch happens here, off the AddChunk path.
func (a *Accumulator) sweep(ctx context.Context, now time.Time) {
	a.mu.Lock()
	if now.Before(a.nextAttempt) {
		a.mu.Unlock()
		return
	}
	var due []string
	for id, buf := range a.buffers {
		if len(buf.chunks) == 0 {
			continue
		}
		if len(buf.chunks) < a.maxBatch && now.Sub(buf.firstAt) < a.flushInterval {
			continue
		}
		due = append(due, id)
	}
	a.mu.Unlock()

	// A buffer is popped only when its dispatch is imminent: if an earlier
	// batch engages the backoff, later sessions' chunks stay buffered.
	for _, id := range due {
		batch := a.pop(id)
		if len(batch) == 0 {
			continue
		}
		if !a.dispatchBatch(ctx, now, id, batch) {
			// Backoff engaged; leave the rest for the next cycle.
			return
		}
	}
}

// pop removes up to maxBatch chunks from a session's buffer. The remainder
// keeps the original window start so it flushes on the next cycle rather
// than waiting a fresh interval.
func (a *Accumulator) pop(sessionID string) []models.Chunk {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf := a.buffers[sessionID]
	if buf == nil || len(buf.chunks) == 0 {
		return nil
	}
	n := len(buf.chunks)
	if n > a.maxBatch {
		n = a.maxBatch
	}
	batch := buf.chunks[:n:n]
	buf.chunks = buf.chunks[n:]
	return batch
}

// Drain flushes every buffered chunk regardless of thresholds. Used at
// shutdown. A transient failure stops that session's drain after the
// requeue so its chunks never leave in the wrong order.
func (a *Accumulator) Drain(ctx context.Context) {
	a.mu.Lock()
	ids := make([]string, 0, len(a.buffers))
	for id := range a.buffers {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	now := a.clk.Now()
	for _, id := range ids {
		for {
			batch := a.pop(id)
			if len(batch) == 0 {
				break
			}
			if !a.dispatchBatch(ctx, now, id, batch) {
				break
			}
		}
	}
}

// dispatchBatch sends one batch and handles the outcome. Returns false when
// a transient failure engaged the backoff.
func (a *Accumulator) dispatchBatch(ctx context.Context, now time.Time, sessionID string, batch []models.Chunk) bool {
	resp, err := a.dispatcher.Send(ctx, batch)
	if err == nil {
		a.mu.Lock()
		a.consecutiveFailures = 0
		a.nextAttempt = time.Time{}
		if a.degraded {
			a.degraded = false
			log.Info().Msg("Dispatch recovered, leaving degraded mode")
		}
		a.mu.Unlock()

		a.batchesFlushed.Add(ctx, 1)
		if a.onFlush != nil {
			a.onFlush(sessionID, resp)
		}
		return true
	}

	if dispatch.IsTransient(err) {
		a.requeue(now, sessionID, batch)
		log.Warn().
			Err(err).
			Str("session_id", sessionID).
			Int("chunks", len(batch)).
			Msg("Dispatch failed, batch requeued")
		return false
	}

	// Permanent rejection: retrying would loop forever on the same bytes.
	log.Error().
		Err(err).
		Str("session_id", sessionID).
		Int("chunks", len(batch)).
		Msg("Dropping batch after permanent rejection")
	return true
}

// requeue puts a failed batch back at the head of its buffer and advances
// the global backoff.
func (a *Accumulator) requeue(now time.Time, sessionID string, batch []models.Chunk) {
	a.mu.Lock()
	buf := a.buffers[sessionID]
	if buf == nil {
		buf = &sessionBuffer{}
		a.buffers[sessionID] = buf
	}
	if len(buf.chunks) == 0 {
		buf.firstAt = now
	}
	buf.chunks = append(append([]models.Chunk{}, batch...), buf.chunks...)

	a.consecutiveFailures++
	shift := a.consecutiveFailures
	if shift > 4 {
		shift = 4
	}
	backoff := a.flushInterval * (1 << uint(shift))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	a.nextAttempt = now.Add(backoff)
	if !a.degraded && a.consecutiveFailures >= degradedThreshold {
		a.degraded = true
		log.Warn().Int("failures", a.consecutiveFailures).Msg("Entering degraded mode, capture keeps buffering locally")
	}
	a.mu.Unlock()

	a.batchesRequeued.Add(context.Background(), 1)
}
