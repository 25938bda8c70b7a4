// Package events persists throttle events asynchronously so that writing
// them never delays a request.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/archivist/gateway/internal/models"
)

const (
	DefaultBufferSize = 1000
	defaultBatchSize  = 100
	defaultFlushEvery = 5 * time.Second
	writeTimeout      = 10 * time.Second
)

type BatchWriter interface {
	CreateBatch(ctx context.Context, events []models.ThrottleEvent) error
}

// Recorder buffers events in a bounded channel and writes them in batches
// from a single goroutine. Events are dropped when the buffer is full.
type Recorder struct {
	sink       BatchWriter
	logger     *zap.Logger
	events     chan models.ThrottleEvent
	batchSize  int
	flushEvery time.Duration

	quit     chan struct{}
	done     chan struct{}
	start    sync.Once
	stop     sync.Once
	dropped  atomic.Int64
	recorded atomic.Int64
}

type Option func(*Recorder)

func WithBatchSize(n int) Option {
	return func(r *Recorder) { r.batchSize = n }
}

func WithFlushInterval(d time.Duration) Option {
	return func(r *Recorder) { r.flushEvery = d }
}

func NewRecorder(sink BatchWriter, bufferSize int, logger *zap.Logger, opts ...Option) *Recorder {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	r := &Recorder{
		sink:       sink,
		logger:     logger.Named("events"),
		events:     make(chan models.ThrottleEvent, bufferSize),
		batchSize:  defaultBatchSize,
		flushEvery: defaultFlushEvery,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the writer goroutine. Calling it twice is a no-op.
func (r *Recorder) Start() {
	r.start.Do(func() {
		go r.run()
	})
}

// Record queues an event without blocking.
func (r *Recorder) Record(event models.ThrottleEvent) {
	select {
	case <-r.quit:
		r.dropped.Add(1)
		return
	default:
	}

	select {
	case r.events <- event:
	default:
		if r.dropped.Add(1)%100 == 1 {
			r.logger.Warn("throttle event buffer full, dropping events",
				zap.Int64("dropped_total", r.dropped.Load()))
		}
	}
}

// Stop flushes queued events and waits for the writer to exit or ctx to end.
func (r *Recorder) Stop(ctx context.Context) error {
	r.stop.Do(func() { close(r.quit) })
	r.Start()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped counts events that were never persisted: buffer overflow, Record
// after Stop, or a failed batch write.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Recorded counts events written to the sink.
func (r *Recorder) Recorded() int64 {
	return r.recorded.Load()
}

func (r *Recorder) run() {
	defer close(r.done)

	batch := make([]models.ThrottleEvent, 0, r.batchSize)
	ticker := time.NewTicker(r.flushEvery)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.write(batch)
		batch = make([]models.ThrottleEvent, 0, r.batchSize)
	}

	for {
		select {
		case event := <-r.events:
			batch = append(batch, event)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.quit:
			for {
				select {
				case event := <-r.events:
					batch = append(batch, event)
					if len(batch) >= r.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (r *Recorder) write(batch []models.ThrottleEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.sink.CreateBatch(ctx, batch); err != nil {
		r.dropped.Add(int64(len(batch)))
		r.logger.Error("failed to write throttle events",
			zap.Int("count", len(batch)),
			zap.Error(err))
		return
	}
	r.recorded.Add(int64(len(batch)))
}
