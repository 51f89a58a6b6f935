package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/farmpulse/farmpulse/internal/domain"
	"github.com/farmpulse/farmpulse/internal/metrics"
)

const sinkWriteTimeout = 5 * time.Second

// Recorder hands usage samples to an audit sink off the request path. Record
// never blocks: when the buffer is full the sample is dropped and counted.
// Sink failures are logged and dropped, never propagated.
type Recorder struct {
	sink     domain.UsageSink
	samples  chan domain.UsageSample
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRecorder starts the drain worker. bufferSize bounds how many samples
// can be in flight before drops begin.
func NewRecorder(sink domain.UsageSink, bufferSize int) *Recorder {
	r := &Recorder{
		sink:    sink,
		samples: make(chan domain.UsageSample, bufferSize),
		done:    make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record enqueues a sample, dropping it if the buffer is full.
func (r *Recorder) Record(sample domain.UsageSample) {
	select {
	case r.samples <- sample:
	default:
		metrics.UsageSamplesDroppedTotal.Inc()
	}
}

// Stop drains buffered samples and shuts the worker down.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for {
		select {
		case sample := <-r.samples:
			r.write(sample)
		case <-r.done:
			// Drain what is already buffered, then exit.
			for {
				select {
				case sample := <-r.samples:
					r.write(sample)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(sample domain.UsageSample) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
	defer cancel()

	if err := r.sink.RecordUsage(ctx, sample); err != nil {
		metrics.UsageSinkErrorsTotal.Inc()
		slog.Warn("Usage sink write failed", "user_id", sample.UserID, "endpoint", sample.Endpoint, "error", err)
	}
}
