// SPDX-License-Identifier: MIT
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"reactor/internal/analysis"
	"reactor/internal/log"
)

// Errors returned by Worker.Compute. The scheduler treats both as a signal to
// compute the tick in-process.
var (
	ErrWorkerClosed  = errors.New("analysis worker is closed")
	ErrWorkerTimeout = errors.New("analysis worker timed out")
)

// Computer runs the energy and beat math for one tick. Implementations must
// return exactly what analysis.Analyze would for the same input.
type Computer interface {
	Compute(ctx context.Context, in analysis.Input) (analysis.Output, error)
	Close() error
}

// InProcess computes on the calling goroutine.
type InProcess struct{}

var _ Computer = InProcess{}

func (InProcess) Compute(_ context.Context, in analysis.Input) (analysis.Output, error) {
	return analysis.Analyze(in), nil
}

func (InProcess) Close() error { return nil }

type workerRequest struct {
	in    analysis.Input
	reply chan analysis.Output
}

// Worker computes on a background goroutine, exchanging requests and replies
// over channels. A request that is not answered within the timeout fails
// with ErrWorkerTimeout; its late reply is dropped.
type Worker struct {
	fn       func(analysis.Input) analysis.Output
	timeout  time.Duration
	requests chan workerRequest

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ Computer = (*Worker)(nil)

// NewWorker starts a worker goroutine. A non-positive timeout disables the
// deadline.
func NewWorker(timeout time.Duration) *Worker {
	return newWorker(analysis.Analyze, timeout)
}

func newWorker(fn func(analysis.Input) analysis.Output, timeout time.Duration) *Worker {
	w := &Worker{
		fn:       fn,
		timeout:  timeout,
		requests: make(chan workerRequest),
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *Worker) run() {
	defer w.wg.Done()
	log.Debugf("Scheduler: Analysis worker started")
	for {
		select {
		case <-w.done:
			log.Debugf("Scheduler: Analysis worker stopped")
			return
		case req := <-w.requests:
			// reply is buffered, so a caller that gave up never blocks us.
			req.reply <- w.fn(req.in)
		}
	}
}

// Compute implements Computer.
func (w *Worker) Compute(ctx context.Context, in analysis.Input) (analysis.Output, error) {
	var deadline <-chan time.Time
	if w.timeout > 0 {
		timer := time.NewTimer(w.timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	req := workerRequest{in: in, reply: make(chan analysis.Output, 1)}
	select {
	case <-w.done:
		return analysis.Output{}, ErrWorkerClosed
	case <-ctx.Done():
		return analysis.Output{}, ctx.Err()
	case <-deadline:
		return analysis.Output{}, ErrWorkerTimeout
	case w.requests <- req:
	}

	select {
	case out := <-req.reply:
		return out, nil
	case <-w.done:
		return analysis.Output{}, ErrWorkerClosed
	case <-ctx.Done():
		return analysis.Output{}, ctx.Err()
	case <-deadline:
		return analysis.Output{}, ErrWorkerTimeout
	}
}

// Close stops the worker goroutine and waits for it to exit.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	return nil
}

// withFallback computes through primary and falls back to the in-process
// path on any error.
func withFallback(ctx context.Context, primary Computer, in analysis.Input) analysis.Output {
	if primary == nil {
		return analysis.Analyze(in)
	}
	out, err := primary.Compute(ctx, in)
	if err != nil {
		log.Warnfr("scheduler-worker", log.DefaultInterval, "Scheduler: Worker unavailable (%v), computing in-process", err)
		return analysis.Analyze(in)
	}
	return out
}
