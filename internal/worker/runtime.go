package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
)

// Identity derives the worker's runtime name from its configured
// display name. The random suffix keeps two workers started from the
// same config distinguishable in operation rows.
func Identity(displayName string) string {
	return displayName + "-" + uuid.NewString()[:8]
}

// Runtime drives the two processors' polling loops until the context
// is cancelled. Either processor may be nil when disabled.
type Runtime struct {
	serial   *SerialProcessor
	parallel *ParallelProcessor

	shortDelay time.Duration
	longDelay  time.Duration

	logger *slog.Logger
}

// NewRuntime creates a Runtime over the given processors. shortDelay
// is slept after a productive poll cycle, longDelay after an idle or
// failed one.
func NewRuntime(
	serial *SerialProcessor,
	parallel *ParallelProcessor,
	shortDelay, longDelay time.Duration,
	log *slog.Logger,
) *Runtime {
	return &Runtime{
		serial:     serial,
		parallel:   parallel,
		shortDelay: shortDelay,
		longDelay:  longDelay,
		logger:     log.With("component", "runtime"),
	}
}

// Run blocks until ctx is cancelled. Poll-cycle errors are logged and
// retried after the long delay; they never stop the loops. On shutdown
// the serial lock is released so the next worker can take over without
// waiting for a lease to expire.
func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info("worker starting",
		"serial", r.serial != nil, "parallel", r.parallel != nil)

	var wg conc.WaitGroup
	if r.serial != nil {
		wg.Go(func() { r.runSerial(ctx) })
	}
	if r.parallel != nil {
		wg.Go(func() { r.runParallel(ctx) })
	}
	wg.Wait()

	r.logger.Info("worker stopped")
	return nil
}

// runSerial acquires the serial lock, retrying on the long delay while
// another worker holds it, then polls until cancelled.
func (r *Runtime) runSerial(ctx context.Context) {
	defer r.releaseSerialLock()

	for {
		held, err := r.serial.AcquireLock(ctx)
		if err != nil {
			r.logger.Error("serial lock attempt failed", "error", err)
		}
		if held {
			break
		}
		if !r.sleep(ctx, r.longDelay) {
			return
		}
	}

	for {
		didWork, err := r.serial.ProcessOne(ctx)
		if err != nil {
			r.logger.Error("serial poll cycle failed", "error", err)
		}
		delay := r.longDelay
		if didWork {
			delay = r.shortDelay
		}
		if !r.sleep(ctx, delay) {
			return
		}
	}
}

func (r *Runtime) runParallel(ctx context.Context) {
	for {
		didWork, err := r.parallel.ProcessBatch(ctx)
		if err != nil {
			r.logger.Error("parallel poll cycle failed", "error", err)
		}
		delay := r.longDelay
		if didWork {
			delay = r.shortDelay
		}
		if !r.sleep(ctx, delay) {
			return
		}
	}
}

// releaseSerialLock runs on shutdown, after the run context is already
// cancelled, so it uses its own short-lived context.
func (r *Runtime) releaseSerialLock() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.serial.ReleaseLock(ctx); err != nil {
		r.logger.Error("failed to release serial lock on shutdown", "error", err)
	}
}

// sleep waits for the delay or the context, whichever ends first, and
// reports whether the loop should continue.
func (r *Runtime) sleep(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
