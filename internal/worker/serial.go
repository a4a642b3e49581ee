// Package worker contains the two operation processors and the
// runtime that drives their polling loops.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mwalkiewicz/mediary/internal/domain"
	"github.com/mwalkiewicz/mediary/internal/operation"
	"github.com/mwalkiewicz/mediary/internal/platform/logger"
	"github.com/mwalkiewicz/mediary/internal/platform/metrics"
	"github.com/mwalkiewicz/mediary/internal/store"
)

// SerialProcessor claims and executes serial operations one at a time,
// in ascending id order, while holding the serial lock. The lock is
// taken once and held for the whole run, so no two serial operations
// ever execute concurrently anywhere in the fleet.
type SerialProcessor struct {
	workerName string
	lock       store.LockStore
	ops        store.OperationStore
	transactor store.Transactor
	registry   *operation.Registry
	supported  []domain.OperationName
	inputBatch int
	logger     *slog.Logger
	metrics    *metrics.Metrics

	lockHeld bool
}

// SerialProcessorConfig holds the dependencies and tuning of a
// SerialProcessor.
type SerialProcessorConfig struct {
	WorkerName string
	Lock       store.LockStore
	Operations store.OperationStore
	Transactor store.Transactor
	Registry   *operation.Registry
	Supported  []domain.OperationName

	// InputBatch bounds how many claim attempts one cycle makes before
	// reporting an idle cycle.
	InputBatch int

	Metrics *metrics.Metrics
}

// NewSerialProcessor creates a SerialProcessor. The lock is not yet
// held; call AcquireLock before processing.
func NewSerialProcessor(cfg SerialProcessorConfig, log *slog.Logger) *SerialProcessor {
	inputBatch := cfg.InputBatch
	if inputBatch <= 0 {
		inputBatch = 1
	}
	return &SerialProcessor{
		workerName: cfg.WorkerName,
		lock:       cfg.Lock,
		ops:        cfg.Operations,
		transactor: cfg.Transactor,
		registry:   cfg.Registry,
		supported:  cfg.Supported,
		inputBatch: inputBatch,
		logger:     log.With("component", "serial_processor", "worker", cfg.WorkerName),
		metrics:    cfg.Metrics,
	}
}

// AcquireLock makes a single attempt at the serial lock and reports
// whether this worker now holds it.
func (p *SerialProcessor) AcquireLock(ctx context.Context) (bool, error) {
	ok, err := p.lock.TakeSerialLock(ctx, p.workerName)
	if err != nil {
		return false, fmt.Errorf("failed to take serial lock: %w", err)
	}
	p.lockHeld = ok
	p.metrics.SetLockHeld(ok)
	if ok {
		p.logger.Info("serial lock acquired")
	}
	return ok, nil
}

// ReleaseLock releases the serial lock if this worker holds it.
func (p *SerialProcessor) ReleaseLock(ctx context.Context) error {
	if !p.lockHeld {
		return nil
	}
	released, err := p.lock.ReleaseSerialLock(ctx, p.workerName)
	if err != nil {
		return fmt.Errorf("failed to release serial lock: %w", err)
	}
	p.lockHeld = false
	p.metrics.SetLockHeld(false)
	if !released {
		// Somebody force-released and possibly re-took our lock.
		p.logger.Warn("serial lock was no longer ours at release")
	}
	return nil
}

// ProcessOne runs one poll cycle: select the oldest eligible
// operation, claim it, execute it, record its terminal state. Returns
// whether any operation was executed.
//
// Calling ProcessOne without holding the lock is a programmer error
// and panics.
func (p *SerialProcessor) ProcessOne(ctx context.Context) (bool, error) {
	if !p.lockHeld {
		panic(store.ErrLockNotHeld)
	}

	var skip []int64
	for len(skip) < p.inputBatch {
		op, err := p.ops.NextSerialOperation(ctx, p.supported, skip)
		if err != nil {
			return false, fmt.Errorf("failed to select next serial operation: %w", err)
		}
		if op == nil {
			return false, nil
		}

		claimed, err := p.ops.ClaimSerialOperation(ctx, op.ID, p.workerName)
		if err != nil {
			return false, fmt.Errorf("failed to claim operation %d: %w", op.ID, err)
		}
		if !claimed {
			// Lost the race, or the lock was force-released out from
			// under us. Not an error; try the next candidate.
			p.logger.Debug("serial claim lost", "operation_id", op.ID)
			skip = append(skip, op.ID)
			continue
		}

		p.metrics.OperationClaimed("serial")
		p.execute(ctx, op)
		return true, nil
	}
	return false, nil
}

// execute runs a claimed operation to its terminal state. Failures are
// contained here: they mark the operation failed and never propagate
// to the polling loop.
func (p *SerialProcessor) execute(ctx context.Context, op *domain.Operation) {
	opLogger := p.logger.With("operation_id", op.ID, "operation", string(op.Name))
	ctx = logger.WithLogger(ctx, opLogger)

	// Mirror the claim's status flip on the in-memory copy.
	if err := op.TransitionTo(domain.OperationStatusProcessing); err != nil {
		opLogger.Error("claimed operation in unexpected state", "error", err)
		return
	}
	op.WorkerName = p.workerName

	impl, err := p.registry.ResolveSerial(op.Name)
	if err != nil {
		opLogger.Error("no implementation for operation", "error", err)
		p.markFailed(ctx, op, err)
		return
	}

	opLogger.Info("processing serial operation")

	execErr := p.runImplementation(ctx, impl, op)
	if execErr != nil {
		opLogger.Error("serial operation failed", "error", execErr)
		p.markFailed(ctx, op, execErr)
		return
	}

	p.metrics.OperationDone("serial")
	opLogger.Info("serial operation done")
}

// runImplementation executes the implementation inside one storage
// transaction together with the operation's terminal update, so the
// operation's effects and its done record commit atomically. A panic
// in the implementation is converted into an execution error.
func (p *SerialProcessor) runImplementation(
	ctx context.Context,
	impl operation.Serial,
	op *domain.Operation,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()

	return p.transactor.WithinTx(ctx, func(ctx context.Context, s *store.TxStores) error {
		if err := impl.Execute(ctx, op, s); err != nil {
			return err
		}
		if err := op.TransitionTo(domain.OperationStatusDone); err != nil {
			return err
		}
		op.AppendLog("done by " + p.workerName)
		return s.Operations.SaveOperation(ctx, op)
	})
}

// markFailed records the terminal failed state in its own transaction,
// after the operation's side effects were rolled back.
func (p *SerialProcessor) markFailed(ctx context.Context, op *domain.Operation, cause error) {
	p.metrics.OperationFailed("serial")

	if err := op.TransitionTo(domain.OperationStatusFailed); err != nil {
		p.logger.Error("failed to transition operation to failed",
			"operation_id", op.ID, "error", err)
		return
	}
	op.AppendLog(cause.Error())

	saveErr := p.transactor.WithinTx(ctx, func(ctx context.Context, s *store.TxStores) error {
		return s.Operations.SaveOperation(ctx, op)
	})
	if saveErr != nil {
		p.logger.Error("failed to record operation failure",
			"operation_id", op.ID, "error", saveErr)
	}
}
