package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/conc/pool"

	"github.com/mwalkiewicz/mediary/internal/domain"
	"github.com/mwalkiewicz/mediary/internal/operation"
	"github.com/mwalkiewicz/mediary/internal/platform/logger"
	"github.com/mwalkiewicz/mediary/internal/platform/metrics"
	"github.com/mwalkiewicz/mediary/internal/store"
)

// ParallelProcessor claims batches of parallel operations and runs
// their units of work on a bounded goroutine pool. Unlike the serial
// processor it needs no lock: claiming is the only coordination point.
type ParallelProcessor struct {
	workerName        string
	ops               store.OperationStore
	transactor        store.Transactor
	registry          *operation.Registry
	supported         []domain.OperationName
	inputBatch        int
	poolSize          int
	minimalCompletion int
	logger            *slog.Logger
	metrics           *metrics.Metrics
}

// ParallelProcessorConfig holds the dependencies and tuning of a
// ParallelProcessor.
type ParallelProcessorConfig struct {
	WorkerName string
	Operations store.OperationStore
	Transactor store.Transactor
	Registry   *operation.Registry
	Supported  []domain.OperationName

	// InputBatch is the maximum number of operations claimed per cycle.
	InputBatch int
	// PoolSize bounds how many units of work run concurrently.
	PoolSize int
	// MinimalCompletion is the number of distinct workers that must
	// succeed before a fan-out operation is considered done.
	MinimalCompletion int

	Metrics *metrics.Metrics
}

// NewParallelProcessor creates a ParallelProcessor.
func NewParallelProcessor(cfg ParallelProcessorConfig, log *slog.Logger) *ParallelProcessor {
	inputBatch := cfg.InputBatch
	if inputBatch <= 0 {
		inputBatch = 1
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	minimalCompletion := cfg.MinimalCompletion
	if minimalCompletion <= 0 {
		minimalCompletion = 1
	}
	return &ParallelProcessor{
		workerName:        cfg.WorkerName,
		ops:               cfg.Operations,
		transactor:        cfg.Transactor,
		registry:          cfg.Registry,
		supported:         cfg.Supported,
		inputBatch:        inputBatch,
		poolSize:          poolSize,
		minimalCompletion: minimalCompletion,
		logger:            log.With("component", "parallel_processor", "worker", cfg.WorkerName),
		metrics:           cfg.Metrics,
	}
}

// preparedUnit pairs a claimed operation with its ready-to-run unit of
// work and the completion threshold that applies to it.
type preparedUnit struct {
	op        *domain.Operation
	unit      operation.UnitOfWork
	threshold int
}

// unitOutcome is what a finished unit reports back to the collector.
type unitOutcome struct {
	prepared preparedUnit
	err      error
}

// ProcessBatch runs one poll cycle: claim a batch, prepare every
// operation, run the prepared units on the pool, and record each
// operation's terminal state as its unit finishes. Results are
// collected in completion order so one slow unit never delays the
// recording of its faster siblings. Returns whether any operation was
// claimed.
func (p *ParallelProcessor) ProcessBatch(ctx context.Context) (bool, error) {
	batch, err := p.ops.ClaimParallelBatch(ctx, p.workerName, p.supported, p.inputBatch)
	if err != nil {
		return false, fmt.Errorf("failed to claim parallel batch: %w", err)
	}
	if len(batch) == 0 {
		return false, nil
	}

	prepared := make([]preparedUnit, 0, len(batch))
	for _, op := range batch {
		p.metrics.OperationClaimed("parallel")
		if pu, ok := p.prepare(ctx, op); ok {
			prepared = append(prepared, pu)
		}
	}

	results := make(chan unitOutcome, len(prepared))
	workers := pool.New().WithMaxGoroutines(p.poolSize)
	for _, pu := range prepared {
		pu := pu
		workers.Go(func() {
			results <- unitOutcome{prepared: pu, err: runUnit(ctx, pu.unit)}
		})
	}
	go func() {
		workers.Wait()
		close(results)
	}()

	for outcome := range results {
		p.finish(ctx, outcome)
	}
	return true, nil
}

// prepare resolves the implementation and builds the unit of work. Any
// error here is a preparation failure: the operation is marked failed
// immediately and never reaches the pool.
func (p *ParallelProcessor) prepare(ctx context.Context, op *domain.Operation) (preparedUnit, bool) {
	opLogger := p.logger.With("operation_id", op.ID, "operation", string(op.Name))

	impl, err := p.registry.ResolveParallel(op.Name)
	if err != nil {
		opLogger.Error("no implementation for operation", "error", err)
		p.markFailed(ctx, op, err)
		return preparedUnit{}, false
	}

	unit, err := impl.Prepare(ctx, op)
	if err != nil {
		opLogger.Error("failed to prepare operation", "error", err)
		p.markFailed(ctx, op, err)
		return preparedUnit{}, false
	}

	threshold := 1
	if f, ok := impl.(operation.FanOut); ok && f.FanOut() {
		threshold = p.minimalCompletion
	}
	return preparedUnit{op: op, unit: unit, threshold: threshold}, true
}

// runUnit executes a unit of work, converting a panic into an
// execution error so one bad unit cannot take down the pool.
func runUnit(ctx context.Context, unit operation.UnitOfWork) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit of work panicked: %v", r)
		}
	}()
	return unit(ctx)
}

// finish records one operation's outcome in its own transaction, so a
// crash mid-batch only loses not-yet-recorded outcomes.
func (p *ParallelProcessor) finish(ctx context.Context, outcome unitOutcome) {
	op := outcome.prepared.op
	opLogger := p.logger.With("operation_id", op.ID, "operation", string(op.Name))
	ctx = logger.WithLogger(ctx, opLogger)

	// Record the attempt whether it succeeded or not.
	op.RecordWorker(p.workerName)

	if outcome.err != nil {
		opLogger.Error("parallel operation failed", "error", outcome.err)
		p.markFailed(ctx, op, outcome.err)
		return
	}

	if len(op.ProcessedBy) < outcome.prepared.threshold {
		// Below the fan-out threshold: stay processing so another
		// worker picks it up. Only the attempt record is persisted.
		op.AppendLog("processed by " + p.workerName)
		if err := p.save(ctx, op); err != nil {
			opLogger.Error("failed to record fan-out attempt", "error", err)
		}
		opLogger.Info("parallel operation below completion threshold",
			"succeeded", len(op.ProcessedBy), "required", outcome.prepared.threshold)
		return
	}

	if err := op.TransitionTo(domain.OperationStatusDone); err != nil {
		opLogger.Error("operation in unexpected state at completion", "error", err)
		return
	}
	op.AppendLog("done by " + p.workerName)
	if err := p.save(ctx, op); err != nil {
		opLogger.Error("failed to record operation completion", "error", err)
		return
	}
	p.metrics.OperationDone("parallel")
	opLogger.Info("parallel operation done")
}

func (p *ParallelProcessor) markFailed(ctx context.Context, op *domain.Operation, cause error) {
	p.metrics.OperationFailed("parallel")

	if op.Status != domain.OperationStatusFailed {
		if err := op.TransitionTo(domain.OperationStatusFailed); err != nil {
			p.logger.Error("failed to transition operation to failed",
				"operation_id", op.ID, "error", err)
			return
		}
	}
	op.AppendLog(cause.Error())

	if err := p.save(ctx, op); err != nil {
		p.logger.Error("failed to record operation failure",
			"operation_id", op.ID, "error", err)
	}
}

func (p *ParallelProcessor) save(ctx context.Context, op *domain.Operation) error {
	return p.transactor.WithinTx(ctx, func(ctx context.Context, s *store.TxStores) error {
		return s.Operations.SaveOperation(ctx, op)
	})
}
