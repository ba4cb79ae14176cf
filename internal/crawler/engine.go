package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/bssid-geolocator/internal/bssid"
	"github.com/JakeFAU/bssid-geolocator/internal/frontier"
	"github.com/JakeFAU/bssid-geolocator/internal/metrics"
	"github.com/JakeFAU/bssid-geolocator/internal/progress"
	"github.com/JakeFAU/bssid-geolocator/internal/worker"
)

// maxStalledBatches is how many consecutive snapshots may pass without a
// single record moving before the run is abandoned.
const maxStalledBatches = 3

// Engine drives one crawl run over a frontier.
type Engine struct {
	cfg     Config
	store   Frontier
	proc    Processor
	ids     IDGenerator
	clock   Clock
	emitter progress.Emitter
	logger  *zap.Logger

	mu        sync.RWMutex
	state     State
	runID     uuid.UUID
	startedAt time.Time

	// reserved counts cap budget held by processed and in-flight records.
	reserved  atomic.Int64
	inFlight  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	neighbors atomic.Int64
	inserted  atomic.Int64
	updated   atomic.Int64
}

// New constructs an Engine. A nil emitter discards progress events and a
// nil logger is replaced by a no-op logger.
func New(
	cfg Config,
	store Frontier,
	proc Processor,
	ids IDGenerator,
	clock Clock,
	emitter progress.Emitter,
	logger *zap.Logger,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || proc == nil || ids == nil || clock == nil {
		return nil, errors.New("crawler: store, processor, id generator and clock are required")
	}
	if emitter == nil {
		emitter = progress.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		store:   store,
		proc:    proc,
		ids:     ids,
		clock:   clock,
		emitter: emitter,
		logger:  logger,
		state:   StateIdle,
	}, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Snapshot returns the live counters of the run.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	snap := Snapshot{State: e.state, Cap: e.cfg.MaxBSSIDs}
	if e.state != StateIdle {
		id, started := e.runID, e.startedAt
		snap.RunID = &id
		snap.StartedAt = &started
	}
	e.mu.RUnlock()

	snap.InFlight = e.inFlight.Load()
	snap.Processed = e.processed.Load()
	snap.Failed = e.failed.Load()
	snap.Neighbors = e.neighbors.Load()
	snap.Inserted = e.inserted.Load()
	snap.Updated = e.updated.Load()
	return snap
}

// Run seeds the frontier with seeds and drains it until it is empty, the
// cap is reached or ctx is cancelled. Cancellation is not an error: the
// returned summary reports StateStopped.
func (e *Engine) Run(ctx context.Context, seeds []string) (Summary, error) {
	runID, err := e.ids.NewRunID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	start := e.clock.Now()

	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return Summary{}, ErrAlreadyStarted
	}
	e.state, e.runID, e.startedAt = StateSeeding, runID, start
	e.mu.Unlock()

	logger := e.logger.With(zap.String("run_id", runID.String()))
	logger.Info("crawl starting",
		zap.Strings("seeds", seeds),
		zap.Int64("cap", e.cfg.MaxBSSIDs),
		zap.Int("concurrency", e.cfg.Concurrency),
		zap.Int("max_depth", e.cfg.MaxDepth),
	)
	e.emit(progress.Event{Stage: progress.StageRunStart})

	state, runErr := e.run(ctx, logger, seeds)
	e.setState(state)

	summary := e.summary(state)
	summary.Duration = e.clock.Now().Sub(start)
	note := string(state)
	if runErr != nil {
		note = runErr.Error()
	}
	e.emit(progress.Event{Stage: progress.StageRunDone, Dur: summary.Duration, Note: note})

	fields := []zap.Field{
		zap.String("state", string(state)),
		zap.Int64("processed", summary.Processed),
		zap.Int64("failed", summary.Failed),
		zap.Int64("neighbors", summary.Neighbors),
		zap.Int64("inserted", summary.Inserted),
		zap.Int64("updated", summary.Updated),
		zap.Duration("duration", summary.Duration),
	}
	if runErr != nil {
		logger.Error("crawl failed", append(fields, zap.Error(runErr))...)
		return summary, runErr
	}
	logger.Info("crawl finished", fields...)
	return summary, nil
}

func (e *Engine) run(ctx context.Context, logger *zap.Logger, seeds []string) (State, error) {
	if err := e.seed(ctx, logger, seeds); err != nil {
		if ctx.Err() != nil {
			return StateStopped, nil
		}
		return StateFailed, err
	}
	e.setState(StateDraining)

	stalled := 0
	for {
		if ctx.Err() != nil {
			return StateStopped, nil
		}
		if e.reserved.Load() >= e.cfg.MaxBSSIDs {
			return StateCapped, nil
		}

		batch, err := e.store.NextBatch(ctx, frontier.BatchOptions{
			Limit:    e.cfg.BatchSize,
			MaxDepth: e.cfg.MaxDepth,
		})
		if err != nil {
			if ctx.Err() != nil {
				return StateStopped, nil
			}
			return StateFailed, fmt.Errorf("read frontier: %w", err)
		}
		e.reportFrontier(ctx, logger, len(batch))
		if len(batch) == 0 {
			return StateCompleted, nil
		}

		if e.drain(ctx, logger, batch) == 0 {
			stalled++
			if stalled >= maxStalledBatches {
				return StateFailed, fmt.Errorf("%w after %d snapshots", ErrStalled, stalled)
			}
			continue
		}
		stalled = 0
	}
}

func (e *Engine) seed(ctx context.Context, logger *zap.Logger, seeds []string) error {
	if err := e.store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	released, err := e.store.ReleaseStaleClaims(ctx)
	if err != nil {
		return fmt.Errorf("release stale claims: %w", err)
	}
	if released > 0 {
		logger.Info("released stale claims", zap.Int64("count", released))
	}
	for _, raw := range seeds {
		canonical, err := bssid.Canonicalize(raw)
		if err != nil {
			return fmt.Errorf("seed %q: %w", raw, err)
		}
		inserted, err := e.store.Seed(ctx, canonical)
		if err != nil {
			return fmt.Errorf("seed %s: %w", canonical, err)
		}
		logger.Info("seeded frontier", zap.String("bssid", canonical), zap.Bool("inserted", inserted))
	}
	return nil
}

// drain dispatches batch to the worker pool and waits for it. It returns
// the number of records whose outcome moved the frontier forward.
func (e *Engine) drain(ctx context.Context, logger *zap.Logger, batch []frontier.Record) int64 {
	var progressed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Concurrency)
	for _, rec := range batch {
		rec := rec
		if ctx.Err() != nil {
			break
		}
		if !e.reserve() {
			break
		}
		g.Go(func() error {
			if e.handle(ctx, logger, rec) {
				progressed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return progressed.Load()
}

// reserve takes one unit of the cap budget, failing once it is spent.
func (e *Engine) reserve() bool {
	for {
		cur := e.reserved.Load()
		if cur >= e.cfg.MaxBSSIDs {
			return false
		}
		if e.reserved.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (e *Engine) handle(ctx context.Context, logger *zap.Logger, rec frontier.Record) bool {
	e.inFlight.Add(1)
	metrics.IncActiveWorkers()
	res := e.proc.Process(ctx, rec)
	metrics.DecActiveWorkers()
	e.inFlight.Add(-1)

	if !res.Outcome.Processed() {
		e.reserved.Add(-1)
	}
	switch res.Outcome {
	case progress.OutcomeSkipped:
		return false
	case progress.OutcomeLocated, progress.OutcomeEmpty:
	default:
		e.failed.Add(1)
	}

	e.neighbors.Add(int64(res.Neighbors))
	e.inserted.Add(int64(res.Upsert.Inserted))
	e.updated.Add(int64(res.Upsert.Updated))

	var processed int64
	if res.Outcome.Processed() {
		processed = e.processed.Add(1)
	} else {
		processed = e.processed.Load()
	}

	fields := []zap.Field{
		zap.String("bssid", res.BSSID),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("depth", rec.Depth),
		zap.Int("neighbors", res.Neighbors),
		zap.Int64("processed", processed),
		zap.Int64("cap", e.cfg.MaxBSSIDs),
		zap.Duration("duration", res.Duration),
	}
	if res.Err != nil {
		fields = append(fields, zap.Error(res.Err))
	}
	logger.Info("bssid queried", fields...)

	evt := progress.Event{
		Stage:     progress.StageQueryDone,
		BSSID:     res.BSSID,
		Outcome:   res.Outcome,
		Neighbors: res.Neighbors,
		Inserted:  res.Upsert.Inserted,
		Updated:   res.Upsert.Updated,
		Failed:    res.Upsert.Failed,
		Attempts:  res.Attempts,
		Dur:       res.Duration,
	}
	if res.Err != nil {
		evt.Stage = progress.StageQueryFailed
		evt.Note = frontier.Truncate(res.Err.Error(), 256)
	}
	e.emit(evt)
	return res.Outcome != progress.OutcomeStoreError
}

func (e *Engine) reportFrontier(ctx context.Context, logger *zap.Logger, batch int) {
	stats, err := e.store.Stats(ctx)
	if err != nil {
		logger.Warn("frontier stats unavailable", zap.Error(err))
		return
	}
	metrics.SetFrontier(metrics.FrontierCounts{
		Unprocessed: stats.Unprocessed,
		Claimed:     stats.Claimed,
		Processed:   stats.Processed,
		Located:     stats.Located,
		MaxDepth:    stats.MaxDepth,
	})
	logger.Info("frontier snapshot",
		zap.Int("batch", batch),
		zap.Int64("total", stats.Total),
		zap.Int64("unprocessed", stats.Unprocessed),
		zap.Int64("claimed", stats.Claimed),
		zap.Int64("processed", stats.Processed),
		zap.Int64("located", stats.Located),
		zap.Int("max_depth", stats.MaxDepth),
	)
}

func (e *Engine) summary(state State) Summary {
	e.mu.RLock()
	runID := e.runID
	e.mu.RUnlock()
	return Summary{
		State:     state,
		RunID:     runID,
		Processed: e.processed.Load(),
		Failed:    e.failed.Load(),
		Neighbors: e.neighbors.Load(),
		Inserted:  e.inserted.Load(),
		Updated:   e.updated.Load(),
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) emit(evt progress.Event) {
	e.mu.RLock()
	evt.RunID = progress.UUIDToBytes(e.runID)
	e.mu.RUnlock()
	evt.TS = e.clock.Now()
	e.emitter.Emit(evt)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, rec frontier.Record) worker.Result

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, rec frontier.Record) worker.Result {
	return f(ctx, rec)
}
