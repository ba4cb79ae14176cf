// Package worker executes one frontier query: claim, send, decode, record
// neighbors and mark processed.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bssid-geolocator/internal/frontier"
	"github.com/JakeFAU/bssid-geolocator/internal/progress"
	"github.com/JakeFAU/bssid-geolocator/internal/wloc"
)

// Store is the subset of frontier.Store a worker writes to.
type Store interface {
	Claim(ctx context.Context, bssid string, at time.Time) (bool, error)
	Release(ctx context.Context, bssid, reason string) (int, error)
	Upsert(ctx context.Context, observations []frontier.Observation) (frontier.UpsertResult, error)
	MarkProcessed(ctx context.Context, bssid string) error
}

// Codec builds request frames and parses responses.
type Codec interface {
	EncodeRequest(bssid string) ([]byte, error)
	DecodeResponse(body []byte) ([]wloc.Neighbor, error)
}

// Sender performs one exchange with the location service.
type Sender interface {
	Send(ctx context.Context, body []byte) ([]byte, error)
}

// Limiter paces requests.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// RetryPolicy decides whether and when to retry a failed exchange.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Config controls Worker behavior.
type Config struct {
	// MaxAttempts is the stored failure budget before a record is given up.
	MaxAttempts int
	// LimiterKey selects the rate limit bucket, normally the endpoint URL.
	LimiterKey string
}

// Result describes what happened to one record.
type Result struct {
	BSSID     string
	Outcome   progress.Outcome
	Neighbors int
	Upsert    frontier.UpsertResult
	Attempts  int
	Duration  time.Duration
	Err       error
}

// Worker runs the per-BSSID pipeline. It is safe for concurrent use when
// its collaborators are.
type Worker struct {
	store   Store
	codec   Codec
	sender  Sender
	limiter Limiter
	retry   RetryPolicy
	clock   Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(
	store Store,
	codec Codec,
	sender Sender,
	limiter Limiter,
	retry RetryPolicy,
	clock Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:   store,
		codec:   codec,
		sender:  sender,
		limiter: limiter,
		retry:   retry,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// Process queries rec and records its neighbors. ctx bounds only the wait
// for a rate limit token; once the record is claimed the pipeline runs to
// completion so a shutdown never leaves a half-written result.
func (w *Worker) Process(ctx context.Context, rec frontier.Record) Result {
	start := w.clock.Now()
	res := Result{BSSID: rec.BSSID}
	finish := func(outcome progress.Outcome, err error) Result {
		res.Outcome = outcome
		res.Err = err
		res.Duration = w.clock.Now().Sub(start)
		return res
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, w.cfg.LimiterKey); err != nil {
			return finish(progress.OutcomeSkipped, err)
		}
	}

	work := context.WithoutCancel(ctx)
	claimed, err := w.store.Claim(work, rec.BSSID, w.clock.Now())
	if err != nil {
		w.logger.Error("claim failed", zap.String("bssid", rec.BSSID), zap.Error(err))
		return finish(progress.OutcomeStoreError, fmt.Errorf("claim: %w", err))
	}
	if !claimed {
		w.logger.Debug("record owned elsewhere", zap.String("bssid", rec.BSSID))
		return finish(progress.OutcomeSkipped, nil)
	}

	frame, err := w.codec.EncodeRequest(rec.BSSID)
	if err != nil {
		w.logger.Warn("bssid cannot be encoded", zap.String("bssid", rec.BSSID), zap.Error(err))
		return finish(progress.OutcomeInvalid, w.markProcessed(work, rec.BSSID, err))
	}

	body, err := w.send(ctx, work, frame)
	if err != nil {
		return w.handleNetworkFailure(work, &res, finish, err)
	}

	neighbors, err := w.codec.DecodeResponse(body)
	if err != nil {
		w.logger.Warn("undecodable response", zap.String("bssid", rec.BSSID), zap.Error(err))
		return finish(progress.OutcomeDecodeError, w.markProcessed(work, rec.BSSID, err))
	}
	res.Neighbors = len(neighbors)

	if len(neighbors) > 0 {
		now := w.clock.Now()
		obs := make([]frontier.Observation, 0, len(neighbors))
		for _, n := range neighbors {
			obs = append(obs, frontier.Observation{
				BSSID:      n.BSSID,
				Lat:        n.Lat,
				Lon:        n.Lon,
				Accuracy:   n.Accuracy,
				Channel:    n.Channel,
				ObservedAt: now,
				Depth:      rec.Depth + 1,
			})
		}
		up, err := w.store.Upsert(work, obs)
		res.Upsert = up
		if err != nil {
			w.logger.Error("neighbor upsert failed", zap.String("bssid", rec.BSSID), zap.Error(err))
		}
		w.logger.Info("neighbors recorded",
			zap.String("bssid", rec.BSSID),
			zap.Int("inserted", up.Inserted),
			zap.Int("updated", up.Updated),
			zap.Int("failed", up.Failed),
		)
	}

	outcome := progress.OutcomeEmpty
	if res.Neighbors > 0 {
		outcome = progress.OutcomeLocated
	}
	return finish(outcome, w.markProcessed(work, rec.BSSID, nil))
}

// send posts frame, retrying per the policy. Every retry waits on the
// limiter again. Retries stop early once ctx is cancelled.
func (w *Worker) send(ctx, work context.Context, frame []byte) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		body, err := w.sender.Send(work, frame)
		if err == nil {
			return body, nil
		}
		if w.retry == nil || !w.retry.ShouldRetry(err, attempt) || ctx.Err() != nil {
			return nil, err
		}
		timer := time.NewTimer(w.retry.Backoff(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		}
		// Retries draw from the same bucket as first attempts.
		if w.limiter != nil {
			if werr := w.limiter.Wait(ctx, w.cfg.LimiterKey); werr != nil {
				return nil, err
			}
		}
	}
}

func (w *Worker) handleNetworkFailure(
	ctx context.Context,
	res *Result,
	finish func(progress.Outcome, error) Result,
	sendErr error,
) Result {
	attempts, err := w.store.Release(ctx, res.BSSID, sendErr.Error())
	if err != nil {
		w.logger.Error("release failed", zap.String("bssid", res.BSSID), zap.Error(err))
		return finish(progress.OutcomeStoreError, errors.Join(sendErr, fmt.Errorf("release: %w", err)))
	}
	res.Attempts = attempts
	if attempts >= w.cfg.MaxAttempts {
		w.logger.Warn("giving up on bssid",
			zap.String("bssid", res.BSSID),
			zap.Int("attempts", attempts),
			zap.Error(sendErr),
		)
		return finish(progress.OutcomeGaveUp, errors.Join(sendErr, w.markProcessed(ctx, res.BSSID, nil)))
	}
	w.logger.Warn("query failed, will retry later",
		zap.String("bssid", res.BSSID),
		zap.Int("attempts", attempts),
		zap.Error(sendErr),
	)
	return finish(progress.OutcomeRetry, sendErr)
}

// markProcessed flags bssid done. cause is returned alongside any store
// error so the caller sees both.
func (w *Worker) markProcessed(ctx context.Context, bssid string, cause error) error {
	if err := w.store.MarkProcessed(ctx, bssid); err != nil {
		w.logger.Error("mark processed failed", zap.String("bssid", bssid), zap.Error(err))
		return errors.Join(cause, fmt.Errorf("mark processed: %w", err))
	}
	return cause
}
