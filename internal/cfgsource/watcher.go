// Watcher polls SSM for matcher rule changes and hot-swaps the active
// classifier in the routing.Store when a new document is detected.
package cfgsource

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Okazakee/okazakee-ws-sub000/internal/cryptoutil"
	"github.com/Okazakee/okazakee-ws-sub000/internal/log"
	"github.com/Okazakee/okazakee-ws-sub000/internal/routing"
)

const (
	// DefaultPollInterval is how often the watcher checks SSM for a new document.
	DefaultPollInterval = 60 * time.Second

	// maxBackoff caps exponential backoff on consecutive SSM errors.
	maxBackoff = 5 * time.Minute
)

// pollResult describes what happened during a single poll cycle.
type pollResult int

const (
	pollNoChange   pollResult = iota // document digest matches current - nothing to do
	pollSwapped                      // new document detected, classifier rebuilt and swapped
	pollFetchError                   // fetch or parse failed - caller should back off
)

// RulesFetcher is the interface the Watcher needs from a Loader.
// Extracted to decouple the Watcher from the concrete *Loader type.
type RulesFetcher interface {
	LoadClassifier(ctx context.Context) (*routing.Classifier, string, error)
}

// WatcherOptions configures the matcher rules watcher.
type WatcherOptions struct {
	Logger       log.Logger
	Loader       RulesFetcher
	Store        *routing.Store
	PollInterval time.Duration

	// SeedDigest is the digest of the document already loaded at
	// startup, so the first poll does not re-swap identical rules.
	SeedDigest string

	// OnSwap is called after a successful swap, with the new digest.
	// Called synchronously on the poll goroutine.
	OnSwap func(digest string)

	// OnError is called once per failed poll cycle. Used for metrics.
	OnError func(kind string)

	// StaleThreshold is how long since the last successful SSM poll
	// before the watcher logs a staleness warning. Zero defaults to 30
	// minutes.
	StaleThreshold time.Duration
}

// Watcher polls for rule changes and hot-swaps classifiers into the store.
type Watcher struct {
	loader   RulesFetcher
	store    *routing.Store
	logger   log.Logger
	interval time.Duration
	onSwap   func(digest string)
	onError  func(kind string)

	// digest tracking for change detection
	currentDigest string

	// backoff state
	consecutiveErrs int

	// staleness tracking
	staleThreshold time.Duration
	lastSuccessAt  time.Time
	staleLogged    bool

	pollCount int64
	swapCount int64
}

// NewWatcher creates a rules watcher. Call Run to start the poll loop.
func NewWatcher(opts *WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	staleThreshold := opts.StaleThreshold
	if staleThreshold <= 0 {
		staleThreshold = 30 * time.Minute
	}

	return &Watcher{
		loader:         opts.Loader,
		store:          opts.Store,
		logger:         opts.Logger,
		interval:       interval,
		onSwap:         opts.OnSwap,
		onError:        opts.OnError,
		currentDigest:  opts.SeedDigest,
		staleThreshold: staleThreshold,
		lastSuccessAt:  time.Now(),
	}
}

// Run starts the poll loop. Blocks until ctx is cancelled.
// Intended to be launched as: go watcher.Run(ctx)
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "matcher rules watcher starting",
		"poll_interval", w.interval.String(),
		"current_digest", truncDigest(w.currentDigest),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "matcher rules watcher stopping",
				"reason", ctx.Err(),
				"polls", w.pollCount,
				"swaps", w.swapCount,
			)
			return ctx.Err()
		case <-ticker.C:
			result := w.checkOnce(ctx)

			if result == pollFetchError {
				w.consecutiveErrs++
				backoff := w.backoffDuration()
				w.logger.Warn(ctx, "matcher rules watcher: backing off",
					"consecutive_errors", w.consecutiveErrs,
					"next_poll_in", backoff.String(),
				)
				ticker.Reset(backoff)
			} else if w.consecutiveErrs > 0 {
				// recovered from error streak - resume normal cadence
				w.logger.Info(ctx, "matcher rules watcher: recovered, resuming normal interval",
					"had_consecutive_errors", w.consecutiveErrs,
				)
				w.consecutiveErrs = 0
				ticker.Reset(w.interval)
			}

			// staleness detection: emit structured error once on transition into stale state
			if result != pollFetchError {
				if w.staleLogged {
					w.logger.Info(ctx, "matcher rules watcher: staleness recovered")
					w.staleLogged = false
				}
			} else if time.Since(w.lastSuccessAt) > w.staleThreshold {
				if !w.staleLogged {
					w.logger.Error(ctx, fmt.Errorf("last successful SSM poll was %s ago", time.Since(w.lastSuccessAt).Truncate(time.Second)),
						"matcher rules watcher: rules are stale, unable to verify freshness",
					)
					w.staleLogged = true
				}
			}
		}
	}
}

// checkOnce performs a single poll-compare-swap cycle.
// Returns what happened so Run can adjust timing.
func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.pollCount++

	c, digest, err := w.loader.LoadClassifier(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "matcher rules watcher: poll failed")
		if w.onError != nil {
			w.onError("fetch")
		}
		return pollFetchError
	}

	w.lastSuccessAt = time.Now()

	// no change - most common path
	if cryptoutil.HashEqual(digest, w.currentDigest) {
		return pollNoChange
	}

	w.logger.Info(ctx, "matcher rules watcher: new rules detected",
		"old_digest", truncDigest(w.currentDigest),
		"new_digest", truncDigest(digest),
	)

	w.store.Swap(c)
	w.currentDigest = digest
	w.swapCount++

	if w.onSwap != nil {
		w.onSwap(digest)
	}

	w.logger.Info(ctx, "matcher rules watcher: swapped classifier",
		"digest", truncDigest(digest),
		"swaps", w.swapCount,
	)
	return pollSwapped
}

// backoffDuration computes exponential backoff from the consecutive
// error count, capped at maxBackoff.
func (w *Watcher) backoffDuration() time.Duration {
	mult := math.Pow(2, float64(w.consecutiveErrs-1))
	d := time.Duration(float64(w.interval) * mult)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
