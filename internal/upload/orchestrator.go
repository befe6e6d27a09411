// Package upload pushes an ordered sequence of records into a collection in
// paced batches, retrying failures and reporting exactly which records did
// not make it.
package upload

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jun/gophstore/internal/adapter"
	"github.com/jun/gophstore/internal/auth"
	"github.com/jun/gophstore/internal/codec"
	"github.com/jun/gophstore/internal/lease"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const maxBackoff = 30 * time.Second

var (
	// ErrReauthenticationRequired aborts a run whose credential can no
	// longer be refreshed.
	ErrReauthenticationRequired = errors.New("upload aborted: re-authentication required")

	// ErrRunInProgress is returned when another run holds the collection's
	// lease.
	ErrRunInProgress = errors.New("another upload run holds this collection")
)

// Refresher renews the credential after the store rejects a token.
type Refresher interface {
	Refresh(ctx context.Context) (auth.Credential, error)
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithRefresher(r Refresher) Option {
	return func(o *Orchestrator) { o.refresher = r }
}

func WithSleeper(s Sleeper) Option {
	return func(o *Orchestrator) { o.sleep = s }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithLease makes each run hold a lease on key for its duration. The lease
// is renewed after every batch and whenever half of lease.DefaultTTL has
// passed since the last renewal.
func WithLease(l lease.Locker, key string) Option {
	return func(o *Orchestrator) {
		o.locker = l
		o.leaseKey = key
	}
}

// Orchestrator uploads records into one collection.
type Orchestrator struct {
	col        adapter.Collection
	refresher  Refresher
	sleep      Sleeper
	now        func() time.Time
	log        zerolog.Logger
	locker     lease.Locker
	leaseKey   string
	renewEvery time.Duration
}

// New returns an Orchestrator writing to col.
func New(col adapter.Collection, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		col:        col,
		sleep:      sleepCtx,
		now:        time.Now,
		log:        zerolog.Nop(),
		renewEvery: lease.DefaultTTL / 2,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff returns the wait after the n-th consecutive failure (n >= 1).
func backoff(base time.Duration, n int) time.Duration {
	if base <= 0 || n < 1 {
		return 0
	}
	if n > 16 || base > maxBackoff>>(n-1) {
		return maxBackoff
	}
	return base << (n - 1)
}

// Run uploads records with cfg. Per-item failures never abort the run; they
// end up in Stats.Failures. The error is non-nil only for an invalid config,
// a held lease, a credential that needs re-authentication, or cancellation,
// and in the last two cases the partial Stats are still returned.
func (o *Orchestrator) Run(ctx context.Context, records []codec.Record, cfg Config) (Stats, error) {
	if err := cfg.Validate(); err != nil {
		return Stats{}, err
	}

	r := &run{
		o:     o,
		cfg:   cfg,
		stats: Stats{RunID: uuid.NewString(), Total: len(records)},
	}
	r.log = o.log.With().Str("run_id", r.stats.RunID).Str("collection", o.col.Path()).Logger()

	if len(records) == 0 {
		return r.stats, nil
	}

	start := o.now()
	if o.locker != nil {
		if _, err := o.locker.Acquire(ctx, o.leaseKey, r.stats.RunID); err != nil {
			if errors.Is(err, lease.ErrHeld) {
				return r.stats, fmt.Errorf("%w: %s", ErrRunInProgress, o.leaseKey)
			}
			return r.stats, fmt.Errorf("acquire lease: %w", err)
		}
		r.lastRenew = o.now()
		defer func() {
			if err := o.locker.Release(context.WithoutCancel(ctx), o.leaseKey, r.stats.RunID); err != nil {
				r.log.Warn().Err(err).Msg("failed to release lease")
			}
		}()
	}

	batches := Partition(records, cfg.BatchSize)
	r.stats.Batches = len(batches)
	r.log.Info().
		Int("total", len(records)).
		Int("batches", len(batches)).
		Int("batch_size", cfg.BatchSize).
		Int("workers", cfg.Workers).
		Msg("upload started")

	var err error
	if cfg.Workers > 1 {
		err = r.mainPassParallel(ctx, batches)
	} else {
		err = r.mainPass(ctx, batches)
	}
	sortLedger(r.stats.Failures)
	if err == nil {
		err = r.reconcile(ctx)
	}

	r.stats.Duration = o.now().Sub(start)
	if ctx.Err() != nil {
		r.stats.Cancelled = true
		err = ctx.Err()
	}

	r.log.Info().
		Int("processed", r.stats.Processed).
		Int("successful", r.stats.Successful).
		Int("failed", r.stats.Failed).
		Int("retried", r.stats.Retried).
		Float64("duration_s", r.stats.DurationSeconds()).
		Float64("success_rate", r.stats.SuccessRate()).
		Bool("cancelled", r.stats.Cancelled).
		Msg("upload finished")
	return r.stats, err
}

func sortLedger(items []FailedItem) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Index < items[j].Index })
}

type outcome int

const (
	succeeded outcome = iota
	exhausted
	interrupted
	aborted
)

type item struct {
	index    int
	rec      codec.Record
	attempts int
	lastErr  error
}

type run struct {
	o   *Orchestrator
	cfg Config
	log zerolog.Logger

	mu        sync.Mutex
	stats     Stats
	lastRenew time.Time
}

func (r *run) mainPass(ctx context.Context, batches []Batch) error {
	for i, b := range batches {
		if i > 0 {
			if err := r.o.sleep(ctx, r.cfg.InterBatchDelay); err != nil {
				return err
			}
		}
		if err := r.runBatch(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// mainPassParallel runs up to cfg.Workers batches at once. Items within a
// batch stay sequential, so in-flight writes never exceed cfg.Workers.
func (r *run) mainPassParallel(ctx context.Context, batches []Batch) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	for i, b := range batches {
		if i > 0 {
			if err := r.o.sleep(gctx, r.cfg.InterBatchDelay); err != nil {
				break
			}
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return r.runBatch(gctx, b)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *run) runBatch(ctx context.Context, b Batch) error {
	log := r.log.With().Int("batch", b.Index).Logger()
	log.Debug().Int("size", len(b.Items)).Msg("batch started")

	for i, rec := range b.Items {
		if i > 0 {
			if err := r.o.sleep(ctx, r.cfg.InterItemDelay); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		it := &item{index: b.Start + i, rec: rec}
		out, err := r.drive(ctx, it, r.cfg.mainAttempts(), false)
		r.book(it, out)
		switch out {
		case interrupted:
			return err
		case aborted:
			return fmt.Errorf("%w: %w", ErrReauthenticationRequired, err)
		}
		r.heartbeat(ctx, false)
	}

	r.heartbeat(ctx, true)
	log.Debug().Msg("batch finished")
	return nil
}

// heartbeat renews the lease when force is set or renewEvery has passed
// since the last renewal.
func (r *run) heartbeat(ctx context.Context, force bool) {
	if r.o.locker == nil || ctx.Err() != nil {
		return
	}
	now := r.o.now()
	r.mu.Lock()
	due := force || now.Sub(r.lastRenew) >= r.o.renewEvery
	if due {
		r.lastRenew = now
	}
	r.mu.Unlock()
	if !due {
		return
	}
	if _, err := r.o.locker.Heartbeat(ctx, r.o.leaseKey, r.stats.RunID); err != nil {
		r.log.Warn().Err(err).Msg("lease heartbeat failed")
	}
}

// drive attempts it until it succeeds or its attempt counter reaches
// budget. The counter carries over between passes. Backoff precedes every
// retry except the first attempt of a resumed pass, which is already paced.
func (r *run) drive(ctx context.Context, it *item, budget int, resumed bool) (outcome, error) {
	first := true
	for it.attempts < budget {
		if it.attempts > 0 && !(first && resumed) {
			if err := r.o.sleep(ctx, backoff(r.cfg.RetryBackoff, it.attempts)); err != nil {
				return interrupted, err
			}
		}
		first = false
		if err := ctx.Err(); err != nil {
			return interrupted, err
		}

		if it.attempts > 0 {
			r.mu.Lock()
			r.stats.Retried++
			r.mu.Unlock()
		}
		it.attempts++

		_, err := r.o.col.Add(ctx, it.rec)
		if err == nil {
			return succeeded, nil
		}
		it.lastErr = err

		if ctx.Err() != nil {
			return interrupted, ctx.Err()
		}
		if auth.IsTerminal(err) {
			return aborted, err
		}
		if adapter.IsAuth(err) && r.o.refresher != nil {
			if _, rerr := r.o.refresher.Refresh(ctx); rerr != nil {
				if auth.IsTerminal(rerr) {
					it.lastErr = rerr
					return aborted, rerr
				}
				r.log.Warn().Err(rerr).Int("index", it.index).Msg("credential refresh failed")
			}
		}
		r.logFailure(it, budget)
	}
	return exhausted, it.lastErr
}

func (r *run) logFailure(it *item, budget int) {
	var ev *zerolog.Event
	switch classify(it.lastErr) {
	case KindPermanent:
		ev = r.log.Warn().Str("kind", string(KindPermanent))
	case KindAuth:
		ev = r.log.Warn().Str("kind", string(KindAuth))
	default:
		ev = r.log.Info().Str("kind", string(KindTransient))
	}
	ev.Err(it.lastErr).
		Int("index", it.index).
		Int("attempt", it.attempts).
		Int("budget", budget).
		Msg("write failed")
}

func classify(err error) FailureKind {
	switch {
	case adapter.IsAuth(err) || auth.IsTerminal(err):
		return KindAuth
	case adapter.IsPermanent(err):
		return KindPermanent
	default:
		return KindTransient
	}
}

// book records the final state of a main-pass item. An item interrupted
// before its first attempt was never processed and is not counted.
func (r *run) book(it *item, out outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch out {
	case succeeded:
		r.stats.Successful++
		r.stats.Processed++
		return
	case interrupted:
		if it.attempts == 0 {
			return
		}
	}

	kind := classify(it.lastErr)
	if out == interrupted {
		kind = KindCancelled
	}
	r.stats.Failed++
	r.stats.Processed++
	r.stats.Failures = append(r.stats.Failures, FailedItem{
		Index:    it.index,
		Record:   it.rec,
		Err:      it.lastErr,
		Attempts: it.attempts,
		Kind:     kind,
	})
}

// reconcile re-attempts every ledger entry with the attempts held back from
// the main pass. Successes leave the ledger and move to Successful.
func (r *run) reconcile(ctx context.Context) error {
	if r.cfg.ReconcileAttempts == 0 || len(r.stats.Failures) == 0 {
		return nil
	}

	pending := r.stats.Failures
	r.stats.Failures = nil
	r.log.Info().Int("items", len(pending)).Msg("reconciliation started")

	for i, f := range pending {
		if err := r.o.sleep(ctx, r.cfg.reconcileDelay()); err != nil {
			r.stats.Failures = append(r.stats.Failures, pending[i:]...)
			return err
		}

		it := &item{index: f.Index, rec: f.Record, attempts: f.Attempts, lastErr: f.Err}
		out, err := r.drive(ctx, it, r.cfg.MaxRetries, true)
		r.heartbeat(ctx, false)
		if out == succeeded {
			r.stats.Failed--
			r.stats.Successful++
			r.log.Info().Int("index", f.Index).Int("attempts", it.attempts).Msg("recovered in reconciliation")
			continue
		}

		f.Err = it.lastErr
		f.Attempts = it.attempts
		if out != interrupted {
			f.Kind = classify(it.lastErr)
		}
		r.stats.Failures = append(r.stats.Failures, f)

		switch out {
		case interrupted:
			r.stats.Failures = append(r.stats.Failures, pending[i+1:]...)
			return err
		case aborted:
			r.stats.Failures = append(r.stats.Failures, pending[i+1:]...)
			return fmt.Errorf("%w: %w", ErrReauthenticationRequired, err)
		}
	}
	return nil
}
