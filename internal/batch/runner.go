package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/certsentry/certsentry/internal/cert"
	"github.com/certsentry/certsentry/internal/probe"
	"github.com/certsentry/certsentry/internal/target"
)

const (
	// DefaultConcurrency is the admission-gate size when none is configured.
	DefaultConcurrency = 5

	// retryPause is the wait between probe attempts for retryable outcomes.
	retryPause = time.Second
)

// Prober matches probe.Probe and is injectable for tests.
type Prober func(ctx context.Context, origin string, timeout time.Duration) probe.Result

// Options configure a Runner. Zero values fall back to defaults; Retries
// defaults to zero, so no retries unless the caller opts in.
type Options struct {
	// Concurrency is the maximum number of probes in flight at once.
	Concurrency int

	// Timeout bounds each probe attempt's connect+handshake.
	Timeout time.Duration

	// Retries is the number of extra probe attempts made for timeout and
	// connection-refused outcomes, each with the same per-attempt timeout.
	Retries int

	// ExpiringHorizon is passed through to the classifier.
	ExpiringHorizon time.Duration

	// ProbeFn overrides the network probe. Nil means probe.Probe.
	ProbeFn Prober
}

// Runner executes batches of probes with bounded concurrency.
type Runner struct {
	opts    Options
	probeFn Prober
	now     func() time.Time // injectable for deterministic tests
}

// New creates a Runner from opts.
func New(opts Options) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = probe.DefaultTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	probeFn := opts.ProbeFn
	if probeFn == nil {
		probeFn = probe.Probe
	}
	return &Runner{opts: opts, probeFn: probeFn, now: time.Now}
}

// Run probes every target and returns one classified record per target, in
// input order. At no point are more than Concurrency probes in flight.
//
// Cancelling ctx stops admitting new probes; in-flight probes finish or time
// out naturally. Targets never probed come back with status unknown and a
// run-cancelled reason, so the result list always maps 1:1 to targets.
func (r *Runner) Run(ctx context.Context, targets []target.Target) []cert.Record {
	results := make([]cert.Record, len(targets))
	sem := make(chan struct{}, r.opts.Concurrency)
	var wg sync.WaitGroup

	admitted := len(targets)
	for i, t := range targets {
		select {
		case <-ctx.Done():
			admitted = i
		case sem <- struct{}{}:
		}
		if admitted != len(targets) {
			break
		}

		wg.Add(1)
		go func(i int, t target.Target) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = r.checkOne(ctx, t)
		}(i, t)
	}
	wg.Wait()

	if admitted < len(targets) {
		slog.Info("batch: run cancelled, skipping remaining targets",
			"admitted", admitted, "skipped", len(targets)-admitted)
		now := r.now().UTC()
		for i := admitted; i < len(targets); i++ {
			results[i] = cert.Record{
				TargetID:    targets[i].ID,
				Origin:      targets[i].Origin,
				Status:      cert.StatusUnknown,
				LastChecked: now,
				Reason:      "run cancelled before probe",
			}
		}
	}
	return results
}

// checkOne probes a single target, retrying retryable outcomes up to the
// configured budget, then classifies the final result.
func (r *Runner) checkOne(ctx context.Context, t target.Target) cert.Record {
	res := r.probeFn(ctx, t.Origin, r.opts.Timeout)

	for attempt := 0; attempt < r.opts.Retries && retryable(res.Outcome) && ctx.Err() == nil; attempt++ {
		select {
		case <-ctx.Done():
		case <-time.After(retryPause):
			slog.Debug("batch: retrying probe",
				"origin", t.Origin, "outcome", res.Outcome, "attempt", attempt+2)
			res = r.probeFn(ctx, t.Origin, r.opts.Timeout)
		}
	}

	rec := cert.Classify(res, r.now(), r.opts.ExpiringHorizon)
	rec.TargetID = t.ID
	return rec
}

// retryable reports whether an outcome is worth another attempt. Handshake
// and parse failures are deterministic and not retried.
func retryable(o probe.Outcome) bool {
	return o == probe.OutcomeTimeout || o == probe.OutcomeConnectionRefused
}
