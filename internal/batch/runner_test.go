package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/certsentry/certsentry/internal/cert"
	"github.com/certsentry/certsentry/internal/probe"
	"github.com/certsentry/certsentry/internal/target"
	"github.com/certsentry/certsentry/internal/testcert"
)

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func makeTargets(n int) []target.Target {
	out := make([]target.Target, n)
	for i := range out {
		out[i] = target.Target{
			ID:     uuid.New(),
			Origin: "https://site.example.com",
			Name:   "site",
			Active: true,
		}
	}
	return out
}

// successProber returns a prober that always yields the same valid leaf.
func successProber(t *testing.T) Prober {
	t.Helper()
	der, _, err := testcert.Generate("site.example.com", baseTime.Add(-time.Hour), baseTime.Add(90*24*time.Hour))
	if err != nil {
		t.Fatalf("generate cert: %v", err)
	}
	return func(ctx context.Context, origin string, timeout time.Duration) probe.Result {
		return probe.Result{Origin: origin, Outcome: probe.OutcomeSuccess, Leaf: der}
	}
}

func TestRun_ConcurrencyNeverExceedsLimit(t *testing.T) {
	const limit = 5
	var inFlight, maxSeen int64

	prober := func(ctx context.Context, origin string, timeout time.Duration) probe.Result {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			prev := atomic.LoadInt64(&maxSeen)
			if cur <= prev || atomic.CompareAndSwapInt64(&maxSeen, prev, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return probe.Result{Origin: origin, Outcome: probe.OutcomeTimeout, Reason: "fake"}
	}

	r := New(Options{Concurrency: limit, ProbeFn: prober})
	r.now = func() time.Time { return baseTime }

	results := r.Run(context.Background(), makeTargets(200))
	if len(results) != 200 {
		t.Fatalf("got %d results, want 200", len(results))
	}
	if got := atomic.LoadInt64(&maxSeen); got > limit {
		t.Errorf("observed %d probes in flight, limit is %d", got, limit)
	}
}

func TestRun_PartialFailuresDoNotAbortBatch(t *testing.T) {
	der, _, err := testcert.Generate("site.example.com", baseTime.Add(-time.Hour), baseTime.Add(90*24*time.Hour))
	if err != nil {
		t.Fatalf("generate cert: %v", err)
	}

	var n int64
	prober := func(ctx context.Context, origin string, timeout time.Duration) probe.Result {
		// Every fifth probe times out: 10 of 50.
		if atomic.AddInt64(&n, 1)%5 == 0 {
			return probe.Result{Origin: origin, Outcome: probe.OutcomeTimeout, Reason: "i/o timeout"}
		}
		return probe.Result{Origin: origin, Outcome: probe.OutcomeSuccess, Leaf: der}
	}

	r := New(Options{Concurrency: 5, ProbeFn: prober})
	r.now = func() time.Time { return baseTime }

	results := r.Run(context.Background(), makeTargets(50))
	if len(results) != 50 {
		t.Fatalf("got %d results, want 50", len(results))
	}

	var unknown, ok int
	for _, rec := range results {
		switch rec.Status {
		case cert.StatusUnknown:
			unknown++
		case cert.StatusValid:
			ok++
		default:
			t.Errorf("unexpected status %q", rec.Status)
		}
	}
	if unknown != 10 || ok != 40 {
		t.Errorf("unknown=%d ok=%d, want 10/40", unknown, ok)
	}
}

func TestRun_ResultsTraceableToTargets(t *testing.T) {
	targets := makeTargets(10)
	r := New(Options{ProbeFn: successProber(t)})
	r.now = func() time.Time { return baseTime }

	results := r.Run(context.Background(), targets)
	for i, rec := range results {
		if rec.TargetID != targets[i].ID {
			t.Errorf("result %d carries target %s, want %s", i, rec.TargetID, targets[i].ID)
		}
	}
}

func TestRun_CancellationStopsAdmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var started int64
	release := make(chan struct{})
	prober := func(pctx context.Context, origin string, timeout time.Duration) probe.Result {
		atomic.AddInt64(&started, 1)
		<-release
		return probe.Result{Origin: origin, Outcome: probe.OutcomeTimeout, Reason: "fake"}
	}

	r := New(Options{Concurrency: 2, ProbeFn: prober})
	r.now = func() time.Time { return baseTime }

	var wg sync.WaitGroup
	var results []cert.Record
	wg.Add(1)
	go func() {
		defer wg.Done()
		results = r.Run(ctx, makeTargets(20))
	}()

	// Let the first probes occupy the gate, then cancel and unblock.
	for atomic.LoadInt64(&started) < 2 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	close(release)
	wg.Wait()

	if len(results) != 20 {
		t.Fatalf("got %d results, want 20", len(results))
	}
	if got := atomic.LoadInt64(&started); got >= 20 {
		t.Errorf("cancellation admitted all %d probes, expected early stop", got)
	}
	for _, rec := range results {
		if rec.Status != cert.StatusUnknown {
			t.Errorf("cancelled run produced status %q, want unknown", rec.Status)
		}
	}
}

func TestCheckOne_RetriesRetryableOutcomes(t *testing.T) {
	var calls int64
	der, _, err := testcert.Generate("site.example.com", baseTime.Add(-time.Hour), baseTime.Add(90*24*time.Hour))
	if err != nil {
		t.Fatalf("generate cert: %v", err)
	}
	prober := func(ctx context.Context, origin string, timeout time.Duration) probe.Result {
		if atomic.AddInt64(&calls, 1) == 1 {
			return probe.Result{Origin: origin, Outcome: probe.OutcomeConnectionRefused, Reason: "refused"}
		}
		return probe.Result{Origin: origin, Outcome: probe.OutcomeSuccess, Leaf: der}
	}

	r := New(Options{Retries: 1, ProbeFn: prober})
	r.now = func() time.Time { return baseTime }

	rec := r.checkOne(context.Background(), makeTargets(1)[0])
	if rec.Status != cert.StatusValid {
		t.Errorf("Status = %q, want valid after retry", rec.Status)
	}
	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Errorf("prober called %d times, want 2", got)
	}
}

func TestCheckOne_NoRetryForHandshakeError(t *testing.T) {
	var calls int64
	prober := func(ctx context.Context, origin string, timeout time.Duration) probe.Result {
		atomic.AddInt64(&calls, 1)
		return probe.Result{Origin: origin, Outcome: probe.OutcomeHandshakeError, Reason: "alert"}
	}

	r := New(Options{Retries: 2, ProbeFn: prober})
	r.now = func() time.Time { return baseTime }

	r.checkOne(context.Background(), makeTargets(1)[0])
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Errorf("prober called %d times, want 1 (handshake errors are not retryable)", got)
	}
}
