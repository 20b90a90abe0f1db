package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/certsentry/certsentry/internal/alert"
	"github.com/certsentry/certsentry/internal/batch"
	"github.com/certsentry/certsentry/internal/cert"
	"github.com/certsentry/certsentry/internal/ledger"
	"github.com/certsentry/certsentry/internal/probe"
	"github.com/certsentry/certsentry/internal/store"
	"github.com/certsentry/certsentry/internal/target"
	"github.com/certsentry/certsentry/internal/testcert"
)

var engineNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeSink records delivered payloads and optionally fails.
type fakeSink struct {
	mu   sync.Mutex
	sent []alert.Payload
	err  error
}

func (f *fakeSink) Send(_ context.Context, p *alert.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, *p)
	return nil
}

// proberFor serves a fixed leaf per origin; unlisted origins time out.
func proberFor(t *testing.T, leaves map[string][]byte) batch.Prober {
	t.Helper()
	return func(_ context.Context, origin string, _ time.Duration) probe.Result {
		leaf, ok := leaves[origin]
		if !ok {
			return probe.Result{
				Origin:    origin,
				Outcome:   probe.OutcomeTimeout,
				CheckedAt: engineNow,
				Reason:    "connection timed out",
			}
		}
		return probe.Result{
			Origin:    origin,
			Outcome:   probe.OutcomeSuccess,
			CheckedAt: engineNow,
			Leaf:      leaf,
		}
	}
}

func leafExpiring(t *testing.T, days int) []byte {
	t.Helper()
	der, _, err := testcert.Generate("shop.example.com",
		engineNow.Add(-24*time.Hour), engineNow.Add(time.Duration(days)*24*time.Hour))
	if err != nil {
		t.Fatalf("testcert: %v", err)
	}
	return der
}

func newEngine(t *testing.T, targets []target.Target, prober batch.Prober, sink Sink) (*Engine, *store.Memory) {
	t.Helper()
	policy, err := alert.NewPolicy(alert.DefaultThresholds, "en", ledger.NewMemory())
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	st := store.NewMemory()
	runner := batch.New(batch.Options{ProbeFn: prober})
	e := New(target.NewStatic(targets), runner, st, policy, sink, nil, nil)
	e.now = func() time.Time { return engineNow }
	return e, st
}

func TestEngine_RunNowStoresAndAlerts(t *testing.T) {
	healthy := target.Target{ID: uuid.New(), Origin: "https://ok.example.com", Name: "ok", Active: true}
	expiring := target.Target{ID: uuid.New(), Origin: "https://soon.example.com", Name: "soon", Active: true}
	down := target.Target{ID: uuid.New(), Origin: "https://down.example.com", Name: "down", Active: true}

	prober := proberFor(t, map[string][]byte{
		healthy.Origin:  leafExpiring(t, 90),
		expiring.Origin: leafExpiring(t, 5),
	})
	sink := &fakeSink{}
	e, st := newEngine(t, []target.Target{healthy, expiring, down}, prober, sink)

	rep, err := e.RunNow(context.Background())
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	if rep.TotalProcessed != 3 || rep.Succeeded != 2 || rep.Failed != 1 {
		t.Errorf("report counts = %d/%d/%d, want 3/2/1",
			rep.TotalProcessed, rep.Succeeded, rep.Failed)
	}
	if rep.AlertsSent != 1 {
		t.Errorf("AlertsSent = %d, want 1", rep.AlertsSent)
	}
	if len(sink.sent) != 1 || sink.sent[0].Threshold != 7 {
		t.Errorf("sink got %+v, want one 7-day expiry alert", sink.sent)
	}

	// Every probed target is persisted, including the failed one.
	for _, tg := range []target.Target{healthy, expiring, down} {
		if _, ok, _ := st.Latest(context.Background(), tg.ID); !ok {
			t.Errorf("no stored record for %s", tg.Origin)
		}
	}
	rec, _, _ := st.Latest(context.Background(), down.ID)
	if rec.Status != cert.StatusUnknown {
		t.Errorf("down target status = %q, want unknown", rec.Status)
	}
}

func TestEngine_SecondRunSameDayIsQuiet(t *testing.T) {
	tg := target.Target{ID: uuid.New(), Origin: "https://soon.example.com", Name: "soon", Active: true}
	prober := proberFor(t, map[string][]byte{tg.Origin: leafExpiring(t, 5)})
	sink := &fakeSink{}
	e, _ := newEngine(t, []target.Target{tg}, prober, sink)

	for i := 0; i < 2; i++ {
		if _, err := e.RunNow(context.Background()); err != nil {
			t.Fatalf("RunNow #%d: %v", i+1, err)
		}
	}
	if len(sink.sent) != 1 {
		t.Errorf("sent %d alerts across two same-day runs, want 1", len(sink.sent))
	}
}

func TestEngine_SinkFailureMarksResultOnly(t *testing.T) {
	tg := target.Target{ID: uuid.New(), Origin: "https://soon.example.com", Name: "soon", Active: true}
	prober := proberFor(t, map[string][]byte{tg.Origin: leafExpiring(t, 5)})
	sink := &fakeSink{err: errors.New("webhook down")}
	e, st := newEngine(t, []target.Target{tg}, prober, sink)

	rep, err := e.RunNow(context.Background())
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if rep.AlertsSent != 0 {
		t.Errorf("AlertsSent = %d, want 0", rep.AlertsSent)
	}
	if rep.Results[0].Error == "" {
		t.Error("result should carry the delivery error")
	}
	if _, ok, _ := st.Latest(context.Background(), tg.ID); !ok {
		t.Error("record should be stored despite delivery failure")
	}
}

func TestEngine_RejectsOverlappingRuns(t *testing.T) {
	tg := target.Target{ID: uuid.New(), Origin: "https://slow.example.com", Name: "slow", Active: true}

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	prober := func(_ context.Context, origin string, _ time.Duration) probe.Result {
		once.Do(func() { close(started) })
		<-release
		return probe.Result{Origin: origin, Outcome: probe.OutcomeTimeout, CheckedAt: engineNow}
	}
	e, _ := newEngine(t, []target.Target{tg}, prober, &fakeSink{})

	done := make(chan error, 1)
	go func() {
		_, err := e.RunNow(context.Background())
		done <- err
	}()
	<-started

	if _, err := e.RunNow(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("overlapping RunNow = %v, want ErrRunInProgress", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}

	// The guard releases once the run finishes.
	if _, err := e.RunNow(context.Background()); err != nil {
		t.Errorf("follow-up RunNow: %v", err)
	}
}
