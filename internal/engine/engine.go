package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/certsentry/certsentry/internal/alert"
	"github.com/certsentry/certsentry/internal/batch"
	"github.com/certsentry/certsentry/internal/cert"
	"github.com/certsentry/certsentry/internal/metrics"
	"github.com/certsentry/certsentry/internal/store"
	"github.com/certsentry/certsentry/internal/target"
)

// ErrRunInProgress is returned when a run is requested while another is
// still executing.
var ErrRunInProgress = errors.New("engine: a monitoring run is already in progress")

// Sink delivers one alert payload. Satisfied by webhook.Sink.
type Sink interface {
	Send(ctx context.Context, p *alert.Payload) error
}

// Publisher mirrors publish.Publisher; nil disables event publishing.
type Publisher interface {
	RecordUpdated(ctx context.Context, runID uuid.UUID, rec cert.Record) error
	AlertSent(ctx context.Context, runID uuid.UUID, at time.Time, pay alert.Payload) error
}

// TargetResult is one target's outcome within a run report.
type TargetResult struct {
	TargetID      uuid.UUID   `json:"target_id"`
	Origin        string      `json:"origin"`
	Name          string      `json:"name"`
	Status        cert.Status `json:"status"`
	DaysRemaining int         `json:"days_remaining"`
	AlertSent     bool        `json:"alert_sent"`
	Error         string      `json:"error,omitempty"`
}

// Report summarizes one completed run.
type Report struct {
	RunID           uuid.UUID      `json:"run_id"`
	StartedAt       time.Time      `json:"started_at"`
	DurationSeconds float64        `json:"duration_seconds"`
	TotalProcessed  int            `json:"total_processed"`
	Succeeded       int            `json:"succeeded"`
	Failed          int            `json:"failed"`
	AlertsSent      int            `json:"alerts_sent"`
	Results         []TargetResult `json:"results"`
}

// Engine wires the run collaborators together.
type Engine struct {
	source    target.Source
	runner    *batch.Runner
	store     store.RecordStore
	policy    *alert.Policy
	sink      Sink
	publisher Publisher
	metrics   *metrics.Registry

	running atomic.Bool
	now     func() time.Time
}

// New builds an Engine. Publisher and metrics may be nil.
func New(src target.Source, runner *batch.Runner, st store.RecordStore,
	policy *alert.Policy, sink Sink, pub Publisher, reg *metrics.Registry) *Engine {
	return &Engine{
		source:    src,
		runner:    runner,
		store:     st,
		policy:    policy,
		sink:      sink,
		publisher: pub,
		metrics:   reg,
		now:       time.Now,
	}
}

// RunNow executes one monitoring run. Only one run may be in flight;
// concurrent calls get ErrRunInProgress. A sink failure marks the result
// but never aborts the run.
func (e *Engine) RunNow(ctx context.Context) (*Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer e.running.Store(false)

	runID := uuid.New()
	started := e.now().UTC()
	log := slog.With("run_id", runID)

	targets, err := e.source.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: fetch targets: %w", err)
	}
	log.Info("engine: run started", "targets", len(targets))

	records := e.runner.Run(ctx, targets)

	report := &Report{
		RunID:          runID,
		StartedAt:      started,
		TotalProcessed: len(records),
		Results:        make([]TargetResult, 0, len(records)),
	}
	for i, rec := range records {
		report.Results = append(report.Results, e.processOne(ctx, log, runID, targets[i], rec))
	}
	for _, tr := range report.Results {
		if tr.Status == cert.StatusUnknown || tr.Status == cert.StatusInvalid {
			report.Failed++
		} else {
			report.Succeeded++
		}
		if tr.AlertSent {
			report.AlertsSent++
		}
	}

	report.DurationSeconds = e.now().UTC().Sub(started).Seconds()
	if e.metrics != nil {
		e.metrics.RunCompleted(report.DurationSeconds)
	}
	log.Info("engine: run finished",
		"duration_s", report.DurationSeconds,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"alerts", report.AlertsSent)
	return report, nil
}

// processOne stores a record, publishes it, and walks it through the alert
// policy and sink.
func (e *Engine) processOne(ctx context.Context, log *slog.Logger,
	runID uuid.UUID, t target.Target, rec cert.Record) TargetResult {

	tr := TargetResult{
		TargetID: rec.TargetID,
		Origin:   rec.Origin,
		Name:     t.Name,
		Status:   rec.Status,
	}
	if !rec.NotAfter.IsZero() {
		tr.DaysRemaining = rec.DaysRemaining(e.now())
	}

	if err := e.store.Upsert(ctx, rec); err != nil {
		log.Error("engine: store record", "origin", rec.Origin, "err", err)
		tr.Error = err.Error()
		return tr
	}
	if e.metrics != nil {
		e.metrics.ProbeClassified(string(rec.Status))
	}
	if e.publisher != nil {
		if err := e.publisher.RecordUpdated(ctx, runID, rec); err != nil {
			log.Warn("engine: publish record", "origin", rec.Origin, "err", err)
		}
	}

	pay, err := e.policy.Evaluate(ctx, rec, t.Name, e.now())
	if err != nil {
		log.Error("engine: evaluate policy", "origin", rec.Origin, "err", err)
		tr.Error = err.Error()
		return tr
	}
	if pay == nil {
		return tr
	}

	if err := e.sink.Send(ctx, pay); err != nil {
		log.Error("engine: deliver alert", "origin", rec.Origin, "err", err)
		if e.metrics != nil {
			e.metrics.DeliveryFailed()
		}
		tr.Error = err.Error()
		return tr
	}
	tr.AlertSent = true
	if e.metrics != nil {
		e.metrics.AlertSent(string(pay.Severity))
	}
	if e.publisher != nil {
		if err := e.publisher.AlertSent(ctx, runID, e.now().UTC(), *pay); err != nil {
			log.Warn("engine: publish alert", "origin", rec.Origin, "err", err)
		}
	}
	return tr
}
