package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/certsentry/certsentry/internal/cert"
	"github.com/certsentry/certsentry/internal/ledger"
)

// DefaultThresholds are the notification day thresholds when none are
// configured.
var DefaultThresholds = []int{30, 7, 1}

// errorSlot is the reserved ledger threshold key for invalid-certificate
// alerts. Real thresholds are validated positive, so 0 can never collide.
const errorSlot = 0

// Severity grades a payload for the receiving channel.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Kind distinguishes expiry alerts from certificate-error alerts.
type Kind string

const (
	KindExpiry Kind = "expiry"
	KindError  Kind = "error"
)

// Payload is the rendered, sink-ready alert. Produced per qualifying
// evaluation, consumed once by the notification sink.
type Payload struct {
	Kind          Kind      `json:"kind"`
	Origin        string    `json:"origin"`
	Name          string    `json:"name"`
	Issuer        string    `json:"issuer,omitempty"`
	Subject       string    `json:"subject,omitempty"`
	NotAfter      time.Time `json:"not_after"`
	DaysRemaining int       `json:"days_remaining"`
	Threshold     int       `json:"threshold"`
	Severity      Severity  `json:"severity"`
	Locale        string    `json:"locale"`
	Message       string    `json:"message"`
	Reason        string    `json:"reason,omitempty"` // error detail for KindError
}

// Policy evaluates records against the configured thresholds and the
// notification ledger. Safe for concurrent use: all mutable state lives in
// the ledger, which serializes per-key writes.
type Policy struct {
	thresholds []int // descending
	locale     string
	ledger     ledger.Ledger
}

// NewPolicy validates thresholds and builds a Policy. Empty or non-positive
// thresholds are a configuration error and fail here rather than mid-batch.
func NewPolicy(thresholds []int, locale string, led ledger.Ledger) (*Policy, error) {
	if len(thresholds) == 0 {
		return nil, fmt.Errorf("alert: at least one notification threshold is required")
	}
	for _, t := range thresholds {
		if t <= 0 {
			return nil, fmt.Errorf("alert: threshold must be positive, got %d", t)
		}
	}
	if locale == "" {
		locale = "en"
	}
	if locale != "en" && locale != "ko" {
		return nil, fmt.Errorf("alert: unsupported locale %q", locale)
	}

	sorted := make([]int, len(thresholds))
	copy(sorted, thresholds)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	return &Policy{thresholds: sorted, locale: locale, ledger: led}, nil
}

// Evaluate decides whether rec warrants a notification as of today.
// It returns nil when nothing is due, the normal case. A non-nil payload
// means the ledger slot was claimed and the caller must attempt delivery.
func (p *Policy) Evaluate(ctx context.Context, rec cert.Record, name string, today time.Time) (*Payload, error) {
	switch rec.Status {
	case cert.StatusExpired, cert.StatusExpiring:
		return p.evaluateExpiry(ctx, rec, name, today)
	case cert.StatusInvalid:
		return p.evaluateError(ctx, rec, name, today)
	default:
		// valid needs no alert; unknown must never trigger one.
		return nil, nil
	}
}

func (p *Policy) evaluateExpiry(ctx context.Context, rec cert.Record, name string, today time.Time) (*Payload, error) {
	days := rec.DaysRemaining(today)

	// Walk thresholds in descending order; the last one still at-or-below
	// is the most urgent match. daysRemaining = 0 with {30,7,1} matches all
	// three but emits only the 1-day alert.
	match, found := 0, false
	for _, t := range p.thresholds {
		if days <= t {
			match, found = t, true
		}
	}
	if !found {
		return nil, nil
	}

	won, err := p.ledger.MarkSent(ctx, rec.TargetID, match, ledger.DayOf(today))
	if err != nil {
		return nil, fmt.Errorf("alert: ledger claim: %w", err)
	}
	if !won {
		slog.Debug("alert: suppressed duplicate expiry alert",
			"origin", rec.Origin, "threshold", match)
		return nil, nil
	}

	sev := severityFor(match)
	return &Payload{
		Kind:          KindExpiry,
		Origin:        rec.Origin,
		Name:          name,
		Issuer:        rec.Issuer,
		Subject:       rec.Subject,
		NotAfter:      rec.NotAfter,
		DaysRemaining: days,
		Threshold:     match,
		Severity:      sev,
		Locale:        p.locale,
		Message:       p.expiryMessage(name, rec.Origin, days),
	}, nil
}

// evaluateError implements the immediate notification rule for certificate
// errors, capped at one send per target per day through the reserved slot.
func (p *Policy) evaluateError(ctx context.Context, rec cert.Record, name string, today time.Time) (*Payload, error) {
	won, err := p.ledger.MarkSent(ctx, rec.TargetID, errorSlot, ledger.DayOf(today))
	if err != nil {
		return nil, fmt.Errorf("alert: ledger claim: %w", err)
	}
	if !won {
		return nil, nil
	}

	return &Payload{
		Kind:     KindError,
		Origin:   rec.Origin,
		Name:     name,
		Issuer:   rec.Issuer,
		Subject:  rec.Subject,
		NotAfter: rec.NotAfter,
		Severity: SeverityCritical,
		Locale:   p.locale,
		Message:  p.errorMessage(name, rec.Origin),
		Reason:   rec.Reason,
	}, nil
}

// severityFor maps a threshold tier to a severity grade.
func severityFor(threshold int) Severity {
	switch {
	case threshold <= 1:
		return SeverityCritical
	case threshold <= 7:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
