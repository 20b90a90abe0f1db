package cert

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/certsentry/certsentry/internal/probe"
)

// DefaultExpiringHorizon is the advisory window before not-after in which a
// certificate classifies as expiring. The notification thresholds are
// independent of and more granular than this horizon.
const DefaultExpiringHorizon = 30 * 24 * time.Hour

// Status is the classified health of a certificate.
type Status string

const (
	StatusValid    Status = "valid"
	StatusExpiring Status = "expiring"
	StatusExpired  Status = "expired"
	StatusInvalid  Status = "invalid"
	StatusUnknown  Status = "unknown"
)

// Record is the classified, storable representation of one probe.
// Fingerprint is stable for an unchanged certificate and is used to detect
// rotation; stores supersede rather than mutate when it changes.
type Record struct {
	TargetID     uuid.UUID `json:"target_id"`
	Origin       string    `json:"origin"`
	Issuer       string    `json:"issuer"`
	Subject      string    `json:"subject"`
	SerialNumber string    `json:"serial_number"`
	Fingerprint  string    `json:"fingerprint"` // sha-256 over raw leaf DER, lowercase hex
	NotBefore    time.Time `json:"not_before"`
	NotAfter     time.Time `json:"not_after"`
	Status       Status    `json:"status"`
	LastChecked  time.Time `json:"last_checked"`
	Reason       string    `json:"reason,omitempty"` // failure detail for unknown/invalid records
}

// Classify derives a Record from res as of now. horizon controls the
// expiring window; non-positive means DefaultExpiringHorizon.
func Classify(res probe.Result, now time.Time, horizon time.Duration) Record {
	if horizon <= 0 {
		horizon = DefaultExpiringHorizon
	}
	now = now.UTC()

	rec := Record{
		Origin:      res.Origin,
		LastChecked: now,
		Reason:      res.Reason,
	}

	switch res.Outcome {
	case probe.OutcomeSuccess:
		// fall through to parsing below
	case probe.OutcomeCertParseError:
		rec.Status = StatusInvalid
		return rec
	default:
		// timeout, dns-error, connection-refused, handshake-error:
		// the certificate could not be assessed.
		rec.Status = StatusUnknown
		return rec
	}

	leaf, err := x509.ParseCertificate(res.Leaf)
	if err != nil {
		rec.Status = StatusInvalid
		rec.Reason = fmt.Sprintf("parse certificate: %v", err)
		return rec
	}

	sum := sha256.Sum256(res.Leaf)
	rec.Fingerprint = hex.EncodeToString(sum[:])
	rec.Issuer = leaf.Issuer.String()
	rec.Subject = leaf.Subject.String()
	rec.SerialNumber = fmt.Sprintf("%x", leaf.SerialNumber)
	rec.NotBefore = leaf.NotBefore.UTC()
	rec.NotAfter = leaf.NotAfter.UTC()

	switch {
	case now.Before(rec.NotBefore):
		rec.Status = StatusInvalid
		rec.Reason = "certificate not yet valid"
	case !now.Before(rec.NotAfter):
		rec.Status = StatusExpired
	case rec.NotAfter.Sub(now) <= horizon:
		rec.Status = StatusExpiring
	default:
		rec.Status = StatusValid
	}
	return rec
}

// DaysRemaining returns the signed day count from now to not-after, rounded
// up: anything expiring within the next 24 hours counts as 1, an expiry at
// or before now counts as 0 or negative.
func (r Record) DaysRemaining(now time.Time) int {
	return int(math.Ceil(r.NotAfter.Sub(now).Hours() / 24))
}
