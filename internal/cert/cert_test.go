package cert

import (
	"testing"
	"time"

	"github.com/certsentry/certsentry/internal/probe"
	"github.com/certsentry/certsentry/internal/testcert"
)

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// successResult builds a probe success carrying a freshly generated
// self-signed leaf with the given validity window.
func successResult(t *testing.T, notBefore, notAfter time.Time) probe.Result {
	t.Helper()
	der, _, err := testcert.Generate("site.example.com", notBefore, notAfter)
	if err != nil {
		t.Fatalf("generate cert: %v", err)
	}
	return probe.Result{
		Origin:    "https://site.example.com",
		Outcome:   probe.OutcomeSuccess,
		CheckedAt: baseTime,
		Leaf:      der,
		Chain:     [][]byte{der},
	}
}

func TestClassify_ValidRoundTrip(t *testing.T) {
	res := successResult(t,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	)

	rec := Classify(res, baseTime, 0)
	if rec.Status != StatusValid {
		t.Fatalf("Status = %q, want valid", rec.Status)
	}
	if rec.Issuer == "" || rec.Subject == "" || rec.SerialNumber == "" {
		t.Error("issuer, subject and serial should all be populated")
	}
	if !rec.NotAfter.Equal(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("NotAfter = %v, want 2024-12-31", rec.NotAfter)
	}

	again := Classify(res, baseTime, 0)
	if rec.Fingerprint == "" || rec.Fingerprint != again.Fingerprint {
		t.Errorf("fingerprint not stable across classification: %q vs %q", rec.Fingerprint, again.Fingerprint)
	}
}

func TestClassify_Expiring(t *testing.T) {
	res := successResult(t, baseTime.Add(-30*24*time.Hour), baseTime.Add(29*24*time.Hour))

	rec := Classify(res, baseTime, 0)
	if rec.Status != StatusExpiring {
		t.Errorf("Status = %q, want expiring", rec.Status)
	}
	if days := rec.DaysRemaining(baseTime); days != 29 {
		t.Errorf("DaysRemaining = %d, want 29", days)
	}
}

func TestClassify_CustomHorizon(t *testing.T) {
	// 29 days out is expiring under the default horizon but valid under 14d.
	res := successResult(t, baseTime.Add(-30*24*time.Hour), baseTime.Add(29*24*time.Hour))

	rec := Classify(res, baseTime, 14*24*time.Hour)
	if rec.Status != StatusValid {
		t.Errorf("Status = %q, want valid under a 14-day horizon", rec.Status)
	}
}

func TestClassify_Expired(t *testing.T) {
	res := successResult(t, baseTime.Add(-60*24*time.Hour), baseTime.Add(-24*time.Hour))

	rec := Classify(res, baseTime, 0)
	if rec.Status != StatusExpired {
		t.Errorf("Status = %q, want expired", rec.Status)
	}
	if days := rec.DaysRemaining(baseTime); days != -1 {
		t.Errorf("DaysRemaining = %d, want -1", days)
	}
}

func TestClassify_NotYetValid(t *testing.T) {
	res := successResult(t, baseTime.Add(24*time.Hour), baseTime.Add(90*24*time.Hour))

	rec := Classify(res, baseTime, 0)
	if rec.Status != StatusInvalid {
		t.Errorf("Status = %q, want invalid for not-yet-valid certificate", rec.Status)
	}
	if rec.Reason == "" {
		t.Error("invalid record should carry a reason")
	}
}

func TestClassify_GarbageLeafBytes(t *testing.T) {
	res := probe.Result{
		Origin:  "https://site.example.com",
		Outcome: probe.OutcomeSuccess,
		Leaf:    []byte("not a certificate"),
	}

	rec := Classify(res, baseTime, 0)
	if rec.Status != StatusInvalid {
		t.Errorf("Status = %q, want invalid for unparseable leaf", rec.Status)
	}
}

func TestClassify_NetworkFailuresAreUnknown(t *testing.T) {
	for _, outcome := range []probe.Outcome{
		probe.OutcomeTimeout,
		probe.OutcomeDNSError,
		probe.OutcomeConnectionRefused,
		probe.OutcomeHandshakeError,
	} {
		res := probe.Result{Origin: "https://down.example.com", Outcome: outcome, Reason: "boom"}
		rec := Classify(res, baseTime, 0)
		if rec.Status != StatusUnknown {
			t.Errorf("outcome %q: Status = %q, want unknown", outcome, rec.Status)
		}
		if rec.Reason != "boom" {
			t.Errorf("outcome %q: reason not carried over", outcome)
		}
	}
}

func TestClassify_ParseErrorOutcomeIsInvalid(t *testing.T) {
	res := probe.Result{Origin: "https://bad.example.com", Outcome: probe.OutcomeCertParseError}
	rec := Classify(res, baseTime, 0)
	if rec.Status != StatusInvalid {
		t.Errorf("Status = %q, want invalid for certificate-parse-error", rec.Status)
	}
}

func TestDaysRemaining_CeilSemantics(t *testing.T) {
	cases := []struct {
		notAfter time.Time
		want     int
	}{
		{baseTime, 0},
		{baseTime.Add(time.Hour), 1},
		{baseTime.Add(24 * time.Hour), 1},
		{baseTime.Add(25 * time.Hour), 2},
		{baseTime.Add(-time.Hour), 0},
		{baseTime.Add(-25 * time.Hour), -1},
	}
	for _, tc := range cases {
		rec := Record{NotAfter: tc.notAfter}
		if got := rec.DaysRemaining(baseTime); got != tc.want {
			t.Errorf("DaysRemaining(notAfter=%v) = %d, want %d", tc.notAfter, got, tc.want)
		}
	}
}
