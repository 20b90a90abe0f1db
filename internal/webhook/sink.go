package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/certsentry/certsentry/internal/alert"
)

const (
	defaultAttempts    = 3
	defaultBackoff     = time.Second
	defaultHTTPTimeout = 30 * time.Second
)

// Endpoint is one configured delivery target.
type Endpoint struct {
	Type string // "teams" | "http"
	URL  string
}

// StatusError reports a non-2xx webhook response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned HTTP %d", e.Code)
}

// Sink posts alert payloads to every configured endpoint.
type Sink struct {
	endpoints []Endpoint
	client    *http.Client
	attempts  int
	backoff   time.Duration
}

// New creates a Sink over the given endpoints with default retry settings.
func New(endpoints []Endpoint) *Sink {
	return &Sink{
		endpoints: endpoints,
		client:    &http.Client{Timeout: defaultHTTPTimeout},
		attempts:  defaultAttempts,
		backoff:   defaultBackoff,
	}
}

// Send delivers p to all endpoints and returns the joined delivery errors,
// or nil when every endpoint accepted the payload. A failing endpoint never
// prevents delivery to the others.
func (s *Sink) Send(ctx context.Context, p *alert.Payload) error {
	var errs []error
	for _, ep := range s.endpoints {
		body, err := renderBody(ep.Type, p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.post(ctx, ep.URL, body); err != nil {
			slog.Error("webhook: delivery failed",
				"type", ep.Type, "origin", p.Origin, "err", err)
			errs = append(errs, fmt.Errorf("%s webhook: %w", ep.Type, err))
			continue
		}
		slog.Debug("webhook: delivered",
			"type", ep.Type, "origin", p.Origin, "severity", p.Severity)
	}
	return errors.Join(errs...)
}

// post attempts delivery with bounded retries. Only transport errors and
// 5xx responses are retried.
func (s *Sink) post(ctx context.Context, url string, body []byte) error {
	var lastErr error
	for attempt := 0; attempt < s.attempts; attempt++ {
		if attempt > 0 {
			wait := jitteredBackoff(s.backoff, attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		err := s.postOnce(ctx, url, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !transient(err) {
			return err
		}
	}
	return lastErr
}

func (s *Sink) postOnce(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		// Malformed URL is permanent, wrapped so transient() says no.
		return &buildError{err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	// 202 Accepted is how Power Automate style webhooks answer.
	if resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

type buildError struct {
	err error
}

func (e *buildError) Error() string { return "build request: " + e.err.Error() }
func (e *buildError) Unwrap() error { return e.err }

// transient reports whether err is worth another attempt.
func transient(err error) bool {
	var be *buildError
	if errors.As(err, &be) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	// Transport-level failure (timeout, refused, reset).
	return true
}

// jitteredBackoff returns the exponential wait for the given attempt with
// ±25% jitter.
func jitteredBackoff(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	jitter := time.Duration(float64(d) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	if d += jitter; d < 0 {
		d = 0
	}
	return d
}
