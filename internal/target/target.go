package target

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Target is one monitored HTTPS endpoint.
type Target struct {
	ID     uuid.UUID `json:"id"`
	Origin string    `json:"origin"` // normalized https origin, no path
	Name   string    `json:"name"`
	Active bool      `json:"active"`
}

// Source supplies the active targets for a monitoring run.
// The production implementation is the website-management layer;
// StaticSource covers config-file and test setups.
type Source interface {
	Active(ctx context.Context) ([]Target, error)
}

// StaticSource serves a fixed target list.
type StaticSource struct {
	targets []Target
}

// NewStatic creates a StaticSource over the given targets.
func NewStatic(targets []Target) *StaticSource {
	return &StaticSource{targets: targets}
}

// Active returns the subset of targets whose Active flag is set.
func (s *StaticSource) Active(ctx context.Context) ([]Target, error) {
	out := make([]Target, 0, len(s.targets))
	for _, t := range s.targets {
		if t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}

// NormalizeOrigin validates raw as an HTTPS origin and returns its canonical
// form: lower-case host, default port 443 stripped, no path component.
//
// Normalization is idempotent: feeding the output back in returns the same
// string.
func NormalizeOrigin(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse origin %q: %w", raw, err)
	}
	if u.Scheme != "https" {
		return "", fmt.Errorf("origin %q: scheme must be https", raw)
	}
	if u.User != nil {
		return "", fmt.Errorf("origin %q: userinfo not allowed", raw)
	}
	if u.Path != "" && u.Path != "/" {
		return "", fmt.Errorf("origin %q: path not allowed", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("origin %q: query and fragment not allowed", raw)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("origin %q: host is required", raw)
	}
	port := u.Port()
	if port == "" || port == "443" {
		return "https://" + host, nil
	}
	return "https://" + net.JoinHostPort(host, port), nil
}
