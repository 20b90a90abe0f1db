// Package metrics tracks run counters and exposes them in the Prometheus
// text format on /metrics.
package metrics
