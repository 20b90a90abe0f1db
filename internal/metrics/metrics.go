package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Registry accumulates engine counters. All methods are safe for
// concurrent use.
type Registry struct {
	mu               sync.Mutex
	runs             uint64
	probes           map[string]uint64 // by certificate status
	alerts           map[string]uint64 // by severity
	deliveryFailures uint64
	lastRunSeconds   float64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		probes: make(map[string]uint64),
		alerts: make(map[string]uint64),
	}
}

// RunCompleted records one finished batch run and its duration.
func (r *Registry) RunCompleted(seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
	r.lastRunSeconds = seconds
}

// ProbeClassified counts one classified probe by resulting status.
func (r *Registry) ProbeClassified(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes[status]++
}

// AlertSent counts one delivered alert by severity.
func (r *Registry) AlertSent(severity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts[severity]++
}

// DeliveryFailed counts one webhook delivery failure.
func (r *Registry) DeliveryFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveryFailures++
}

// gather snapshots the counters into metric families, sorted by name.
func (r *Registry) gather() []*dto.MetricFamily {
	r.mu.Lock()
	defer r.mu.Unlock()

	families := []*dto.MetricFamily{
		counterFamily("certsentry_runs_total",
			"Total completed batch runs.",
			[]*dto.Metric{counter(nil, float64(r.runs))}),
		counterFamily("certsentry_probes_total",
			"Probes classified, by certificate status.",
			labelledCounters("status", r.probes)),
		counterFamily("certsentry_alerts_sent_total",
			"Alerts delivered, by severity.",
			labelledCounters("severity", r.alerts)),
		counterFamily("certsentry_webhook_failures_total",
			"Webhook deliveries that exhausted their retries.",
			[]*dto.Metric{counter(nil, float64(r.deliveryFailures))}),
		{
			Name: strPtr("certsentry_last_run_duration_seconds"),
			Help: strPtr("Wall-clock duration of the most recent run."),
			Type: dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{{
				Gauge: &dto.Gauge{Value: f64Ptr(r.lastRunSeconds)},
			}},
		},
	}
	return families
}

// Handler serves the registry in the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		for _, mf := range r.gather() {
			if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
				http.Error(w, fmt.Sprintf("encode metrics: %v", err),
					http.StatusInternalServerError)
				return
			}
		}
	})
}

func counterFamily(name, help string, metrics []*dto.Metric) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   strPtr(name),
		Help:   strPtr(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: metrics,
	}
}

func counter(labels []*dto.LabelPair, v float64) *dto.Metric {
	return &dto.Metric{
		Label:   labels,
		Counter: &dto.Counter{Value: f64Ptr(v)},
	}
}

// labelledCounters renders one counter per map entry with a stable order.
func labelledCounters(label string, values map[string]uint64) []*dto.Metric {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*dto.Metric, 0, len(keys))
	for _, k := range keys {
		out = append(out, counter([]*dto.LabelPair{
			{Name: strPtr(label), Value: strPtr(k)},
		}, float64(values[k])))
	}
	return out
}

func strPtr(s string) *string   { return &s }
func f64Ptr(f float64) *float64 { return &f }
