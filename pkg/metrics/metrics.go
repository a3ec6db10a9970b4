// Package metrics is a small Prometheus-text-format registry. The engine
// only needs a handful of counters and latency histograms on the ingest and
// ask paths, so the registry favors simplicity over the full client_golang
// feature set: labels are baked into the series name at call sites.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LatencyBuckets are the default histogram bucket bounds, in seconds.
var LatencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Counter only goes up.
type Counter struct{ v atomic.Int64 }

func (c *Counter) Inc()         { c.v.Add(1) }
func (c *Counter) Add(n int64)  { c.v.Add(n) }
func (c *Counter) Value() int64 { return c.v.Load() }

// Gauge goes both ways.
type Gauge struct{ v atomic.Int64 }

func (g *Gauge) Set(n int64)  { g.v.Store(n) }
func (g *Gauge) Inc()         { g.v.Add(1) }
func (g *Gauge) Dec()         { g.v.Add(-1) }
func (g *Gauge) Value() int64 { return g.v.Load() }

// Histogram tracks a value distribution over fixed bucket bounds.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []uint64
	sum    float64
	total  uint64
}

// Observe records one value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.total++
	for i, b := range h.bounds {
		if v <= b {
			h.counts[i]++
			break
		}
	}
}

// Since observes the seconds elapsed from t.
func (h *Histogram) Since(t time.Time) { h.Observe(time.Since(t).Seconds()) }

// family is one named metric with its type and help text, spanning every
// label combination registered under that name.
type family struct {
	kind string // "counter", "gauge", "histogram"
	help string
}

// Registry holds named series. Series names may carry baked-in labels via
// Labeled; all series sharing a base name must be the same kind.
type Registry struct {
	mu         sync.RWMutex
	families   map[string]family
	order      []string
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		families:   make(map[string]family),
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

// Labeled appends label pairs to a series name: Labeled("x", "k", "v")
// yields `x{k="v"}`. Odd pair counts return the name untouched.
func Labeled(name string, kvs ...string) string {
	if len(kvs) == 0 || len(kvs)%2 != 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i := 0; i < len(kvs); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", kvs[i], kvs[i+1])
	}
	b.WriteByte('}')
	return b.String()
}

func baseName(series string) string {
	if i := strings.IndexByte(series, '{'); i != -1 {
		return series[:i]
	}
	return series
}

func (r *Registry) register(series, kind, help string) {
	base := baseName(series)
	if _, ok := r.families[base]; !ok {
		r.order = append(r.order, base)
		r.families[base] = family{kind: kind, help: help}
	}
}

// Counter returns the counter for series, creating it on first use.
func (r *Registry) Counter(series, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[series]; ok {
		return c
	}
	c := &Counter{}
	r.counters[series] = c
	r.register(series, "counter", help)
	return c
}

// Gauge returns the gauge for series, creating it on first use.
func (r *Registry) Gauge(series, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[series]; ok {
		return g
	}
	g := &Gauge{}
	r.gauges[series] = g
	r.register(series, "gauge", help)
	return g
}

// Histogram returns the histogram for series, creating it on first use.
// nil bounds use LatencyBuckets.
func (r *Registry) Histogram(series, help string, bounds []float64) *Histogram {
	if bounds == nil {
		bounds = LatencyBuckets
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[series]; ok {
		return h
	}
	sorted := make([]float64, len(bounds))
	copy(sorted, bounds)
	sort.Float64s(sorted)
	h := &Histogram{bounds: sorted, counts: make([]uint64, len(sorted))}
	r.histograms[series] = h
	r.register(series, "histogram", help)
	return h
}

// Render emits the Prometheus text exposition format, families in
// registration order, series within a family in lexical order.
func (r *Registry) Render() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, base := range r.order {
		fam := r.families[base]
		if fam.help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", base, fam.help)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", base, fam.kind)

		switch fam.kind {
		case "counter":
			for _, s := range seriesOf(r.counters, base) {
				fmt.Fprintf(&b, "%s %d\n", s, r.counters[s].Value())
			}
		case "gauge":
			for _, s := range seriesOf(r.gauges, base) {
				fmt.Fprintf(&b, "%s %d\n", s, r.gauges[s].Value())
			}
		case "histogram":
			for _, s := range seriesOf(r.histograms, base) {
				r.renderHistogram(&b, base, s)
			}
		}
	}
	return b.String()
}

func (r *Registry) renderHistogram(b *strings.Builder, base, series string) {
	h := r.histograms[series]
	h.mu.Lock()
	bounds := h.bounds
	counts := make([]uint64, len(h.counts))
	copy(counts, h.counts)
	sum, total := h.sum, h.total
	h.mu.Unlock()

	labels := innerLabels(series)
	var cumulative uint64
	for i, bound := range bounds {
		cumulative += counts[i]
		fmt.Fprintf(b, "%s_bucket{le=\"%g\"%s} %d\n", base, bound, labels, cumulative)
	}
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"%s} %d\n", base, labels, total)
	suffix := ""
	if labels != "" {
		suffix = "{" + labels[1:] + "}"
	}
	fmt.Fprintf(b, "%s_sum%s %g\n", base, suffix, sum)
	fmt.Fprintf(b, "%s_count%s %d\n", base, suffix, total)
}

// innerLabels returns the `,k="v"` tail of a labeled series name, or "".
func innerLabels(series string) string {
	i := strings.IndexByte(series, '{')
	if i == -1 {
		return ""
	}
	inner := series[i+1 : len(series)-1]
	if inner == "" {
		return ""
	}
	return "," + inner
}

func seriesOf[M any](m map[string]M, base string) []string {
	var out []string
	for s := range m {
		if baseName(s) == base {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Handler serves the registry in the text exposition format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(r.Render()))
	})
}
