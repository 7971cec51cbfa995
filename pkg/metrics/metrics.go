// Package metrics is a small Prometheus text-format registry. Metrics are
// families with a fixed label schema; each label combination is a series.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets are latency buckets in seconds.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Counter only goes up.
type Counter struct{ bits atomic.Uint64 }

func (c *Counter) Inc() { c.Add(1) }

// Add ignores negative deltas.
func (c *Counter) Add(v float64) {
	if v < 0 {
		return
	}
	for {
		old := c.bits.Load()
		if c.bits.CompareAndSwap(old, math.Float64bits(math.Float64frombits(old)+v)) {
			return
		}
	}
}

func (c *Counter) Value() float64 { return math.Float64frombits(c.bits.Load()) }

// Gauge holds a float that can move either way.
type Gauge struct{ bits atomic.Uint64 }

func (g *Gauge) Set(v float64) { g.bits.Store(math.Float64bits(v)) }
func (g *Gauge) Inc()          { g.Add(1) }
func (g *Gauge) Dec()          { g.Add(-1) }

func (g *Gauge) Add(v float64) {
	for {
		old := g.bits.Load()
		if g.bits.CompareAndSwap(old, math.Float64bits(math.Float64frombits(old)+v)) {
			return
		}
	}
}

func (g *Gauge) Value() float64 { return math.Float64frombits(g.bits.Load()) }

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []uint64
	sum    float64
	count  uint64
}

func newHistogram(bounds []float64) *Histogram {
	b := slices.Clone(bounds)
	slices.Sort(b)
	return &Histogram{bounds: b, counts: make([]uint64, len(b))}
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	if i, _ := slices.BinarySearch(h.bounds, v); i < len(h.bounds) {
		h.counts[i]++
	}
}

// Since observes the seconds elapsed since t.
func (h *Histogram) Since(t time.Time) { h.Observe(time.Since(t).Seconds()) }

// Count returns how many values were observed.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// family is one metric name with its series keyed by joined label values.
type family struct {
	name    string
	help    string
	kind    kind
	labels  []string
	buckets []float64

	mu     sync.RWMutex
	series map[string]any
	values map[string][]string
}

func (f *family) get(values []string) any {
	if len(values) != len(f.labels) {
		panic(fmt.Sprintf("metrics: %s wants %d label values, got %d", f.name, len(f.labels), len(values)))
	}
	key := strings.Join(values, "\xff")
	f.mu.RLock()
	s, ok := f.series[key]
	f.mu.RUnlock()
	if ok {
		return s
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.series[key]; ok {
		return s
	}
	switch f.kind {
	case kindCounter:
		s = &Counter{}
	case kindGauge:
		s = &Gauge{}
	default:
		s = newHistogram(f.buckets)
	}
	f.series[key] = s
	f.values[key] = slices.Clone(values)
	return s
}

// CounterVec is a counter family.
type CounterVec struct{ f *family }

func (v CounterVec) With(values ...string) *Counter { return v.f.get(values).(*Counter) }

// GaugeVec is a gauge family.
type GaugeVec struct{ f *family }

func (v GaugeVec) With(values ...string) *Gauge { return v.f.get(values).(*Gauge) }

// HistogramVec is a histogram family.
type HistogramVec struct{ f *family }

func (v HistogramVec) With(values ...string) *Histogram { return v.f.get(values).(*Histogram) }

// Registry owns metric families and renders them.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
	order    []string
}

func New() *Registry {
	return &Registry{families: make(map[string]*family)}
}

func (r *Registry) family(name, help string, k kind, labels []string, buckets []float64) *family {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.families[name]; ok {
		if f.kind != k {
			panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", name, f.kind, k))
		}
		return f
	}
	f := &family{
		name: name, help: help, kind: k,
		labels: slices.Clone(labels), buckets: buckets,
		series: make(map[string]any), values: make(map[string][]string),
	}
	r.families[name] = f
	r.order = append(r.order, name)
	return f
}

// Counter returns the unlabelled counter called name.
func (r *Registry) Counter(name, help string) *Counter {
	return r.CounterVec(name, help).With()
}

// Gauge returns the unlabelled gauge called name.
func (r *Registry) Gauge(name, help string) *Gauge {
	return r.GaugeVec(name, help).With()
}

// Histogram returns the unlabelled histogram called name. Nil buckets use DefaultBuckets.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	return r.HistogramVec(name, help, buckets).With()
}

func (r *Registry) CounterVec(name, help string, labels ...string) CounterVec {
	return CounterVec{r.family(name, help, kindCounter, labels, nil)}
}

func (r *Registry) GaugeVec(name, help string, labels ...string) GaugeVec {
	return GaugeVec{r.family(name, help, kindGauge, labels, nil)}
}

func (r *Registry) HistogramVec(name, help string, buckets []float64, labels ...string) HistogramVec {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	return HistogramVec{r.family(name, help, kindHistogram, labels, buckets)}
}

// Render writes every family in registration order, series sorted by labels.
func (r *Registry) Render() string {
	r.mu.Lock()
	fams := make([]*family, len(r.order))
	for i, n := range r.order {
		fams[i] = r.families[n]
	}
	r.mu.Unlock()

	var b strings.Builder
	for _, f := range fams {
		f.render(&b)
	}
	return b.String()
}

func (f *family) render(b *strings.Builder) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.help != "" {
		fmt.Fprintf(b, "# HELP %s %s\n", f.name, f.help)
	}
	fmt.Fprintf(b, "# TYPE %s %s\n", f.name, f.kind)
	keys := make([]string, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		pairs := labelPairs(f.labels, f.values[k])
		switch s := f.series[k].(type) {
		case *Counter:
			fmt.Fprintf(b, "%s%s %g\n", f.name, braces(pairs), s.Value())
		case *Gauge:
			fmt.Fprintf(b, "%s%s %g\n", f.name, braces(pairs), s.Value())
		case *Histogram:
			s.mu.Lock()
			var cum uint64
			for i, bound := range s.bounds {
				cum += s.counts[i]
				fmt.Fprintf(b, "%s_bucket%s %d\n", f.name, braces(append(slices.Clone(pairs), fmt.Sprintf("le=%q", fmt.Sprint(bound)))), cum)
			}
			fmt.Fprintf(b, "%s_bucket%s %d\n", f.name, braces(append(slices.Clone(pairs), `le="+Inf"`)), s.count)
			fmt.Fprintf(b, "%s_sum%s %g\n", f.name, braces(pairs), s.sum)
			fmt.Fprintf(b, "%s_count%s %d\n", f.name, braces(pairs), s.count)
			s.mu.Unlock()
		}
	}
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func labelPairs(names, values []string) []string {
	pairs := make([]string, len(names))
	for i, n := range names {
		pairs[i] = n + `="` + labelEscaper.Replace(values[i]) + `"`
	}
	return pairs
}

func braces(pairs []string) string {
	if len(pairs) == 0 {
		return ""
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

// Handler serves the text exposition format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(r.Render()))
	})
}
