// Package telemetry records process metrics in memory and serves them in the
// Prometheus text exposition format. Counters and histograms are keyed by
// metric name plus label set and created on first use.
package telemetry

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Metric names recorded by the service.
const (
	HTTPRequests     = "http_requests_total"
	HTTPDuration     = "http_request_duration_seconds"
	HTTPActive       = "http_server_active_requests"
	SummaryRequests  = "summary_requests_total"
	SummaryFallbacks = "summary_fallback_total"
	SummaryDuration  = "summary_generation_duration_seconds"
	LLMRequests      = "llm_requests_total"
	LLMErrors        = "llm_errors_total"
	Jobs             = "jobs_total"
	PatientsCreated  = "patients_created_total"
	PatientsUpdated  = "patients_updated_total"
	PatientsDeleted  = "patients_deleted_total"
	NotesCreated     = "notes_created_total"
	NotesDeleted     = "notes_deleted_total"
)

var help = map[string]string{
	HTTPRequests:     "Total HTTP requests by method, route and status code.",
	HTTPDuration:     "Duration of HTTP requests in seconds.",
	HTTPActive:       "Number of in-flight HTTP requests.",
	SummaryRequests:  "Summary requests by audience and mode.",
	SummaryFallbacks: "Summaries produced by the rule-based fallback.",
	SummaryDuration:  "Time spent generating a summary, by provider.",
	LLMRequests:      "Calls made to a language model provider.",
	LLMErrors:        "Failed language model calls by provider and error type.",
	Jobs:             "Background jobs by task and final status.",
	PatientsCreated:  "Patients created.",
	PatientsUpdated:  "Patients updated.",
	PatientsDeleted:  "Patients deleted.",
	NotesCreated:     "Notes created.",
	NotesDeleted:     "Notes deleted.",
}

// Label is one name/value pair attached to a sample.
type Label struct {
	Name  string
	Value string
}

// L builds a Label.
func L(name, value string) Label {
	return Label{Name: name, Value: value}
}

// Recorder is what services depend on. *Provider and Nop implement it.
type Recorder interface {
	Inc(name string, labels ...Label)
	Add(name string, delta int64, labels ...Label)
	Observe(name string, v float64, labels ...Label)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Inc(string, ...Label) {}

func (Nop) Add(string, int64, ...Label) {}
func (Nop) Observe(string, float64, ...Label) {}

// Config holds the provider settings.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	MetricsEnabled *bool // nil means enabled
}

func (c *Config) metricsOn() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "summary-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// BoolPtr is a helper for Config.MetricsEnabled.
func BoolPtr(b bool) *bool {
	return &b
}

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram stores non-cumulative bucket counts; cumulative counts are
// computed at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

func (h *histogram) observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			break
		}
	}
	// above every boundary: only the +Inf bucket, derived from count
	h.mu.Unlock()
}

func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	cum := make([]int64, len(raw))
	var running int64
	for i, c := range raw {
		running += c
		cum[i] = running
	}
	return cum
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		newVal := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(newVal)) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Series stores
// ---------------------------------------------------------------------------

// series identifies one sample stream: a metric name and its rendered labels.
type series struct {
	name   string
	labels string
}

func newSeries(name string, labels []Label) series {
	return series{name: name, labels: renderLabels(labels)}
}

// renderLabels produces the Prometheus label body, sorted by label name so
// the same set always maps to the same series.
func renderLabels(labels []Label) string {
	if len(labels) == 0 {
		return ""
	}
	sorted := make([]Label, len(labels))
	copy(sorted, labels)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	parts := make([]string, len(sorted))
	for i, l := range sorted {
		parts[i] = l.Name + "=" + strconv.Quote(l.Value)
	}
	return strings.Join(parts, ",")
}

type counterStore struct {
	mu    sync.RWMutex
	items map[series]*int64
}

func newCounterStore() *counterStore {
	return &counterStore{items: make(map[series]*int64)}
}

func (s *counterStore) add(key series, delta int64) {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		atomic.AddInt64(p, delta)
		return
	}
	s.mu.Lock()
	p, ok = s.items[key]
	if !ok {
		v := delta
		s.items[key] = &v
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	atomic.AddInt64(p, delta)
}

func (s *counterStore) get(key series) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

func (s *counterStore) snapshot() map[series]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[series]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

type histogramStore struct {
	mu    sync.RWMutex
	items map[series]*histogram
}

func newHistogramStore() *histogramStore {
	return &histogramStore{items: make(map[series]*histogram)}
}

func (s *histogramStore) getOrCreate(key series, boundaries []float64) *histogram {
	s.mu.RLock()
	h, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return h
	}
	s.mu.Lock()
	h, ok = s.items[key]
	if !ok {
		h = newHistogram(boundaries)
		s.items[key] = h
	}
	s.mu.Unlock()
	return h
}

func (s *histogramStore) get(key series) *histogram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[key]
}

func (s *histogramStore) snapshot() map[series]*histogram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[series]*histogram, len(s.items))
	for k, v := range s.items {
		cp[k] = v
	}
	return cp
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// DurationBuckets are the histogram boundaries in seconds. The upper range
// covers slow model calls.
var DurationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0,
}

// Provider holds every counter, gauge and histogram of the process.
type Provider struct {
	cfg Config

	counters   *counterStore
	gauges     *counterStore
	histograms *histogramStore

	shutdownOnce sync.Once
	done         chan struct{}
}

func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	return &Provider{
		cfg:        cfg,
		counters:   newCounterStore(),
		gauges:     newCounterStore(),
		histograms: newHistogramStore(),
		done:       make(chan struct{}),
	}
}

// Enabled reports whether samples are being recorded.
func (p *Provider) Enabled() bool {
	return p.cfg.metricsOn()
}

func (p *Provider) Shutdown(_ context.Context) error {
	p.shutdownOnce.Do(func() {
		close(p.done)
	})
	return nil
}

// Resource returns the service attributes attached to exported metrics.
func (p *Provider) Resource() map[string]string {
	return map[string]string{
		"service.name":           p.cfg.ServiceName,
		"service.version":        p.cfg.ServiceVersion,
		"deployment.environment": p.cfg.Environment,
	}
}

// Inc adds one to the counter name{labels}.
func (p *Provider) Inc(name string, labels ...Label) {
	p.Add(name, 1, labels...)
}

// Add adds delta to the counter name{labels}.
func (p *Provider) Add(name string, delta int64, labels ...Label) {
	if !p.cfg.metricsOn() || delta <= 0 {
		return
	}
	p.counters.add(newSeries(name, labels), delta)
}

// Observe records v in the histogram name{labels}.
func (p *Provider) Observe(name string, v float64, labels ...Label) {
	if !p.cfg.metricsOn() {
		return
	}
	p.histograms.getOrCreate(newSeries(name, labels), DurationBuckets).observe(v)
}

// Counter returns the current value of name{labels}.
func (p *Provider) Counter(name string, labels ...Label) int64 {
	return p.counters.get(newSeries(name, labels))
}

// HistogramCount returns how many values were observed for name{labels}.
func (p *Provider) HistogramCount(name string, labels ...Label) int64 {
	h := p.histograms.get(newSeries(name, labels))
	if h == nil {
		return 0
	}
	return h.Count()
}

// Gauge returns the current value of the named gauge.
func (p *Provider) Gauge(name string) int64 {
	return p.gauges.get(series{name: name})
}

// ---------------------------------------------------------------------------
// MetricsMiddleware
// ---------------------------------------------------------------------------

// MetricsMiddleware records request count, duration and in-flight requests.
// The route label is the registered pattern, not the raw path.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !p.cfg.metricsOn() {
				return next(c)
			}

			active := series{name: HTTPActive}
			p.gauges.add(active, 1)
			defer p.gauges.add(active, -1)

			start := time.Now()
			req := c.Request()

			err := next(c)

			duration := time.Since(start).Seconds()

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}

			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}

			labels := []Label{
				L("method", req.Method),
				L("route", route),
				L("status_code", strconv.Itoa(status)),
			}
			p.Inc(HTTPRequests, labels...)
			p.Observe(HTTPDuration, duration, labels...)

			return err
		}
	}
}

// ---------------------------------------------------------------------------
// PrometheusHandler
// ---------------------------------------------------------------------------

// PrometheusHandler serves every recorded metric at /metrics.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		counters := groupByName(p.counters.snapshot())
		for _, name := range sortedKeys(counters) {
			writeHeader(&b, name, "counter")
			for _, s := range counters[name] {
				fmt.Fprintf(&b, "%s%s %d\n", name, braces(s.labels), s.value)
			}
			b.WriteByte('\n')
		}

		writeHeader(&b, HTTPActive, "gauge")
		fmt.Fprintf(&b, "%s %d\n\n", HTTPActive, p.Gauge(HTTPActive))

		hists := make(map[string][]series)
		snap := p.histograms.snapshot()
		for key := range snap {
			hists[key.name] = append(hists[key.name], key)
		}
		for _, name := range sortedKeys(hists) {
			keys := hists[name]
			sort.Slice(keys, func(i, j int) bool { return keys[i].labels < keys[j].labels })
			writeHeader(&b, name, "histogram")
			for _, key := range keys {
				writeSingleHistogram(&b, name, key.labels, snap[key], DurationBuckets)
			}
			b.WriteByte('\n')
		}

		return c.String(http.StatusOK, b.String())
	}
}

type sample struct {
	labels string
	value  int64
}

func groupByName(snap map[series]int64) map[string][]sample {
	out := make(map[string][]sample)
	for k, v := range snap {
		out[k.name] = append(out[k.name], sample{labels: k.labels, value: v})
	}
	for _, samples := range out {
		sort.Slice(samples, func(i, j int) bool { return samples[i].labels < samples[j].labels })
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeHeader(b *strings.Builder, name, typ string) {
	if h, ok := help[name]; ok {
		fmt.Fprintf(b, "# HELP %s %s\n", name, h)
	}
	fmt.Fprintf(b, "# TYPE %s %s\n", name, typ)
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

func writeSingleHistogram(b *strings.Builder, name, labels string,
	h *histogram, boundaries []float64) {

	cum := h.cumulativeBuckets()
	total := h.Count()

	prefix := ""
	if labels != "" {
		prefix = labels + ","
	}

	for i, boundary := range boundaries {
		fmt.Fprintf(b, "%s_bucket{%sle=\"%g\"} %d\n", name, prefix, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%sle=\"+Inf\"} %d\n", name, prefix, total)
	fmt.Fprintf(b, "%s_sum%s %g\n", name, braces(labels), h.Sum())
	fmt.Fprintf(b, "%s_count%s %d\n", name, braces(labels), total)
}
