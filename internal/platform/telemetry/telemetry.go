// Package telemetry instruments the ticket API without pulling in a metrics
// SDK: per-request span records for tracing, RED-style HTTP metrics, engine
// command counters and a live open-tickets gauge, all served in Prometheus
// text exposition format.
package telemetry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Config configures the provider. Zero values enable everything.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	DisableTracing bool
	DisableMetrics bool
	// SpanLimit caps the retained span records; older records are evicted
	// first. Defaults to 1024.
	SpanLimit int
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "clinicore-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.SpanLimit <= 0 {
		c.SpanLimit = 1024
	}
}

// SpanRecord is one finished request from the tracing middleware.
type SpanRecord struct {
	TraceID  string            `json:"trace_id"`
	Name     string            `json:"name"`
	Start    time.Time         `json:"start"`
	Duration time.Duration     `json:"duration_ns"`
	Error    bool              `json:"error"`
	Attrs    map[string]string `json:"attrs"`
}

// durationBuckets are the le boundaries, in seconds, for request latency.
var durationBuckets = []float64{0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0}

// sizeBuckets are the le boundaries, in bytes, for body sizes.
var sizeBuckets = []float64{100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000}

// histogram keeps cumulative le-bucket counts so export is a plain read.
type histogram struct {
	mu      sync.Mutex
	bounds  []float64
	buckets []int64 // cumulative, one per bound
	count   int64
	sum     float64
}

func newHistogram(bounds []float64) *histogram {
	return &histogram{bounds: bounds, buckets: make([]int64, len(bounds))}
}

func (h *histogram) observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.bounds {
		if v <= b {
			h.buckets[i]++
		}
	}
}

func (h *histogram) snapshot() (buckets []int64, count int64, sum float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buckets = make([]int64, len(h.buckets))
	copy(buckets, h.buckets)
	return buckets, h.count, h.sum
}

// Provider is the process-wide telemetry sink. The HTTP middlewares feed
// the request metrics; the ticket engine feeds the command counters and
// the open-tickets gauge through CountOperation and SetOpenTickets.
type Provider struct {
	cfg Config

	spanMu sync.Mutex
	spans  []SpanRecord
	spanAt int
	full   bool

	latency  map[string]*histogram // method|route|status
	latMu    sync.RWMutex
	reqSize  *histogram
	respSize *histogram
	inflight int64

	opMu sync.RWMutex
	ops  map[string]int64 // entity|operation

	openTickets int64

	closeOnce sync.Once
	closed    chan struct{}
}

func New(cfg Config) *Provider {
	cfg.applyDefaults()
	return &Provider{
		cfg:      cfg,
		spans:    make([]SpanRecord, cfg.SpanLimit),
		latency:  make(map[string]*histogram),
		reqSize:  newHistogram(sizeBuckets),
		respSize: newHistogram(sizeBuckets),
		ops:      make(map[string]int64),
		closed:   make(chan struct{}),
	}
}

func (p *Provider) Shutdown(_ context.Context) error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

// Resource returns the service identity attached to exported telemetry.
func (p *Provider) Resource() map[string]string {
	return map[string]string{
		"service.name":           p.cfg.ServiceName,
		"service.version":        p.cfg.ServiceVersion,
		"deployment.environment": p.cfg.Environment,
	}
}

// -- Engine-facing surface --

// CountOperation increments the command counter for a domain entity
// (ticket, message) and operation (assign, close, send, inbound).
func (p *Provider) CountOperation(entity, operation string) {
	key := entity + "|" + operation
	p.opMu.Lock()
	p.ops[key]++
	p.opMu.Unlock()
}

// Operation reads a command counter.
func (p *Provider) Operation(entity, operation string) int64 {
	p.opMu.RLock()
	defer p.opMu.RUnlock()
	return p.ops[entity+"|"+operation]
}

// SetOpenTickets records the number of live tickets on the board.
func (p *Provider) SetOpenTickets(n int64) {
	atomic.StoreInt64(&p.openTickets, n)
}

// OpenTickets reads the live-ticket gauge.
func (p *Provider) OpenTickets() int64 {
	return atomic.LoadInt64(&p.openTickets)
}

// -- Tracing --

// Spans returns the retained span records, oldest first.
func (p *Provider) Spans() []SpanRecord {
	p.spanMu.Lock()
	defer p.spanMu.Unlock()
	if !p.full {
		out := make([]SpanRecord, p.spanAt)
		copy(out, p.spans[:p.spanAt])
		return out
	}
	out := make([]SpanRecord, 0, len(p.spans))
	out = append(out, p.spans[p.spanAt:]...)
	out = append(out, p.spans[:p.spanAt]...)
	return out
}

func (p *Provider) record(s SpanRecord) {
	p.spanMu.Lock()
	p.spans[p.spanAt] = s
	p.spanAt++
	if p.spanAt == len(p.spans) {
		p.spanAt = 0
		p.full = true
	}
	p.spanMu.Unlock()
}

// TracingMiddleware records one span per request: route pattern, status,
// duration and the calling clinic.
func (p *Provider) TracingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if p.cfg.DisableTracing {
				return next(c)
			}

			start := time.Now()
			err := next(c)

			req := c.Request()
			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			status := c.Response().Status

			attrs := map[string]string{
				"http.method":      req.Method,
				"http.route":       route,
				"http.status_code": strconv.Itoa(status),
			}
			if clinic, ok := c.Get("clinic_id").(string); ok && clinic != "" {
				attrs["clinic.id"] = clinic
			}
			if ticketID := c.Param("id"); ticketID != "" && strings.HasPrefix(route, "/api/v1/tickets") {
				attrs["ticket.id"] = ticketID
			}

			p.record(SpanRecord{
				TraceID:  newTraceID(),
				Name:     req.Method + " " + route,
				Start:    start,
				Duration: time.Since(start),
				Error:    status >= 500,
				Attrs:    attrs,
			})
			return err
		}
	}
}

// -- HTTP metrics --

// MetricsMiddleware tracks request latency, in-flight requests and body
// sizes per method, route pattern and status.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if p.cfg.DisableMetrics {
				return next(c)
			}

			atomic.AddInt64(&p.inflight, 1)
			start := time.Now()
			err := next(c)
			elapsed := time.Since(start).Seconds()
			atomic.AddInt64(&p.inflight, -1)

			req := c.Request()
			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			key := req.Method + "|" + route + "|" + strconv.Itoa(c.Response().Status)
			p.latencyFor(key).observe(elapsed)

			if req.ContentLength > 0 {
				p.reqSize.observe(float64(req.ContentLength))
			}
			if size := c.Response().Size; size > 0 {
				p.respSize.observe(float64(size))
			}
			return err
		}
	}
}

func (p *Provider) latencyFor(key string) *histogram {
	p.latMu.RLock()
	h, ok := p.latency[key]
	p.latMu.RUnlock()
	if ok {
		return h
	}
	p.latMu.Lock()
	defer p.latMu.Unlock()
	if h, ok = p.latency[key]; !ok {
		h = newHistogram(durationBuckets)
		p.latency[key] = h
	}
	return h
}

// RequestCount reads the number of finished requests for one
// method/route/status combination.
func (p *Provider) RequestCount(method, route string, status int) int64 {
	p.latMu.RLock()
	h, ok := p.latency[method+"|"+route+"|"+strconv.Itoa(status)]
	p.latMu.RUnlock()
	if !ok {
		return 0
	}
	_, count, _ := h.snapshot()
	return count
}

// Inflight reads the number of requests currently being served.
func (p *Provider) Inflight() int64 {
	return atomic.LoadInt64(&p.inflight)
}

// -- Prometheus export --

// PrometheusHandler serves every metric the provider holds in text
// exposition format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		b.WriteString("# HELP http_server_request_duration_seconds Request latency by method, route and status.\n")
		b.WriteString("# TYPE http_server_request_duration_seconds histogram\n")
		p.latMu.RLock()
		keys := make([]string, 0, len(p.latency))
		for k := range p.latency {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts := strings.SplitN(k, "|", 3)
			labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
			writeHistogram(&b, "http_server_request_duration_seconds", labels, p.latency[k])
		}
		p.latMu.RUnlock()
		b.WriteByte('\n')

		writeGauge(&b, "http_server_active_requests",
			"Requests currently being served.", p.Inflight())

		b.WriteString("# HELP http_server_request_size_bytes Request body sizes.\n")
		b.WriteString("# TYPE http_server_request_size_bytes histogram\n")
		writeHistogram(&b, "http_server_request_size_bytes", "", p.reqSize)
		b.WriteByte('\n')

		b.WriteString("# HELP http_server_response_size_bytes Response body sizes.\n")
		b.WriteString("# TYPE http_server_response_size_bytes histogram\n")
		writeHistogram(&b, "http_server_response_size_bytes", "", p.respSize)
		b.WriteByte('\n')

		b.WriteString("# HELP ticket_operations_total Engine commands by entity and operation.\n")
		b.WriteString("# TYPE ticket_operations_total counter\n")
		p.opMu.RLock()
		opKeys := make([]string, 0, len(p.ops))
		for k := range p.ops {
			opKeys = append(opKeys, k)
		}
		sort.Strings(opKeys)
		for _, k := range opKeys {
			parts := strings.SplitN(k, "|", 2)
			fmt.Fprintf(&b, "ticket_operations_total{entity=%q,operation=%q} %d\n",
				parts[0], parts[1], p.ops[k])
		}
		p.opMu.RUnlock()
		b.WriteByte('\n')

		writeGauge(&b, "tickets_open_total",
			"Tickets currently pending, open or waiting.", p.OpenTickets())

		return c.String(http.StatusOK, b.String())
	}
}

func writeGauge(b *strings.Builder, name, help string, v int64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	fmt.Fprintf(b, "%s %d\n\n", name, v)
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	buckets, count, sum := h.snapshot()
	sep := ""
	if labels != "" {
		sep = ","
	}
	for i, bound := range h.bounds {
		fmt.Fprintf(b, "%s_bucket{%s%sle=\"%g\"} %d\n", name, labels, sep, bound, buckets[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s%sle=\"+Inf\"} %d\n", name, labels, sep, count)
	if labels != "" {
		fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, sum)
		fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, count)
	} else {
		fmt.Fprintf(b, "%s_sum %g\n", name, sum)
		fmt.Fprintf(b, "%s_count %d\n", name, count)
	}
}

func newTraceID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
