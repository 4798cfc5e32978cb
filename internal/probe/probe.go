// Package probe routes requests to the resource-limit triggers.
//
// The triggers are deliberately unbounded: memory growth has no cap and the
// runtime wait ignores client disconnects. Enforcement belongs to the host.
package probe

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/0xReLogic/limitprobe/internal/limits"
	"github.com/0xReLogic/limitprobe/internal/logging"
	"github.com/0xReLogic/limitprobe/internal/ratelimit"
)

const (
	PathRoot         = "/"
	PathMemoryLimit  = "/test_memory_limit"
	PathRuntimeLimit = "/test_runtime_limit"
	PathLogLevels    = "/test_log_levels"
	PathVCPULimit    = "/test_vcpu_limit"
	PathPanic        = "/panic"
)

const (
	defaultRuntime = 5 * time.Minute
	defaultVCPU    = 100 * time.Millisecond
)

var (
	// ErrSimulated is raised and caught by the log-levels trigger.
	ErrSimulated = errors.New("simulated exception")
	// ErrSimulatedPanic is the value /panic panics with.
	ErrSimulatedPanic = errors.New("simulated panic")
)

var (
	triggersStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "limitprobe_triggers_started_total",
		Help: "Resource-limit triggers started",
	}, []string{"trigger"})
	triggersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "limitprobe_triggers_active",
		Help: "Resource-limit triggers currently running",
	}, []string{"trigger"})
	rateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "limitprobe_rate_limited_total",
		Help: "Trigger requests rejected by the rate limiter",
	}, []string{"route"})
)

// Options configures a Handler. Zero values fall back to defaults.
type Options struct {
	Endpoints    *logging.Endpoints
	EndpointName string
	Console      *zap.Logger

	RuntimeDuration time.Duration
	Tick            time.Duration
	VCPUDuration    time.Duration
	Clock           limits.Clock

	Limiter *ratelimit.RateLimiter

	// ConsumeMemory replaces the memory trigger; nil means limits.ConsumeMemory.
	ConsumeMemory func()
}

// Handler dispatches on the exact request path.
type Handler struct {
	endpoints     *logging.Endpoints
	endpointName  string
	console       *zap.Logger
	runtime       time.Duration
	tick          time.Duration
	vcpu          time.Duration
	clock         limits.Clock
	limiter       *ratelimit.RateLimiter
	consumeMemory func()
}

// New builds a Handler from opts.
func New(opts Options) (*Handler, error) {
	h := &Handler{
		endpoints:     opts.Endpoints,
		endpointName:  opts.EndpointName,
		console:       opts.Console,
		runtime:       opts.RuntimeDuration,
		tick:          opts.Tick,
		vcpu:          opts.VCPUDuration,
		clock:         opts.Clock,
		limiter:       opts.Limiter,
		consumeMemory: opts.ConsumeMemory,
	}
	if h.endpoints == nil {
		eps, err := logging.NewEndpoints(nil, nil)
		if err != nil {
			return nil, fmt.Errorf("default endpoints: %w", err)
		}
		h.endpoints = eps
	}
	if h.endpointName == "" {
		h.endpointName = logging.DefaultEndpoint
	}
	if h.console == nil {
		h.console = logging.Console()
	}
	if h.runtime <= 0 {
		h.runtime = defaultRuntime
	}
	if h.tick <= 0 {
		h.tick = limits.DefaultTick
	}
	if h.vcpu <= 0 {
		h.vcpu = defaultVCPU
	}
	if h.clock == nil {
		h.clock = limits.WallClock()
	}
	if h.consumeMemory == nil {
		h.consumeMemory = limits.ConsumeMemory
	}
	return h, nil
}

// IsTrigger reports whether path starts a resource trigger.
func IsTrigger(path string) bool {
	switch path {
	case PathMemoryLimit, PathRuntimeLimit, PathLogLevels, PathVCPULimit, PathPanic:
		return true
	}
	return false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if IsTrigger(path) && !h.limiter.Allow(path) {
		rateLimitedTotal.WithLabelValues(path).Inc()
		logging.LogRateLimited(r.Context(), path)
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	ep := h.endpoints.Open(h.endpointName)

	switch path {
	case PathRoot:
		ep.Log(requestRecord(r))
		writeText(w, http.StatusOK, "OK")

	case PathMemoryLimit:
		ep.Log("Starting memory consumption test")
		done := h.track("memory")
		h.consumeMemory()
		done()
		// Only reachable when ConsumeMemory was replaced.
		ep.Log("Finished memory consumption test")
		writeText(w, http.StatusOK, "OK")

	case PathRuntimeLimit:
		ep.Log(fmt.Sprintf("Starting to execute for %s", formatMinutes(h.runtime)))
		done := h.track("runtime")
		elapsed, ticks := limits.RunFor(h.clock, h.runtime, h.tick)
		done()
		ep.Log(fmt.Sprintf("Finished executing after %s (%d ticks)", elapsed.Round(time.Millisecond), ticks))
		// No explicit response on this path.

	case PathLogLevels:
		ep.Log("Generating logs ...")
		h.generateLogs(w)

	case PathVCPULimit:
		ep.Log("Starting vCPU consumption limit test...")
		done := h.track("vcpu")
		n := limits.SpinFor(h.clock, h.vcpu)
		done()
		ep.Log(fmt.Sprintf("Finished vCPU consumption limit test. Result: %d", n))
		writeText(w, http.StatusOK, "vCPU consumption limit test\n")

	case PathPanic:
		ep.Log("Testing panic")
		triggersStarted.WithLabelValues("panic").Inc()
		panic(ErrSimulatedPanic)

	default:
		writeText(w, http.StatusOK, "OK")
	}
}

// generateLogs writes one console line per severity, then raises, catches
// and logs a simulated error and answers 500.
func (h *Handler) generateLogs(w http.ResponseWriter) {
	h.console.Error("This is an error log")
	h.console.Warn("This is a warning log")
	h.console.Info("This is an info log")

	if err := simulateFailure(); err != nil {
		h.console.Error("Exception occurred", zap.Error(err))
		writeText(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func simulateFailure() error {
	return ErrSimulated
}

// ReportPanic logs a recovered panic to the probe's endpoint.
func (h *Handler) ReportPanic(r *http.Request, v interface{}) {
	ep := h.endpoints.Open(h.endpointName)
	ep.Log(fmt.Sprintf("panicked at %s %s: %v", r.Method, r.URL.Path, v))
}

func (h *Handler) track(trigger string) func() {
	triggersStarted.WithLabelValues(trigger).Inc()
	g := triggersActive.WithLabelValues(trigger)
	g.Inc()
	return g.Dec
}

type record struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

func requestRecord(r *http.Request) string {
	// Two string fields cannot fail to marshal.
	b, _ := json.Marshal(record{Method: r.Method, URL: requestURL(r)})
	return string(b)
}

// requestURL rebuilds the absolute URL the client asked for.
func requestURL(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func formatMinutes(d time.Duration) string {
	if d%time.Minute == 0 {
		m := int(d / time.Minute)
		if m == 1 {
			return "1 min"
		}
		return fmt.Sprintf("%d min", m)
	}
	return d.String()
}
