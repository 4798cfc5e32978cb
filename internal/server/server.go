package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/0xReLogic/limitprobe/internal/logging"
	"github.com/0xReLogic/limitprobe/internal/tracing"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "limitprobe_http_requests_total",
			Help: "Total number of HTTP requests handled by limitprobe",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "limitprobe_http_request_latency_seconds",
			Help:    "Latency of HTTP requests handled by limitprobe",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	httpPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "limitprobe_http_panics_total",
			Help: "Handler panics recovered by limitprobe",
		},
	)
)

// PanicReporter receives recovered handler panics.
type PanicReporter func(r *http.Request, v interface{})

// Server serves the probe handler and, optionally, Prometheus metrics on a
// separate listener.
type Server struct {
	ListenAddr  string
	MetricsAddr string // empty disables the metrics listener
	Handler     http.Handler
	OnPanic     PanicReporter
	// KnownPaths bounds the path label; anything else is recorded as "other".
	KnownPaths []string

	probe     *http.Server
	probeLn   net.Listener
	metrics   *http.Server
	metricsLn net.Listener
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	size        int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

func (s *Server) pathLabel(path string) string {
	for _, p := range s.KnownPaths {
		if p == path {
			return path
		}
	}
	return "other"
}

// Recover turns handler panics into 500 responses and reports them.
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func Recover(next http.Handler, report PanicReporter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(v)
			}
			httpPanicsTotal.Inc()
			logging.LogError("handler_panic", map[string]interface{}{
				"path":  r.URL.Path,
				"panic": fmt.Sprint(v),
			})
			if report != nil {
				report(r, v)
			}
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// Instrument wraps next with a span, metrics and a structured access log.
func (s *Server) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracing.StartSpan(r.Context(), "http_request")
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
			attribute.String("http.user_agent", r.UserAgent()),
		)
		r = r.WithContext(ctx)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		latency := time.Since(start)

		span.SetAttributes(
			attribute.Int("http.status_code", rec.status),
			attribute.Int64("http.response.size", int64(rec.size)),
			attribute.Float64("http.duration_ms", float64(latency.Milliseconds())),
		)
		if rec.status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		} else {
			span.SetStatus(codes.Ok, "")
		}

		status := strconv.Itoa(rec.status)
		logging.LogHTTPRequest(ctx, r.Method, r.URL.Path, status, latency.Milliseconds(), int64(rec.size))

		label := s.pathLabel(r.URL.Path)
		httpRequestsTotal.WithLabelValues(r.Method, label, status).Inc()
		httpRequestLatency.WithLabelValues(r.Method, label).Observe(latency.Seconds())
	})
}

// Routes returns the full handler chain for the probe listener.
func (s *Server) Routes() http.Handler {
	return s.Instrument(Recover(s.Handler, s.OnPanic))
}

// Listen binds the probe listener and, when MetricsAddr is set, the metrics
// listener. It must be called before Serve and Shutdown.
func (s *Server) Listen() error {
	probeLn, err := net.Listen("tcp", s.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.ListenAddr, err)
	}
	s.probeLn = probeLn
	s.probe = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.MetricsAddr != "" {
		metricsLn, err := net.Listen("tcp", s.MetricsAddr)
		if err != nil {
			probeLn.Close()
			return fmt.Errorf("listen %s: %w", s.MetricsAddr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		s.metricsLn = metricsLn
		s.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}
	return nil
}

// Addr returns the bound probe address.
func (s *Server) Addr() string {
	if s.probeLn == nil {
		return s.ListenAddr
	}
	return s.probeLn.Addr().String()
}

// MetricsListenAddr returns the bound metrics address, or "" when disabled.
func (s *Server) MetricsListenAddr() string {
	if s.metricsLn == nil {
		return ""
	}
	return s.metricsLn.Addr().String()
}

// Serve blocks until the listeners stop. It returns the first serve error
// other than http.ErrServerClosed.
func (s *Server) Serve() error {
	if s.probe == nil {
		return errors.New("server: Serve called before Listen")
	}
	errCh := make(chan error, 2)

	if s.metrics != nil {
		logging.LogHTTPServerStart("metrics", s.metricsLn.Addr().String())
		go func() { errCh <- s.metrics.Serve(s.metricsLn) }()
	}

	logging.LogHTTPServerStart("probe", s.probeLn.Addr().String())
	go func() { errCh <- s.probe.Serve(s.probeLn) }()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// expires. A trigger still running at that point ends with the process.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.metrics != nil {
		if err := s.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if s.probe != nil {
		if err := s.probe.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("probe server: %w", err))
		}
	}
	return errors.Join(errs...)
}
