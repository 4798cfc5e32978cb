package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/0xReLogic/limitprobe/internal/logging"
	"github.com/0xReLogic/limitprobe/internal/probe"
)

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	logging.SetLogger(zap.New(core))
	t.Cleanup(func() { logging.SetLogger(nil) })
	return logs
}

func TestRecoverReturns500AndReports(t *testing.T) {
	observeLogs(t)
	var reported interface{}
	h := Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), func(r *http.Request, v interface{}) { reported = v })

	before := testutil.ToFloat64(httpPanicsTotal)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if reported != "boom" {
		t.Errorf("expected panic value to be reported, got %v", reported)
	}
	if got := testutil.ToFloat64(httpPanicsTotal) - before; got != 1 {
		t.Errorf("expected panic counter +1, got %v", got)
	}
}

func TestRecoverReraisesAbortHandler(t *testing.T) {
	observeLogs(t)
	h := Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}), nil)

	defer func() {
		if v := recover(); v != http.ErrAbortHandler {
			t.Fatalf("expected ErrAbortHandler to propagate, got %v", v)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestInstrumentLogsAndCounts(t *testing.T) {
	logs := observeLogs(t)
	s := &Server{KnownPaths: []string{"/"}}
	h := s.Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("tea"))
	}))

	counter := httpRequestsTotal.WithLabelValues(http.MethodGet, "other", "418")
	before := testutil.ToFloat64(counter)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/unlisted", nil))

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("expected request counter +1 for path label other, got %v", got)
	}
	entries := logs.FilterMessage("http_request").AllUntimed()
	if len(entries) != 1 {
		t.Fatalf("expected one access log line, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["status"] != "418" || fields["size_bytes"] != int64(3) || fields["path"] != "/unlisted" {
		t.Errorf("unexpected access log fields: %v", fields)
	}
}

func TestStatusRecorderKeepsFirstStatus(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	rec.WriteHeader(http.StatusInternalServerError)
	rec.WriteHeader(http.StatusOK)
	if rec.status != http.StatusInternalServerError {
		t.Errorf("expected first status to stick, got %d", rec.status)
	}
}

func TestServerEndToEnd(t *testing.T) {
	observeLogs(t)
	core, endpointLogs := observer.New(zap.DebugLevel)
	eps, err := logging.NewEndpoints(core, nil)
	if err != nil {
		t.Fatalf("NewEndpoints failed: %v", err)
	}
	h, err := probe.New(probe.Options{Endpoints: eps, Console: zap.NewNop()})
	if err != nil {
		t.Fatalf("probe.New failed: %v", err)
	}

	s := &Server{
		ListenAddr:  "127.0.0.1:0",
		MetricsAddr: "127.0.0.1:0",
		Handler:     h,
		OnPanic:     h.ReportPanic,
		KnownPaths:  []string{probe.PathRoot, probe.PathPanic},
	}
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Serve() }()

	client := &http.Client{Timeout: 5 * time.Second}
	base := "http://" + s.Addr()

	get := func(url string) (int, string) {
		t.Helper()
		resp, err := client.Get(url)
		if err != nil {
			t.Fatalf("GET %s: %v", url, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	if code, body := get(base + "/"); code != http.StatusOK || body != "OK" {
		t.Errorf("/: expected 200 OK, got %d %q", code, body)
	}
	if code, body := get(base + "/foo"); code != http.StatusOK || body != "OK" {
		t.Errorf("/foo: expected 200 OK, got %d %q", code, body)
	}
	if code, _ := get(base + "/panic"); code != http.StatusInternalServerError {
		t.Errorf("/panic: expected 500, got %d", code)
	}
	if code, _ := get(base + "/test_log_levels"); code != http.StatusInternalServerError {
		t.Errorf("/test_log_levels: expected 500, got %d", code)
	}
	if code, body := get("http://" + s.MetricsListenAddr() + "/metrics"); code != http.StatusOK || !strings.Contains(body, "limitprobe_http_requests_total") {
		t.Errorf("metrics: expected request counter, got %d", code)
	}

	reports := endpointLogs.FilterMessageSnippet("panicked at GET /panic").Len()
	if reports != 1 {
		t.Errorf("expected one panic report on the endpoint, got %d", reports)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Serve returned %v", err)
	}
}

func TestServeBeforeListen(t *testing.T) {
	if err := (&Server{}).Serve(); err == nil {
		t.Fatal("expected error when Serve is called before Listen")
	}
}
