package metrics

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeExport struct{ text string }

func (f fakeExport) WriteLast(w io.Writer) error {
	_, err := io.WriteString(w, f.text)
	return err
}

func startTestServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	s := NewServer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestServer_Endpoints(t *testing.T) {
	registry := prometheus.NewRegistry()
	c := NewCollectorWithRegistry(CollectorConfig{Version: "1.0.0", Host: "host1"}, registry)
	c.CheckDispatched()

	var ready atomic.Bool
	s := startTestServer(t, ServerConfig{
		Gatherer: registry,
		Export:   fakeExport{text: "check_status{service=\"svc\"} 0\n"},
		Ready:    ready.Load,
	})
	base := "http://" + s.Addr()

	code, body := get(t, base+"/metrics")
	if code != http.StatusOK || !strings.Contains(body, "agent_checks_dispatched_total 1") {
		t.Errorf("/metrics = %d %q", code, body)
	}

	for _, path := range []string{"/health", "/healthz"} {
		if code, _ := get(t, base+path); code != http.StatusOK {
			t.Errorf("%s = %d, want 200", path, code)
		}
	}

	if code, _ := get(t, base+"/ready"); code != http.StatusServiceUnavailable {
		t.Errorf("/ready before ready = %d, want 503", code)
	}
	ready.Store(true)
	if code, _ := get(t, base+"/readyz"); code != http.StatusOK {
		t.Errorf("/readyz = %d, want 200", code)
	}

	code, body = get(t, base+"/export")
	if code != http.StatusOK || !strings.Contains(body, `check_status{service="svc"} 0`) {
		t.Errorf("/export = %d %q", code, body)
	}
}

func TestServer_NoExport(t *testing.T) {
	s := startTestServer(t, ServerConfig{Gatherer: prometheus.NewRegistry()})
	if code, _ := get(t, "http://"+s.Addr()+"/export"); code != http.StatusNotFound {
		t.Errorf("/export without source = %d, want 404", code)
	}
}

func TestServer_ListenError(t *testing.T) {
	first := startTestServer(t, ServerConfig{Gatherer: prometheus.NewRegistry()})

	second := NewServer(ServerConfig{Addr: first.Addr()}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := second.Start(); err == nil {
		t.Error("Start() on a bound address should fail")
	}
}
