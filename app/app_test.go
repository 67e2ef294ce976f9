package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/searchktools/webserver/config"
	"github.com/searchktools/webserver/core"
	"github.com/searchktools/webserver/core/http"
)

var hello = core.HandlerFunc(func(c *core.Connection, msgs []*http.IncomingMessage) {
	for _, m := range msgs {
		c.SendMessage(http.OK("", "hello "+m.Path(), m.IsPersistent()))
	}
})

func testConfig(t *testing.T, extra ...string) *config.Config {
	t.Helper()
	args := append([]string{
		"-host", "127.0.0.1",
		"-port", "0",
		"-workers", "2",
		"-poll-timeout", "10ms",
		"-listener-poll-timeout", "10ms",
		"-log-level", "error",
	}, extra...)
	cfg, err := config.Parse(args)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return cfg
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	if err := fasthttp.DoTimeout(req, resp, 2*time.Second); err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	return resp.StatusCode(), string(resp.Body())
}

func startApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(cfg, hello)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return a
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	a.Stop()
	if err := a.Wait(); err != nil {
		t.Errorf("Expected nil from Wait, got %v", err)
	}
}

func TestApp_ServesAndExportsMetrics(t *testing.T) {
	a := startApp(t, testConfig(t, "-metrics-addr", "127.0.0.1:0"))
	defer stopApp(t, a)

	addr, err := a.Pool().Address()
	if err != nil {
		t.Fatalf("Address failed: %v", err)
	}
	code, body := get(t, fmt.Sprintf("http://127.0.0.1:%d/world", addr.Port()))
	if code != 200 || body != "hello /world" {
		t.Errorf("Expected 200 hello /world, got %d %q", code, body)
	}

	metricsURL := "http://" + a.MetricsAddress() + "/metrics"
	deadline := time.Now().Add(2 * time.Second)
	for {
		code, body = get(t, metricsURL)
		if strings.Contains(body, `webserver_served_requests_total{code="200"} 1`) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected the served counter in metrics, got status %d:\n%s", code, body)
		}
		time.Sleep(10 * time.Millisecond)
	}
	for _, name := range []string{"webserver_traffic_in_bytes_total", `webserver_sustained_rate{window="5m"}`, "go_goroutines"} {
		if !strings.Contains(body, name) {
			t.Errorf("Expected metrics to contain %s", name)
		}
	}
	if n := a.Status().Served(http.StatusOK); n != 1 {
		t.Errorf("Expected 1 served request, got %d", n)
	}
}

func TestApp_ServesStatusSnapshot(t *testing.T) {
	a := startApp(t, testConfig(t, "-metrics-addr", "127.0.0.1:0"))
	defer stopApp(t, a)

	addr, err := a.Pool().Address()
	if err != nil {
		t.Fatalf("Address failed: %v", err)
	}
	if code, _ := get(t, fmt.Sprintf("http://127.0.0.1:%d/snap", addr.Port())); code != 200 {
		t.Fatalf("Expected 200, got %d", code)
	}

	statusURL := "http://" + a.MetricsAddress() + "/status"
	deadline := time.Now().Add(2 * time.Second)
	for {
		code, body := get(t, statusURL)
		if code == 200 && strings.Contains(body, `"200 OK": 1`) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected the served count in the JSON snapshot, got status %d:\n%s", code, body)
		}
		time.Sleep(10 * time.Millisecond)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI(statusURL)
	req.Header.Set(fasthttp.HeaderAccept, "application/x-protobuf")
	if err := fasthttp.DoTimeout(req, resp, 2*time.Second); err != nil {
		t.Fatalf("GET %s failed: %v", statusURL, err)
	}
	if ct := string(resp.Header.ContentType()); ct != "application/x-protobuf" {
		t.Errorf("Expected protobuf content type, got %q", ct)
	}

	var snapshot structpb.Struct
	if err := proto.Unmarshal(resp.Body(), &snapshot); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	served := snapshot.GetFields()["served"].GetStructValue()
	if n := served.GetFields()["200 OK"].GetNumberValue(); n != 1 {
		t.Errorf("Expected 1 served request in the protobuf snapshot, got %v", n)
	}
}

func TestApp_MetricsDisabled(t *testing.T) {
	a := startApp(t, testConfig(t))
	defer stopApp(t, a)

	if a.MetricsAddress() != "" {
		t.Errorf("Expected no metrics endpoint, got %s", a.MetricsAddress())
	}
}

func TestApp_ReloadsLogLevel(t *testing.T) {
	file := filepath.Join(t.TempDir(), "app.json")
	if err := os.WriteFile(file, []byte(`{"log_level": "error"}`), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	a := startApp(t, testConfig(t, "-config", file))
	defer stopApp(t, a)

	deadline := time.Now().Add(3 * time.Second)
	for a.Logger().GetLevel() != logrus.DebugLevel {
		if time.Now().After(deadline) {
			t.Fatalf("Expected the log level to follow the file, still %s", a.Logger().GetLevel())
		}
		if err := os.WriteFile(file, []byte(`{"log_level": "debug"}`), 0644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestApp_Lifecycle(t *testing.T) {
	a, err := New(testConfig(t), hello)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := a.Wait(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	done := make(chan error, 1)
	go func() { done <- a.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil from Wait, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("App did not stop after the context was cancelled")
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backlog = cfg.MaxConnects
	if _, err := New(cfg, hello); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}
