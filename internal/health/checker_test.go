package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestCheckerAggregatesStatuses(t *testing.T) {
	checker := NewChecker()
	checker.Register(Check{
		Name:     "ok",
		Critical: true,
		Run:      func(context.Context) error { return nil },
	})
	checker.Register(Check{
		Name: "flaky",
		Run:  func(context.Context) error { return errors.New("boom") },
	})

	report := checker.RunAll(context.Background())
	if report.Status != StatusDegraded {
		t.Fatalf("expected degraded report, got %s", report.Status)
	}
	if !report.Healthy() {
		t.Fatalf("non-critical failure should stay ready")
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected 2 check results, got %d", len(report.Checks))
	}
}

func TestCheckerCriticalFailureIsUnhealthy(t *testing.T) {
	checker := NewChecker()
	checker.Register(Check{
		Name:     "db",
		Critical: true,
		Run:      func(context.Context) error { return errors.New("down") },
	})

	report := checker.RunAll(context.Background())
	if report.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy report, got %s", report.Status)
	}
	if report.Healthy() {
		t.Fatalf("critical failure must flip readiness")
	}
}

func TestCheckerAppliesTimeout(t *testing.T) {
	checker := NewChecker()
	checker.Register(Check{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
				return nil
			}
		},
	})

	start := time.Now()
	report := checker.RunAll(context.Background())
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("checker did not honor per-check timeout")
	}
	if report.Status != StatusDegraded {
		t.Fatalf("timed out non-critical check should degrade, got %s", report.Status)
	}
}

func TestRedisCheck(t *testing.T) {
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	if err := Redis(client)(context.Background()); err != nil {
		t.Fatalf("redis check against live server: %v", err)
	}
	srv.Close()
	if err := Redis(client)(context.Background()); err == nil {
		t.Fatalf("expected redis check failure after shutdown")
	}
}

func TestExternalHTTPCheck(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	if err := ExternalHTTP(nil, upstream.URL)(context.Background()); err != nil {
		t.Fatalf("external check against 200 upstream: %v", err)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	if err := ExternalHTTP(nil, failing.URL)(context.Background()); err == nil {
		t.Fatalf("expected external check failure on 503")
	}
}
