package sweeper

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dhawalhost/wardgate/pkg/observability"
)

func TestRunOnceRunsEveryJob(t *testing.T) {
	metrics := observability.NewMetrics(nil)
	s, err := New("@every 1m", metrics, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var order []string
	s.Add("requests", func(context.Context) (int, error) {
		order = append(order, "requests")
		return 2, nil
	})
	s.Add("assignments", func(context.Context) (int, error) {
		order = append(order, "assignments")
		return 0, errors.New("store down")
	})
	s.Add("audit", func(context.Context) (int, error) {
		order = append(order, "audit")
		panic("boom")
	})
	s.Add("policies", func(context.Context) (int, error) {
		order = append(order, "policies")
		return 0, nil
	})

	err = s.RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "assignments: store down") || !strings.Contains(err.Error(), "audit: panic: boom") {
		t.Fatalf("unexpected error %v", err)
	}
	if strings.Join(order, ",") != "requests,assignments,audit,policies" {
		t.Fatalf("jobs ran as %v", order)
	}

	for job, result := range map[string]string{"requests": "ok", "assignments": "error", "audit": "error", "policies": "ok"} {
		if got := testutil.ToFloat64(metrics.SweepRunsTotal.WithLabelValues(job, result)); got != 1 {
			t.Fatalf("%s/%s = %v, want 1", job, result, got)
		}
	}
	if got := strings.Join(s.Jobs(), ","); got != "requests,assignments,audit,policies" {
		t.Fatalf("Jobs() = %s", got)
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	if _, err := New("every minute", nil, nil); err == nil {
		t.Fatalf("expected an error for an invalid schedule")
	}
}

func TestStartRunsOnSchedule(t *testing.T) {
	s, err := New("@every 1s", nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var runs atomic.Int32
	ran := make(chan struct{}, 1)
	s.Add("tick", func(ctx context.Context) (int, error) {
		runs.Add(1)
		select {
		case ran <- struct{}{}:
		default:
		}
		return 1, nil
	})

	s.Start(context.Background())
	s.Start(context.Background())
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatalf("job did not run")
	}
	s.Stop()
	s.Stop()

	after := runs.Load()
	time.Sleep(1500 * time.Millisecond)
	if runs.Load() != after {
		t.Fatalf("job kept running after Stop")
	}
}
