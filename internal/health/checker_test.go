package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestCheckAll_healthyProbe(t *testing.T) {
	checker := New([]Probe{
		{Name: "database", Ping: func(context.Context) error { return nil }},
	}, Config{}, zap.NewNop())

	checker.CheckAll(context.Background())

	statuses, ready := checker.Snapshot()
	if !ready {
		t.Error("expected ready")
	}
	if !statuses["database"].Healthy {
		t.Error("expected database healthy")
	}
}

func TestCheckAll_degradesAfterThreshold(t *testing.T) {
	checker := New([]Probe{
		{Name: "database", Ping: func(context.Context) error { return errors.New("connection refused") }},
	}, Config{FailThreshold: 3}, zap.NewNop())

	ctx := context.Background()

	// Two failures stay under the threshold.
	checker.CheckAll(ctx)
	checker.CheckAll(ctx)
	if _, ready := checker.Snapshot(); !ready {
		t.Fatal("expected ready before threshold")
	}

	// Third failure crosses it.
	checker.CheckAll(ctx)
	statuses, ready := checker.Snapshot()
	if ready {
		t.Error("expected not ready after threshold")
	}
	if statuses["database"].LastError == "" {
		t.Error("expected last error to be recorded")
	}
}

func TestCheckAll_recovers(t *testing.T) {
	var fail bool
	checker := New([]Probe{
		{Name: "objectstore", Ping: func(context.Context) error {
			if fail {
				return errors.New("timeout")
			}
			return nil
		}},
	}, Config{FailThreshold: 1}, zap.NewNop())

	ctx := context.Background()

	fail = true
	checker.CheckAll(ctx)
	if _, ready := checker.Snapshot(); ready {
		t.Fatal("expected not ready while failing")
	}

	fail = false
	checker.CheckAll(ctx)
	if _, ready := checker.Snapshot(); !ready {
		t.Error("expected ready after recovery")
	}
}

func TestCheckAll_probeTimeout(t *testing.T) {
	checker := New([]Probe{
		{Name: "slow", Ping: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	}, Config{ProbeTimeout: 10 * time.Millisecond, FailThreshold: 1}, zap.NewNop())

	checker.CheckAll(context.Background())

	if _, ready := checker.Snapshot(); ready {
		t.Error("expected slow probe to count as failure")
	}
}
