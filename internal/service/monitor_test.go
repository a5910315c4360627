package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingScanner struct {
	calls atomic.Int32
	err   error
}

func (c *countingScanner) ScanAll(ctx context.Context) ([]ScanResult, error) {
	c.calls.Add(1)
	return nil, c.err
}

func TestMonitorService_RunScansUntilCanceled(t *testing.T) {
	sc := &countingScanner{}
	m := NewMonitorService(sc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for sc.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d scans before deadline", sc.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMonitorService_KeepsGoingAfterErrors(t *testing.T) {
	sc := &countingScanner{err: errors.New("db locked")}
	m := NewMonitorService(sc, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	m.Run(ctx, 10*time.Millisecond)

	if sc.calls.Load() < 2 {
		t.Fatalf("scans = %d; want the loop to survive errors", sc.calls.Load())
	}
}

func TestMonitorService_ZeroIntervalIsDisabled(t *testing.T) {
	sc := &countingScanner{}
	NewMonitorService(sc, nil).Run(context.Background(), 0)
	if sc.calls.Load() != 0 {
		t.Fatal("zero interval must not scan")
	}
}
