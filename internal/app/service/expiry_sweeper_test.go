package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type mockSweepable struct {
	expireDueFn      func(ctx context.Context, batch int) (int, error)
	purgeFilesFn     func(ctx context.Context, batch int) (int, error)
	purgeAnonymousFn func(ctx context.Context, olderThan time.Duration, batch int) (int64, error)
}

func (m *mockSweepable) ExpireDue(ctx context.Context, batch int) (int, error) {
	if m.expireDueFn != nil {
		return m.expireDueFn(ctx, batch)
	}
	return 0, nil
}

func (m *mockSweepable) PurgeFiles(ctx context.Context, batch int) (int, error) {
	if m.purgeFilesFn != nil {
		return m.purgeFilesFn(ctx, batch)
	}
	return 0, nil
}

func (m *mockSweepable) PurgeAnonymous(ctx context.Context, olderThan time.Duration, batch int) (int64, error) {
	if m.purgeAnonymousFn != nil {
		return m.purgeAnonymousFn(ctx, olderThan, batch)
	}
	return 0, nil
}

func TestExpirySweeper_SweepRunsEveryStep(t *testing.T) {
	var calls []string
	target := &mockSweepable{
		expireDueFn: func(ctx context.Context, batch int) (int, error) {
			if batch != 50 {
				t.Fatalf("expected batch 50, got %d", batch)
			}
			calls = append(calls, "expire")
			return 0, errors.New("boom")
		},
		purgeFilesFn: func(ctx context.Context, batch int) (int, error) {
			calls = append(calls, "files")
			return 2, nil
		},
		purgeAnonymousFn: func(ctx context.Context, olderThan time.Duration, batch int) (int64, error) {
			if olderThan != time.Hour {
				t.Fatalf("expected retention 1h, got %s", olderThan)
			}
			calls = append(calls, "anonymous")
			return 1, nil
		},
	}

	s := NewExpirySweeper(zap.NewNop(), target, NewMetrics(nil), SweeperConfig{
		Interval:            time.Minute,
		BatchSize:           50,
		PurgeAnonymousAfter: time.Hour,
	})
	s.Sweep(context.Background())

	if len(calls) != 3 || calls[0] != "expire" || calls[1] != "files" || calls[2] != "anonymous" {
		t.Fatalf("unexpected call order: %v", calls)
	}
}

func TestExpirySweeper_StartStop(t *testing.T) {
	var sweeps atomic.Int32
	target := &mockSweepable{
		expireDueFn: func(ctx context.Context, batch int) (int, error) {
			sweeps.Add(1)
			return 0, nil
		},
	}

	s := NewExpirySweeper(zap.NewNop(), target, nil, SweeperConfig{Interval: 10 * time.Millisecond})
	s.Start()

	deadline := time.Now().Add(time.Second)
	for sweeps.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	s.Stop()

	if sweeps.Load() < 2 {
		t.Fatalf("expected at least 2 sweeps, got %d", sweeps.Load())
	}
	after := sweeps.Load()
	time.Sleep(30 * time.Millisecond)
	if sweeps.Load() != after {
		t.Fatal("sweeper kept running after Stop")
	}
}
