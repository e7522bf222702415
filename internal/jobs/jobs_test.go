package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type countingSweeper struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSweeper) Sweep(context.Context, time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return 1, nil
}

func (s *countingSweeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type togglePinger struct {
	mu  sync.Mutex
	err error
}

func (p *togglePinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *togglePinger) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

type recordedHealth struct {
	mu     sync.Mutex
	states []bool
}

func (h *recordedHealth) SetHealthy(ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, ok)
}

func (h *recordedHealth) last() (bool, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.states) == 0 {
		return false, 0
	}
	return h.states[len(h.states)-1], len(h.states)
}

func TestSweepJobRunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sweeper := &countingSweeper{}
	StartSweepJob(ctx, "otp", 5*time.Millisecond, time.Second, sweeper, zap.NewNop())

	deadline := time.Now().Add(2 * time.Second)
	for sweeper.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected at least two sweeps, got %d", sweeper.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
}

func TestSweepJobDisabled(t *testing.T) {
	sweeper := &countingSweeper{}
	StartSweepJob(context.Background(), "otp", 0, time.Second, sweeper, zap.NewNop())
	time.Sleep(20 * time.Millisecond)
	if sweeper.count() != 0 {
		t.Fatalf("expected disabled job, got %d sweeps", sweeper.count())
	}
}

func TestHealthProbeFollowsStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pinger := &togglePinger{}
	health := &recordedHealth{}

	StartHealthProbeJob(ctx, 5*time.Millisecond, time.Second, pinger, health, zap.NewNop())
	if ok, n := health.last(); n == 0 || !ok {
		t.Fatalf("expected immediate healthy probe, got ok=%v n=%d", ok, n)
	}

	pinger.set(errors.New("connection refused"))
	deadline := time.Now().Add(2 * time.Second)
	for {
		if ok, _ := health.last(); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected probe to report unhealthy")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
