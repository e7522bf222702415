// Package jobs runs the portal's background tickers.
package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

type HealthSetter interface {
	SetHealthy(ok bool)
}

// StartSweepJob calls sweeper every interval to drop expired records. A zero
// interval disables it.
func StartSweepJob(ctx context.Context, name string, interval, timeout time.Duration, sweeper Sweeper, log *zap.Logger) {
	log = log.With(zap.String("job", name))
	if interval <= 0 {
		log.Info("sweep job disabled")
		return
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepOnce(ctx, timeout, sweeper, log)
			}
		}
	}()
}

func sweepOnce(ctx context.Context, timeout time.Duration, sweeper Sweeper, log *zap.Logger) {
	tickCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	removed, err := sweeper.Sweep(tickCtx, time.Now().UTC())
	if err != nil {
		log.Error("sweep job error", zap.Error(err))
		return
	}
	if removed > 0 {
		log.Info("sweep job removed expired records", zap.Int("removed", removed))
	}
}

// StartHealthProbeJob pings the store every interval and reports the result.
// The first probe runs immediately.
func StartHealthProbeJob(ctx context.Context, interval, timeout time.Duration, store Pinger, health HealthSetter, log *zap.Logger) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	probe := newProber(store, health, log)
	probe.run(ctx, timeout)

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe.run(ctx, timeout)
			}
		}
	}()
}

type prober struct {
	store   Pinger
	health  HealthSetter
	log     *zap.Logger
	healthy bool
	known   bool
}

func newProber(store Pinger, health HealthSetter, log *zap.Logger) *prober {
	return &prober{store: store, health: health, log: log}
}

func (p *prober) run(ctx context.Context, timeout time.Duration) {
	tickCtx, cancel := context.WithTimeout(ctx, timeout)
	err := p.store.Ping(tickCtx)
	cancel()

	healthy := err == nil
	if !p.known || healthy != p.healthy {
		if healthy {
			p.log.Info("store reachable")
		} else {
			p.log.Error("store unreachable", zap.Error(err))
		}
	}
	p.known = true
	p.healthy = healthy
	p.health.SetHealthy(healthy)
}
