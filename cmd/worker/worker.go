package main

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Gateway is what the maintenance loop needs from the gateway.
type Gateway interface {
	Health(ctx context.Context) (HealthSummary, error)
	Cleanup(ctx context.Context) (CleanupResult, error)
}

type Worker struct {
	gw       Gateway
	interval time.Duration
	cleanup  bool
	log      zerolog.Logger
}

func NewWorker(gw Gateway, interval time.Duration, cleanup bool, log zerolog.Logger) *Worker {
	return &Worker{gw: gw, interval: interval, cleanup: cleanup, log: log}
}

// Run ticks until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick checks the gateway and, when it is healthy and enabled, runs cleanup.
func (w *Worker) Tick(ctx context.Context) {
	var health HealthSummary
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 2), ctx)
	err := backoff.Retry(func() error {
		var err error
		health, err = w.gw.Health(ctx)
		return err
	}, policy)
	if err != nil {
		w.log.Error().Err(err).Msg("gateway unreachable")
		return
	}

	w.log.Info().
		Int("total", health.Instances.Total).
		Int("connected", health.Instances.Connected).
		Int("connecting", health.Instances.Connecting).
		Int("disconnected", health.Instances.Disconnected).
		Msg("gateway health")

	if !w.cleanup || health.Instances.Total < 2 {
		return
	}
	res, err := w.gw.Cleanup(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("cleanup failed")
		return
	}
	if res.Cleaned > 0 {
		w.log.Info().Strs("cleaned", res.Details.Cleaned).Strs("kept", res.Details.Kept).Msg("duplicate sessions cleaned")
	}
}
