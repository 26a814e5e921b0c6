// Package worker runs the periodic session maintenance jobs.
package worker

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"gowa-gateway/internal/service"
)

// Maintainer is the part of the session manager the jobs drive.
type Maintainer interface {
	ReapIdle() []string
	Consolidate() service.ConsolidationResult
}

type Options struct {
	// ReaperSchedule is a cron spec; empty disables the reaper.
	ReaperSchedule string
	// ConsolidateSchedule is a cron spec; empty disables consolidation.
	ConsolidateSchedule string
}

func DefaultOptions() Options {
	return Options{ReaperSchedule: "@every 5m"}
}

// MaintenanceWorker owns the cron scheduler running the jobs.
type MaintenanceWorker struct {
	cron *cron.Cron
	m    Maintainer
	log  zerolog.Logger
}

// NewMaintenanceWorker schedules the configured jobs. It does not start them.
func NewMaintenanceWorker(m Maintainer, opts Options, log zerolog.Logger) (*MaintenanceWorker, error) {
	log = log.With().Str("component", "maintenance").Logger()
	clog := cronLogger{log: log}
	w := &MaintenanceWorker{
		cron: cron.New(
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		),
		m:   m,
		log: log,
	}

	if opts.ReaperSchedule != "" {
		if _, err := w.cron.AddFunc(opts.ReaperSchedule, w.Reap); err != nil {
			return nil, fmt.Errorf("reaper schedule %q: %w", opts.ReaperSchedule, err)
		}
	}
	if opts.ConsolidateSchedule != "" {
		if _, err := w.cron.AddFunc(opts.ConsolidateSchedule, w.Consolidate); err != nil {
			return nil, fmt.Errorf("consolidate schedule %q: %w", opts.ConsolidateSchedule, err)
		}
	}
	return w, nil
}

// Jobs returns how many jobs are scheduled.
func (w *MaintenanceWorker) Jobs() int {
	return len(w.cron.Entries())
}

func (w *MaintenanceWorker) Start() {
	w.cron.Start()
	w.log.Info().Int("jobs", w.Jobs()).Msg("maintenance worker started")
}

// Stop prevents new runs and waits for a running job to finish.
func (w *MaintenanceWorker) Stop() {
	<-w.cron.Stop().Done()
}

func (w *MaintenanceWorker) Reap() {
	if reaped := w.m.ReapIdle(); len(reaped) > 0 {
		w.log.Info().Strs("instances", reaped).Msg("idle sessions reaped")
	}
}

func (w *MaintenanceWorker) Consolidate() {
	res := w.m.Consolidate()
	if len(res.Cleaned) > 0 {
		w.log.Info().Strs("kept", res.Kept).Strs("cleaned", res.Cleaned).Msg("duplicate tenant sessions cleaned")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
