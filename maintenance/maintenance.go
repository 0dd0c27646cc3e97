// Package maintenance runs the scheduled cleanup of old revisions and log entries.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/wpmeta/wpmeta/actor"
	"github.com/wpmeta/wpmeta/audit"
	"github.com/wpmeta/wpmeta/backup"
	"github.com/wpmeta/wpmeta/cfg"
	"github.com/wpmeta/wpmeta/settings"
	"github.com/wpmeta/wpmeta/telemetry"
)

const runTimeout = 10 * time.Minute

// Report is the outcome of one cleanup run
type Report struct {
	Revisions int64 `json:"revisions"`
	Logs      int64 `json:"logs"`
}

// cronLogger forwards cron's own messages to zerolog
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

// Scheduler triggers cleanup on a cron schedule
type Scheduler struct {
	cron     *cron.Cron
	backups  *backup.Manager
	settings *settings.Store
	logger   *audit.Logger
	conf     cfg.MaintenanceConfiguration
	now      func() time.Time

	mu      sync.Mutex
	started bool
}

// New creates a scheduler. Nothing runs until Start.
func New(backups *backup.Manager, st *settings.Store, logger *audit.Logger, conf cfg.MaintenanceConfiguration) *Scheduler {
	l := cronLogger{}
	return &Scheduler{
		cron:     cron.New(cron.WithLogger(l), cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l))),
		backups:  backups,
		settings: st,
		logger:   logger,
		conf:     conf,
		now:      time.Now,
	}
}

// Start registers the cleanup job and starts the cron loop
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("maintenance scheduler already started")
	}

	if _, err := s.cron.AddFunc(s.conf.CleanupSchedule, s.scheduled); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", s.conf.CleanupSchedule, err)
	}
	s.cron.Start()
	s.started = true

	log.Info().Str("schedule", s.conf.CleanupSchedule).Msg("Maintenance scheduler started")
	return nil
}

// Stop stops the cron loop and waits for a running cleanup to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
}

func (s *Scheduler) scheduled() {
	ctx, cancel := context.WithTimeout(actor.WithActor(context.Background(), actor.System), runTimeout)
	defer cancel()

	if _, err := s.RunOnce(ctx); err != nil {
		log.Error().Err(err).Msg("Scheduled cleanup failed")
	}
}

// RunOnce deletes revisions older than auto_cleanup_days and log entries
// older than the configured log retention. Both cleanups are attempted even
// when the first fails.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	var report Report
	var firstErr error

	st, err := s.settings.Get(ctx)
	if err != nil {
		return report, err
	}

	now := s.now().UTC()
	revisionCutoff := now.AddDate(0, 0, -st.AutoCleanupDays)
	report.Revisions, err = s.backups.Cleanup(ctx, revisionCutoff)
	if err != nil {
		firstErr = err
	} else {
		telemetry.CleanupDeletedTotal.With("revisions").Add(float64(report.Revisions))
	}

	logCutoff := now.AddDate(0, 0, -s.conf.LogRetentionDays)
	report.Logs, err = s.logger.Cleanup(ctx, logCutoff)
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
	} else {
		telemetry.CleanupDeletedTotal.With("logs").Add(float64(report.Logs))
	}

	fields := map[string]interface{}{
		"revisions":       report.Revisions,
		"logs":            report.Logs,
		"revision_cutoff": revisionCutoff.Format(time.RFC3339),
		"log_cutoff":      logCutoff.Format(time.RFC3339),
	}
	if firstErr != nil {
		fields["error"] = firstErr.Error()
		s.logger.Error(ctx, "cleanup", "Cleanup finished with errors", fields)
		return report, firstErr
	}

	s.logger.Info(ctx, "cleanup", "Cleanup finished", fields)
	return report, nil
}
