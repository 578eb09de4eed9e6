/*
scheduler.go - Periodic maintenance jobs

PURPOSE:
  Runs housekeeping that no request triggers on its own:
  - Session purge: deletes expired operator sessions
  - Overdue digest: logs how many debts are overdue and how much is left

DESIGN:
  - Cron expressions (robfig/cron, standard 5-field syntax)
  - Jobs are plain methods so they can be run directly (RunNow, tests)
  - Job failures are logged; the next tick runs as usual

USAGE:
  s := NewScheduler(ledgerSvc, authSvc, logger)
  if err := s.Start(SchedulerConfig{...}); err != nil { ... }
  // ... later
  s.Stop()

SEE ALSO:
  - auth/auth.go: PurgeExpired
  - ledger/service.go: ListOverdueDebts
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/debt-ledger/auth"
	"github.com/warp/debt-ledger/ledger"
)

// jobTimeout bounds a single job run.
const jobTimeout = time.Minute

// SchedulerConfig holds the cron expressions. An empty expression disables
// that job.
type SchedulerConfig struct {
	SessionPurge  string
	OverdueDigest string
}

// OverdueDigest summarizes overdue debts at one point in time.
type OverdueDigest struct {
	Count     int
	Remaining decimal.Decimal
	Oldest    *time.Time
}

// Scheduler runs periodic maintenance jobs.
type Scheduler struct {
	Ledger *ledger.Service
	Auth   *auth.Service

	log  logrus.FieldLogger
	cron *cron.Cron
	mu   sync.Mutex
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(l *ledger.Service, a *auth.Service, logger logrus.FieldLogger) *Scheduler {
	return &Scheduler{
		Ledger: l,
		Auth:   a,
		log:    logger.WithField("component", "scheduler"),
	}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start(cfg SchedulerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	c := cron.New()
	if cfg.SessionPurge != "" {
		if _, err := c.AddFunc(cfg.SessionPurge, func() { s.runJob("session purge", s.PurgeSessions) }); err != nil {
			return fmt.Errorf("invalid session purge schedule %q: %w", cfg.SessionPurge, err)
		}
	}
	if cfg.OverdueDigest != "" {
		if _, err := c.AddFunc(cfg.OverdueDigest, func() { s.runJob("overdue digest", s.logOverdueDigest) }); err != nil {
			return fmt.Errorf("invalid overdue digest schedule %q: %w", cfg.OverdueDigest, err)
		}
	}

	c.Start()
	s.cron = c
	s.log.WithFields(logrus.Fields{
		"session_purge":  cfg.SessionPurge,
		"overdue_digest": cfg.OverdueDigest,
	}).Info("scheduler started")
	return nil
}

// Stop stops the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.log.Info("scheduler stopped")
}

// RunNow runs every job once, synchronously.
func (s *Scheduler) RunNow(ctx context.Context) error {
	if err := s.PurgeSessions(ctx); err != nil {
		return err
	}
	return s.logOverdueDigest(ctx)
}

// PurgeSessions deletes expired sessions.
func (s *Scheduler) PurgeSessions(ctx context.Context) error {
	_, err := s.Auth.PurgeExpired(ctx)
	return err
}

// Digest computes the overdue summary.
func (s *Scheduler) Digest(ctx context.Context) (OverdueDigest, error) {
	debts, err := s.Ledger.ListOverdueDebts(ctx)
	if err != nil {
		return OverdueDigest{}, err
	}

	digest := OverdueDigest{Count: len(debts), Remaining: decimal.Zero}
	for _, d := range debts {
		digest.Remaining = digest.Remaining.Add(d.Remaining())
	}
	// Overdue debts come back earliest due first.
	if len(debts) > 0 {
		oldest := debts[0].DueAt
		digest.Oldest = &oldest
	}
	return digest, nil
}

func (s *Scheduler) logOverdueDigest(ctx context.Context) error {
	digest, err := s.Digest(ctx)
	if err != nil {
		return err
	}

	entry := s.log.WithFields(logrus.Fields{
		"overdue_count":     digest.Count,
		"overdue_remaining": ledger.FormatAmount(digest.Remaining),
	})
	if digest.Oldest != nil {
		entry = entry.WithField("oldest_due", digest.Oldest.Format("2006-01-02"))
	}
	entry.Info("overdue digest")
	return nil
}

func (s *Scheduler) runJob(name string, job func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	if err := job(ctx); err != nil {
		s.log.WithField("job", name).WithError(err).Error("job failed")
		return
	}
	s.log.WithFields(logrus.Fields{
		"job":         name,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("job finished")
}
