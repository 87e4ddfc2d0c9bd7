package reconcile

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Scheduler runs ReconcileAll on a cron schedule.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler accepts standard cron specs and descriptors such as
// "@every 10m". An empty spec returns a nil Scheduler.
func NewScheduler(ctx context.Context, rec *Reconciler, spec string) (*Scheduler, error) {
	if spec == "" {
		return nil, nil //nolint:nilnil // scheduling disabled
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() {
		n, err := rec.ReconcileAll(ctx)
		if err != nil {
			log.Warn().Err(err).Int("changed", n).Msg("reconcile: scheduled sweep")
			return
		}
		log.Info().Int("changed", n).Msg("reconcile: scheduled sweep")
	}); err != nil {
		return nil, fmt.Errorf("reconcile.NewScheduler(%q): %w", spec, err)
	}
	return &Scheduler{cron: c}, nil
}

// Start begins running the sweep in the background.
func (s *Scheduler) Start() {
	if s == nil {
		return
	}
	s.cron.Start()
}

// Stop halts scheduling and waits for a running sweep to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
