// Package audit runs the periodic order-consistency sweep: every layout's
// instance ordering must stay a dense permutation, and a drifted layout is
// logged and compacted rather than left to break reorders.
package audit

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platformkit/composer/internal/app/services/ordering"
	"github.com/platformkit/composer/internal/app/storage"
	"github.com/platformkit/composer/internal/logging"
)

// DefaultSchedule runs the sweep once a minute.
const DefaultSchedule = "@every 1m"

// Sweeper scans all layouts and repairs non-dense orderings.
type Sweeper struct {
	platforms storage.PlatformStore
	layouts   storage.LayoutStore
	order     *ordering.Controller
	log       *logging.Logger

	cron *cron.Cron
}

// New constructs a sweeper.
func New(platforms storage.PlatformStore, layouts storage.LayoutStore, order *ordering.Controller, log *logging.Logger) *Sweeper {
	if log == nil {
		log = logging.NewDefault("audit")
	}
	return &Sweeper{
		platforms: platforms,
		layouts:   layouts,
		order:     order,
		log:       log,
	}
}

// Start schedules the sweep. An empty schedule uses DefaultSchedule.
func (s *Sweeper) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.Sweep(ctx)
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.log.WithField("schedule", schedule).Info("order-consistency sweep scheduled")
	return nil
}

// Stop cancels the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep scans every layout once. Returns the number of layouts repaired.
func (s *Sweeper) Sweep(ctx context.Context) int {
	platforms, err := s.platforms.ListPlatforms(ctx, "")
	if err != nil {
		s.log.WithError(err).Warn("sweep could not list platforms")
		return 0
	}

	repaired := 0
	for _, p := range platforms {
		layouts, err := s.layouts.ListLayouts(ctx, p.ID)
		if err != nil {
			s.log.WithError(err).WithField("platform_id", p.ID).
				Warn("sweep could not list layouts")
			continue
		}
		for _, l := range layouts {
			dense, err := s.order.IsDense(ctx, l.ID)
			if err != nil {
				s.log.WithError(err).WithField("layout_id", l.ID).
					Warn("sweep could not inspect layout")
				continue
			}
			if dense {
				continue
			}
			s.log.WithField("platform_id", p.ID).
				WithField("layout_id", l.ID).
				Warn("layout ordering is not dense; compacting")
			if err := s.order.Compact(ctx, l.ID); err != nil {
				s.log.WithError(err).WithField("layout_id", l.ID).
					Warn("sweep compaction failed")
				continue
			}
			repaired++
		}
	}
	if repaired > 0 {
		s.log.WithField("repaired", repaired).Info("sweep repaired layouts")
	}
	return repaired
}
