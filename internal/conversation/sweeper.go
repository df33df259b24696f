package conversation

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/sonarbridge/sonarbridge/internal/observability"
)

// Sweeper periodically evicts idle sessions on a cron schedule. Expiry is
// also checked lazily on access, so the sweep only bounds memory.
type Sweeper struct {
	store    *Store
	schedule string
	cron     *cron.Cron
	logger   *zap.Logger
}

// NewSweeper creates a sweeper for the store. The schedule accepts cron
// syntax including @every expressions; empty disables the sweep.
func NewSweeper(store *Store, schedule string, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start begins the scheduled sweep.
func (s *Sweeper) Start() error {
	if s.schedule == "" {
		s.logger.Info("conversation sweep schedule not configured, relying on lazy expiry")
		return nil
	}

	_, err := s.cron.AddFunc(s.schedule, s.runSweep)
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.logger.Info("conversation sweeper started",
		observability.String("schedule", s.schedule))
	return nil
}

// Stop halts the scheduled sweep.
func (s *Sweeper) Stop() {
	s.cron.Stop()
}

func (s *Sweeper) runSweep() {
	removed := s.store.Sweep(time.Now())
	if removed > 0 {
		s.logger.Info("swept idle conversations",
			observability.Int("removed", removed),
			observability.Int("remaining", s.store.Len()))
	}
}
