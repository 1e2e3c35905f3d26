package quota

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/fathoni/rudder/internal/observability"
)

// Sweeper periodically republishes registry state into metrics so blocked
// models show up even when no request touches them.
type Sweeper struct {
	registry *Registry
	cron     *cron.Cron
	schedule string
	logger   zerolog.Logger
}

// NewSweeper creates a sweeper over the given registry. Schedule uses cron
// syntax, e.g. "@every 30s".
func NewSweeper(registry *Registry, schedule string, logger zerolog.Logger) *Sweeper {
	if schedule == "" {
		schedule = "@every 30s"
	}
	return &Sweeper{
		registry: registry,
		cron:     cron.New(),
		schedule: schedule,
		logger:   logger,
	}
}

// Start schedules the sweep job
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.Sweep); err != nil {
		return fmt.Errorf("failed to schedule quota sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Debug().Str("schedule", s.schedule).Msg("Quota sweeper started")
	return nil
}

// Stop stops the sweep job
func (s *Sweeper) Stop() {
	s.cron.Stop()
}

// Sweep publishes the current blocked state of every tracked model
func (s *Sweeper) Sweep() {
	for key := range s.registry.Snapshot() {
		// IsBlocked also self-heals expired blocks
		blocked := s.registry.IsBlocked(key.Provider, key.Model)
		observability.SetModelBlocked(key.Provider, key.Model, blocked)
		if blocked {
			s.logger.Debug().
				Str("provider", key.Provider).
				Str("model", key.Model).
				Msg("Model still blocked")
		}
	}
}
