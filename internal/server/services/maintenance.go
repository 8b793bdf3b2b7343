package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/keyfold/keyfold/internal/logging"
	"github.com/keyfold/keyfold/internal/server/config"
	"github.com/keyfold/keyfold/internal/server/repositories/repomanager"
)

// MaintenanceService runs the scheduled housekeeping sweep: expired refresh
// tokens are purged at the configured time of day, on the configured
// weekdays. Vault retention itself happens inline with each upload, so the
// sweep only covers state that expires by the clock.
type MaintenanceService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	timeOfDay   string
	weekdays    map[time.Weekday]struct{}
}

func NewMaintenanceService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger, cfg *config.Config) *MaintenanceService {
	weekdays := make(map[time.Weekday]struct{}, len(cfg.MaintenanceWeekdays))
	for _, d := range cfg.MaintenanceWeekdays {
		weekdays[time.Weekday(d)] = struct{}{}
	}
	return &MaintenanceService{
		db:          db,
		repomanager: m,
		logger:      logger,
		timeOfDay:   cfg.MaintenanceTimeOfDay,
		weekdays:    weekdays,
	}
}

// Run blocks, sweeping on schedule until ctx is canceled.
func (s *MaintenanceService) Run(ctx context.Context) {
	for {
		wait := time.Until(s.nextRun(time.Now()))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if err := s.Sweep(ctx); err != nil {
			s.logger.Error(ctx, "maintenance sweep failed", "error", err)
		}
	}
}

// Sweep performs one maintenance pass.
func (s *MaintenanceService) Sweep(ctx context.Context) error {
	deleted, err := s.repomanager.RefreshTokens(s.db).DeleteExpired(ctx)
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "maintenance sweep complete", "expired_tokens_deleted", deleted)
	return nil
}

// nextRun returns the first instant strictly after now that matches the
// configured time of day and weekday set. An unparseable time of day falls
// back to 02:00; an empty weekday set allows every day.
func (s *MaintenanceService) nextRun(now time.Time) time.Time {
	tod, err := time.Parse("15:04", s.timeOfDay)
	if err != nil {
		tod, _ = time.Parse("15:04", "02:00")
	}

	candidate := time.Date(now.Year(), now.Month(), now.Day(), tod.Hour(), tod.Minute(), 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	for i := 0; i < 7; i++ {
		if s.dayAllowed(candidate.Weekday()) {
			return candidate
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func (s *MaintenanceService) dayAllowed(d time.Weekday) bool {
	if len(s.weekdays) == 0 {
		return true
	}
	_, ok := s.weekdays[d]
	return ok
}
