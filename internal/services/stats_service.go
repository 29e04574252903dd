package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"cart-recovery-service/internal/models"
	"cart-recovery-service/internal/repository"
)

// WindowStats aggregates the carts created within one reporting window
type WindowStats struct {
	Total          int     `json:"total"`
	Recovered      int     `json:"recovered"`
	RecoveryRate   float64 `json:"recoveryRate"`
	TotalValue     float64 `json:"totalValue"`
	RecoveredValue float64 `json:"recoveredValue"`
	LostValue      float64 `json:"lostValue"`
}

// StageCounts breaks open carts down by outreach stage
type StageCounts struct {
	Fresh         int `json:"fresh"`
	AwaitingEmail int `json:"awaitingEmail"`
	Emailed       int `json:"emailed"`
}

// CartSummary is one row of the dashboard cart list
type CartSummary struct {
	ID                  int64            `json:"id"`
	Email               string           `json:"email"`
	Name                string           `json:"name"`
	Phone               string           `json:"phone,omitempty"`
	State               models.CartState `json:"state"`
	Stage               models.CartStage `json:"stage,omitempty"`
	Total               float64          `json:"total"`
	ItemCount           int              `json:"itemCount"`
	CreatedAt           time.Time        `json:"createdAt"`
	AbandonedAt         time.Time        `json:"abandonedAt"`
	RecoveryEmailSent   bool             `json:"recoveryEmailSent"`
	RecoveryEmailSentAt *time.Time       `json:"recoveryEmailSentAt,omitempty"`
	RecoveredAt         *time.Time       `json:"recoveredAt,omitempty"`
}

// CartStats is the dashboard rollup
type CartStats struct {
	Today       WindowStats   `json:"today"`
	Week        WindowStats   `json:"week"`
	Month       WindowStats   `json:"month"`
	All30       WindowStats   `json:"all30"`
	Stages      StageCounts   `json:"stages"`
	Carts       []CartSummary `json:"carts"`
	GeneratedAt time.Time     `json:"generatedAt"`
}

// StatsService computes read-only recovery statistics
type StatsService struct {
	repo     repository.AbandonedCartRepository
	window   time.Duration
	grace    time.Duration
	location *time.Location
	clock    Clock
	logger   *logrus.Entry
}

// NewStatsService creates a new stats service. Calendar windows (today,
// month) are evaluated in location.
func NewStatsService(repo repository.AbandonedCartRepository, window, grace time.Duration, location *time.Location, clock Clock, logger *logrus.Logger) *StatsService {
	if location == nil {
		location = time.UTC
	}
	return &StatsService{
		repo:     repo,
		window:   window,
		grace:    grace,
		location: location,
		clock:    clock,
		logger:   logger.WithField("component", "cart-stats"),
	}
}

// Location is the timezone used for calendar windows
func (s *StatsService) Location() *time.Location {
	return s.location
}

// GetAbandonedCartStats classifies every tracked cart of the reporting window
func (s *StatsService) GetAbandonedCartStats(ctx context.Context) (*CartStats, error) {
	now := s.clock.now()
	carts, err := s.repo.ListSince(ctx, now.Add(-s.window))
	if err != nil {
		return nil, fmt.Errorf("failed to load carts for stats: %w", err)
	}

	local := now.In(s.location)
	todayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location)
	monthStart := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, s.location)
	weekStart := now.Add(-7 * 24 * time.Hour)
	all30Start := now.Add(-30 * 24 * time.Hour)

	stats := &CartStats{
		Carts:       make([]CartSummary, 0, len(carts)),
		GeneratedAt: now,
	}

	for i := range carts {
		cart := &carts[i]
		state := cart.State()
		if state == models.CartStateUntracked {
			continue
		}

		summary := CartSummary{
			ID:                  cart.ID,
			Email:               cart.Billing.Email,
			Name:                cart.Billing.FullName(),
			Phone:               cart.Billing.Phone,
			State:               state,
			Total:               cart.Total,
			ItemCount:           cart.ItemCount(),
			CreatedAt:           cart.CreatedAt,
			AbandonedAt:         cart.AbandonedAt,
			RecoveryEmailSent:   cart.RecoveryEmailSent,
			RecoveryEmailSentAt: cart.RecoveryEmailSentAt,
			RecoveredAt:         cart.RecoveredAt,
		}

		if state == models.CartStateAbandoned {
			summary.Stage = cart.Stage(now, s.grace)
			switch summary.Stage {
			case models.CartStageFresh:
				stats.Stages.Fresh++
			case models.CartStageAwaitingEmail:
				stats.Stages.AwaitingEmail++
			case models.CartStageEmailed:
				stats.Stages.Emailed++
			}
		}

		recovered := state == models.CartStateRecovered
		if !cart.CreatedAt.Before(todayStart) {
			stats.Today.add(cart.Total, recovered)
		}
		if !cart.CreatedAt.Before(weekStart) {
			stats.Week.add(cart.Total, recovered)
		}
		if !cart.CreatedAt.Before(monthStart) {
			stats.Month.add(cart.Total, recovered)
		}
		if !cart.CreatedAt.Before(all30Start) {
			stats.All30.add(cart.Total, recovered)
		}

		stats.Carts = append(stats.Carts, summary)
	}

	for _, w := range []*WindowStats{&stats.Today, &stats.Week, &stats.Month, &stats.All30} {
		w.finalize()
	}

	s.logger.WithFields(logrus.Fields{
		"carts":     len(stats.Carts),
		"recovered": stats.All30.Recovered,
	}).Debug("Abandoned cart stats computed")

	return stats, nil
}

func (w *WindowStats) add(value float64, recovered bool) {
	w.Total++
	w.TotalValue += value
	if recovered {
		w.Recovered++
		w.RecoveredValue += value
	}
}

func (w *WindowStats) finalize() {
	if w.Total > 0 {
		w.RecoveryRate = round2(float64(w.Recovered) / float64(w.Total) * 100)
	}
	w.TotalValue = round2(w.TotalValue)
	w.RecoveredValue = round2(w.RecoveredValue)
	w.LostValue = round2(w.TotalValue - w.RecoveredValue)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
