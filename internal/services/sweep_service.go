package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"cart-recovery-service/internal/clients"
	"cart-recovery-service/internal/repository"
)

// SweepResult summarizes one sweep run
type SweepResult struct {
	Success     bool `json:"success"`
	Sent        int  `json:"sent"`
	Skipped     int  `json:"skipped"`
	Failed      int  `json:"failed"`
	Interrupted bool `json:"interrupted,omitempty"`
}

// SweepConfig configures the recovery sweep
type SweepConfig struct {
	GracePeriod time.Duration
	Lookback    time.Duration
	Budget      time.Duration
	Email       EmailConfig
	Clock       Clock
}

// SweepService finds carts past the grace period and sends each exactly one
// recovery email. Candidates are processed one at a time and each is marked
// as emailed before the next is examined.
type SweepService struct {
	repo     repository.AbandonedCartRepository
	resolver *cartResolver
	mailer   clients.Mailer
	lock     SweepLock
	events   EventPublisher
	cfg      SweepConfig
	logger   *logrus.Entry
}

// NewSweepService creates a new sweep service. lock and events may be nil.
func NewSweepService(
	repo repository.AbandonedCartRepository,
	catalog Catalog,
	mailer clients.Mailer,
	lock SweepLock,
	events EventPublisher,
	cfg SweepConfig,
	logger *logrus.Logger,
) *SweepService {
	if cfg.Budget <= 0 {
		cfg.Budget = 5 * time.Minute
	}
	if lock == nil {
		lock = &LocalSweepLock{}
	}
	entry := logger.WithField("component", "recovery-sweep")
	return &SweepService{
		repo:     repo,
		resolver: &cartResolver{catalog: catalog, logger: entry},
		mailer:   mailer,
		lock:     lock,
		events:   events,
		cfg:      cfg,
		logger:   entry,
	}
}

// Run performs one sweep within the configured budget. It returns
// ErrSweepInProgress when another sweep holds the lock and an error only when
// the candidate list could not be read; per-candidate failures are counted.
func (s *SweepService) Run(ctx context.Context) (*SweepResult, error) {
	release, acquired, err := s.lock.Acquire(ctx, s.cfg.Budget)
	switch {
	case err != nil:
		// The sent guard still prevents duplicates, so run without the lock
		s.logger.WithError(err).Warn("Failed to acquire sweep lock, continuing unlocked")
	case !acquired:
		return nil, ErrSweepInProgress
	default:
		defer release()
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Budget)
	defer cancel()

	begin := time.Now()
	candidates, err := s.repo.ListSince(ctx, s.cfg.Clock.now().Add(-s.cfg.Lookback))
	if err != nil {
		return nil, fmt.Errorf("failed to list sweep candidates: %w", err)
	}

	result := &SweepResult{Success: true}
	for i := range candidates {
		if ctx.Err() != nil {
			result.Interrupted = true
			s.logger.WithField("remaining", len(candidates)-i).Warn("Sweep budget exhausted, remaining carts deferred to next run")
			break
		}

		cart := &candidates[i]
		if !cart.EligibleForRecoveryEmail(s.cfg.Clock.now(), s.cfg.GracePeriod) {
			result.Skipped++
			continue
		}

		entry := s.logger.WithField("cartId", cart.ID)

		items := s.resolver.resolve(ctx, cart.LineItems)
		if len(items) == 0 {
			entry.Info("No purchasable items left in cart, skipping recovery email")
			result.Skipped++
			continue
		}

		email, err := renderRecoveryEmail(s.cfg.Email, cart, items)
		if err != nil {
			entry.WithError(err).Error("Failed to build recovery email")
			result.Failed++
			continue
		}

		if err := s.mailer.Send(ctx, email); err != nil {
			entry.WithError(err).Error("Failed to send recovery email")
			result.Failed++
			continue
		}
		result.Sent++

		// Mark before touching the next candidate so a crash cannot resend it
		sentAt := s.cfg.Clock.now()
		marked, err := s.repo.MarkRecoveryEmailSent(context.WithoutCancel(ctx), cart.ID, sentAt)
		switch {
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			entry.WithError(err).Error("Recovery email sent but marking it failed")
		case !marked:
			entry.Warn("Recovery email sent but cart was already marked")
		default:
			entry.Info("Recovery email sent")
			cart.MarkRecoveryEmailSent(sentAt)
			if s.events != nil {
				_ = s.events.PublishRecoveryEmailSent(ctx, cart)
			}
		}
	}

	s.logger.WithFields(logrus.Fields{
		"candidates":  len(candidates),
		"sent":        result.Sent,
		"skipped":     result.Skipped,
		"failed":      result.Failed,
		"interrupted": result.Interrupted,
		"duration":    time.Since(begin).String(),
	}).Info("Recovery sweep completed")

	return result, nil
}
