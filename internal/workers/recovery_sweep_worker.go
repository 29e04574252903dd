// Package workers provides background job processors for the cart recovery service.
package workers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"cart-recovery-service/internal/services"
)

// DefaultSweepInterval is the default cadence of in-process sweeps
const DefaultSweepInterval = 1 * time.Hour

// Sweeper runs one recovery sweep
type Sweeper interface {
	Run(ctx context.Context) (*services.SweepResult, error)
}

// RecoverySweepWorker runs the recovery sweep on a fixed interval for
// deployments without an external scheduler.
type RecoverySweepWorker struct {
	sweeper   Sweeper
	interval  time.Duration
	stopChan  chan struct{}
	doneChan  chan struct{}
	mu        sync.Mutex
	running   bool
	lastRun   time.Time
	lastError error
	stats     SweepStats
	logger    *logrus.Entry
}

// SweepStats accumulates sweep outcomes since startup
type SweepStats struct {
	Runs            int64     `json:"runs"`
	EmailsSent      int64     `json:"emailsSent"`
	Failures        int64     `json:"failures"`
	LastRunAt       time.Time `json:"lastRunAt,omitempty"`
	LastRunDuration string    `json:"lastRunDuration,omitempty"`
}

// NewRecoverySweepWorker creates a new sweep worker
func NewRecoverySweepWorker(sweeper Sweeper, interval time.Duration, logger *logrus.Logger) *RecoverySweepWorker {
	if interval == 0 {
		interval = DefaultSweepInterval
	}

	return &RecoverySweepWorker{
		sweeper:  sweeper,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
		logger:   logger.WithField("component", "recovery-sweep-worker"),
	}
}

// Start begins the sweep loop
func (w *RecoverySweepWorker) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run()
	w.logger.Infof("Recovery sweep worker started with interval: %v", w.interval)
}

// Stop stops the sweep loop and waits for an in-flight sweep to finish
func (w *RecoverySweepWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopChan)
	<-w.doneChan
	w.logger.Info("Recovery sweep worker stopped")
}

// IsRunning returns whether the worker is running
func (w *RecoverySweepWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *RecoverySweepWorker) run() {
	defer close(w.doneChan)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.sweepOnce(ctx)
		}
	}
}

// sweepOnce runs a sweep and records its outcome
func (w *RecoverySweepWorker) sweepOnce(ctx context.Context) {
	start := time.Now()
	result, err := w.sweeper.Run(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		if errors.Is(err, services.ErrSweepInProgress) {
			w.logger.Debug("Sweep skipped, another run holds the lock")
			return
		}
		w.logger.WithError(err).Error("Recovery sweep failed")
		w.lastError = err
		return
	}

	w.lastRun = start
	w.lastError = nil
	w.stats.Runs++
	w.stats.EmailsSent += int64(result.Sent)
	w.stats.Failures += int64(result.Failed)
	w.stats.LastRunAt = start
	w.stats.LastRunDuration = time.Since(start).String()
}

// WorkerStatus contains the current status of the worker
type WorkerStatus struct {
	Running   bool       `json:"running"`
	Interval  string     `json:"interval"`
	LastRun   time.Time  `json:"lastRun,omitempty"`
	LastError string     `json:"lastError,omitempty"`
	Stats     SweepStats `json:"stats"`
}

// Status returns the current status of the worker
func (w *RecoverySweepWorker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	status := WorkerStatus{
		Running:  w.running,
		Interval: w.interval.String(),
		Stats:    w.stats,
	}
	if !w.lastRun.IsZero() {
		status.LastRun = w.lastRun
	}
	if w.lastError != nil {
		status.LastError = w.lastError.Error()
	}
	return status
}
