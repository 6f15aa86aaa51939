package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweepable is the maintenance surface the sweeper drives.
type Sweepable interface {
	ExpireDue(ctx context.Context, batch int) (int, error)
	PurgeFiles(ctx context.Context, batch int) (int, error)
	PurgeAnonymous(ctx context.Context, olderThan time.Duration, batch int) (int64, error)
}

// SweeperConfig controls the sweep cadence.
type SweeperConfig struct {
	Interval            time.Duration
	BatchSize           int
	PurgeAnonymousAfter time.Duration
}

// ExpirySweeper periodically expires pushes whose day limit ran out without a
// view, purges attachment blobs and drops old anonymous pushes.
type ExpirySweeper struct {
	logger   *zap.Logger
	target   Sweepable
	metrics  *Metrics
	clock    Clock
	cfg      SweeperConfig
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewExpirySweeper creates a new sweeper.
func NewExpirySweeper(logger *zap.Logger, target Sweepable, metrics *Metrics, cfg SweeperConfig) *ExpirySweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &ExpirySweeper{
		logger:   logger,
		target:   target,
		metrics:  metrics,
		clock:    SystemClock{},
		cfg:      cfg,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins sweeping in the background. The first sweep runs immediately.
func (s *ExpirySweeper) Start() {
	go s.run()
}

// Stop stops the sweeper and waits for an in-flight sweep to finish.
func (s *ExpirySweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	<-s.done
}

func (s *ExpirySweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.Sweep(ctx)
	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-s.stopChan:
			s.logger.Info("expiry sweeper stopped")
			return
		}
	}
}

// Sweep runs one full maintenance cycle.
func (s *ExpirySweeper) Sweep(ctx context.Context) {
	start := s.clock.Now()
	defer func() { s.metrics.sweep(s.clock.Now().Sub(start)) }()

	expired, err := s.target.ExpireDue(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("failed to expire due pushes", zap.Error(err))
	}

	files, err := s.target.PurgeFiles(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("failed to purge expired files", zap.Error(err))
	}

	pushes, err := s.target.PurgeAnonymous(ctx, s.cfg.PurgeAnonymousAfter, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("failed to purge anonymous pushes", zap.Error(err))
	}

	if expired > 0 || files > 0 || pushes > 0 {
		s.logger.Info("expiry sweep finished",
			zap.Int("expired", expired),
			zap.Int("files_purged", files),
			zap.Int64("pushes_purged", pushes),
		)
	}
}
