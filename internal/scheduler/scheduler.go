// Package scheduler runs portfolio anomaly analysis on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/milad/usagewatch/internal/service"
)

const DefaultRunTimeout = 5 * time.Minute

type PortfolioAnalyzer interface {
	AnalyzePortfolio(ctx context.Context) (service.PortfolioSummary, error)
}

// Scheduler periodically analyzes the whole portfolio and logs the summary.
type Scheduler struct {
	analyzer PortfolioAnalyzer
	cron     *cron.Cron
	log      *zap.Logger
	timeout  time.Duration
}

func New(analyzer PortfolioAnalyzer, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		analyzer: analyzer,
		// Overlapping runs are skipped rather than queued.
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:     log.Named("scheduler"),
		timeout: DefaultRunTimeout,
	}
}

// Start registers the standard five-field cron expression and starts the runner.
// An empty schedule disables scheduled runs.
func (s *Scheduler) Start(schedule string) error {
	if schedule == "" {
		s.log.Info("portfolio schedule disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.log.Info("portfolio scheduler started", zap.String("schedule", schedule))
	return nil
}

// Stop stops scheduling and waits for a running analysis to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("portfolio scheduler stopped")
}

// RunNow performs one analysis synchronously.
func (s *Scheduler) RunNow(ctx context.Context) (service.PortfolioSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	summary, err := s.analyzer.AnalyzePortfolio(ctx)
	if err != nil {
		s.log.Error("portfolio analysis failed", zap.Error(err))
		return service.PortfolioSummary{}, err
	}
	s.log.Info("portfolio analysis finished",
		zap.Int("with_history", summary.PropertiesWithHistory),
		zap.Int("analyzed", summary.TotalPropertiesAnalyzed),
		zap.Int("with_anomalies", summary.PropertiesWithAnomalies),
		zap.Int("failed", summary.PropertiesFailed),
		zap.String("message", summary.Message),
		zap.Duration("duration", time.Since(start)),
	)
	return summary, nil
}

func (s *Scheduler) run() {
	_, _ = s.RunNow(context.Background())
}
