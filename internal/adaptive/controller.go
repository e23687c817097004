// Package adaptive is the self-tuning feedback loop: measure the active
// protection configuration, ask the external optimizer for a better one,
// validate it, and decide whether to promote it.
package adaptive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wpeva/new-undetect-browser-sub005/internal/browser"
	"github.com/wpeva/new-undetect-browser-sub005/internal/detect"
)

const (
	defaultMinImprovement  = 5.0
	defaultExcellentScore  = 95
	defaultIterationBudget = 50
)

// Controller owns the active configuration and drives full cycles. Cycle
// execution is single-flight: a second request while one is running is
// rejected immediately, never queued.
type Controller struct {
	suite           *detect.Suite
	optimizer       Optimizer
	store           Store
	logger          *slog.Logger
	metrics         Metrics
	minImprovement  float64
	autoDeploy      bool
	excellentScore  int
	iterationBudget int
	timeBudget      time.Duration

	busy atomic.Bool

	mu     sync.Mutex
	active detect.ProtectionConfig

	schedMu     sync.Mutex
	schedGen    atomic.Int64
	schedCancel context.CancelFunc
	schedDone   chan struct{}
}

type ControllerOptions struct {
	Suite     *detect.Suite
	Optimizer Optimizer
	Store     Store
	Logger    *slog.Logger
	Metrics   Metrics

	// MinImprovementPercent is the inclusive deployment gate; 0 means the
	// default of 5%.
	MinImprovementPercent float64
	AutoDeploy            bool
	// ExcellentScore is the fast-path threshold; 0 means the default of 95.
	ExcellentScore  int
	IterationBudget int
	TimeBudget      time.Duration
}

// NewController loads the active configuration from the store (falling back
// to the hardcoded default when nothing is persisted) and returns a ready
// controller.
func NewController(ctx context.Context, opts ControllerOptions) (*Controller, error) {
	if opts.Suite == nil {
		return nil, fmt.Errorf("adaptive: suite is required")
	}
	if opts.Optimizer == nil {
		return nil, fmt.Errorf("adaptive: optimizer is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("adaptive: store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	minImprovement := opts.MinImprovementPercent
	if minImprovement <= 0 {
		minImprovement = defaultMinImprovement
	}
	excellent := opts.ExcellentScore
	if excellent <= 0 {
		excellent = defaultExcellentScore
	}
	iterations := opts.IterationBudget
	if iterations <= 0 {
		iterations = defaultIterationBudget
	}
	timeBudget := opts.TimeBudget
	if timeBudget <= 0 {
		timeBudget = 2 * time.Minute
	}

	active, err := opts.Store.LoadConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active config: %w", err)
	}

	return &Controller{
		suite:           opts.Suite,
		optimizer:       opts.Optimizer,
		store:           opts.Store,
		logger:          logger,
		metrics:         opts.Metrics,
		minImprovement:  minImprovement,
		autoDeploy:      opts.AutoDeploy,
		excellentScore:  excellent,
		iterationBudget: iterations,
		timeBudget:      timeBudget,
		active:          active.Clamped(),
	}, nil
}

// ActiveConfig returns a copy of the configuration currently in production
// use.
func (c *Controller) ActiveConfig() detect.ProtectionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// RunCycle executes one measure-optimize-validate-decide iteration and
// appends exactly one UpdateResult to history. A concurrent call returns a
// distinct "cycle already running" result without touching any state or
// history.
func (c *Controller) RunCycle(ctx context.Context, session browser.Session) (UpdateResult, error) {
	if !c.busy.CompareAndSwap(false, true) {
		active := c.ActiveConfig()
		c.markCycle(ctx, "rejected_busy")
		return UpdateResult{
			Timestamp: time.Now().UTC(),
			Deployed:  false,
			Reason:    ReasonAlreadyRunning,
			OldConfig: active,
			NewConfig: active,
		}, nil
	}
	defer c.busy.Store(false)

	active := c.ActiveConfig()

	// Baselining. Probe failures inside the suite degrade to zero scores and
	// never abort the cycle.
	baseline := c.suite.RunAll(ctx, session, active)
	c.recordReport(ctx, baseline)

	if baseline.OverallScore >= c.excellentScore {
		result := UpdateResult{
			Timestamp: time.Now().UTC(),
			OldScore:  baseline.OverallScore,
			NewScore:  baseline.OverallScore,
			Deployed:  false,
			Reason:    ReasonAlreadyExcellent,
			OldConfig: active,
			NewConfig: active,
		}
		c.logger.Info("cycle skipped optimizer",
			"reason", result.Reason,
			"score", baseline.OverallScore,
		)
		c.markCycle(ctx, "already_excellent")
		return result, c.recordResult(ctx, result)
	}

	// Optimizing. The gateway carries its own timeout; failure short-circuits
	// the cycle but never the process.
	proposed, err := c.optimizer.Propose(ctx, OptimizeRequest{
		CurrentScore:    baseline.OverallScore,
		IterationBudget: c.iterationBudget,
		TimeBudgetSec:   int(c.timeBudget.Seconds()),
	})
	if err != nil {
		c.logger.Warn("optimizer produced no candidate", "error", err, "baseline", baseline.OverallScore)
		if c.metrics != nil {
			c.metrics.MarkOptimizerFailure(ctx)
		}
		result := UpdateResult{
			Timestamp: time.Now().UTC(),
			OldScore:  baseline.OverallScore,
			NewScore:  baseline.OverallScore,
			Deployed:  false,
			Reason:    ReasonOptimizerFailed,
			OldConfig: active,
			NewConfig: active,
		}
		c.markCycle(ctx, "optimizer_failed")
		return result, c.recordResult(ctx, result)
	}
	candidate := proposed.Clamped()

	// Validating.
	validation := c.suite.RunAll(ctx, session, candidate)
	c.recordReport(ctx, validation)

	improvement := improvementPercent(baseline.OverallScore, validation.OverallScore)
	result := UpdateResult{
		Timestamp:          time.Now().UTC(),
		OldScore:           baseline.OverallScore,
		NewScore:           validation.OverallScore,
		ImprovementPercent: improvement,
		Deployed:           false,
		OldConfig:          active,
		NewConfig:          candidate,
	}

	// Deciding. The gate is inclusive: improvement exactly at the threshold
	// deploys.
	switch {
	case improvement < c.minImprovement:
		result.Reason = fmt.Sprintf("improvement %.2f%% below %.2f%% threshold; candidate rejected", improvement, c.minImprovement)
		c.markCycle(ctx, "rejected")
	case !c.autoDeploy:
		result.Reason = fmt.Sprintf("auto-deploy disabled; improvement %.2f%% met %.2f%% threshold but was not promoted", improvement, c.minImprovement)
		c.markCycle(ctx, "auto_deploy_disabled")
	default:
		if err := c.store.SaveConfig(ctx, candidate); err != nil {
			// A failed save must never report deployed=true or touch the
			// in-memory active config.
			result.Reason = fmt.Sprintf("deploy aborted: persist candidate config: %v", err)
			c.markCycle(ctx, "deploy_failed")
			if recordErr := c.recordResult(ctx, result); recordErr != nil {
				return result, recordErr
			}
			return result, fmt.Errorf("persist candidate config: %w", err)
		}
		c.mu.Lock()
		c.active = candidate
		c.mu.Unlock()
		result.Deployed = true
		result.Reason = fmt.Sprintf("improvement %.2f%% met %.2f%% threshold; candidate deployed", improvement, c.minImprovement)
		if c.metrics != nil {
			c.metrics.MarkDeploy(ctx)
		}
		c.markCycle(ctx, "deployed")
	}

	c.logger.Info("cycle decided",
		"deployed", result.Deployed,
		"old_score", result.OldScore,
		"new_score", result.NewScore,
		"improvement_percent", result.ImprovementPercent,
		"reason", result.Reason,
	)
	return result, c.recordResult(ctx, result)
}

// DetectionHistory returns the most recent detection reports in chronological
// order; limit<=0 returns everything retained.
func (c *Controller) DetectionHistory(ctx context.Context, limit int) ([]detect.DetectionReport, error) {
	return c.store.ListDetectionReports(ctx, limit)
}

// UpdateHistory returns the most recent cycle results in chronological order;
// limit<=0 returns everything retained.
func (c *Controller) UpdateHistory(ctx context.Context, limit int) ([]UpdateResult, error) {
	return c.store.ListUpdateResults(ctx, limit)
}

// Statistics aggregates the retained update history.
func (c *Controller) Statistics(ctx context.Context) (Statistics, error) {
	results, err := c.store.ListUpdateResults(ctx, 0)
	if err != nil {
		return Statistics{}, fmt.Errorf("load update history: %w", err)
	}
	stats := Statistics{TotalCycles: len(results)}
	sum := 0.0
	for _, r := range results {
		if r.Deployed {
			stats.Deployments++
		}
		sum += r.ImprovementPercent
		if r.ImprovementPercent > stats.BestImprovement {
			stats.BestImprovement = r.ImprovementPercent
		}
	}
	if len(results) > 0 {
		stats.AvgImprovement = sum / float64(len(results))
		last := results[len(results)-1]
		stats.LastCycleAt = last.Timestamp
		stats.LastScore = last.NewScore
		stats.LastGrade = detect.GradeFor(last.NewScore)
	}
	return stats, nil
}

func (c *Controller) recordReport(ctx context.Context, report detect.DetectionReport) {
	if c.metrics != nil {
		for _, score := range report.DetectorScores {
			if ms, ok := score.Metadata["duration_ms"].(int64); ok {
				c.metrics.MarkProbe(ctx, score.Detector, ms)
			}
		}
	}
	if err := c.store.AppendDetectionReport(ctx, report); err != nil {
		c.logger.Warn("append detection report failed", "error", err)
	}
}

func (c *Controller) recordResult(ctx context.Context, result UpdateResult) error {
	if err := c.store.AppendUpdateResult(ctx, result); err != nil {
		c.logger.Error("append update result failed", "error", err)
		return fmt.Errorf("append update result: %w", err)
	}
	return nil
}

func (c *Controller) markCycle(ctx context.Context, status string) {
	if c.metrics != nil {
		c.metrics.MarkCycle(ctx, status)
	}
}

func improvementPercent(oldScore, newScore int) float64 {
	if oldScore == 0 {
		if newScore > 0 {
			return 100
		}
		return 0
	}
	return (float64(newScore) - float64(oldScore)) / float64(oldScore) * 100
}
