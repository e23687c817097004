package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wpeva/new-undetect-browser-sub005/internal/browser"
)

const defaultProbeTimeout = 45 * time.Second

// Suite runs the whole detector panel against one session/config pair.
type Suite struct {
	detectors    []Detector
	probeTimeout time.Duration
	logger       *slog.Logger
}

type SuiteOptions struct {
	Detectors    []Detector
	ProbeTimeout time.Duration
	Logger       *slog.Logger
}

func NewSuite(opts SuiteOptions) *Suite {
	detectors := opts.Detectors
	if len(detectors) == 0 {
		detectors = DefaultDetectors()
	}
	timeout := opts.ProbeTimeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Suite{
		detectors:    detectors,
		probeTimeout: timeout,
		logger:       logger,
	}
}

func (s *Suite) Detectors() []Detector {
	out := make([]Detector, len(s.detectors))
	copy(out, s.detectors)
	return out
}

// RunAll probes every detector concurrently, each in its own isolated context
// with its own deadline. A probe that errors, times out, or panics yields a
// zero score with a synthetic failure entry; it never blocks the report.
func (s *Suite) RunAll(ctx context.Context, session browser.Session, cfg ProtectionConfig) DetectionReport {
	scores := make([]DetectionScore, len(s.detectors))
	var wg sync.WaitGroup
	for i, d := range s.detectors {
		wg.Add(1)
		go func(idx int, det Detector) {
			defer wg.Done()
			start := time.Now()
			score := s.runProbe(ctx, session, det, cfg)
			score.Metadata = withDuration(score.Metadata, time.Since(start))
			scores[idx] = score
		}(i, d)
	}
	wg.Wait()

	weights := make(map[string]int, len(s.detectors))
	for _, d := range s.detectors {
		weights[d.Name()] = d.Weight()
	}
	overall := OverallScore(scores, weights)
	return DetectionReport{
		Timestamp:      time.Now().UTC(),
		OverallScore:   overall,
		Grade:          GradeFor(overall),
		Recommendation: Recommendation(overall, scores),
		DetectorScores: scores,
		ConfigSnapshot: cfg,
	}
}

func (s *Suite) runProbe(ctx context.Context, session browser.Session, det Detector, cfg ProtectionConfig) (score DetectionScore) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("detector probe panicked", "detector", det.Name(), "panic", r)
			score = zeroScore(det.Name(), fmt.Sprintf("probe panicked: %v", r))
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	handle, err := session.OpenContext(probeCtx)
	if err != nil {
		s.logger.Warn("open probe context failed", "detector", det.Name(), "error", err)
		return zeroScore(det.Name(), "open context failed: "+err.Error())
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if closeErr := session.CloseContext(closeCtx, handle); closeErr != nil {
			s.logger.Warn("close probe context failed", "detector", det.Name(), "error", closeErr)
		}
	}()

	if _, err := session.Evaluate(probeCtx, handle, configureScript(cfg)); err != nil {
		s.logger.Warn("apply protection config failed", "detector", det.Name(), "error", err)
		return zeroScore(det.Name(), "apply config failed: "+err.Error())
	}

	result, err := det.Probe(probeCtx, session, handle, cfg)
	if err != nil {
		s.logger.Warn("detector probe failed", "detector", det.Name(), "error", err)
		return zeroScore(det.Name(), "probe failed: "+err.Error())
	}
	return result
}

func zeroScore(detector, reason string) DetectionScore {
	return DetectionScore{
		Detector:  detector,
		Score:     0,
		Failed:    []string{reason},
		Timestamp: time.Now().UTC(),
	}
}

func withDuration(metadata map[string]any, d time.Duration) map[string]any {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["duration_ms"] = d.Milliseconds()
	return metadata
}
