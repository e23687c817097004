package detect

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wpeva/new-undetect-browser-sub005/internal/browser"
)

type fakeSession struct {
	mu        sync.Mutex
	opened    int
	closed    int
	scripts   []string
	evalValue any
	evalErr   error
	navErr    error
}

func (f *fakeSession) OpenContext(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	return "ctx-1", nil
}

func (f *fakeSession) Navigate(ctx context.Context, handle, pageURL string, timeout time.Duration) error {
	return f.navErr
}

func (f *fakeSession) Evaluate(ctx context.Context, handle, script string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, script)
	if f.evalErr != nil {
		return nil, f.evalErr
	}
	if f.evalValue != nil {
		return f.evalValue, nil
	}
	return true, nil
}

func (f *fakeSession) CloseContext(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

type stubDetector struct {
	name   string
	weight int
	score  int
	err    error
	panics bool
	block  time.Duration
}

func (d stubDetector) Name() string { return d.name }

func (d stubDetector) Weight() int { return d.weight }

func (d stubDetector) Probe(ctx context.Context, session browser.Session, handle string, cfg ProtectionConfig) (DetectionScore, error) {
	if d.panics {
		panic("detector exploded")
	}
	if d.block > 0 {
		select {
		case <-ctx.Done():
			return DetectionScore{}, ctx.Err()
		case <-time.After(d.block):
		}
	}
	if d.err != nil {
		return DetectionScore{}, d.err
	}
	return DetectionScore{
		Detector:  d.name,
		Score:     d.score,
		Timestamp: time.Now().UTC(),
	}, nil
}

func TestRunAllAggregatesScores(t *testing.T) {
	session := &fakeSession{}
	suite := NewSuite(SuiteOptions{
		Detectors: []Detector{
			stubDetector{name: "a", weight: 1, score: 90},
			stubDetector{name: "b", weight: 3, score: 70},
		},
	})

	report := suite.RunAll(context.Background(), session, DefaultProtectionConfig())
	// (90*1 + 70*3) / 4 = 75
	if report.OverallScore != 75 {
		t.Fatalf("expected overall 75, got %d", report.OverallScore)
	}
	if report.Grade != "C" {
		t.Fatalf("expected grade C, got %s", report.Grade)
	}
	if len(report.DetectorScores) != 2 {
		t.Fatalf("expected 2 detector scores, got %d", len(report.DetectorScores))
	}
	if report.ConfigSnapshot != DefaultProtectionConfig() {
		t.Fatalf("config snapshot mismatch")
	}
	if session.opened != 2 || session.closed != 2 {
		t.Fatalf("expected one context per probe: opened=%d closed=%d", session.opened, session.closed)
	}
}

func TestRunAllAppliesConfigBeforeProbe(t *testing.T) {
	session := &fakeSession{}
	suite := NewSuite(SuiteOptions{
		Detectors: []Detector{stubDetector{name: "a", weight: 1, score: 100}},
	})
	cfg := DefaultProtectionConfig()
	cfg.CanvasNoise = 0.9

	suite.RunAll(context.Background(), session, cfg)
	if len(session.scripts) == 0 {
		t.Fatalf("expected a config script evaluation")
	}
	if !strings.Contains(session.scripts[0], "__undetectProtection") {
		t.Fatalf("unexpected first script: %s", session.scripts[0])
	}
	if !strings.Contains(session.scripts[0], "0.9") {
		t.Fatalf("config values missing from script: %s", session.scripts[0])
	}
}

func TestRunAllDegradesFailedProbeToZero(t *testing.T) {
	session := &fakeSession{}
	suite := NewSuite(SuiteOptions{
		Detectors: []Detector{
			stubDetector{name: "good", weight: 1, score: 100},
			stubDetector{name: "bad", weight: 1, err: errors.New("connection refused")},
		},
	})

	report := suite.RunAll(context.Background(), session, DefaultProtectionConfig())
	if report.OverallScore != 50 {
		t.Fatalf("expected overall 50, got %d", report.OverallScore)
	}
	var bad DetectionScore
	for _, s := range report.DetectorScores {
		if s.Detector == "bad" {
			bad = s
		}
	}
	if bad.Score != 0 {
		t.Fatalf("failed probe must score 0, got %d", bad.Score)
	}
	if len(bad.Failed) != 1 || !strings.Contains(bad.Failed[0], "connection refused") {
		t.Fatalf("expected synthetic failure entry, got %v", bad.Failed)
	}
}

func TestRunAllSurvivesPanickingDetector(t *testing.T) {
	session := &fakeSession{}
	suite := NewSuite(SuiteOptions{
		Detectors: []Detector{stubDetector{name: "panicky", weight: 1, panics: true}},
	})

	report := suite.RunAll(context.Background(), session, DefaultProtectionConfig())
	if report.OverallScore != 0 {
		t.Fatalf("expected overall 0, got %d", report.OverallScore)
	}
	if len(report.DetectorScores[0].Failed) == 0 {
		t.Fatalf("expected a synthetic failure entry for the panic")
	}
}

func TestRunAllTimesOutSlowDetector(t *testing.T) {
	session := &fakeSession{}
	suite := NewSuite(SuiteOptions{
		Detectors:    []Detector{stubDetector{name: "slow", weight: 1, block: 5 * time.Second}},
		ProbeTimeout: 20 * time.Millisecond,
	})

	start := time.Now()
	report := suite.RunAll(context.Background(), session, DefaultProtectionConfig())
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("probe timeout not enforced, took %s", elapsed)
	}
	if report.OverallScore != 0 {
		t.Fatalf("timed-out probe must score 0, got %d", report.OverallScore)
	}
}

func TestRunAllRecordsProbeDuration(t *testing.T) {
	session := &fakeSession{}
	suite := NewSuite(SuiteOptions{
		Detectors: []Detector{stubDetector{name: "a", weight: 1, score: 100}},
	})

	report := suite.RunAll(context.Background(), session, DefaultProtectionConfig())
	if _, ok := report.DetectorScores[0].Metadata["duration_ms"]; !ok {
		t.Fatalf("expected duration_ms metadata, got %v", report.DetectorScores[0].Metadata)
	}
}

func TestSiteDetectorScoring(t *testing.T) {
	session := &fakeSession{
		evalValue: map[string]any{
			"webdriver_absent": true,
			"headless_ua":      false,
			"canvas_randomized": false,
			"webgl_vendor_masked": true,
			"plugin_count":   float64(0),
			"language_count": float64(2),
		},
	}
	det := pixelscanDetector()

	score, err := det.Probe(context.Background(), session, "ctx-1", DefaultProtectionConfig())
	if err != nil {
		t.Fatalf("Probe error: %v", err)
	}
	// 100 - 20 (canvas fail) - 5 (plugin warn, half of 10) = 75
	if score.Score != 75 {
		t.Fatalf("expected 75, got %d", score.Score)
	}
	if len(score.Failed) != 1 || !strings.Contains(score.Failed[0], "canvas") {
		t.Fatalf("expected one canvas failure, got %v", score.Failed)
	}
	if len(score.Warnings) != 1 || !strings.Contains(score.Warnings[0], "plugin") {
		t.Fatalf("expected one plugin warning, got %v", score.Warnings)
	}
}

func TestSiteDetectorMissingObservableFails(t *testing.T) {
	session := &fakeSession{
		evalValue: map[string]any{
			"webdriver_absent": true,
		},
	}
	det := sannysoftDetector()

	score, err := det.Probe(context.Background(), session, "ctx-1", DefaultProtectionConfig())
	if err != nil {
		t.Fatalf("Probe error: %v", err)
	}
	// 100 - 30 (headless) - 15 (plugins) - 5 (languages warn) - 7 (webgl warn) = 43
	if score.Score != 43 {
		t.Fatalf("expected 43, got %d", score.Score)
	}
}

func TestSiteDetectorScoreFloor(t *testing.T) {
	session := &fakeSession{evalValue: map[string]any{}}
	det := pixelscanDetector()

	score, err := det.Probe(context.Background(), session, "ctx-1", DefaultProtectionConfig())
	if err != nil {
		t.Fatalf("Probe error: %v", err)
	}
	if score.Score != 0 {
		t.Fatalf("score must floor at 0, got %d", score.Score)
	}
}

func TestSiteDetectorNonObjectResult(t *testing.T) {
	session := &fakeSession{evalValue: "nope"}
	det := creepjsDetector()

	if _, err := det.Probe(context.Background(), session, "ctx-1", DefaultProtectionConfig()); err == nil {
		t.Fatalf("expected error for non-object probe result")
	}
}

func TestDefaultDetectorPanel(t *testing.T) {
	detectors := DefaultDetectors()
	if len(detectors) != 5 {
		t.Fatalf("expected 5 detectors, got %d", len(detectors))
	}
	weights := map[string]int{}
	for _, d := range detectors {
		weights[d.Name()] = d.Weight()
	}
	expected := map[string]int{"pixelscan": 9, "creepjs": 10, "browserleaks": 8, "incolumitas": 7, "sannysoft": 5}
	for name, w := range expected {
		if weights[name] != w {
			t.Fatalf("detector %s weight = %d, expected %d", name, weights[name], w)
		}
	}
}
