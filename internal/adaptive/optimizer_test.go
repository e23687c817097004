package adaptive

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/wpeva/new-undetect-browser-sub005/internal/detect"
)

func TestParseProposedConfig(t *testing.T) {
	output := []byte(`{"canvas_noise": 0.8, "webgl_noise": 0.7, "audio_noise": 0.6,
		"font_spoofing": 0.5, "timezone": 0.4, "language": 0.3,
		"hardware_concurrency": 0.2, "device_memory": 0.1,
		"screen_noise": 0.9, "user_agent_rotation": 1.0}`)

	cfg, err := ParseProposedConfig(output)
	if err != nil {
		t.Fatalf("ParseProposedConfig error: %v", err)
	}
	if cfg.CanvasNoise != 0.8 || cfg.UserAgentRotation != 1.0 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseProposedConfigClampsOutOfRange(t *testing.T) {
	output := []byte(`{"canvas_noise": 3.5, "webgl_noise": -1.0}`)
	cfg, err := ParseProposedConfig(output)
	if err != nil {
		t.Fatalf("ParseProposedConfig error: %v", err)
	}
	if cfg.CanvasNoise != 1 {
		t.Fatalf("expected canvas clamp to 1, got %v", cfg.CanvasNoise)
	}
	if cfg.WebGLNoise != 0 {
		t.Fatalf("expected webgl clamp to 0, got %v", cfg.WebGLNoise)
	}
}

func TestParseProposedConfigRejectsEmpty(t *testing.T) {
	if _, err := ParseProposedConfig([]byte("   \n")); err == nil {
		t.Fatalf("expected error for empty output")
	}
}

func TestParseProposedConfigRejectsGarbage(t *testing.T) {
	if _, err := ParseProposedConfig([]byte("Traceback (most recent call last):")); err == nil {
		t.Fatalf("expected error for non-JSON output")
	}
}

func TestParseProposedConfigIgnoresTrailingLogLines(t *testing.T) {
	output := []byte("{\"canvas_noise\": 0.75}\ndone in 3 iterations\n")
	cfg, err := ParseProposedConfig(output)
	if err != nil {
		t.Fatalf("ParseProposedConfig error: %v", err)
	}
	if cfg.CanvasNoise != 0.75 {
		t.Fatalf("unexpected canvas noise: %v", cfg.CanvasNoise)
	}
}

func TestProcessOptimizerRunsSubprocess(t *testing.T) {
	o := NewProcessOptimizer([]string{"sh", "-c", `echo '{"canvas_noise": 0.8}'`}, time.Minute, nil)
	cfg, err := o.Propose(context.Background(), OptimizeRequest{CurrentScore: 70})
	if err != nil {
		t.Fatalf("Propose error: %v", err)
	}
	if cfg.CanvasNoise != 0.8 {
		t.Fatalf("unexpected canvas noise: %v", cfg.CanvasNoise)
	}
}

func TestProcessOptimizerReceivesRequestOnStdin(t *testing.T) {
	// The subprocess echoes its stdin; the request JSON decodes as an empty
	// config because none of its fields overlap the dials.
	o := NewProcessOptimizer([]string{"sh", "-c", "cat"}, time.Minute, nil)
	cfg, err := o.Propose(context.Background(), OptimizeRequest{CurrentScore: 70, IterationBudget: 10, TimeBudgetSec: 5})
	if err != nil {
		t.Fatalf("Propose error: %v", err)
	}
	if cfg != (detect.ProtectionConfig{}) {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
}

func TestProcessOptimizerTimeout(t *testing.T) {
	o := NewProcessOptimizer([]string{"sh", "-c", "sleep 10"}, 50*time.Millisecond, nil)
	_, err := o.Propose(context.Background(), OptimizeRequest{})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !strings.Contains(err.Error(), "budget") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestProcessOptimizerNonZeroExit(t *testing.T) {
	o := NewProcessOptimizer([]string{"sh", "-c", "echo boom >&2; exit 3"}, time.Minute, nil)
	_, err := o.Propose(context.Background(), OptimizeRequest{})
	if err == nil {
		t.Fatalf("expected process failure error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("stderr missing from error: %v", err)
	}
}

func TestProcessOptimizerEmptyCommand(t *testing.T) {
	o := &ProcessOptimizer{Timeout: time.Minute}
	if _, err := o.Propose(context.Background(), OptimizeRequest{}); err == nil {
		t.Fatalf("expected error for missing command")
	}
}
