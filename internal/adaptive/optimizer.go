package adaptive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/wpeva/new-undetect-browser-sub005/internal/detect"
)

// OptimizeRequest is the hint handed to the external configuration search.
type OptimizeRequest struct {
	CurrentScore    int `json:"current_score"`
	IterationBudget int `json:"iteration_budget"`
	TimeBudgetSec   int `json:"time_budget_sec"`
}

// Optimizer proposes a candidate configuration given the current score. It is
// a black box with a hard deadline; any error, timeout, or unparseable output
// counts as "no result".
type Optimizer interface {
	Propose(ctx context.Context, req OptimizeRequest) (detect.ProtectionConfig, error)
}

// ProcessOptimizer invokes the search as a subprocess: the request is written
// as JSON to stdin and the proposed configuration is read as JSON from
// stdout. The process is killed when the deadline passes.
type ProcessOptimizer struct {
	Command []string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewProcessOptimizer(command []string, timeout time.Duration, logger *slog.Logger) *ProcessOptimizer {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessOptimizer{Command: command, Timeout: timeout, Logger: logger}
}

func (o *ProcessOptimizer) Propose(ctx context.Context, req OptimizeRequest) (detect.ProtectionConfig, error) {
	if len(o.Command) == 0 {
		return detect.ProtectionConfig{}, errors.New("optimizer command not configured")
	}
	runCtx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	payload, err := json.Marshal(req)
	if err != nil {
		return detect.ProtectionConfig{}, fmt.Errorf("marshal optimize request: %w", err)
	}

	cmd := exec.CommandContext(runCtx, o.Command[0], o.Command[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return detect.ProtectionConfig{}, fmt.Errorf("optimizer exceeded %s budget: %w", o.Timeout, runCtx.Err())
		}
		if stderr.Len() > 0 {
			return detect.ProtectionConfig{}, fmt.Errorf("optimizer process failed: %w: %s", err, stderr.String())
		}
		return detect.ProtectionConfig{}, fmt.Errorf("optimizer process failed: %w", err)
	}
	o.Logger.Debug("optimizer process finished",
		"command", o.Command[0],
		"duration", time.Since(start),
	)
	return ParseProposedConfig(stdout.Bytes())
}

// ParseProposedConfig decodes the first JSON object on the optimizer's stdout
// and clamps every dial into [0,1]. Anything else is a failed proposal.
func ParseProposedConfig(output []byte) (detect.ProtectionConfig, error) {
	trimmed := bytes.TrimSpace(output)
	if len(trimmed) == 0 {
		return detect.ProtectionConfig{}, errors.New("optimizer returned no result")
	}
	var cfg detect.ProtectionConfig
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	if err := decoder.Decode(&cfg); err != nil {
		return detect.ProtectionConfig{}, fmt.Errorf("decode proposed config: %w", err)
	}
	return cfg.Clamped(), nil
}
