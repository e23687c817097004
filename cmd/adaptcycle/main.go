package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wpeva/new-undetect-browser-sub005/internal/adaptive"
	"github.com/wpeva/new-undetect-browser-sub005/internal/browser"
	"github.com/wpeva/new-undetect-browser-sub005/internal/detect"
	"github.com/wpeva/new-undetect-browser-sub005/internal/store"
)

func main() {
	baseURL := flag.String("browser-url", envOr("UNDETECT_BROWSER_URL", "http://127.0.0.1:9222"), "Browser-layer API base URL")
	apiKey := flag.String("api-key", envOr("UNDETECT_API_KEY", ""), "API key for the browser layer")
	timeout := flag.Duration("timeout", 60*time.Second, "HTTP timeout for browser calls")
	probeTimeout := flag.Duration("probe-timeout", 45*time.Second, "Per-detector probe timeout")
	storeDir := flag.String("store-dir", envOr("UNDETECT_STORE_DIR", "adaptive-data"), "Directory for config/history state")
	maxHistory := flag.Int("max-history", 0, "Max retained history entries (0=default)")
	mode := flag.String("mode", "cycle", "Mode: detect (report only) | cycle (full optimization cycle)")
	optimizerCmd := flag.String("optimizer", envOr("UNDETECT_OPTIMIZER", ""), "Optimizer command line, space separated")
	optimizerTimeout := flag.Duration("optimizer-timeout", 2*time.Minute, "Optimizer subprocess timeout")
	minImprovement := flag.Float64("min-improvement", 5.0, "Minimum improvement percent required to deploy")
	autoDeploy := flag.Bool("auto-deploy", true, "Persist improved configs automatically")
	excellent := flag.Int("excellent-score", 95, "Score at or above which optimization is skipped")
	iterations := flag.Int("iterations", 50, "Iteration budget passed to the optimizer")
	format := flag.String("format", "text", "Output format: text|json")
	outputPath := flag.String("out", "", "Write full result JSON to this file")
	strict := flag.Bool("strict", false, "Exit non-zero when the cycle did not deploy")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	client := browser.NewClient(browser.Config{
		BaseURL: *baseURL,
		APIKey:  *apiKey,
		Timeout: *timeout,
	})
	suite := detect.NewSuite(detect.SuiteOptions{
		ProbeTimeout: *probeTimeout,
		Logger:       logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *probeTimeout*8+*optimizerTimeout)
	defer cancel()

	st, err := store.NewFileStore(*storeDir, *maxHistory)
	if err != nil {
		exitWith("failed to open state store: " + err.Error())
	}

	if strings.EqualFold(strings.TrimSpace(*mode), "detect") {
		report := suite.RunAll(ctx, client, mustLoadConfig(ctx, st))
		emit(*format, *outputPath, report, func() { printReport(report) })
		if *strict && report.OverallScore < *excellent {
			os.Exit(1)
		}
		return
	}

	command := strings.Fields(*optimizerCmd)
	if len(command) == 0 {
		exitWith("cycle mode requires -optimizer (or UNDETECT_OPTIMIZER)")
	}

	controller, err := adaptive.NewController(ctx, adaptive.ControllerOptions{
		Suite:                 suite,
		Optimizer:             adaptive.NewProcessOptimizer(command, *optimizerTimeout, logger),
		Store:                 st,
		Logger:                logger,
		MinImprovementPercent: *minImprovement,
		AutoDeploy:            *autoDeploy,
		ExcellentScore:        *excellent,
		IterationBudget:       *iterations,
		TimeBudget:            *optimizerTimeout,
	})
	if err != nil {
		exitWith("failed to build controller: " + err.Error())
	}

	result, err := controller.RunCycle(ctx, client)
	if err != nil {
		exitWith("cycle failed: " + err.Error())
	}
	emit(*format, *outputPath, result, func() { printResult(result) })
	if *strict && !result.Deployed {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func mustLoadConfig(ctx context.Context, st adaptive.Store) detect.ProtectionConfig {
	cfg, err := st.LoadConfig(ctx)
	if err != nil {
		exitWith("failed to load active config: " + err.Error())
	}
	return cfg
}

func emit(format, outputPath string, value any, printText func()) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		printJSON(value)
	default:
		printText()
	}
	if strings.TrimSpace(outputPath) != "" {
		if err := writeJSON(outputPath, value); err != nil {
			exitWith("failed to write output: " + err.Error())
		}
	}
}

func printReport(report detect.DetectionReport) {
	fmt.Printf("Overall: %d (%s)\n", report.OverallScore, report.Grade)
	fmt.Printf("Generated: %s\n\n", report.Timestamp.Format(time.RFC3339))
	for _, score := range report.DetectorScores {
		fmt.Printf("[%3d] %s\n", score.Score, score.Detector)
		for _, item := range score.Failed {
			fmt.Printf("  fail: %s\n", item)
		}
		for _, item := range score.Warnings {
			fmt.Printf("  warn: %s\n", item)
		}
	}
	fmt.Printf("\n%s\n", report.Recommendation)
}

func printResult(result adaptive.UpdateResult) {
	fmt.Printf("Score: %d -> %d (%.2f%%)\n", result.OldScore, result.NewScore, result.ImprovementPercent)
	fmt.Printf("Deployed: %v\n", result.Deployed)
	fmt.Printf("Reason: %s\n", result.Reason)
}

func printJSON(value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		exitWith("failed to encode JSON: " + err.Error())
	}
	fmt.Println(string(data))
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Clean(path), data, 0o644)
}

func exitWith(message string) {
	fmt.Fprintln(os.Stderr, "error:", message)
	os.Exit(2)
}
