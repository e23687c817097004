package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/wpeva/new-undetect-browser-sub005/internal/adaptive"
	"github.com/wpeva/new-undetect-browser-sub005/internal/detect"
)

func TestFileStoreDefaultConfigWhenAbsent(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	cfg, err := s.LoadConfig(context.Background())
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg != detect.DefaultProtectionConfig() {
		t.Fatalf("expected default config, got %+v", cfg)
	}
}

func TestFileStoreConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, 0)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}

	saved := detect.DefaultProtectionConfig()
	saved.CanvasNoise = 0.8
	saved.UserAgentRotation = 0.1
	if err := s.SaveConfig(context.Background(), saved); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}

	// Reconstruct from disk.
	reopened, err := NewFileStore(dir, 0)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	loaded, err := reopened.LoadConfig(context.Background())
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if loaded != saved {
		t.Fatalf("round trip mismatch: %+v != %+v", loaded, saved)
	}
}

func TestFileStoreSaveClampsConfig(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	wild := detect.ProtectionConfig{CanvasNoise: 2.5, WebGLNoise: -1}
	if err := s.SaveConfig(context.Background(), wild); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}
	loaded, err := s.LoadConfig(context.Background())
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if loaded.CanvasNoise != 1 || loaded.WebGLNoise != 0 {
		t.Fatalf("config not clamped: %+v", loaded)
	}
}

func TestFileStoreHistoryBoundAndOrder(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, 3)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		result := adaptive.UpdateResult{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			NewScore:  70 + i,
			Reason:    fmt.Sprintf("cycle %d", i),
		}
		if err := s.AppendUpdateResult(context.Background(), result); err != nil {
			t.Fatalf("AppendUpdateResult error: %v", err)
		}
	}

	results, err := s.ListUpdateResults(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListUpdateResults error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(results))
	}
	// Oldest evicted first, remainder chronological.
	for i, r := range results {
		if want := 72 + i; r.NewScore != want {
			t.Fatalf("position %d: expected score %d, got %d", i, want, r.NewScore)
		}
	}

	limited, err := s.ListUpdateResults(context.Background(), 2)
	if err != nil {
		t.Fatalf("ListUpdateResults error: %v", err)
	}
	if len(limited) != 2 || limited[0].NewScore != 73 || limited[1].NewScore != 74 {
		t.Fatalf("limit must return the most recent entries in order, got %+v", limited)
	}
}

func TestFileStoreHistorySurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, 10)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}

	report := detect.DetectionReport{
		Timestamp:    time.Now().UTC().Truncate(time.Second),
		OverallScore: 88,
		Grade:        "B",
	}
	if err := s.AppendDetectionReport(context.Background(), report); err != nil {
		t.Fatalf("AppendDetectionReport error: %v", err)
	}
	result := adaptive.UpdateResult{NewScore: 88, Reason: "kept"}
	if err := s.AppendUpdateResult(context.Background(), result); err != nil {
		t.Fatalf("AppendUpdateResult error: %v", err)
	}

	reopened, err := NewFileStore(dir, 10)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	reports, err := reopened.ListDetectionReports(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListDetectionReports error: %v", err)
	}
	if len(reports) != 1 || reports[0].OverallScore != 88 {
		t.Fatalf("detection history lost on reopen: %+v", reports)
	}
	results, err := reopened.ListUpdateResults(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListUpdateResults error: %v", err)
	}
	if len(results) != 1 || results[0].Reason != "kept" {
		t.Fatalf("update history lost on reopen: %+v", results)
	}
}

func TestFileStoreReopenTrimsOversizedHistory(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, 10)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	for i := 0; i < 6; i++ {
		if err := s.AppendUpdateResult(context.Background(), adaptive.UpdateResult{NewScore: i}); err != nil {
			t.Fatalf("AppendUpdateResult error: %v", err)
		}
	}

	// Reopen with a tighter cap; the oldest entries go.
	reopened, err := NewFileStore(dir, 2)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	results, err := reopened.ListUpdateResults(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListUpdateResults error: %v", err)
	}
	if len(results) != 2 || results[0].NewScore != 4 || results[1].NewScore != 5 {
		t.Fatalf("expected two newest entries, got %+v", results)
	}
}
