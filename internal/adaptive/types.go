package adaptive

import (
	"context"
	"time"

	"github.com/wpeva/new-undetect-browser-sub005/internal/detect"
)

// Reason codes for cycles that end without a measured deploy/reject decision.
// "already excellent" means no candidate was ever measured; "auto-deploy
// disabled" means a candidate was measured and passed the gate but promotion
// was declined. Keeping them distinct lets callers tell the two apart.
const (
	ReasonAlreadyRunning   = "cycle already running"
	ReasonAlreadyExcellent = "already excellent"
	ReasonOptimizerFailed  = "optimizer failed"
)

// UpdateResult records one complete cycle: what was measured, what was
// proposed, and what was decided. Immutable once appended.
type UpdateResult struct {
	Timestamp          time.Time               `json:"timestamp"`
	OldScore           int                     `json:"old_score"`
	NewScore           int                     `json:"new_score"`
	ImprovementPercent float64                 `json:"improvement_percent"`
	Deployed           bool                    `json:"deployed"`
	Reason             string                  `json:"reason"`
	OldConfig          detect.ProtectionConfig `json:"old_config"`
	NewConfig          detect.ProtectionConfig `json:"new_config"`
}

// Statistics is the aggregate view served to the dashboard layer.
type Statistics struct {
	TotalCycles     int       `json:"total_cycles"`
	Deployments     int       `json:"deployments"`
	AvgImprovement  float64   `json:"avg_improvement_percent"`
	BestImprovement float64   `json:"best_improvement_percent"`
	LastCycleAt     time.Time `json:"last_cycle_at,omitzero"`
	LastScore       int       `json:"last_score"`
	LastGrade       string    `json:"last_grade,omitempty"`
}

// Store is the controller's durable persistence port. Implementations must
// serialize writes to the same key, keep histories time-ordered, and evict
// oldest entries past their configured cap.
type Store interface {
	LoadConfig(ctx context.Context) (detect.ProtectionConfig, error)
	SaveConfig(ctx context.Context, cfg detect.ProtectionConfig) error
	AppendDetectionReport(ctx context.Context, report detect.DetectionReport) error
	ListDetectionReports(ctx context.Context, limit int) ([]detect.DetectionReport, error)
	AppendUpdateResult(ctx context.Context, result UpdateResult) error
	ListUpdateResults(ctx context.Context, limit int) ([]UpdateResult, error)
}

// Metrics receives cycle-level telemetry. A nil Metrics is valid and drops
// everything.
type Metrics interface {
	MarkCycle(ctx context.Context, status string)
	MarkDeploy(ctx context.Context)
	MarkOptimizerFailure(ctx context.Context)
	MarkProbe(ctx context.Context, detector string, durationMS int64)
}
