package detect

import "time"

// DetectionScore is the outcome of one detector probe. 100 means the session
// looked like a normal human-driven browser to that detector.
type DetectionScore struct {
	Detector  string         `json:"detector"`
	Score     int            `json:"score"`
	Passed    []string       `json:"passed,omitempty"`
	Failed    []string       `json:"failed,omitempty"`
	Warnings  []string       `json:"warnings,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// DetectionReport aggregates one full suite run against a single
// configuration snapshot.
type DetectionReport struct {
	Timestamp      time.Time        `json:"timestamp"`
	OverallScore   int              `json:"overall_score"`
	Grade          string           `json:"grade"`
	Recommendation string           `json:"recommendation"`
	DetectorScores []DetectionScore `json:"detector_scores"`
	ConfigSnapshot ProtectionConfig `json:"config_snapshot"`
}

// ProtectionConfig is the optimizer's search surface: the strength of every
// spoofing module, each in [0,1]. Exactly one instance is active at a time.
type ProtectionConfig struct {
	CanvasNoise         float64 `json:"canvas_noise"`
	WebGLNoise          float64 `json:"webgl_noise"`
	AudioNoise          float64 `json:"audio_noise"`
	FontSpoofing        float64 `json:"font_spoofing"`
	Timezone            float64 `json:"timezone"`
	Language            float64 `json:"language"`
	HardwareConcurrency float64 `json:"hardware_concurrency"`
	DeviceMemory        float64 `json:"device_memory"`
	ScreenNoise         float64 `json:"screen_noise"`
	UserAgentRotation   float64 `json:"user_agent_rotation"`
}

// DefaultProtectionConfig returns the neutral mid-strength configuration the
// platform ships with.
func DefaultProtectionConfig() ProtectionConfig {
	return ProtectionConfig{
		CanvasNoise:         0.5,
		WebGLNoise:          0.5,
		AudioNoise:          0.5,
		FontSpoofing:        0.5,
		Timezone:            0.5,
		Language:            0.5,
		HardwareConcurrency: 0.5,
		DeviceMemory:        0.5,
		ScreenNoise:         0.5,
		UserAgentRotation:   0.5,
	}
}

// Clamped returns a copy with every dial forced into [0,1]. Applied to
// anything that crosses a trust boundary: persisted configs and optimizer
// output.
func (c ProtectionConfig) Clamped() ProtectionConfig {
	return ProtectionConfig{
		CanvasNoise:         clamp01(c.CanvasNoise),
		WebGLNoise:          clamp01(c.WebGLNoise),
		AudioNoise:          clamp01(c.AudioNoise),
		FontSpoofing:        clamp01(c.FontSpoofing),
		Timezone:            clamp01(c.Timezone),
		Language:            clamp01(c.Language),
		HardwareConcurrency: clamp01(c.HardwareConcurrency),
		DeviceMemory:        clamp01(c.DeviceMemory),
		ScreenNoise:         clamp01(c.ScreenNoise),
		UserAgentRotation:   clamp01(c.UserAgentRotation),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
