package detect

import (
	"math"
	"strings"
)

// OverallScore is the weight-normalized mean of detector scores, rounded to
// the nearest integer. Zero-scored detectors still carry their weight, so a
// failed probe drags the overall score down rather than vanishing.
func OverallScore(scores []DetectionScore, weights map[string]int) int {
	weightedSum := 0.0
	totalWeight := 0.0
	for _, s := range scores {
		w := weights[s.Detector]
		if w <= 0 {
			w = 1
		}
		weightedSum += float64(s.Score) * float64(w)
		totalWeight += float64(w)
	}
	if totalWeight == 0 {
		return 0
	}
	return int(math.Round(weightedSum / totalWeight))
}

// GradeFor maps an overall score to a letter grade. Monotonic by
// construction.
func GradeFor(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

const excellentRecommendation = "Excellent stealth. No changes recommended."

// advice pairs a failure keyword with the dial that usually fixes it. Order
// matters: higher-impact leaks come first in the recommendation text.
var adviceTable = []struct {
	keyword string
	advice  string
}{
	{"webdriver", "hide navigator.webdriver and related automation flags"},
	{"chromedriver", "strip chromedriver globals from the page"},
	{"headless", "rotate away from headless user-agent strings"},
	{"canvas", "raise canvas noise"},
	{"webgl", "raise webgl noise and mask the renderer"},
	{"audio", "raise audio fingerprint noise"},
	{"font", "raise font spoofing"},
	{"timezone", "align timezone spoofing with the exit IP"},
	{"language", "populate navigator.languages"},
	{"plugin", "populate the plugin list"},
}

// Recommendation summarizes what to tune. At >=90 a fixed message is returned
// without scanning; otherwise failures and warnings from sub-90 detectors are
// matched against known leak keywords.
func Recommendation(overall int, scores []DetectionScore) string {
	if overall >= 90 {
		return excellentRecommendation
	}

	seen := map[string]bool{}
	for _, s := range scores {
		if s.Score >= 90 {
			continue
		}
		for _, entry := range append(append([]string{}, s.Failed...), s.Warnings...) {
			lower := strings.ToLower(entry)
			for _, a := range adviceTable {
				if strings.Contains(lower, a.keyword) {
					seen[a.keyword] = true
				}
			}
		}
	}
	if len(seen) == 0 {
		return "Protection is below target; review failed checks on low-scoring detectors."
	}

	parts := make([]string, 0, len(seen))
	for _, a := range adviceTable {
		if seen[a.keyword] {
			parts = append(parts, a.advice)
		}
	}
	return "Recommended: " + strings.Join(parts, "; ") + "."
}
