// Package detector implements the four fraud-signal detectors:
// phishing, quishing, collect-request exploitation, and
// malware/device compromise.
//
// Every detector satisfies domain.Detector: it must complete within the
// caller's context and must never surface an internal fault. A missing
// or broken classifier artifact degrades the detector to rule-only
// mode; the rule composite always acts as a floor under the model
// score so hard fraud patterns cannot be diluted by a weak model.
package detector

import (
	"math"
	"regexp"
	"strings"
)

// blend combines a rule-based base score with a model score. The base
// acts as a floor: known fraud patterns (credential phrases, urgency +
// link, authority impersonation) are never diluted below their rule
// score.
func blend(base, model float64) float64 {
	return math.Max(base, 0.7*model+0.3*base)
}

// confidenceFrom derives confidence from a probability: distance from
// maximum uncertainty (0.5), scaled to [0,1].
func confidenceFrom(p float64) float64 {
	return math.Abs(p-0.5) * 2
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

func containsAny(msg string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(msg, t) {
			return true
		}
	}
	return false
}

func countMatches(msg string, terms []string) int {
	n := 0
	for _, t := range terms {
		if strings.Contains(msg, t) {
			n++
		}
	}
	return n
}

func boolFeat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var urlPattern = regexp.MustCompile(`https?://[^\s]+|www\.[^\s]+|bit\.ly/[^\s]+`)

// firstURL extracts the first URL-like token from a message, or "".
func firstURL(msg string) string {
	return urlPattern.FindString(msg)
}
