package routing

import (
	"log"

	"github.com/ikuradondai/erudaite-desktop/src/config"
	"github.com/ikuradondai/erudaite-desktop/src/langid"
	"github.com/ikuradondai/erudaite-desktop/src/langtag"
)

// Decision is a speculative routing choice made before authoritative
// detection returns. Detection is never awaited first: the stream starts
// toward Target immediately, which is the point of this resolver.
type Decision struct {
	// Target is the speculative translation target (a display label).
	Target string
	// RecheckOnDetect is true when the authoritative detection result may
	// re-route the active session. When false, detection only updates the
	// displayed source-language label.
	RecheckOnDetect bool
}

// Resolve picks the speculative target for capturedText under the configured
// strategy.
func Resolve(s config.Settings, capturedText string) Decision {
	switch s.RoutingStrategy {
	case config.StrategyFixed:
		return Decision{Target: fallback(s.FixedTargetLanguage, s.DefaultLanguage)}
	case config.StrategyLastUsed:
		return Decision{Target: fallback(s.LastUsedTarget, s.DefaultLanguage)}
	default:
		verdict := langid.Classify(capturedText, s.DefaultLanguage)
		target := s.DefaultLanguage
		if verdict == langid.Default {
			target = s.SecondaryLanguage
		}
		log.Printf("Routing: heuristic %s -> speculative target %q", verdict, target)
		return Decision{Target: target, RecheckOnDetect: true}
	}
}

// RealTarget recomputes the target once authoritative detection resolved,
// for the defaultBased strategy: text detected as the default language is
// translated to the secondary one, everything else to the default. Detection
// labels are compared by canonical code, tolerating alias variants.
func RealTarget(s config.Settings, detectedLang string) string {
	if langtag.Same(detectedLang, s.DefaultLanguage) {
		return s.SecondaryLanguage
	}
	return s.DefaultLanguage
}

// ShouldReroute reports whether the stream running toward current must be
// superseded in favor of real.
func ShouldReroute(current, real string) bool {
	return !langtag.Same(current, real)
}

func fallback(value, def string) string {
	if value != "" {
		return value
	}
	return def
}
