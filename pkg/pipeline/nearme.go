package pipeline

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dineseek/dineseek/pkg/config"
)

// nearMeSignal is the outcome of the deterministic near-me detector.
type nearMeSignal struct {
	Triggered      bool
	DistanceMeters int
}

// Distance expressions the detector understands, latin and hebrew units.
// Kilometers are matched before meters so "2 km" is never read as "2 m".
var (
	kilometerRe = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(?:km\b|kilometers?\b|kilometres?\b|ק"מ|ק״מ|קילומטר(?:ים)?)`)
	meterRe     = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(?:m\b|meters?\b|metres?\b|מטר(?:ים)?)`)
)

// detectNearMe scans the original query for the tuned near-me phrases and an
// explicit distance. Detection never consults the LLM: the phrase lists ship
// in the tuning file, per language.
func detectNearMe(query string, tuning *config.Tuning) nearMeSignal {
	lower := strings.ToLower(query)

	signal := nearMeSignal{DistanceMeters: extractDistanceMeters(lower)}
	for _, phrases := range tuning.NearMe.Phrases {
		for _, phrase := range phrases {
			if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
				signal.Triggered = true
				return signal
			}
		}
	}
	return signal
}

// extractDistanceMeters returns the explicit search radius named in the
// query, or zero.
func extractDistanceMeters(query string) int {
	if m := kilometerRe.FindStringSubmatch(query); m != nil {
		if v, ok := parseDistanceNumber(m[1]); ok {
			return int(v * 1000)
		}
	}
	if m := meterRe.FindStringSubmatch(query); m != nil {
		if v, ok := parseDistanceNumber(m[1]); ok {
			return int(v)
		}
	}
	return 0
}

func parseDistanceNumber(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
