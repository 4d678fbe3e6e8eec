package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning holds the search behavior knobs that product iterates on without
// code changes: near-me phrase lists, ranking weights, radii and the chip
// catalog. A built-in default ships in the binary; SEARCH_TUNING_PATH
// points at a YAML override.
type Tuning struct {
	// RegionFallback is the ISO alpha-2 region used when neither location
	// nor intent yields one.
	RegionFallback string `yaml:"region_fallback"`

	NearMe  NearMeTuning  `yaml:"near_me"`
	Ranking RankingTuning `yaml:"ranking"`
	Nearby  NearbyTuning  `yaml:"nearby"`
	Chips   []ChipDef     `yaml:"chips"`
}

// NearMeTuning lists the deterministic near-me trigger phrases per language.
type NearMeTuning struct {
	Phrases map[string][]string `yaml:"phrases"`
}

// RankingTuning weights the result score.
type RankingTuning struct {
	RatingWeight     float64 `yaml:"rating_weight"`
	PopularityWeight float64 `yaml:"popularity_weight"`
	DistanceWeight   float64 `yaml:"distance_weight"`
	SoftHintBonus    float64 `yaml:"soft_hint_bonus"`
	// RetryMinResults triggers the unbiased TextSearch retry when a
	// region-biased call returns fewer results.
	RetryMinResults int `yaml:"retry_min_results"`
}

// NearbyTuning bounds radius selection for NEARBY and LANDMARK_PLAN routes.
type NearbyTuning struct {
	DefaultRadiusMeters int `yaml:"default_radius_meters"`
	MaxRadiusMeters     int `yaml:"max_radius_meters"`
	// ExactGroupRadiusMeters splits EXACT from NEARBY result groups.
	ExactGroupRadiusMeters int `yaml:"exact_group_radius_meters"`
}

// ChipDef is one suggested refinement offered to the client.
type ChipDef struct {
	ID     string            `yaml:"id"`
	Labels map[string]string `yaml:"labels"`
	Query  string            `yaml:"query"`
	// When lists applied-filter tags that make the chip redundant.
	When []string `yaml:"when"`
}

// defaultTuningYAML is the built-in tuning shipped with the binary.
const defaultTuningYAML = `
region_fallback: IL

near_me:
  phrases:
    he: ["לידי", "ליד", "קרוב אלי", "קרוב אליי", "בסביבה", "באזור שלי", "מסעדות לידי"]
    en: ["near me", "nearby", "close to me", "close by", "around me", "around here", "walking distance"]
    ru: ["рядом со мной", "поблизости", "недалеко от меня", "рядом"]
    ar: ["بالقرب مني", "قريب مني", "بجانبي", "حولي"]
    fr: ["près de moi", "à proximité", "autour de moi", "pas loin"]
    es: ["cerca de mí", "cerca de mi", "por aquí", "a mi alrededor"]

ranking:
  rating_weight: 2.0
  popularity_weight: 0.5
  distance_weight: 0.8
  soft_hint_bonus: 0.75
  retry_min_results: 3

nearby:
  default_radius_meters: 1500
  max_radius_meters: 5000
  exact_group_radius_meters: 400

chips:
  - id: open_now
    labels: {en: "Open now", he: "פתוח עכשיו"}
    query: "open now"
    when: ["openNow"]
  - id: kosher
    labels: {en: "Kosher", he: "כשר"}
    query: "kosher"
    when: ["kosher", "kosher:soft"]
  - id: gluten_free
    labels: {en: "Gluten free", he: "ללא גלוטן"}
    query: "gluten free"
    when: ["glutenFree", "glutenFree:soft"]
  - id: cheap
    labels: {en: "Inexpensive", he: "זול"}
    query: "cheap eats"
    when: ["price", "price:soft"]
  - id: delivery
    labels: {en: "Delivery", he: "משלוחים"}
    query: "delivery"
`

// LoadTuning parses the built-in tuning, then overlays the YAML file at
// path when given. Unknown keys are rejected so typos fail at startup.
func LoadTuning(path string) (*Tuning, error) {
	tuning := &Tuning{}
	if err := yaml.Unmarshal([]byte(defaultTuningYAML), tuning); err != nil {
		return nil, NewLoadError("builtin tuning", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, NewLoadError(path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(tuning); err != nil && !errors.Is(err, io.EOF) {
			return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}
	}

	return tuning, nil
}

// ChipLabel returns the chip label for a UI language, falling back to
// English.
func (c ChipDef) ChipLabel(lang string) string {
	if label, ok := c.Labels[lang]; ok && label != "" {
		return label
	}
	return c.Labels["en"]
}
