package scoring

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/stemsi/exchange-allocator/internal/model"
	"gopkg.in/yaml.v3"
)

// weightTolerance is how far a weight set may drift from 1.0.
const weightTolerance = 1e-9

var (
	ErrWeightSum             = errors.New("scoring weights must sum to 1.0")
	ErrNegativeWeight        = errors.New("scoring weights must not be negative")
	ErrPreferenceSchedule    = errors.New("preference weights need one value in (0,1] per slot")
	ErrUnknownScoringProfile = errors.New("unknown scoring strategy")
)

// Weights are the criterion weights of the weighted strategy.
type Weights struct {
	Grade       float64 `yaml:"grade"`
	Motivation  float64 `yaml:"motivation"`
	Language    float64 `yaml:"language"`
	CV          float64 `yaml:"cv"`
	Formalities float64 `yaml:"formalities"`
}

func (w Weights) values() []float64 {
	return []float64{w.Grade, w.Motivation, w.Language, w.CV, w.Formalities}
}

// SimpleWeights are the criterion weights of the simple strategy.
type SimpleWeights struct {
	Grade    float64 `yaml:"grade"`
	Language float64 `yaml:"language"`
}

func (w SimpleWeights) values() []float64 {
	return []float64{w.Grade, w.Language}
}

// Profile holds every tunable number of the scoring model. It is read
// once at startup and passed by value afterwards.
type Profile struct {
	Strategy           model.ScoringStrategy `yaml:"strategy"`
	Weights            Weights               `yaml:"weights"`
	SimpleWeights      SimpleWeights         `yaml:"simple_weights"`
	SpecialBonus       float64               `yaml:"special_circumstance_bonus"`
	LowCreditMalus     float64               `yaml:"low_credit_malus"`
	LowCreditThreshold float64               `yaml:"low_credit_threshold"`
	LanguageLevels     map[string]float64    `yaml:"language_levels"`
	PreferenceWeights  []float64             `yaml:"preference_weights"`
}

// DefaultProfile returns the program's standard scoring rules.
func DefaultProfile() Profile {
	return Profile{
		Strategy: model.ScoringWeighted,
		Weights: Weights{
			Grade:       0.6,
			Motivation:  0.2,
			Language:    0.1,
			CV:          0.05,
			Formalities: 0.05,
		},
		SimpleWeights: SimpleWeights{
			Grade:    0.8,
			Language: 0.2,
		},
		SpecialBonus:       0.6,
		LowCreditMalus:     0.2,
		LowCreditThreshold: 60,
		LanguageLevels: map[string]float64{
			"C2": 1.0,
			"C1": 0.8,
			"B2": 0.6,
			"B1": 0.4,
			"A2": 0.2,
			"A1": 0.0,
		},
		PreferenceWeights: []float64{1.0, 0.9, 0.8, 0.7, 0.6},
	}
}

// LoadProfile reads a YAML profile on top of the defaults. An empty path
// returns the defaults unchanged.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	if path == "" {
		return p, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read scoring profile: %w", err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("parse scoring profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("scoring profile %s: %w", path, err)
	}
	return p, nil
}

// Validate checks the weight sets and the preference schedule.
func (p Profile) Validate() error {
	if err := checkWeights(p.Weights.values()); err != nil {
		return fmt.Errorf("weights: %w", err)
	}
	if err := checkWeights(p.SimpleWeights.values()); err != nil {
		return fmt.Errorf("simple_weights: %w", err)
	}
	if len(p.PreferenceWeights) != model.MaxPreferences {
		return ErrPreferenceSchedule
	}
	for _, w := range p.PreferenceWeights {
		if w <= 0 || w > 1 {
			return ErrPreferenceSchedule
		}
	}
	return nil
}

func checkWeights(ws []float64) error {
	sum := 0.0
	for _, w := range ws {
		if w < 0 {
			return ErrNegativeWeight
		}
		sum += w
	}
	if math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("%w (got %.6f)", ErrWeightSum, sum)
	}
	return nil
}

// PreferenceWeight maps a 1-based slot to its objective weight. Slot 0
// (no stated preference) keeps the plain score.
func (p Profile) PreferenceWeight(slot int) float64 {
	if slot < 1 || slot > len(p.PreferenceWeights) {
		return 1.0
	}
	return p.PreferenceWeights[slot-1]
}
