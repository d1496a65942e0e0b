package optimize

import (
	"errors"
	"fmt"

	"github.com/stemsi/exchange-allocator/internal/model"
	"github.com/stemsi/exchange-allocator/internal/scoring"
)

// ObjectiveStrategy selects how a pair's coefficient is derived from
// the student's score.
type ObjectiveStrategy string

const (
	// ObjectivePreferenceWeighted multiplies the score by the weight of
	// the preference slot the pair came from.
	ObjectivePreferenceWeighted ObjectiveStrategy = "preference-weighted"
	// ObjectivePlain uses the score unchanged.
	ObjectivePlain ObjectiveStrategy = "plain"
)

var (
	ErrUnknownObjective      = errors.New("unknown objective strategy")
	ErrIncompatibleObjective = errors.New("preference-weighted objective needs preference eligibility")
)

// DefaultObjective returns the objective a variant pairs with.
func DefaultObjective(variant model.Variant) ObjectiveStrategy {
	if variant == model.VariantOpen {
		return ObjectivePlain
	}
	return ObjectivePreferenceWeighted
}

// Objective composes per-pair coefficients.
type Objective struct {
	strategy ObjectiveStrategy
	profile  scoring.Profile
}

// NewObjective validates the strategy against the eligibility variant.
// An empty strategy selects the variant's default.
func NewObjective(strategy ObjectiveStrategy, variant model.Variant, profile scoring.Profile) (*Objective, error) {
	if strategy == "" {
		strategy = DefaultObjective(variant)
	}
	switch strategy {
	case ObjectivePlain:
	case ObjectivePreferenceWeighted:
		if variant == model.VariantOpen {
			return nil, ErrIncompatibleObjective
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownObjective, strategy)
	}
	return &Objective{strategy: strategy, profile: profile}, nil
}

func (o *Objective) Strategy() ObjectiveStrategy { return o.strategy }

// Weight returns w(s,u). Pairs without a slot always weigh 1.0.
func (o *Objective) Weight(pair model.EligiblePair) float64 {
	if o.strategy == ObjectivePlain {
		return 1.0
	}
	return o.profile.PreferenceWeight(pair.Slot)
}

// Coefficient is score · w(s,u).
func (o *Objective) Coefficient(score float64, pair model.EligiblePair) float64 {
	return score * o.Weight(pair)
}
