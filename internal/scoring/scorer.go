// Package scoring turns a student record into a single merit score.
//
// Two strategies exist and are chosen at configuration time:
//   - weighted: grade, motivation, language, CV and formalities
//   - simple:   grade and language only
//
// Both add the hardship bonus and subtract the low-credit malus after the
// weighted sum.
package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/stemsi/exchange-allocator/internal/model"
)

// Defaults used when a field was missing in the source data.
const (
	WorstGrade  = 5.0
	WorstRating = 3.0
)

// Scorer computes a merit score. Implementations are pure.
type Scorer interface {
	Score(s model.Student) float64
	Strategy() model.ScoringStrategy
}

// New builds the scorer for a strategy. The profile is validated here so a
// bad weight set fails at startup, not in the middle of a run.
func New(strategy model.ScoringStrategy, profile Profile) (Scorer, error) {
	if strategy == "" {
		strategy = profile.Strategy
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	switch strategy {
	case model.ScoringWeighted, "":
		return &weightedScorer{p: profile}, nil
	case model.ScoringSimple:
		return &simpleScorer{p: profile}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScoringProfile, strategy)
	}
}

// ScoreAll annotates every student with their score, preserving order.
func ScoreAll(sc Scorer, students []model.Student) []model.ScoredStudent {
	out := make([]model.ScoredStudent, len(students))
	for i, s := range students {
		out[i] = model.ScoredStudent{Student: s, Score: sc.Score(s)}
	}
	return out
}

type weightedScorer struct {
	p Profile
}

func (w *weightedScorer) Strategy() model.ScoringStrategy { return model.ScoringWeighted }

func (w *weightedScorer) Score(s model.Student) float64 {
	ws := w.p.Weights
	score := ws.Grade*normalizeGrade(s.Grade) +
		ws.Motivation*normalizeRating(s.Motivation) +
		ws.Language*w.p.normalizeLanguage(s.Language) +
		ws.CV*normalizeRating(s.CV) +
		ws.Formalities*normalizeRating(s.Formalities)
	return w.p.adjust(score, s)
}

type simpleScorer struct {
	p Profile
}

func (sc *simpleScorer) Strategy() model.ScoringStrategy { return model.ScoringSimple }

func (sc *simpleScorer) Score(s model.Student) float64 {
	ws := sc.p.SimpleWeights
	score := ws.Grade*normalizeGrade(s.Grade) +
		ws.Language*sc.p.normalizeLanguage(s.Language)
	return sc.p.adjust(score, s)
}

// adjust applies the bonus and malus after normalization.
func (p Profile) adjust(score float64, s model.Student) float64 {
	if s.HasSpecialCircumstances() {
		score += p.SpecialBonus
	}
	if s.Level == model.LevelBachelor && s.Credits < p.LowCreditThreshold {
		score -= p.LowCreditMalus
	}
	return score
}

func (p Profile) normalizeLanguage(level string) float64 {
	v, ok := p.LanguageLevels[strings.ToUpper(strings.TrimSpace(level))]
	if !ok {
		return 0
	}
	return clamp01(v)
}

// normalizeGrade maps the German scale (1.0 best, 5.0 failing) onto
// [0,1]. Zero or negative grades are treated as missing.
func normalizeGrade(grade float64) float64 {
	if grade <= 0 || math.IsNaN(grade) {
		grade = WorstGrade
	}
	return clamp01((5.0 - grade) / 4.0)
}

// normalizeRating maps a 1..3 rating (1 best) onto [0,1].
func normalizeRating(rating float64) float64 {
	if rating <= 0 || math.IsNaN(rating) {
		rating = WorstRating
	}
	return clamp01((3 - rating) / 2.0)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
