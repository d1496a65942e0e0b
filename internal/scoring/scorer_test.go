package scoring

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stemsi/exchange-allocator/internal/model"
)

const eps = 1e-9

func mustScorer(t *testing.T, strategy model.ScoringStrategy) Scorer {
	t.Helper()
	sc, err := New(strategy, DefaultProfile())
	if err != nil {
		t.Fatalf("New(%q): %v", strategy, err)
	}
	return sc
}

func TestWeightedScore_ReferenceStudent(t *testing.T) {
	sc := mustScorer(t, model.ScoringWeighted)
	s := model.Student{
		ID:          "A",
		Grade:       1.0,
		Motivation:  1,
		Language:    "C1",
		CV:          1,
		Formalities: 1,
		Level:       model.LevelMaster,
		Credits:     120,
	}

	got := sc.Score(s)
	want := 0.6*1.0 + 0.2*1.0 + 0.1*0.8 + 0.05*1.0 + 0.05*1.0
	if math.Abs(got-want) > eps || math.Abs(got-0.98) > eps {
		t.Fatalf("score = %v, want %v", got, want)
	}
}

func TestWeightedScore_Adjustments(t *testing.T) {
	sc := mustScorer(t, model.ScoringWeighted)
	base := model.Student{ID: "B", Grade: 3.0, Motivation: 2, Language: "B2", CV: 2, Formalities: 2, Level: model.LevelMaster, Credits: 30}
	plain := sc.Score(base)

	tests := []struct {
		name  string
		edit  func(s *model.Student)
		delta float64
	}{
		{"disability bonus", func(s *model.Student) { s.Disability = true }, 0.6},
		{"child bonus", func(s *model.Student) { s.DependentChild = true }, 0.6},
		{"both flags count once", func(s *model.Student) { s.Disability, s.DependentChild = true, true }, 0.6},
		{"bachelor below 60 credits", func(s *model.Student) { s.Level = model.LevelBachelor }, -0.2},
		{"bachelor at 60 credits", func(s *model.Student) { s.Level, s.Credits = model.LevelBachelor, 60 }, 0},
		{"master below 60 credits", func(s *model.Student) {}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.edit(&s)
			if got := sc.Score(s) - plain; math.Abs(got-tt.delta) > eps {
				t.Errorf("delta = %v, want %v", got, tt.delta)
			}
		})
	}
}

func TestScore_MissingFieldsUseWorstValues(t *testing.T) {
	sc := mustScorer(t, model.ScoringWeighted)
	missing := model.Student{ID: "M", Level: model.LevelMaster}
	worst := model.Student{ID: "W", Grade: 5.0, Motivation: 3, CV: 3, Formalities: 3, Language: "A1", Level: model.LevelMaster}

	if got := sc.Score(missing); math.Abs(got) > eps {
		t.Errorf("missing fields score = %v, want 0", got)
	}
	if a, b := sc.Score(missing), sc.Score(worst); math.Abs(a-b) > eps {
		t.Errorf("missing (%v) and worst (%v) differ", a, b)
	}
}

func TestScore_LanguageTable(t *testing.T) {
	p := DefaultProfile()
	tests := map[string]float64{
		"C2": 1.0, "c1": 0.8, " B2 ": 0.6, "B1": 0.4, "A2": 0.2, "A1": 0.0, "": 0.0, "native": 0.0,
	}
	for level, want := range tests {
		if got := p.normalizeLanguage(level); math.Abs(got-want) > eps {
			t.Errorf("normalizeLanguage(%q) = %v, want %v", level, got, want)
		}
	}
}

func TestScore_RangeAndDeterminism(t *testing.T) {
	for _, strategy := range []model.ScoringStrategy{model.ScoringWeighted, model.ScoringSimple} {
		sc := mustScorer(t, strategy)
		for _, grade := range []float64{0, 0.5, 1, 2.3, 4, 5, 7} {
			for _, rating := range []float64{0, 1, 2, 3, 4} {
				for _, flags := range []bool{false, true} {
					s := model.Student{
						ID: "R", Grade: grade, Motivation: rating, CV: rating, Formalities: rating,
						Language: "C2", Level: model.LevelBachelor, Credits: 10, Disability: flags,
					}
					got := sc.Score(s)
					if got < -0.3 || got > 1.6 {
						t.Fatalf("%s: score %v out of range for %+v", strategy, got, s)
					}
					if again := sc.Score(s); again != got {
						t.Fatalf("%s: score not deterministic: %v vs %v", strategy, got, again)
					}
				}
			}
		}
	}
}

func TestSimpleScore(t *testing.T) {
	sc := mustScorer(t, model.ScoringSimple)
	s := model.Student{ID: "S", Grade: 1.0, Language: "B1", Motivation: 3, Level: model.LevelMaster}
	want := 0.8*1.0 + 0.2*0.4
	if got := sc.Score(s); math.Abs(got-want) > eps {
		t.Fatalf("simple score = %v, want %v", got, want)
	}
	if sc.Strategy() != model.ScoringSimple {
		t.Fatalf("strategy = %q", sc.Strategy())
	}
}

func TestNew_RejectsBadWeights(t *testing.T) {
	p := DefaultProfile()
	p.Weights.Grade = 0.7
	if _, err := New(model.ScoringWeighted, p); !errors.Is(err, ErrWeightSum) {
		t.Fatalf("err = %v, want ErrWeightSum", err)
	}

	p = DefaultProfile()
	p.SimpleWeights = SimpleWeights{Grade: 1.2, Language: -0.2}
	if _, err := New(model.ScoringSimple, p); !errors.Is(err, ErrNegativeWeight) {
		t.Fatalf("err = %v, want ErrNegativeWeight", err)
	}

	if _, err := New("fancy", DefaultProfile()); !errors.Is(err, ErrUnknownScoringProfile) {
		t.Fatalf("err = %v, want ErrUnknownScoringProfile", err)
	}
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	body := `
strategy: simple
simple_weights:
  grade: 0.5
  language: 0.5
special_circumstance_bonus: 0.4
preference_weights: [1.0, 0.8, 0.6, 0.4, 0.2]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.Strategy != model.ScoringSimple || p.SimpleWeights.Grade != 0.5 || p.SpecialBonus != 0.4 {
		t.Fatalf("profile not applied: %+v", p)
	}
	if p.Weights.Grade != 0.6 {
		t.Fatalf("untouched weights lost their defaults: %+v", p.Weights)
	}
	if got := p.PreferenceWeight(5); got != 0.2 {
		t.Fatalf("PreferenceWeight(5) = %v", got)
	}
	if got := p.PreferenceWeight(0); got != 1.0 {
		t.Fatalf("PreferenceWeight(0) = %v", got)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("preference_weights: [1.0]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProfile(bad); !errors.Is(err, ErrPreferenceSchedule) {
		t.Fatalf("err = %v, want ErrPreferenceSchedule", err)
	}
}
