// Package eligibility derives the (student, university) pairs that may
// carry a decision variable. Every candidate that is dropped is returned
// as an Exclusion with a reason, so the eligible set can be audited.
package eligibility

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stemsi/exchange-allocator/internal/model"
)

// Result is the outcome of one resolution pass.
type Result struct {
	Pairs       []model.EligiblePair
	Exclusions  []model.Exclusion
	Unplaceable []string
}

// PairsByStudent groups pair indexes by student ID.
func (r Result) PairsByStudent() map[string][]int {
	out := make(map[string][]int)
	for i, p := range r.Pairs {
		out[p.StudentID] = append(out[p.StudentID], i)
	}
	return out
}

// Resolver computes eligible pairs for one variant.
type Resolver struct {
	variant model.Variant
	log     zerolog.Logger
}

// NewResolver creates a Resolver. An empty variant means preferences.
func NewResolver(variant model.Variant, log zerolog.Logger) *Resolver {
	if variant == "" {
		variant = model.VariantPreferences
	}
	return &Resolver{
		variant: variant,
		log:     log.With().Str("component", "eligibility").Logger(),
	}
}

// Resolve walks students in input order and returns pairs in student,
// then slot (or university) order.
func (r *Resolver) Resolve(students []model.Student, universities []model.University) Result {
	catalog := NewCatalog(universities)
	byID := make(map[string]*model.University, len(universities))
	for i := range universities {
		byID[universities[i].ID] = &universities[i]
	}

	var res Result
	for _, s := range students {
		before := len(res.Pairs)

		switch r.variant {
		case model.VariantOpen:
			for i := range universities {
				u := &universities[i]
				r.admit(&res, catalog, s, u, s.PreferenceSlot(u.ID))
			}
		default:
			seen := make(map[string]int, model.MaxPreferences)
			for i, raw := range s.Preferences {
				if i >= model.MaxPreferences {
					break
				}
				slot := i + 1
				name := strings.TrimSpace(raw)
				if name == "" {
					continue
				}
				u, ok := byID[name]
				if !ok {
					r.exclude(&res, s.ID, name, slot, model.ReasonUnknownUniversity, "preference does not name a known university")
					continue
				}
				if first, dup := seen[name]; dup {
					r.exclude(&res, s.ID, name, slot, model.ReasonDuplicatePreference, fmt.Sprintf("already listed in slot %d", first))
					continue
				}
				seen[name] = slot
				r.admit(&res, catalog, s, u, slot)
			}
		}

		if len(res.Pairs) == before {
			res.Unplaceable = append(res.Unplaceable, s.ID)
			r.log.Debug().Str("student_id", s.ID).Msg("Student has no eligible university")
		}
	}

	r.log.Info().
		Str("variant", string(r.variant)).
		Int("students", len(students)).
		Int("universities", len(universities)).
		Int("pairs", len(res.Pairs)).
		Int("exclusions", len(res.Exclusions)).
		Int("unplaceable", len(res.Unplaceable)).
		Msg("Eligibility resolved")

	return res
}

// admit applies the status, capacity and program filters to one
// candidate and records either a pair or an exclusion.
func (r *Resolver) admit(res *Result, catalog *Catalog, s model.Student, u *model.University, slot int) {
	switch {
	case !u.Active():
		r.exclude(res, s.ID, u.ID, slot, model.ReasonUniversityPaused, "university is not accepting students")
		return
	case !u.HasCapacityData():
		r.exclude(res, s.ID, u.ID, slot, model.ReasonNoCapacityData, "university has no capacity figure")
		return
	case !u.CountsLevel(s.Level):
		r.exclude(res, s.ID, u.ID, slot, model.ReasonNoCapacityForLevel, levelDetail(s.Level))
		return
	}

	if catalog.Constrained() {
		code := model.NormalizeProgramCode(s.Program)
		if code == "" || !catalog.Tracks(code) {
			r.exclude(res, s.ID, u.ID, slot, model.ReasonUnknownProgram, fmt.Sprintf("program %q has no offering column", s.Program))
			return
		}
		if !catalog.Offers(u.ID, code) {
			r.exclude(res, s.ID, u.ID, slot, model.ReasonProgramNotOffered, fmt.Sprintf("program %s not offered", code))
			return
		}
	}

	res.Pairs = append(res.Pairs, model.EligiblePair{
		StudentID:    s.ID,
		UniversityID: u.ID,
		Slot:         slot,
	})
}

func levelDetail(level model.Level) string {
	if level == model.LevelUnknown {
		return "student has no study level and the university caps by level"
	}
	return fmt.Sprintf("university has no cap covering %s students", level)
}

func (r *Resolver) exclude(res *Result, studentID, universityID string, slot int, reason model.ExclusionReason, detail string) {
	res.Exclusions = append(res.Exclusions, model.Exclusion{
		StudentID:    studentID,
		UniversityID: universityID,
		Slot:         slot,
		Reason:       reason,
		Detail:       detail,
	})
	r.log.Debug().
		Str("student_id", studentID).
		Str("university_id", universityID).
		Int("slot", slot).
		Str("reason", string(reason)).
		Msg(detail)
}
