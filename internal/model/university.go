package model

import (
	"strconv"
	"strings"
)

// UniversityStatus tells whether a host university currently accepts students.
type UniversityStatus string

const (
	UniversityActive UniversityStatus = "Aktiv"
	UniversityPaused UniversityStatus = "Pausiert"
)

// ParseUniversityStatus treats every value other than a pause marker as active.
func ParseUniversityStatus(raw string) UniversityStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pausiert", "paused", "pause", "inaktiv", "inactive":
		return UniversityPaused
	default:
		return UniversityActive
	}
}

// University is one host university. A nil cap means the figure is not
// tracked for that university.
type University struct {
	ID               string           `json:"id" binding:"required,max=255"`
	Status           UniversityStatus `json:"status"`
	MaxBachelor      *int             `json:"max_bachelor,omitempty" binding:"omitempty,gte=0"`
	MaxMaster        *int             `json:"max_master,omitempty" binding:"omitempty,gte=0"`
	MaxCombined      *int             `json:"max_combined,omitempty" binding:"omitempty,gte=0"`
	Programs         map[string]bool  `json:"programs,omitempty"`
	BalanceSemesters bool             `json:"balance_semesters"`
}

// Active reports whether the university admits assignments.
func (u University) Active() bool {
	return u.Status != UniversityPaused
}

// HasCapacityData reports whether at least one cap is tracked.
func (u University) HasCapacityData() bool {
	return u.MaxBachelor != nil || u.MaxMaster != nil || u.MaxCombined != nil
}

// CountsLevel reports whether some cap limits students of the given level.
// A student without a level is only counted by the combined cap, and only
// when no per-level cap is tracked that the student could slip past.
func (u University) CountsLevel(level Level) bool {
	switch level {
	case LevelBachelor:
		return u.MaxBachelor != nil || u.MaxCombined != nil
	case LevelMaster:
		return u.MaxMaster != nil || u.MaxCombined != nil
	default:
		return u.MaxCombined != nil && u.MaxBachelor == nil && u.MaxMaster == nil
	}
}

// NormalizeProgramCode renders a program code as the zero-padded,
// two-digit form used by the offering columns ("7", "7.0" and "07"
// all become "07"). Non-numeric codes are only trimmed.
func NormalizeProgramCode(raw string) string {
	code := strings.TrimSpace(raw)
	if code == "" {
		return ""
	}
	if f, err := strconv.ParseFloat(strings.ReplaceAll(code, ",", "."), 64); err == nil && f == float64(int(f)) && f >= 0 {
		code = strconv.Itoa(int(f))
	}
	if len(code) < 2 {
		code = strings.Repeat("0", 2-len(code)) + code
	}
	return code
}

// IntPtr is a small helper for building capacity figures.
func IntPtr(v int) *int {
	return &v
}
