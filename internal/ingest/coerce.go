package ingest

import (
	"math"
	"strconv"
	"strings"
)

// parseNumber reads a spreadsheet number, accepting comma decimals.
// Blank or unparseable cells yield def and ok=false.
func parseNumber(raw string, def float64) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, false
	}
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return def, false
	}
	return v, true
}

// parseCap reads an optional non-negative integer capacity.
func parseCap(raw string) (*int, bool) {
	v, ok := parseNumber(raw, 0)
	if !ok {
		return nil, strings.TrimSpace(raw) == ""
	}
	if v < 0 {
		return nil, false
	}
	n := int(math.Floor(v))
	return &n, true
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "wahr", "ja", "yes", "y", "x", "1", "1.0":
		return true
	default:
		return false
	}
}

// normalizeID renders numeric IDs stored as floats ("12345.0") as
// plain integers and trims everything else.
func normalizeID(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasSuffix(s, ".0") {
		if v, err := strconv.ParseFloat(s, 64); err == nil && v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
	}
	return s
}

// headerKey folds a header cell for lookup: lower case, no spaces,
// umlauts transliterated.
func headerKey(h string) string {
	r := strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss", " ", "", "_", "", "-", "")
	return r.Replace(strings.ToLower(strings.TrimSpace(h)))
}

// cellAt returns the trimmed cell at idx, or "" when the row is short
// or the column is absent.
func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
