// Package ingest reads the student and university workbooks into
// coerced, validated model records. Rows that cannot be used are
// skipped and reported as Issues; they never abort the import.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/stemsi/exchange-allocator/internal/model"
	"github.com/stemsi/exchange-allocator/internal/scoring"
	"github.com/stemsi/exchange-allocator/internal/validator"
)

const (
	StudentSheet    = "Alle Studierende"
	UniversitySheet = "Alle Universitäten"

	maxImportRows = 10000
)

var (
	ErrImportNoData      = errors.New("workbook has no data rows (row 1 is the header)")
	ErrImportTooManyRows = fmt.Errorf("workbook exceeds %d data rows", maxImportRows)
	ErrImportBadHeader   = errors.New("workbook header is missing a required column")
)

// Issue describes a skipped or partially coerced row. Row is the
// 1-based sheet row.
type Issue struct {
	Sheet  string `json:"sheet"`
	Row    int    `json:"row"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

var studentColumns = map[string][]string{
	"id":          {"matrikelnummer", "studentid", "id"},
	"grade":       {"note", "grade"},
	"motivation":  {"motivation"},
	"language":    {"sprache", "language"},
	"cv":          {"lebenslauf", "cv"},
	"formalities": {"formalien", "formalities"},
	"level":       {"level", "abschluss"},
	"credits":     {"ects", "credits"},
	"disability":  {"besonderechance:behinderung", "disability"},
	"child":       {"besonderechance:kind", "dependentchild"},
	"program":     {"programm", "program"},
	"semester":    {"semesterwahl", "semester"},
}

var universityColumns = map[string][]string{
	"id":       {"arbeitsnameuni", "university", "id"},
	"status":   {"status"},
	"bachelor": {"maxbachelor"},
	"master":   {"maxmaster"},
	"combined": {"maxbeide", "maxcombined"},
	"balance":  {"gleicheaufteilungwisesose", "balancesemesters"},
}

var cefrLevels = map[string]struct{}{
	"A1": {}, "A2": {}, "B1": {}, "B2": {}, "C1": {}, "C2": {},
}

// preferencePrefixes name the preference columns, followed by the slot.
var preferencePrefixes = []string{"praeferenz", "wunsch", "preference"}

const programPrefix = "programm"

func openSheet(r io.Reader, sheet string) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	name := sheet
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		// Single-sheet exports often keep the default sheet name.
		name = f.GetSheetName(0)
	}
	rows, err := f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", name, err)
	}
	if len(rows) < 2 {
		return nil, ErrImportNoData
	}
	if len(rows)-1 > maxImportRows {
		return nil, ErrImportTooManyRows
	}
	return rows, nil
}

func indexHeader(header []string, columns map[string][]string) map[string]int {
	idx := make(map[string]int, len(columns))
	for key := range columns {
		idx[key] = -1
	}
	for i, h := range header {
		k := headerKey(h)
		for key, aliases := range columns {
			for _, a := range aliases {
				if k == a && idx[key] < 0 {
					idx[key] = i
				}
			}
		}
	}
	return idx
}

// ReadStudents parses the student sheet. Students come back in sheet
// order; rows without an ID and repeated IDs are skipped.
func ReadStudents(r io.Reader) ([]model.Student, []Issue, error) {
	rows, err := openSheet(r, StudentSheet)
	if err != nil {
		return nil, nil, err
	}

	col := indexHeader(rows[0], studentColumns)
	if col["id"] < 0 {
		return nil, nil, fmt.Errorf("%w: Matrikelnummer", ErrImportBadHeader)
	}
	prefCols := make([]int, model.MaxPreferences)
	for i := range prefCols {
		prefCols[i] = -1
	}
	for i, h := range rows[0] {
		k := headerKey(h)
		for _, p := range preferencePrefixes {
			if !strings.HasPrefix(k, p) {
				continue
			}
			slot, err := strconv.Atoi(strings.TrimPrefix(k, p))
			if err == nil && slot >= 1 && slot <= model.MaxPreferences && prefCols[slot-1] < 0 {
				prefCols[slot-1] = i
			}
		}
	}

	var (
		students []model.Student
		issues   []Issue
		seen     = make(map[string]int)
	)
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		rowNum := i + 1
		if blankRow(row) {
			continue
		}
		issue := func(id, reason string) {
			issues = append(issues, Issue{Sheet: StudentSheet, Row: rowNum, ID: id, Reason: reason})
		}

		id := normalizeID(cellAt(row, col["id"]))
		if id == "" {
			issue("", "missing Matrikelnummer")
			continue
		}
		if first, dup := seen[id]; dup {
			issue(id, fmt.Sprintf("duplicate Matrikelnummer, first seen in row %d", first))
			continue
		}

		s := model.Student{
			ID:             id,
			Language:       strings.ToUpper(cellAt(row, col["language"])),
			Level:          model.ParseLevel(cellAt(row, col["level"])),
			Disability:     parseBool(cellAt(row, col["disability"])),
			DependentChild: parseBool(cellAt(row, col["child"])),
			Program:        model.NormalizeProgramCode(cellAt(row, col["program"])),
			Semester:       model.ParseSemester(cellAt(row, col["semester"])),
		}

		var ok bool
		if s.Grade, ok = parseNumber(cellAt(row, col["grade"]), scoring.WorstGrade); !ok {
			issue(id, "grade missing or unparseable, using worst grade")
		}
		s.Motivation, _ = parseNumber(cellAt(row, col["motivation"]), scoring.WorstRating)
		s.CV, _ = parseNumber(cellAt(row, col["cv"]), scoring.WorstRating)
		s.Formalities, _ = parseNumber(cellAt(row, col["formalities"]), scoring.WorstRating)
		s.Credits, _ = parseNumber(cellAt(row, col["credits"]), 0)
		if _, known := cefrLevels[s.Language]; s.Language != "" && !known {
			issue(id, fmt.Sprintf("unrecognized language level %q counts as 0", s.Language))
			s.Language = ""
		}

		s.Preferences = make([]string, model.MaxPreferences)
		for slot, c := range prefCols {
			s.Preferences[slot] = cellAt(row, c)
		}

		if fields := validator.Struct(s); fields != nil {
			issue(id, "invalid record: "+joinFields(fields))
			continue
		}

		seen[id] = rowNum
		students = append(students, s)
	}

	if len(students) == 0 {
		return nil, issues, ErrImportNoData
	}
	return students, issues, nil
}

// ReadUniversities parses the university sheet. Every "Programm-NN"
// column becomes an offering flag for program NN.
func ReadUniversities(r io.Reader) ([]model.University, []Issue, error) {
	rows, err := openSheet(r, UniversitySheet)
	if err != nil {
		return nil, nil, err
	}

	col := indexHeader(rows[0], universityColumns)
	if col["id"] < 0 {
		return nil, nil, fmt.Errorf("%w: ArbeitsnameUni", ErrImportBadHeader)
	}
	programCols := make(map[string]int)
	for i, h := range rows[0] {
		k := headerKey(h)
		if !strings.HasPrefix(k, programPrefix) || k == programPrefix {
			continue
		}
		code := model.NormalizeProgramCode(strings.TrimPrefix(k, programPrefix))
		if _, dup := programCols[code]; !dup {
			programCols[code] = i
		}
	}

	var (
		universities []model.University
		issues       []Issue
		seen         = make(map[string]int)
	)
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		rowNum := i + 1
		if blankRow(row) {
			continue
		}
		issue := func(id, reason string) {
			issues = append(issues, Issue{Sheet: UniversitySheet, Row: rowNum, ID: id, Reason: reason})
		}

		id := cellAt(row, col["id"])
		if id == "" {
			issue("", "missing ArbeitsnameUni")
			continue
		}
		if first, dup := seen[id]; dup {
			issue(id, fmt.Sprintf("duplicate ArbeitsnameUni, first seen in row %d", first))
			continue
		}

		u := model.University{
			ID:               id,
			Status:           model.ParseUniversityStatus(cellAt(row, col["status"])),
			BalanceSemesters: parseBool(cellAt(row, col["balance"])),
		}
		caps := []struct {
			key string
			dst **int
		}{
			{"bachelor", &u.MaxBachelor},
			{"master", &u.MaxMaster},
			{"combined", &u.MaxCombined},
		}
		for _, c := range caps {
			v, ok := parseCap(cellAt(row, col[c.key]))
			if !ok {
				issue(id, fmt.Sprintf("invalid %s capacity %q ignored", c.key, cellAt(row, col[c.key])))
			}
			*c.dst = v
		}
		if len(programCols) > 0 {
			u.Programs = make(map[string]bool, len(programCols))
			for code, c := range programCols {
				u.Programs[code] = parseBool(cellAt(row, c))
			}
		}

		if fields := validator.Struct(u); fields != nil {
			issue(id, "invalid record: "+joinFields(fields))
			continue
		}

		seen[id] = rowNum
		universities = append(universities, u)
	}

	if len(universities) == 0 {
		return nil, issues, ErrImportNoData
	}
	return universities, issues, nil
}

func joinFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fields[k])
	}
	return strings.Join(parts, "; ")
}
