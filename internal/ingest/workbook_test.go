package ingest

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/stemsi/exchange-allocator/internal/model"
)

func buildWorkbook(t *testing.T, sheet string, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		t.Fatalf("SetSheetName: %v", err)
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return buf
}

func TestReadStudents(t *testing.T) {
	header := []interface{}{
		"Matrikelnummer", "Note", "Motivation", "Sprache", "Lebenslauf", "Formalien",
		"Level", "ECTS", "BesondereChance:Behinderung", "BesondereChance:Kind",
		"Präferenz 1", "Präferenz 2", "Programm", "Semesterwahl",
	}
	buf := buildWorkbook(t, StudentSheet, [][]interface{}{
		header,
		{"1001", "1,3", 1, "c1", 2, 1, "Bachelor", 45, "ja", "", "Lyon", " Turin ", 7, "WiSe"},
		{"", "2.0", 1, "B2", 1, 1, "Master", 90, "", "", "Lyon", "", "12", "SoSe"},
		{"1002", "", "", "Klingonisch", "", "", "master", "", "", "x", "", "", "07", ""},
		{"1001", "1.0", 1, "C2", 1, 1, "Bachelor", 120, "", "", "Oslo", "", "07", "WiSe"},
		{"1003", "9", 1, "C2", 1, 1, "Bachelor", 120, "", "", "Oslo", "", "07", "WiSe"},
	})

	students, issues, err := ReadStudents(buf)
	if err != nil {
		t.Fatalf("ReadStudents: %v", err)
	}
	if len(students) != 2 {
		t.Fatalf("students = %+v, want 2", students)
	}

	a := students[0]
	if a.ID != "1001" || a.Grade != 1.3 || a.Language != "C1" || a.Level != model.LevelBachelor {
		t.Errorf("student 1001 = %+v", a)
	}
	if a.Credits != 45 || !a.Disability || a.DependentChild {
		t.Errorf("student 1001 credits/flags = %+v", a)
	}
	if a.Program != "07" || a.Semester != model.SemesterWinter {
		t.Errorf("student 1001 program/semester = %q/%q", a.Program, a.Semester)
	}
	if len(a.Preferences) != model.MaxPreferences || a.Preferences[0] != "Lyon" || a.Preferences[1] != "Turin" || a.Preferences[2] != "" {
		t.Errorf("student 1001 preferences = %q", a.Preferences)
	}

	b := students[1]
	if b.Grade != 5.0 || b.Motivation != 3 || b.CV != 3 || b.Formalities != 3 {
		t.Errorf("student 1002 defaults = %+v", b)
	}
	if b.Language != "" || b.Level != model.LevelMaster || !b.DependentChild || b.Semester != model.SemesterNeutral {
		t.Errorf("student 1002 = %+v", b)
	}

	reasons := map[int]string{}
	for _, is := range issues {
		reasons[is.Row] += is.Reason + "|"
	}
	if !strings.Contains(reasons[3], "missing Matrikelnummer") {
		t.Errorf("row 3 issues = %q", reasons[3])
	}
	if !strings.Contains(reasons[4], "grade") || !strings.Contains(reasons[4], "language") {
		t.Errorf("row 4 issues = %q", reasons[4])
	}
	if !strings.Contains(reasons[5], "duplicate") {
		t.Errorf("row 5 issues = %q", reasons[5])
	}
	if !strings.Contains(reasons[6], "invalid record") {
		t.Errorf("row 6 issues = %q", reasons[6])
	}
}

func TestReadStudents_BadHeader(t *testing.T) {
	buf := buildWorkbook(t, StudentSheet, [][]interface{}{{"Name", "Note"}, {"x", 1}})
	if _, _, err := ReadStudents(buf); !errors.Is(err, ErrImportBadHeader) {
		t.Errorf("err = %v, want ErrImportBadHeader", err)
	}
}

func TestReadStudents_NoData(t *testing.T) {
	buf := buildWorkbook(t, StudentSheet, [][]interface{}{{"Matrikelnummer"}})
	if _, _, err := ReadStudents(buf); !errors.Is(err, ErrImportNoData) {
		t.Errorf("err = %v, want ErrImportNoData", err)
	}
}

func TestReadUniversities(t *testing.T) {
	buf := buildWorkbook(t, UniversitySheet, [][]interface{}{
		{"ArbeitsnameUni", "Status", "MaxBachelor", "MaxMaster", "MaxBeide", "GleicheAufteilungWISESOSE", "Programm-07", "Programm-12"},
		{"Lyon", "Aktiv", 2, "", 3, "TRUE", 1, 0},
		{"Oslo", "Pausiert", "", "", "", "", "ja", "ja"},
		{"Turin", "", "-1", 1, "", "", "", 1},
		{"Lyon", "Aktiv", 1, 1, 1, "", 1, 1},
	})

	unis, issues, err := ReadUniversities(buf)
	if err != nil {
		t.Fatalf("ReadUniversities: %v", err)
	}
	if len(unis) != 3 {
		t.Fatalf("universities = %+v, want 3", unis)
	}

	lyon := unis[0]
	if lyon.MaxBachelor == nil || *lyon.MaxBachelor != 2 || lyon.MaxMaster != nil || lyon.MaxCombined == nil || *lyon.MaxCombined != 3 {
		t.Errorf("Lyon caps = %+v", lyon)
	}
	if !lyon.BalanceSemesters || !lyon.Active() {
		t.Errorf("Lyon flags = %+v", lyon)
	}
	if !lyon.Programs["07"] || lyon.Programs["12"] {
		t.Errorf("Lyon programs = %v", lyon.Programs)
	}

	oslo := unis[1]
	if oslo.Active() || oslo.HasCapacityData() {
		t.Errorf("Oslo = %+v, want paused without caps", oslo)
	}

	turin := unis[2]
	if turin.MaxBachelor != nil || turin.MaxMaster == nil || *turin.MaxMaster != 1 {
		t.Errorf("Turin caps = %+v", turin)
	}
	if turin.Programs["07"] || !turin.Programs["12"] {
		t.Errorf("Turin programs = %v", turin.Programs)
	}

	var sawNegative, sawDuplicate bool
	for _, is := range issues {
		switch {
		case is.ID == "Turin" && strings.Contains(is.Reason, "bachelor"):
			sawNegative = true
		case is.Row == 5 && strings.Contains(is.Reason, "duplicate"):
			sawDuplicate = true
		}
	}
	if !sawNegative || !sawDuplicate {
		t.Errorf("issues = %+v", issues)
	}
}

func TestCoercion(t *testing.T) {
	if v, ok := parseNumber(" 2,5 ", 0); !ok || v != 2.5 {
		t.Errorf("parseNumber comma = %v, %v", v, ok)
	}
	if v, ok := parseNumber("n/a", 5); ok || v != 5 {
		t.Errorf("parseNumber fallback = %v, %v", v, ok)
	}
	for _, raw := range []string{"TRUE", "Wahr", "ja", "x", "1"} {
		if !parseBool(raw) {
			t.Errorf("parseBool(%q) = false", raw)
		}
	}
	for _, raw := range []string{"", "nein", "0", "FALSE"} {
		if parseBool(raw) {
			t.Errorf("parseBool(%q) = true", raw)
		}
	}
	if got := normalizeID("12345.0"); got != "12345" {
		t.Errorf("normalizeID = %q", got)
	}
	if got := headerKey(" Präferenz 3 "); got != "praeferenz3" {
		t.Errorf("headerKey = %q", got)
	}
}
