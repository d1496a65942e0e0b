package export

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/stemsi/exchange-allocator/internal/model"
)

func sampleOutcome() *model.Outcome {
	return &model.Outcome{
		State:        model.OutcomeOptimal,
		SolverStatus: "ok",
		Termination:  "optimal",
		Objective:    1.7,
		Assignments: []model.Assignment{
			{StudentID: "1001", UniversityID: "Lyon", Slot: 1, Score: 0.98, WeightedScore: 0.98},
			{StudentID: "1002", UniversityID: "Turin", Slot: 0, Score: 0.8, WeightedScore: 0.8},
		},
		Exclusions: []model.Exclusion{
			{StudentID: "1003", UniversityID: "Oslo", Slot: 2, Reason: model.ReasonUniversityPaused, Detail: "university is not accepting students"},
		},
		Students:      3,
		Universities:  3,
		EligiblePairs: 4,
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleOutcome().Assignments); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	want := "Matrikelnummer,Universität,Praeferenz,Score,GewichteterScore\n" +
		"1001,Lyon,1,0.98,0.98\n" +
		"1002,Turin,,0.8,0.8\n"
	if buf.String() != want {
		t.Errorf("csv =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, sampleOutcome()); err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(AssignmentSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 || rows[1][0] != "1001" || rows[1][1] != "Lyon" || rows[2][1] != "Turin" {
		t.Errorf("assignment rows = %q", rows)
	}

	rows, err = f.GetRows(ExclusionSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 2 || rows[1][3] != string(model.ReasonUniversityPaused) {
		t.Errorf("exclusion rows = %q", rows)
	}

	state, err := f.GetCellValue(SummarySheet, "B1")
	if err != nil || state != "optimal" {
		t.Errorf("summary state = %q (%v)", state, err)
	}
}

func TestWriteFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	csvPath, xlsxPath, err := WriteFiles(dir, sampleOutcome())
	if err != nil {
		t.Fatalf("WriteFiles: %v", err)
	}
	for _, p := range []string{csvPath, xlsxPath} {
		if st, err := os.Stat(p); err != nil || st.Size() == 0 {
			t.Errorf("%s: %v", p, err)
		}
	}
	if filepath.Base(csvPath) != CSVFileName || filepath.Base(xlsxPath) != XLSXFileName {
		t.Errorf("paths = %s, %s", csvPath, xlsxPath)
	}

	bad := sampleOutcome()
	bad.State = model.OutcomeNotOptimal
	if _, _, err := WriteFiles(dir, bad); !errors.Is(err, ErrNotExportable) {
		t.Errorf("err = %v, want ErrNotExportable", err)
	}
}
