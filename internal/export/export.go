// Package export writes allocation outcomes as zuweisungen.csv and
// zuweisungen.xlsx.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/stemsi/exchange-allocator/internal/model"
)

const (
	CSVFileName  = "zuweisungen.csv"
	XLSXFileName = "zuweisungen.xlsx"

	AssignmentSheet = "Zuweisungen"
	ExclusionSheet  = "Ausschluesse"
	SummarySheet    = "Uebersicht"
)

var ErrNotExportable = errors.New("outcome has no trusted assignments")

var assignmentHeader = []string{"Matrikelnummer", "Universität", "Praeferenz", "Score", "GewichteterScore"}

var exclusionHeader = []string{"Matrikelnummer", "Universität", "Praeferenz", "Grund", "Detail"}

func assignmentRecord(a model.Assignment) []string {
	slot := ""
	if a.Slot > 0 {
		slot = strconv.Itoa(a.Slot)
	}
	return []string{
		a.StudentID,
		a.UniversityID,
		slot,
		strconv.FormatFloat(a.Score, 'f', -1, 64),
		strconv.FormatFloat(a.WeightedScore, 'f', -1, 64),
	}
}

// WriteCSV writes one row per assignment.
func WriteCSV(w io.Writer, assignments []model.Assignment) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(assignmentHeader); err != nil {
		return err
	}
	for _, a := range assignments {
		if err := cw.Write(assignmentRecord(a)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes assignments, exclusions and a run summary as sheets
// of one workbook.
func WriteXLSX(w io.Writer, out *model.Outcome) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", AssignmentSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(ExclusionSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return err
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	writeHeader(f, AssignmentSheet, assignmentHeader, headerStyle)
	for i, a := range out.Assignments {
		row := i + 2
		f.SetCellValue(AssignmentSheet, cell(0, row), a.StudentID)
		f.SetCellValue(AssignmentSheet, cell(1, row), a.UniversityID)
		if a.Slot > 0 {
			f.SetCellValue(AssignmentSheet, cell(2, row), a.Slot)
		}
		f.SetCellValue(AssignmentSheet, cell(3, row), a.Score)
		f.SetCellValue(AssignmentSheet, cell(4, row), a.WeightedScore)
	}

	writeHeader(f, ExclusionSheet, exclusionHeader, headerStyle)
	for i, e := range out.Exclusions {
		row := i + 2
		f.SetCellValue(ExclusionSheet, cell(0, row), e.StudentID)
		f.SetCellValue(ExclusionSheet, cell(1, row), e.UniversityID)
		if e.Slot > 0 {
			f.SetCellValue(ExclusionSheet, cell(2, row), e.Slot)
		}
		f.SetCellValue(ExclusionSheet, cell(3, row), string(e.Reason))
		f.SetCellValue(ExclusionSheet, cell(4, row), e.Detail)
	}

	summary := [][2]interface{}{
		{"Status", string(out.State)},
		{"Solver-Status", out.SolverStatus},
		{"Abbruchbedingung", out.Termination},
		{"Zielfunktionswert", out.Objective},
		{"Studierende", out.Students},
		{"Universitäten", out.Universities},
		{"Zulässige Paare", out.EligiblePairs},
		{"Zuweisungen", len(out.Assignments)},
		{"Ohne zulässige Uni", len(out.Unplaceable)},
	}
	for i, kv := range summary {
		f.SetCellValue(SummarySheet, cell(0, i+1), kv[0])
		f.SetCellValue(SummarySheet, cell(1, i+1), kv[1])
	}
	f.SetCellStyle(SummarySheet, "A1", cell(0, len(summary)), headerStyle)

	f.SetColWidth(AssignmentSheet, "A", "B", 20)
	f.SetColWidth(AssignmentSheet, "C", "E", 16)
	f.SetColWidth(ExclusionSheet, "A", "B", 20)
	f.SetColWidth(ExclusionSheet, "D", "E", 28)
	f.SetColWidth(SummarySheet, "A", "B", 22)
	f.SetActiveSheet(0)

	return f.Write(w)
}

// WriteFiles writes both files into dir. Non-optimal outcomes carry no
// trusted assignments and are refused.
func WriteFiles(dir string, out *model.Outcome) (string, string, error) {
	if !out.Optimal() {
		return "", "", fmt.Errorf("%w: state %s", ErrNotExportable, out.State)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create output dir: %w", err)
	}

	csvPath := filepath.Join(dir, CSVFileName)
	if err := writeFile(csvPath, func(w io.Writer) error { return WriteCSV(w, out.Assignments) }); err != nil {
		return "", "", err
	}
	xlsxPath := filepath.Join(dir, XLSXFileName)
	if err := writeFile(xlsxPath, func(w io.Writer) error { return WriteXLSX(w, out) }); err != nil {
		return "", "", err
	}
	return csvPath, xlsxPath, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func writeHeader(f *excelize.File, sheet string, header []string, style int) {
	for i, h := range header {
		f.SetCellValue(sheet, cell(i, 1), h)
	}
	f.SetCellStyle(sheet, "A1", cell(len(header)-1, 1), style)
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col+1, row)
	return name
}
