package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/stemsi/exchange-allocator/internal/ingest"
	"github.com/stemsi/exchange-allocator/internal/logger"
	"github.com/xuri/excelize/v2"
)

var (
	studentHeader = []string{
		"Matrikelnummer", "Note", "Motivation", "Sprache", "Lebenslauf", "Formalien",
		"Level", "ECTS", "BesondereChance:Behinderung", "BesondereChance:Kind",
		"Praeferenz1", "Praeferenz2", "Praeferenz3", "Praeferenz4", "Praeferenz5",
		"Programm", "Semesterwahl",
	}
	programs   = []string{"01", "02", "03"}
	languages  = []string{"A2", "B1", "B2", "C1", "C2", ""}
	levels     = []string{"Bachelor", "Master"}
	semesters  = []string{"WiSe", "SoSe", "Egal"}
	cityPrefix = []string{"Lyon", "Oslo", "Turin", "Gent", "Graz", "Krakau", "Porto", "Uppsala", "Bologna", "Tartu"}
)

func main() {
	var (
		students     int
		universities int
		seed         uint64
		out          string
	)
	flag.IntVar(&students, "students", 50, "Number of students to generate")
	flag.IntVar(&universities, "universities", 8, "Number of universities to generate")
	flag.Uint64Var(&seed, "seed", 1, "Random seed; the same seed yields the same workbooks")
	flag.StringVar(&out, "out", ".", "Output directory")
	flag.Parse()

	log := logger.New(os.Stderr, "info", "pretty")

	if students < 1 || universities < 1 {
		log.Fatal().Msg("-students and -universities must be positive")
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create output directory")
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	unis := make([]string, universities)
	for i := range unis {
		unis[i] = fmt.Sprintf("%s-%02d", cityPrefix[i%len(cityPrefix)], i+1)
	}

	uniPath := filepath.Join(out, "universitaeten.xlsx")
	if err := writeUniversities(uniPath, unis, rng); err != nil {
		log.Fatal().Err(err).Msg("Failed to write university workbook")
	}
	studentPath := filepath.Join(out, "studierende.xlsx")
	if err := writeStudents(studentPath, students, unis, rng); err != nil {
		log.Fatal().Err(err).Msg("Failed to write student workbook")
	}

	fmt.Printf("Wrote %s (%d rows) and %s (%d rows)\n", studentPath, students, uniPath, universities)
}

func writeUniversities(path string, unis []string, rng *rand.Rand) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", ingest.UniversitySheet); err != nil {
		return err
	}

	header := []interface{}{"ArbeitsnameUni", "Status", "MaxBachelor", "MaxMaster", "MaxBeide", "GleicheAufteilungWISESOSE"}
	for _, p := range programs {
		header = append(header, "Programm-"+p)
	}
	if err := f.SetSheetRow(ingest.UniversitySheet, "A1", &header); err != nil {
		return err
	}

	for i, id := range unis {
		status := "Aktiv"
		if rng.IntN(10) == 0 {
			status = "Pausiert"
		}
		row := []interface{}{id, status, rng.IntN(4), rng.IntN(3), "", yesNo(rng.IntN(3) == 0)}
		if rng.IntN(4) == 0 {
			row[4] = rng.IntN(5) + 1
		}
		for range programs {
			row = append(row, yesNo(rng.IntN(3) > 0))
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(ingest.UniversitySheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

func writeStudents(path string, n int, unis []string, rng *rand.Rand) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", ingest.StudentSheet); err != nil {
		return err
	}

	header := make([]interface{}, len(studentHeader))
	for i, h := range studentHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(ingest.StudentSheet, "A1", &header); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		grade := 1 + float64(rng.IntN(31))/10 // 1,0 .. 4,0
		row := []interface{}{
			fmt.Sprintf("%07d", 4200000+i),
			fmt.Sprintf("%.1f", grade),
			rng.IntN(5) + 1,
			languages[rng.IntN(len(languages))],
			rng.IntN(5) + 1,
			rng.IntN(5) + 1,
			levels[rng.IntN(len(levels))],
			rng.IntN(120) + 30,
			yesNo(rng.IntN(15) == 0),
			yesNo(rng.IntN(20) == 0),
		}
		prefs := rng.Perm(len(unis))
		wanted := rng.IntN(5) + 1
		for slot := 0; slot < 5; slot++ {
			if slot < wanted && slot < len(prefs) {
				row = append(row, unis[prefs[slot]])
			} else {
				row = append(row, "")
			}
		}
		row = append(row, programs[rng.IntN(len(programs))], semesters[rng.IntN(len(semesters))])

		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(ingest.StudentSheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

func yesNo(b bool) string {
	if b {
		return "ja"
	}
	return "nein"
}
