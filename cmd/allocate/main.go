package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exchange-allocator/internal/config"
	"github.com/stemsi/exchange-allocator/internal/database"
	"github.com/stemsi/exchange-allocator/internal/export"
	"github.com/stemsi/exchange-allocator/internal/ingest"
	"github.com/stemsi/exchange-allocator/internal/logger"
	"github.com/stemsi/exchange-allocator/internal/model"
	"github.com/stemsi/exchange-allocator/internal/repository"
	"github.com/stemsi/exchange-allocator/internal/scoring"
	"github.com/stemsi/exchange-allocator/internal/service"
	"github.com/stemsi/exchange-allocator/internal/validator"
)

// Exit codes.
const (
	exitOK         = 0
	exitError      = 1
	exitNotOptimal = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		studentsPath     string
		universitiesPath string
		outDir           string
		opts             model.RunOptions
		timeout          time.Duration
		persist          bool
	)
	flag.StringVar(&studentsPath, "students", "", "Student workbook (.xlsx, sheet \""+ingest.StudentSheet+"\")")
	flag.StringVar(&universitiesPath, "universities", "", "University workbook (.xlsx, sheet \""+ingest.UniversitySheet+"\")")
	flag.StringVar(&outDir, "out", ".", "Directory for "+export.CSVFileName+" and "+export.XLSXFileName)
	flag.StringVar((*string)(&opts.Mode), "mode", "", "Placement mode: best-effort or strict (default from PLACEMENT_MODE)")
	flag.StringVar((*string)(&opts.Variant), "variant", "", "Eligibility variant: preferences or open (default from ALLOCATION_VARIANT)")
	flag.StringVar((*string)(&opts.Scoring), "scoring", "", "Scoring strategy: weighted or simple (default from SCORING_STRATEGY)")
	flag.StringVar((*string)(&opts.Solver), "solver", "", "Solver backend: bnb or highs (default from SOLVER_BACKEND)")
	flag.DurationVar(&timeout, "timeout", 0, "Solver time limit (default from SOLVER_TIMEOUT_SECONDS)")
	flag.BoolVar(&persist, "persist", false, "Store the run in DATABASE_URL so it shows up in the API")
	flag.Parse()

	cfg := config.Load()
	if timeout > 0 {
		cfg.SolverTimeout = timeout
	}

	// Logs go to stderr; stdout carries the summary only.
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	validator.Setup()

	if studentsPath == "" || universitiesPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: allocate -students <file.xlsx> -universities <file.xlsx> [flags]")
		flag.PrintDefaults()
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	profile, err := scoring.LoadProfile(cfg.ScoringProfile)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load scoring profile")
		return exitError
	}

	var store service.RunStore
	if persist {
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Error().Err(err).Msg("Failed to connect to PostgreSQL")
			return exitError
		}
		defer pool.Close()
		store = repository.NewRunRepository(pool)
	}
	svc := service.NewAllocationService(store, nil, cfg, profile, log)

	in, err := readInput(svc, studentsPath, universitiesPath, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read workbooks")
		return exitError
	}

	alloc, err := svc.NewAllocator(opts)
	if err != nil {
		log.Error().Err(err).Msg("Invalid run options")
		return exitError
	}

	out, err := alloc.Run(ctx, in.Students, in.Universities)
	if err != nil {
		log.Error().Err(err).Msg("Allocation failed")
		return exitError
	}

	printSummary(out)

	if persist {
		stored, err := svc.Record(ctx, out)
		if err != nil {
			log.Error().Err(err).Msg("Failed to persist run")
			return exitError
		}
		fmt.Printf("Stored as run %s\n", stored.ID)
	}

	if !out.Optimal() {
		log.Warn().Err(out.Err()).Str("state", string(out.State)).Msg("No trusted assignment; nothing exported")
		return exitNotOptimal
	}

	csvPath, xlsxPath, err := export.WriteFiles(outDir, out)
	if err != nil {
		log.Error().Err(err).Msg("Export failed")
		return exitError
	}
	fmt.Printf("Wrote %s and %s\n", csvPath, xlsxPath)
	return exitOK
}

func readInput(svc *service.AllocationService, studentsPath, universitiesPath string, log zerolog.Logger) (*model.RunInput, error) {
	sf, err := os.Open(studentsPath)
	if err != nil {
		return nil, err
	}
	defer sf.Close()

	uf, err := os.Open(universitiesPath)
	if err != nil {
		return nil, err
	}
	defer uf.Close()

	in, issues, err := svc.ParseWorkbooks(sf, uf)
	if err != nil {
		return nil, err
	}
	for _, is := range issues {
		log.Warn().
			Str("sheet", is.Sheet).
			Int("row", is.Row).
			Str("id", is.ID).
			Msg(is.Reason)
	}
	return in, nil
}

func printSummary(out *model.Outcome) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "State\t%s\n", out.State)
	fmt.Fprintf(tw, "Solver status\t%s (%s)\n", out.SolverStatus, out.Termination)
	fmt.Fprintf(tw, "Options\t%s / %s / %s / %s\n", out.Options.Mode, out.Options.Variant, out.Options.Scoring, out.Options.Solver)
	fmt.Fprintf(tw, "Students\t%d\n", out.Students)
	fmt.Fprintf(tw, "Universities\t%d\n", out.Universities)
	fmt.Fprintf(tw, "Eligible pairs\t%d\n", out.EligiblePairs)
	fmt.Fprintf(tw, "Assigned\t%d\n", len(out.Assignments))
	fmt.Fprintf(tw, "Exclusions\t%d\n", len(out.Exclusions))
	fmt.Fprintf(tw, "Unplaceable\t%d\n", len(out.Unplaceable))
	fmt.Fprintf(tw, "Objective\t%.4f\n", out.Objective)
	fmt.Fprintf(tw, "Solve time\t%s\n", out.SolveDuration.Round(time.Millisecond))
}
