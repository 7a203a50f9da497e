package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/qfx2qif/internal/config"
	infraBQ "github.com/dvloznov/qfx2qif/internal/infra/bigquery"
	"github.com/dvloznov/qfx2qif/internal/jobs"
	"github.com/dvloznov/qfx2qif/internal/jobs/inmemory"
	"github.com/dvloznov/qfx2qif/internal/logger"
	"github.com/dvloznov/qfx2qif/internal/ofx"
	"github.com/dvloznov/qfx2qif/internal/pipeline"
	"github.com/dvloznov/qfx2qif/internal/storage"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load(log)
	log = log.Level(logger.ParseLevel(cfg.LogLevel))

	switch os.Args[1] {
	case "batch":
		runBatch(log, cfg)
	case "runs":
		runRuns(log, cfg)
	case "init-ledger":
		runInitLedger(log, cfg)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("QFX to QIF batch CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  batch        Convert many statement files concurrently")
	fmt.Println("  runs         List recent conversion runs from the BigQuery ledger")
	fmt.Println("  init-ledger  Create the BigQuery dataset and ledger tables")
	fmt.Println("  help         Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func runBatch(log zerolog.Logger, cfg *config.Config) {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	includeMemo := fs.Bool("memo", cfg.IncludeMemo, "Include memos in the output")
	charset := fs.String("charset", cfg.Charset, "Charset handling: auto or raw")
	workers := fs.Int("workers", cfg.Workers, "Number of concurrent conversions")
	outDir := fs.String("out-dir", "", "Directory for the .qif files (defaults to next to each input)")
	bqExport := fs.Bool("bq-export", false, "Record every run in BigQuery (requires GCP_PROJECT)")
	timeout := fs.Duration("timeout", 10*time.Minute, "Overall deadline for the batch")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: cli batch [options] FILE_OR_GLOB...")
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[2:])

	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}
	if _, err := ofx.ParseCharsetMode(*charset); err != nil {
		log.Fatal().Err(err).Msg("Invalid --charset")
	}

	inputs, err := expandInputs(fs.Args())
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid input pattern")
	}
	if len(inputs) == 0 {
		log.Fatal().Msg("No input files matched")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	deps := pipeline.Deps{Storage: storage.NewService()}
	if *bqExport {
		repo, err := infraBQ.NewBigQueryRunRepository(ctx, cfg.GCPProject, cfg.BQDataset)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create run repository")
		}
		defer repo.Close()
		if err := repo.EnsureTables(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to prepare ledger tables")
		}
		deps.Recorder = repo
	}

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(len(inputs), *workers, jobStore)
	if err := jobQueue.Start(ctx, jobs.NewConvertFileHandler(deps)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start workers")
	}

	ids := make([]string, 0, len(inputs))
	for _, input := range inputs {
		job := &jobs.ConvertFileJob{
			InputURI:    input,
			OutputURI:   outputFor(input, *outDir),
			IncludeMemo: *includeMemo,
			Charset:     *charset,
		}
		if err := jobQueue.PublishConvertFile(ctx, job); err != nil {
			log.Fatal().Err(err).Str("input", input).Msg("Failed to enqueue job")
		}
		ids = append(ids, job.JobID)
	}

	log.Info().Int("jobs", len(ids)).Int("workers", *workers).Msg("Batch started")

	finished, err := jobs.WaitForJobs(ctx, jobStore, ids, 100*time.Millisecond)
	if err != nil {
		log.Error().Err(err).Msg("Batch did not finish")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := jobQueue.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	_ = jobQueue.Close()

	if finished == nil {
		os.Exit(1)
	}

	failed, total := 0, 0
	fmt.Println()
	for _, job := range finished {
		switch job.Status {
		case jobs.JobStatusCompleted:
			total += job.TransactionCount
			note := ""
			if job.MemoSuppressed {
				note = "  (memos excluded)"
			}
			fmt.Printf("OK     %-40s -> %s  %d transactions%s\n", job.InputURI, job.OutputURI, job.TransactionCount, note)
		default:
			failed++
			fmt.Printf("FAILED %-40s  %s\n", job.InputURI, job.Error)
		}
	}
	fmt.Printf("\nFiles: %d  Failed: %d  Transactions: %d\n", len(finished), failed, total)

	if failed > 0 {
		os.Exit(1)
	}
}

// expandInputs expands local glob patterns; gs:// URIs and plain paths are
// passed through unchanged.
func expandInputs(args []string) ([]string, error) {
	var inputs []string
	for _, arg := range args {
		if storage.IsGCSURI(arg) {
			inputs = append(inputs, arg)
			continue
		}
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("expandInputs: %q: %w", arg, err)
		}
		if len(matches) == 0 {
			inputs = append(inputs, arg)
			continue
		}
		inputs = append(inputs, matches...)
	}
	return inputs, nil
}

// outputFor places the output of a local input in outDir; "" keeps the
// default derived from the input name.
func outputFor(input, outDir string) string {
	if outDir == "" || storage.IsGCSURI(input) {
		return ""
	}
	_, output, err := storage.ResolvePaths(input, "")
	if err != nil {
		return ""
	}
	return filepath.Join(outDir, filepath.Base(output))
}

func runRuns(log zerolog.Logger, cfg *config.Config) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	project := fs.String("project", cfg.GCPProject, "GCP project ID (or set GCP_PROJECT)")
	dataset := fs.String("dataset", cfg.BQDataset, "BigQuery dataset (or set BQ_DATASET)")
	limit := fs.Int("limit", infraBQ.DefaultListLimit, "Maximum number of runs to list")
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repo, err := infraBQ.NewBigQueryRunRepository(ctx, *project, *dataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create run repository")
	}
	defer repo.Close()

	runs, err := repo.ListRuns(ctx, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list runs")
	}

	fmt.Printf("\n=== Conversion runs (%d) ===\n", len(runs))
	for _, run := range runs {
		fmt.Printf("\n%s  %s\n", run.RunID, run.Status)
		fmt.Printf("   Input:        %s\n", run.InputURI)
		fmt.Printf("   Output:       %s\n", run.OutputURI)
		fmt.Printf("   Started:      %s\n", run.StartedTS.Format(time.RFC3339))
		fmt.Printf("   Transactions: %d\n", run.TransactionCount)
		if run.MemoSuppressed {
			fmt.Println("   Memos:        excluded")
		}
		if run.ErrorMessage.Valid {
			fmt.Printf("   Error:        %s\n", run.ErrorMessage.StringVal)
		}
	}
	fmt.Println()
}

func runInitLedger(log zerolog.Logger, cfg *config.Config) {
	fs := flag.NewFlagSet("init-ledger", flag.ExitOnError)
	project := fs.String("project", cfg.GCPProject, "GCP project ID (or set GCP_PROJECT)")
	dataset := fs.String("dataset", cfg.BQDataset, "BigQuery dataset (or set BQ_DATASET)")
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	repo, err := infraBQ.NewBigQueryRunRepository(ctx, *project, *dataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create run repository")
	}
	defer repo.Close()

	if err := repo.EnsureTables(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to create ledger tables")
	}

	log.Info().Str("project", *project).Str("dataset", *dataset).Msg("Ledger tables ready")
}
