package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/dvloznov/qfx2qif/internal/config"
	"github.com/dvloznov/qfx2qif/internal/domain"
	infraBQ "github.com/dvloznov/qfx2qif/internal/infra/bigquery"
	"github.com/dvloznov/qfx2qif/internal/logger"
	"github.com/dvloznov/qfx2qif/internal/ofx"
	"github.com/dvloznov/qfx2qif/internal/pipeline"
	"github.com/dvloznov/qfx2qif/internal/storage"
)

// Overridden at build time with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   = "1.01"
	buildDate = "2025-11-28"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// counter is a repeatable boolean flag that moves *n by delta on every use.
type counter struct {
	n     *int
	delta int
}

func (c counter) String() string {
	if c.n == nil {
		return "0"
	}
	return strconv.Itoa(*c.n)
}

func (c counter) Set(s string) error {
	on, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if on {
		*c.n += c.delta
	}
	return nil
}

func (c counter) IsBoolFlag() bool { return true }

// shortBool and shortValue are the single-letter flags that may be
// combined getopt style: "-vv", "-mv", "-mi file" or "-ifile".
const (
	shortBool  = "mqv"
	shortValue = "io"
)

// expandShortFlags splits combined single-letter flags into separate
// arguments. Arguments naming a defined flag, values of value flags and
// everything after "--" are passed through unchanged.
func expandShortFlags(fs *flag.FlagSet, args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return append(out, args[i:]...)
		}
		if len(arg) < 3 || arg[0] != '-' || arg[1] == '-' {
			out = append(out, arg)
			if isValueFlag(fs, arg) && i+1 < len(args) {
				i++
				out = append(out, args[i])
			}
			continue
		}
		name, _, _ := strings.Cut(arg[1:], "=")
		if fs.Lookup(name) != nil {
			out = append(out, arg)
			if isValueFlag(fs, arg) && i+1 < len(args) {
				i++
				out = append(out, args[i])
			}
			continue
		}

		expanded, needsValue, ok := splitShort(arg[1:])
		if !ok {
			out = append(out, arg)
			continue
		}
		out = append(out, expanded...)
		if needsValue && i+1 < len(args) {
			i++
			out = append(out, args[i])
		}
	}
	return out
}

// splitShort expands "mv" into "-m", "-v". A value letter takes the rest of
// the group as its value, or the next argument when the group ends with it.
func splitShort(group string) (expanded []string, needsValue, ok bool) {
	for j := 0; j < len(group); j++ {
		c := group[j]
		switch {
		case strings.IndexByte(shortBool, c) >= 0:
			expanded = append(expanded, "-"+string(c))
		case strings.IndexByte(shortValue, c) >= 0:
			expanded = append(expanded, "-"+string(c))
			if rest := group[j+1:]; rest != "" {
				return append(expanded, rest), false, true
			}
			return expanded, true, true
		default:
			return nil, false, false
		}
	}
	return expanded, false, true
}

// isValueFlag reports whether arg is a defined non-boolean flag given
// without an inline "=value".
func isValueFlag(fs *flag.FlagSet, arg string) bool {
	name := strings.TrimLeft(arg, "-")
	if name == "" || strings.Contains(name, "=") {
		return false
	}
	f := fs.Lookup(name)
	if f == nil {
		return false
	}
	if b, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && b.IsBoolFlag() {
		return false
	}
	return true
}

func usage(w io.Writer, prog, extraLine string) {
	fmt.Fprintf(w, "%s Ver %s %s\n", prog, version, buildDate)
	fmt.Fprintf(w, "usage: %s <options>\n", prog)
	fmt.Fprintln(w, "-i --input filename       input .qfx file.")
	fmt.Fprintln(w, "                          Extension will be added if not provided.")
	fmt.Fprintln(w, "-o --output filename      output .qif file.")
	fmt.Fprintln(w, "                          Filename will be generated from input filename")
	fmt.Fprintln(w, "                          if not provided.")
	fmt.Fprintln(w, "-m --memo                 Include memos.")
	fmt.Fprintln(w, "-q --quiet                Quiet running (or decrease verbosity).")
	fmt.Fprintln(w, "-v --verbose              Increase verbosity")
	fmt.Fprintln(w, "   --charset mode         auto (transcode CHARSET:1252 headers) or raw.")
	fmt.Fprintln(w, "   --bq-export            Record the run and its transactions in BigQuery.")
	fmt.Fprintln(w, "   --project id           GCP project for --bq-export (or set GCP_PROJECT).")
	fmt.Fprintln(w, "   --dataset name         BigQuery dataset for --bq-export (or set BQ_DATASET).")
	fmt.Fprintln(w, "Input and output may be local paths or gs://bucket/object URIs.")
	if extraLine != "" {
		fmt.Fprintf(w, "\n%s\n", extraLine)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	prog := "qfx2qif"
	if len(args) > 0 {
		prog = filepath.Base(args[0])
		args = args[1:]
	}

	cfg := config.Load(logger.NewForVerbosity(stderr, 0))

	var (
		input, output    string
		includeMemo      = cfg.IncludeMemo
		verbosity        = cfg.Verbosity
		charset          = cfg.Charset
		bqExport         bool
		project, dataset = cfg.GCPProject, cfg.BQDataset
	)

	fs := flag.NewFlagSet(prog, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { usage(stderr, prog, "") }

	for _, name := range []string{"i", "input"} {
		fs.StringVar(&input, name, "", "input .qfx file")
	}
	for _, name := range []string{"o", "output"} {
		fs.StringVar(&output, name, "", "output .qif file")
	}
	for _, name := range []string{"m", "memo"} {
		fs.BoolVar(&includeMemo, name, includeMemo, "include memos")
	}
	for _, name := range []string{"q", "quiet"} {
		fs.Var(counter{n: &verbosity, delta: -1}, name, "decrease verbosity")
	}
	for _, name := range []string{"v", "verbose"} {
		fs.Var(counter{n: &verbosity, delta: 1}, name, "increase verbosity")
	}
	fs.StringVar(&charset, "charset", charset, "charset handling: auto or raw")
	fs.BoolVar(&bqExport, "bq-export", false, "record the run in BigQuery")
	fs.StringVar(&project, "project", project, "GCP project ID")
	fs.StringVar(&dataset, "dataset", dataset, "BigQuery dataset")

	if err := fs.Parse(expandShortFlags(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitFailure
	}

	if input == "" {
		usage(stderr, prog, "Input filename required")
		return exitUsage
	}

	mode, err := ofx.ParseCharsetMode(charset)
	if err != nil {
		usage(stderr, prog, err.Error())
		return exitUsage
	}

	log := logger.NewForVerbosity(stderr, verbosity)
	ctx = logger.WithContext(ctx, log)

	deps := pipeline.Deps{Storage: storage.NewService()}
	if bqExport {
		repo, err := infraBQ.NewBigQueryRunRepository(ctx, project, dataset)
		if err != nil {
			fmt.Fprintf(stderr, "BigQuery export unavailable: %v\n", err)
			return exitFailure
		}
		defer repo.Close()

		if err := repo.EnsureTables(ctx); err != nil {
			fmt.Fprintf(stderr, "BigQuery export unavailable: %v\n", err)
			return exitFailure
		}
		deps.Recorder = repo
	}

	req := pipeline.Request{
		InputURI:    input,
		OutputURI:   output,
		IncludeMemo: includeMemo,
		Charset:     mode,
	}
	if verbosity >= 2 {
		req.OnRecord = func(tx domain.Transaction) {
			memo := tx.Memo
			if tx.MemoSuppressed() {
				memo = "EXCLUDED"
			}
			fmt.Fprintf(stdout, "%s\t%.16s\t%.8s\t$%s\n", tx.Date, tx.SourcePayee(), memo, tx.Amount)
		}
	}

	res, err := pipeline.ConvertFile(ctx, deps, req)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", prog, err)
		return exitFailure
	}

	if verbosity >= 1 {
		fmt.Fprintf(stdout, "Input File            : %s\n", res.InputURI)
		fmt.Fprintf(stdout, "Output File           : %s\n", res.OutputURI)
		fmt.Fprintf(stdout, "Number of Transactions: %d\n", res.Count)
	}
	if verbosity >= 2 {
		total, skipped := infraBQ.SumAmounts(res.Transactions)
		fmt.Fprintf(stdout, "Net Amount            : %s\n", total.StringFixed(2))
		if skipped > 0 {
			fmt.Fprintf(stdout, "Unparsed Amounts      : %d\n", skipped)
		}
	}

	if res.MemoSuppressed {
		fmt.Fprintln(stderr, "Memos appear in input file but are excluded from output.")
		fmt.Fprintln(stderr, "Use -m to include memos in output.")
	}

	return exitOK
}
