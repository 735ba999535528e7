// Command ingest downloads the Connecticut real-estate sales export and
// replaces the bronze table with it.
//
//	ingest -mode test        # first 10,000 records
//	ingest -mode full -yes   # everything, no prompt
//	ingest                   # interactive menu when stdin is a terminal
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"ctingest/internal/config"
	"ctingest/internal/logging"
	"ctingest/internal/pipeline"
	"ctingest/internal/source"
	"ctingest/internal/storage"
	_ "ctingest/internal/storage/all"
)

// appDeps are the seams runMain needs; tests replace them.
type appDeps struct {
	loadConfig  func(envFile string) (config.Settings, error)
	open        func(ctx context.Context, cfg storage.Config) (storage.Session, error)
	newSource   func(timeout time.Duration, log zerolog.Logger) pipeline.Source
	initMetrics func(ctx context.Context, s config.Settings, log zerolog.Logger) (func(), error)
	isTerminal  func() bool
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig: func(envFile string) (config.Settings, error) {
			return config.Load(config.Options{EnvFile: envFile})
		},
		open: storage.Open,
		newSource: func(timeout time.Duration, log zerolog.Logger) pipeline.Source {
			return source.New(timeout, log)
		},
		initMetrics: initMetrics,
		isTerminal:  func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := runMain(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

const (
	modeTest = "test"
	modeFull = "full"
)

// runMain returns the process exit code:
//   - 0: success, or cancelled at the confirmation prompt.
//   - 1: the pipeline failed.
//   - 2: usage or configuration error.
func runMain(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, d appDeps) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	mode := fs.String("mode", "", "run mode: test (10,000 records) or full")
	yes := fs.Bool("yes", false, "skip the full-load confirmation")
	envFile := fs.String("env", ".env", "optional dotenv file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		return 2
	}

	m := strings.ToLower(strings.TrimSpace(*mode))
	in := bufio.NewReader(stdin)
	interactive := d.isTerminal()

	switch m {
	case modeTest, modeFull:
	case "":
		if !interactive {
			fmt.Fprintln(stderr, "usage: ingest -mode test|full [-yes]")
			return 2
		}
		fmt.Fprintln(stdout, "\n"+logging.Banner)
		fmt.Fprintln(stdout, "CT REAL ESTATE INGESTION PIPELINE")
		fmt.Fprintln(stdout, logging.Banner)
		fmt.Fprintln(stdout, "\nOptions:")
		fmt.Fprintln(stdout, "  1. Test run (10,000 records)")
		fmt.Fprintln(stdout, "  2. Full load (all data)")
		switch prompt(in, stdout, "\nEnter choice (1 or 2): ") {
		case "1":
			m = modeTest
		case "2":
			m = modeFull
		default:
			fmt.Fprintln(stderr, "Invalid choice. Please run again and enter 1 or 2.")
			return 2
		}
	default:
		fmt.Fprintf(stderr, "invalid -mode %q: want test or full\n", *mode)
		return 2
	}

	if m == modeFull && !*yes {
		if !interactive {
			fmt.Fprintln(stderr, "full load requires -yes when stdin is not a terminal")
			return 2
		}
		if strings.ToLower(prompt(in, stdout, "\nFull load will download 1M+ records. Continue? (yes/no): ")) != "yes" {
			fmt.Fprintln(stdout, "Cancelled.")
			return 0
		}
	}

	s, err := d.loadConfig(*envFile)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}
	if err := s.RequirePipeline(); err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}

	log := logging.New("ingest", logging.Options{Level: s.LogLevel, Pretty: s.LogPretty, Out: stderr})

	cleanup, err := d.initMetrics(ctx, s, log)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 2
	}
	defer cleanup()

	limit := 0
	if m == modeTest {
		limit = pipeline.TestLimit
		fmt.Fprintf(stdout, "\n-> Running TEST MODE with %d records...\n\n", limit)
	} else {
		fmt.Fprintln(stdout, "\n-> Running FULL LOAD...")
		fmt.Fprintln(stdout)
	}

	p := &pipeline.Pipeline{
		Open: func(ctx context.Context) (storage.Session, error) {
			return d.open(ctx, s.Storage())
		},
		Source:     d.newSource(s.DataTimeout, log.With().Str("stage", "download").Logger()),
		URL:        s.DataURL,
		Table:      s.TargetTable,
		AutoCreate: s.AutoCreate,
		Loader: &pipeline.Loader{
			Table:     s.TargetTable,
			BatchSize: s.BatchSize,
			Log:       log.With().Str("stage", "load").Logger(),
		},
		Verifier: &pipeline.Verifier{
			Table: s.TargetTable,
			Log:   log.With().Str("stage", "verify").Logger(),
		},
		Log: log,
	}

	sum, err := p.Run(ctx, limit)
	if err != nil {
		return 1
	}
	fmt.Fprintf(stdout, "loaded %d records into %s in %.1fs\n", sum.Loaded, s.TargetTable, sum.Duration.Seconds())
	return 0
}

// prompt writes question and returns the trimmed answer line. EOF yields
// whatever was read.
func prompt(in *bufio.Reader, out io.Writer, question string) string {
	fmt.Fprint(out, question)
	line, _ := in.ReadString('\n')
	return strings.TrimSpace(line)
}
