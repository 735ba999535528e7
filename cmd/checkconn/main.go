// Command checkconn verifies the warehouse settings and connectivity before a
// pipeline run. It exits 0 when a session could be opened and queried.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"ctingest/internal/config"
	"ctingest/internal/connectivity"
	"ctingest/internal/logging"
	"ctingest/internal/storage"
	_ "ctingest/internal/storage/all"
)

type deps struct {
	Stdout     io.Writer
	Stderr     io.Writer
	LoadConfig func(envFile string) (config.Settings, error)
	Open       connectivity.OpenFunc
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], deps{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		LoadConfig: func(envFile string) (config.Settings, error) {
			return config.Load(config.Options{EnvFile: envFile})
		},
		Open: storage.Open,
	})
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}

	fs := flag.NewFlagSet("checkconn", flag.ContinueOnError)
	fs.SetOutput(d.Stderr)
	envFile := fs.String("env", ".env", "optional dotenv file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(d.Stderr, "unexpected arguments: %v\n", fs.Args())
		return 2
	}

	s, err := d.LoadConfig(*envFile)
	if err != nil {
		fmt.Fprintf(d.Stderr, "config: %v\n", err)
		return 1
	}

	log := logging.New("checkconn", logging.Options{Level: s.LogLevel, Pretty: s.LogPretty, Out: d.Stderr})
	if err := connectivity.Check(ctx, s, d.Open, d.Stdout); err != nil {
		log.Debug().Err(err).Msg("connection check failed")
		return 1
	}
	return 0
}
