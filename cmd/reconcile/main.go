// reconcile runs a single pass of the clock-driven work and exits. It owns
// its own index, so run it only while the API is stopped (maintenance, after
// a restore). A running API does the same pass on its loop and on
// POST /internal/reconcile.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"parkshare/internal/app"
	"parkshare/internal/config"
	"parkshare/internal/pkg/clock"
	"parkshare/internal/pkg/logger"
	"parkshare/internal/reconcile"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		envFile string
		timeout time.Duration
		asJSON  bool
		failOn  bool
		skip    bool
	)
	flagSet := pflag.NewFlagSet("reconcile", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file to load before the environment")
	flagSet.DurationVar(&timeout, "timeout", time.Minute, "give up after this long")
	flagSet.BoolVar(&asJSON, "json", false, "print the pass report as JSON")
	flagSet.BoolVar(&skip, "skip-consistency", false, "do not compare the rebuilt index against the store")
	flagSet.BoolVar(&failOn, "fail-on-fault", false, "exit non-zero when the consistency check finds faults")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "parkshare-reconcile"})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, log.Logger)
	if err != nil {
		return err
	}
	defer a.Close()

	loop := reconcile.NewLoop(a.Bookings, a.Waitlist, a.Store(), a.Index(), clock.Real(),
		reconcile.Config{Interval: cfg.ReconcileInterval, SkipConsistency: skip}, log.Logger)
	rep, err := loop.RunOnce(ctx)
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(rep); encErr != nil {
			return encErr
		}
	} else {
		fmt.Printf("activated=%d completed=%d expired=%d offers_reverted=%d entries_expired=%d faults=%d\n",
			rep.Advance.Activated, rep.Advance.Completed, rep.Advance.Expired,
			rep.Sweep.Reverted, rep.Sweep.Expired, len(rep.Faults))
	}
	if err != nil {
		return err
	}
	if failOn && len(rep.Faults) > 0 {
		return fmt.Errorf("%d consistency faults", len(rep.Faults))
	}
	return nil
}
