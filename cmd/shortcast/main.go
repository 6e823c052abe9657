package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/umputun/shortcast/pkg/config"
	"github.com/umputun/shortcast/pkg/supervisor"
)

// Opts with all CLI options
type Opts struct {
	Config string `short:"c" long:"config" env:"CONFIG" default:"shortcast.yml" description:"config file, optional"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`

	Run struct{} `command:"run" description:"start the supervisor (default)"`

	GenerateOnce struct {
		Channel string `long:"channel" required:"true" description:"channel id"`
		Publish bool   `long:"publish" description:"publish the generated item"`
	} `command:"generate-once" description:"run the pipeline for a channel without waiting for its schedule"`

	Health struct{} `command:"health" description:"print health report as json"`
}

var revision = "unknown"

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	parser.SubcommandsOptional = true
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	setupLog(opts.Debug, opts.NoColor)

	ctx, cancel := context.WithCancel(context.Background())

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Print("[INFO] termination signal received")
		cancel()
	}()

	cmd := "run"
	if parser.Active != nil {
		cmd = parser.Active.Name
	}
	err := execute(ctx, cmd, opts)
	cancel()

	if err != nil {
		log.Printf("[ERROR] %s failed: %v", cmd, err)
		os.Exit(1)
	}
}

// execute loads the configuration and runs the selected command
func execute(ctx context.Context, cmd string, opts Opts) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	setupLog(opts.Debug, opts.NoColor, cfg.Secrets()...)

	switch cmd {
	case "run":
		log.Printf("[INFO] starting shortcast version %s", revision)
		a, err := newApp(ctx, cfg, opts)
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.run(ctx); err != nil {
			return err
		}
		log.Print("[INFO] shutdown complete")
		return nil

	case "generate-once":
		a, err := newApp(ctx, cfg, opts)
		if err != nil {
			return err
		}
		defer a.close()
		item, err := a.generateOnce(ctx, opts.GenerateOnce.Channel, opts.GenerateOnce.Publish)
		if err != nil {
			return err
		}
		return printJSON(item)

	case "health":
		a, err := newApp(ctx, cfg, opts)
		if err != nil {
			return err
		}
		defer a.close()
		rep, err := a.health(ctx)
		if err != nil {
			return err
		}
		if err := printJSON(rep); err != nil {
			return err
		}
		if rep.Status == supervisor.StatusDown {
			return errors.New("store is down")
		}
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func setupLog(dbg, noColor bool, secs ...string) {
	logOpts := []lgr.Option{}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	if !noColor {
		colorizer := lgr.Mapper{
			ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
			WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
			InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
			DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
			CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
			TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
		}
		logOpts = append(logOpts, lgr.Map(colorizer))
	}
	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
