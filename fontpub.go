package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sanyyao/fontpub/cfg"
	"github.com/sanyyao/fontpub/telemetry"

	// Announcement sinks and event formats register themselves
	_ "github.com/sanyyao/fontpub/publisher/sink"
	_ "github.com/sanyyao/fontpub/publisher/transformer"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `Usage: fontpub [flags] [command] [args]

Commands:
  fire            split new fonts, then upload and rebuild indexes if anything was published (default)
  split           split new fonts only and persist the publish signal
  deploy          upload the dist directory
  index           rebuild and upload the latest-only index
  full-index      rebuild the local full-history index
  deploy-pending  upload and rebuild indexes if a split left a pending signal
  nuke -yes       delete every object in the bucket
  preview         serve dist and the local index over HTTP
  status          show the pending signal and recent releases
  resolve FILE... print the identity derived from each filename

Flags:
`

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := cfg.Load(*cfg.ConfigPathFlag); err != nil {
		fmt.Fprintf(os.Stderr, "fontpub: %v\n", err)
		os.Exit(1)
	}

	command, args := "fire", flag.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	if command != "resolve" {
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "fontpub: invalid configuration: %v\n", err)
			os.Exit(1)
		}
	}

	setupLogging()
	telemetry.InitializeTelemetry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, command, args)
	stop()

	if err := telemetry.Push(); err != nil {
		log.Warn().Err(err).Msg("Failed to push metrics")
	}
	os.Exit(code)
}

func setupLogging() {
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}
}

func run(ctx context.Context, command string, args []string) int {
	if command == "resolve" {
		return resolveCommand(os.Stdout, args)
	}

	a, err := newApp(cfg.Config)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize")
		return 1
	}
	defer a.close()

	switch command {
	case "fire":
		err = a.fire(ctx)
	case "split":
		_, err = a.split(ctx)
	case "deploy":
		err = a.upload(ctx)
	case "index":
		err = a.cloudIndex(ctx)
	case "full-index":
		err = a.localIndex(ctx)
	case "deploy-pending":
		err = a.deployPending(ctx)
	case "nuke":
		err = a.nuke(ctx, args)
	case "preview":
		err = a.preview(ctx)
	case "status":
		err = a.status(os.Stdout, args)
	default:
		flag.Usage()
		log.Error().Str("command", command).Msg("Unknown command")
		return 1
	}

	if err != nil {
		log.Error().Err(err).Str("command", command).Msg("Command failed")
		return 1
	}
	return 0
}
