package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/flightbridge/internal/config"
	"github.com/zeusync/flightbridge/internal/core/observability/log"
	"github.com/zeusync/flightbridge/internal/core/transport"
	"github.com/zeusync/flightbridge/internal/injector"
)

func main() {
	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := injector.InitializeLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error creating logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, cleanup, err := injector.InitializeBridge(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to start bridge", log.Error(err))
	}
	defer cleanup()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return nil
	})

	if err = g.Wait(); err != nil {
		logger.Error("Bridge stopped with error", log.Error(err))
		cleanup()
		_ = logger.Sync()
		os.Exit(1)
	}
}

// parseArgs layers configuration: defaults, then the -config file, then
// positional [model] [port], then explicitly set flags.
func parseArgs(args []string) (config.Config, error) {
	fs := flag.NewFlagSet("bridge", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: bridge [flags] [model] [port]\n\n")
		fs.PrintDefaults()
	}

	defaults := config.Default()
	configPath := fs.String("config", "", "path to a YAML config file")
	model := fs.String("model", defaults.Model, "aircraft model")
	host := fs.String("host", defaults.Transport.Host, "bind host")
	port := fs.Int("port", defaults.Transport.Port, "bind port")
	kind := fs.String("transport", string(defaults.Transport.Kind), "transport: udp, quic or websocket")
	engine := fs.String("engine", defaults.Engine.Address, "JSBSim input socket address, empty for the kinematic fallback")
	level := fs.String("log-level", defaults.Log.Level, "log level")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return cfg, err
	}

	switch rest := fs.Args(); len(rest) {
	case 0:
	case 2:
		p, err := strconv.Atoi(rest[1])
		if err != nil {
			return cfg, fmt.Errorf("invalid port %q", rest[1])
		}
		cfg.Transport.Port = p
		fallthrough
	case 1:
		cfg.Model = rest[0]
	default:
		fs.Usage()
		return cfg, fmt.Errorf("too many arguments")
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "model":
			cfg.Model = *model
		case "host":
			cfg.Transport.Host = *host
		case "port":
			cfg.Transport.Port = *port
		case "transport":
			cfg.Transport.Kind = transport.Kind(*kind)
		case "engine":
			cfg.Engine.Address = *engine
		case "log-level":
			cfg.Log.Level = *level
		}
	})

	return cfg, cfg.Validate()
}
