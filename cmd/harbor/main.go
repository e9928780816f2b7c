package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/indigo-web/harbor"
	"github.com/indigo-web/harbor/config"
	"github.com/rs/zerolog"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		host       = flag.String("host", "", "address to listen on")
		port       = flag.Uint("port", 0, "port to listen on")
		workers    = flag.Int("workers", 0, "number of connections served concurrently")
		queue      = flag.Int("queue", 0, "number of connections waiting for a worker")
		root       = flag.String("root", "", "directory with static resources")
		debug      = flag.Bool("debug", false, "log every request")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [host [port [workers]]]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger().
		Level(zerolog.InfoLevel)
	if *debug {
		log = log.Level(zerolog.DebugLevel)
	}

	cfg := config.Default()
	if len(*configPath) > 0 {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatal().Err(err).Msg("cannot load config")
		}
	}

	if err := positional(cfg, flag.Args()); err != nil {
		flag.Usage()
		log.Fatal().Err(err).Msg("bad arguments")
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.NET.Host = *host
		case "port":
			cfg.NET.Port = uint16(*port)
		case "workers":
			cfg.Pool.Workers = *workers
		case "queue":
			cfg.Pool.QueueCapacity = *queue
		case "root":
			cfg.Resources.Root = *root
		}
	})

	app := harbor.New(cfg).Logger(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		app.GracefulStop()

		// the second signal stops the server immediately
		stop()
		second, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-second.Done()
		app.Stop()
	}()

	if err := app.Serve(); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

// positional applies the optional host, port and workers arguments.
func positional(cfg *config.Config, args []string) error {
	if len(args) > 3 {
		return fmt.Errorf("too many arguments: %d", len(args))
	}

	if len(args) > 0 {
		cfg.NET.Host = args[0]
	}

	if len(args) > 1 {
		port, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return fmt.Errorf("bad port: %w", err)
		}

		cfg.NET.Port = uint16(port)
	}

	if len(args) > 2 {
		workers, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("bad number of workers: %w", err)
		}

		cfg.Pool.Workers = workers
	}

	return nil
}
