// Package main implements the taxistream binary, which replays a taxi ride
// file as a paced, event-time ordered table stream into a sink.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/arkilian/taxistream/internal/app"
	"github.com/arkilian/taxistream/internal/config"
	"github.com/arkilian/taxistream/internal/logging"
	"github.com/arkilian/taxistream/internal/server"
	"github.com/arkilian/taxistream/internal/sink"
)

var (
	version = "dev"
	commit  = "unknown"
)

// flags holds the command-line overrides. Only flags that were set are applied.
type flags struct {
	configFile string
	dataFile   string
	dataDir    string
	maxDelay   int
	speed      float64
	sinkType   string
	httpAddr   string
	grpcAddr   string
	logLevel   string
	set        map[string]bool
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "generate" {
		if err := runGenerate(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "generate: %v\n", err)
			os.Exit(1)
		}
		return
	}

	var (
		f           flags
		showVersion bool
		showHelp    bool
	)
	flag.StringVar(&f.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&f.dataFile, "data-file", "", "Ride file to replay (local path or s3://bucket/key)")
	flag.StringVar(&f.dataDir, "data-dir", "", "Base directory for cache, staging and local storage")
	flag.IntVar(&f.maxDelay, "max-delay", 0, "Maximum random event delay in seconds (0 keeps file order)")
	flag.Float64Var(&f.speed, "speed", 1, "Serving speed factor (+Inf replays as fast as possible)")
	flag.StringVar(&f.sinkType, "sink", "", "Sink type: log, partition, redis, postgres")
	flag.StringVar(&f.httpAddr, "http-addr", "", "HTTP status address")
	flag.StringVar(&f.grpcAddr, "grpc-addr", "", "gRPC health address")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "taxistream - replay taxi rides as an event-time table stream\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  taxistream [options]\n")
		fmt.Fprintf(os.Stderr, "  taxistream generate [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  taxistream -data-file nycTaxiRides.gz -speed 600\n")
		fmt.Fprintf(os.Stderr, "  taxistream -data-file s3://rides/nycTaxiRides.gz -max-delay 60 -sink partition\n")
		fmt.Fprintf(os.Stderr, "  taxistream -config /etc/taxistream/config.yaml\n")
		fmt.Fprintf(os.Stderr, "  taxistream generate -rides 10000 -out rides.gz\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  TAXISTREAM_SOURCE_DATA_FILE   Ride file to replay\n")
		fmt.Fprintf(os.Stderr, "  TAXISTREAM_SINK_TYPE          Sink type\n")
		fmt.Fprintf(os.Stderr, "  TAXISTREAM_STORAGE_TYPE       Storage type (local, s3)\n")
		fmt.Fprintf(os.Stderr, "  TAXISTREAM_TRACING_ENDPOINT   OTLP/HTTP endpoint\n")
	}
	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if showVersion {
		fmt.Printf("taxistream version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	f.set = make(map[string]bool)
	flag.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	defer logger.Sync()

	application, err := app.New(cfg, app.WithLogger(logger))
	if err != nil {
		logger.Fatalw("failed to create application", "error", err)
	}

	shutdown := server.NewShutdownManager(server.ShutdownConfig{Logger: logger})
	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	logger.Infow("taxistream starting", "version", version, "commit", commit)
	if err := application.Run(ctx); err != nil {
		logger.Errorw("replay failed", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

// loadConfig layers defaults, the config file, the environment and flags.
func loadConfig(f flags) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if f.configFile != "" {
		cfg, err = config.LoadFromFile(f.configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	if f.set["data-file"] {
		cfg.Source.DataFile = f.dataFile
	}
	if f.set["data-dir"] {
		cfg.DataDir = f.dataDir
	}
	if f.set["max-delay"] {
		cfg.Source.MaxEventDelaySecs = f.maxDelay
	}
	if f.set["speed"] {
		cfg.Source.ServingSpeedFactor = f.speed
	}
	if f.set["sink"] {
		cfg.Sink.Type = sink.Type(f.sinkType)
	}
	if f.set["http-addr"] {
		cfg.Status.HTTPAddr = f.httpAddr
	}
	if f.set["grpc-addr"] {
		cfg.Status.GRPCAddr = f.grpcAddr
	}
	if f.set["log-level"] {
		cfg.Log.Level = f.logLevel
	}
	return cfg, nil
}
