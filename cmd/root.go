// Package cmd implements the hegelpm CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/hegelpm/internal/cache"
	"github.com/theirongolddev/hegelpm/internal/cli"
	"github.com/theirongolddev/hegelpm/internal/config"
	"github.com/theirongolddev/hegelpm/internal/discovery"
	"github.com/theirongolddev/hegelpm/internal/protocol"
	"github.com/theirongolddev/hegelpm/internal/worker"
)

var (
	flagConfig   string
	flagRoots    []string
	flagMaxDepth int
	flagLogLevel string
	flagQuiet    bool
)

var rootCmd = &cobra.Command{
	Use:           "hegelpm",
	Short:         "Discover and inspect .hegel projects",
	Long:          "Find every project carrying a .hegel marker directory and report its workflow and token metrics.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the main entry point called from main.go.
func Execute() {
	if code := run(os.Args[1:], os.Stderr); code != 0 {
		os.Exit(code)
	}
}

// run executes the command line in args and returns the process exit code.
func run(args []string, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		printError(stderr, err)
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default "+config.ConfigPath()+")")
	rootCmd.PersistentFlags().StringArrayVarP(&flagRoots, "root", "r", nil, "Search root (repeatable, overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagMaxDepth, "max-depth", 0, "Maximum directory depth below each root")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress progress output")
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if flagConfig != "" {
		cfg, err = config.LoadFrom(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return cfg, err
	}

	if len(flagRoots) > 0 {
		roots := make([]string, 0, len(flagRoots))
		for _, r := range flagRoots {
			roots = append(roots, config.ExpandHome(r))
		}
		cfg.Discovery.Roots = roots
	}
	if flagMaxDepth > 0 {
		cfg.Discovery.MaxDepth = flagMaxDepth
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	return cfg, nil
}

// newLogger builds the stderr logger shared by every component.
func newLogger(cfg config.Config) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "hegelpm",
		ReportTimestamp: true,
	})
	level, err := log.ParseLevel(config.LogLevel(cfg))
	if err != nil {
		level = log.InfoLevel
	}
	if flagQuiet && level < log.WarnLevel {
		level = log.WarnLevel
	}
	logger.SetLevel(level)
	return logger
}

// dataLayer is the wired cache, engine and pool for one process.
type dataLayer struct {
	cfg    config.Config
	logger *log.Logger
	cache  *cache.ResponseCache
	engine *discovery.Engine
	pool   *worker.Pool
	stop   context.CancelFunc
	done   chan struct{}
}

// startDataLayer builds the data layer and starts the pool's dispatch loop.
// Callers must call close.
func startDataLayer(cfg config.Config, logger *log.Logger) (*dataLayer, error) {
	engine, err := discovery.New(cfg.Discovery, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	c := cache.New()
	pool, err := worker.New(worker.Config{ChannelBuffer: cfg.Worker.ChannelBuffer}, c, engine, logger)
	if err != nil {
		return nil, fmt.Errorf("worker pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	dl := &dataLayer{
		cfg:    cfg,
		logger: logger,
		cache:  c,
		engine: engine,
		pool:   pool,
		stop:   cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(dl.done)
		if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("worker pool stopped", "error", err)
		}
	}()
	return dl, nil
}

func (d *dataLayer) close() {
	d.stop()
	<-d.done
}

// setupData loads config, logger and data layer for a one-shot command.
func setupData() (*dataLayer, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return startDataLayer(cfg, newLogger(cfg))
}

// printError writes err to w as "error: <kind>: <message>".
func printError(w io.Writer, err error) {
	var de *protocol.DataError
	if errors.As(err, &de) {
		fmt.Fprintln(w, cli.RenderError(string(de.Kind), de.Error()))
		return
	}
	fmt.Fprintln(w, cli.RenderError("", err.Error()))
}

func progress(format string, args ...any) {
	if flagQuiet {
		return
	}
	fmt.Fprintf(os.Stderr, format, args...)
}
