package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/theirongolddev/hegelpm/internal/cli"
	"github.com/theirongolddev/hegelpm/internal/config"
	"github.com/theirongolddev/hegelpm/internal/server"
	"github.com/theirongolddev/hegelpm/internal/watch"
)

var (
	flagServeAddr           string
	flagServeWatch          bool
	flagServeRequestTimeout time.Duration
	flagServeDetach         bool
	flagServeRunFile        string
	flagServeLogFile        string
	flagServeEventsBuffer   int
	flagServeChild          bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the project API over HTTP",
	RunE:  runServe,
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server process and API status",
	RunE:  runServeStatus,
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running server",
	RunE:  runServeStop,
}

func init() {
	defaultRun := filepath.Join(config.CacheDir(), "serve.json")
	defaultLog := filepath.Join(config.CacheDir(), "hegelpm.log")

	serveCmd.PersistentFlags().StringVar(&flagServeAddr, "addr", "", "HTTP listen address (default from config)")
	serveCmd.PersistentFlags().StringVar(&flagServeRunFile, "run-file", defaultRun, "File recording the running server")
	serveCmd.PersistentFlags().StringVar(&flagServeLogFile, "log-file", defaultLog, "Log file path for detached mode")

	serveCmd.Flags().BoolVar(&flagServeWatch, "watch", false, "Invalidate cached responses when project files change")
	serveCmd.Flags().DurationVar(&flagServeRequestTimeout, "request-timeout", 0, "Per-request timeout (default from config)")
	serveCmd.Flags().IntVar(&flagServeEventsBuffer, "events-buffer", 200, "Max in-memory invalidation events retained")
	serveCmd.Flags().BoolVar(&flagServeDetach, "detach", false, "Run the server as a background process")
	serveCmd.Flags().BoolVar(&flagServeChild, "child", false, "Internal: mark detached child process")
	_ = serveCmd.Flags().MarkHidden("child")

	serveCmd.AddCommand(serveStatusCmd)
	serveCmd.AddCommand(serveStopCmd)
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	if flagServeDetach && flagServeChild {
		return errors.New("invalid serve launch mode")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagServeAddr != "" {
		cfg.Server.Addr = flagServeAddr
	}
	if flagServeRequestTimeout > 0 {
		cfg.Server.RequestTimeout = flagServeRequestTimeout
	}
	if flagServeWatch {
		cfg.Server.Watch = true
	}

	if flagServeDetach {
		return startServeDetached(cfg)
	}
	return runServeForeground(cfg)
}

func startServeDetached(cfg config.Config) error {
	if rec, err := runFile(flagServeRunFile).lookup(); err == nil {
		return fmt.Errorf("server already running (pid %d, %s)", rec.PID, rec.Addr)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(flagServeLogFile), 0o750); err != nil {
		return fmt.Errorf("create server log directory: %w", err)
	}

	//nolint:gosec // log path is configured by the local user
	logf, err := os.OpenFile(flagServeLogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open server log file: %w", err)
	}
	defer func() { _ = logf.Close() }()

	cmd := exec.Command(exe, childArgs(os.Args[1:])...) //nolint:gosec // exe/args come from current process invocation
	cmd.Stdout = logf
	cmd.Stderr = logf
	cmd.Stdin = nil
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start detached server: %w", err)
	}

	fmt.Printf("  Started server (pid %d)\n", cmd.Process.Pid)
	fmt.Printf("  Run file: %s\n", flagServeRunFile)
	fmt.Printf("  API: http://%s/api/projects\n", cfg.Server.Addr)
	fmt.Printf("  Log: %s\n", flagServeLogFile)
	return nil
}

func runServeForeground(cfg config.Config) error {
	rf := runFile(flagServeRunFile)
	if rec, err := rf.lookup(); err == nil {
		return fmt.Errorf("server already running (pid %d, %s)", rec.PID, rec.Addr)
	}

	logger := newLogger(cfg)
	dl, err := startDataLayer(cfg, logger)
	if err != nil {
		return err
	}
	defer dl.close()

	rec := serverRecord{
		PID:       os.Getpid(),
		Addr:      cfg.Server.Addr,
		StartedAt: time.Now(),
		Roots:     dl.engine.Roots(),
		Watching:  cfg.Server.Watch,
	}
	if flagServeChild {
		rec.LogFile = flagServeLogFile
	}
	if err := rf.claim(rec); err != nil {
		return err
	}
	defer rf.release()

	srv := server.New(server.Config{
		Addr:           cfg.Server.Addr,
		RequestTimeout: cfg.Server.RequestTimeout,
		EventsBuffer:   flagServeEventsBuffer,
		Watching:       cfg.Server.Watch,
	}, dl.pool, dl.cache, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })

	if cfg.Server.Watch {
		w, err := watch.New(dl.cache, dl.engine, cfg.Server.WatchDebounce, logger)
		if err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
		w.OnInvalidate(srv.Publish)
		g.Go(func() error { return w.Run(gctx) })
	}

	progress("  hegelpm listening on http://%s\n", cfg.Server.Addr)
	progress("  Serving %d root(s): %s\n", len(rec.Roots), strings.Join(rec.Roots, ", "))
	if cfg.Server.Watch {
		progress("  Watching marker directories for changes\n")
	}
	progress("  Stop with: hegelpm serve stop --run-file %s\n", flagServeRunFile)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runServeStatus(_ *cobra.Command, _ []string) error {
	rec, err := runFile(flagServeRunFile).lookup()
	switch {
	case errors.Is(err, errNotServing) && rec.PID > 0:
		fmt.Printf("  Server: not running (cleared record of exited pid %d)\n", rec.PID)
		return nil
	case errors.Is(err, errNotServing):
		fmt.Printf("  Server: not running\n")
		return nil
	case err != nil:
		return err
	}

	addr := rec.Addr
	if flagServeAddr != "" {
		addr = flagServeAddr
	}

	fmt.Printf("  Server PID: %d\n", rec.PID)
	fmt.Printf("  Address: http://%s\n", addr)
	fmt.Printf("  Roots: %s\n", strings.Join(rec.Roots, ", "))
	if rec.LogFile != "" {
		fmt.Printf("  Log: %s\n", rec.LogFile)
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/api/status") //nolint:noctx // short status check
	if err != nil {
		fmt.Printf("  API status: unreachable (%v)\n", err)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("  API status: HTTP %d\n", resp.StatusCode)
		return nil
	}

	var st server.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		fmt.Printf("  API status: malformed response (%v)\n", err)
		return nil
	}

	fmt.Println()
	fmt.Print(cli.RenderKV("Server", [][2]string{
		{"Started", cli.FormatAgo(st.StartedAt)},
		{"Watching", strconv.FormatBool(st.Watching)},
		{"Subscribers", strconv.Itoa(st.SubscriberCount)},
		{"Invalidations", strconv.Itoa(st.EventCount)},
	}))
	fmt.Println()
	fmt.Print(cli.RenderKV("Requests", [][2]string{
		{"Total", cli.FormatNumber(st.Pool.Requests)},
		{"Cache hits", cli.FormatNumber(st.Pool.Hits)},
		{"Cache misses", cli.FormatNumber(st.Pool.Misses)},
		{"Hit rate", cli.FormatPercent(hitRate(st.Pool.Hits, st.Pool.Misses))},
		{"Failures", cli.FormatNumber(st.Pool.Failures)},
		{"In flight", cli.FormatNumber(st.Pool.InFlight)},
	}))
	fmt.Println()
	fmt.Print(cli.RenderKV("Cache", [][2]string{
		{"Entries", cli.FormatNumber(int64(st.Cache.Entries))},
		{"Size", cli.FormatSize(st.Cache.Bytes)},
		{"Invalidations", cli.FormatNumber(st.Cache.Invalidations)},
	}))
	return nil
}

func hitRate(hits, misses int64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

func runServeStop(_ *cobra.Command, _ []string) error {
	rec, err := runFile(flagServeRunFile).terminate(8 * time.Second)
	if err != nil {
		return err
	}
	fmt.Printf("  Stopped server (pid %d, up %s)\n", rec.PID, cli.FormatDuration(int64(time.Since(rec.StartedAt).Seconds())))
	return nil
}
