package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/hegelpm/internal/cli"
	"github.com/theirongolddev/hegelpm/internal/config"
	"github.com/theirongolddev/hegelpm/internal/model"
	"github.com/theirongolddev/hegelpm/internal/protocol"
	"github.com/theirongolddev/hegelpm/internal/store"
	"github.com/theirongolddev/hegelpm/internal/worker"
)

var (
	flagBenchIterations int
	flagBenchNoRecord   bool
	flagBenchHistory    int
	flagBenchKeep       int
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Measure cold and cached response times",
	Long: "Runs every query kind through the worker pool, first bypassing the cache " +
		"and then served from it, and records the timings in a local history database.",
	Args: cobra.NoArgs,
	RunE: runBenchmark,
}

func init() {
	benchmarkCmd.Flags().IntVar(&flagBenchIterations, "iterations", 5, "Requests per endpoint and mode")
	benchmarkCmd.Flags().BoolVar(&flagBenchNoRecord, "no-record", false, "Do not store results in the history database")
	benchmarkCmd.Flags().IntVar(&flagBenchHistory, "history", 0, "Print the last n recorded runs and exit")
	benchmarkCmd.Flags().IntVar(&flagBenchKeep, "keep", 100, "Runs retained in the history database")
	rootCmd.AddCommand(benchmarkCmd)
}

func historyPath() string {
	return filepath.Join(config.CacheDir(), "bench.db")
}

func runBenchmark(_ *cobra.Command, _ []string) error {
	if flagBenchHistory > 0 {
		return printBenchHistory(flagBenchHistory)
	}
	if flagBenchIterations < 1 {
		return protocol.Invalid("iterations must be at least 1")
	}

	dl, err := setupData()
	if err != nil {
		return err
	}
	defer dl.close()

	ctx := context.Background()
	run := store.Run{
		StartedAt:  time.Now(),
		Iterations: flagBenchIterations,
		Roots:      dl.engine.Roots(),
	}

	reply, err := dl.pool.Do(ctx, protocol.ListProjects{}, true)
	if err != nil {
		return err
	}
	var list model.ProjectList
	if err := json.Unmarshal(reply.Payload, &list); err != nil {
		return fmt.Errorf("decoding project list: %w", err)
	}
	run.ProjectCount = list.TotalCount

	targets := []struct {
		name string
		q    protocol.Query
	}{
		{"list", protocol.ListProjects{}},
		{"all", protocol.AllProjects{SortBy: model.DefaultSortColumn}},
	}
	for _, p := range list.Projects {
		targets = append(targets, struct {
			name string
			q    protocol.Query
		}{"show/" + p.Name, protocol.ShowProject{Name: p.Name}})
	}

	progress("  Benchmarking %d endpoints over %d projects (%d iterations)\n",
		len(targets), run.ProjectCount, flagBenchIterations)

	for i, tgt := range targets {
		res, err := measure(ctx, dl.pool, tgt.q, flagBenchIterations)
		if err != nil {
			// Failing projects are reported, not fatal.
			dl.logger.Warn("benchmark request failed", "endpoint", tgt.name, "error", err)
			continue
		}
		res.Endpoint = tgt.name
		run.Results = append(run.Results, res)
		progress("\r  [%d/%d]", i+1, len(targets))
	}
	progress("\n")

	printBenchRun(run)

	if flagBenchNoRecord {
		return nil
	}
	h, err := store.Open(historyPath())
	if err != nil {
		return fmt.Errorf("opening benchmark history: %w", err)
	}
	defer func() { _ = h.Close() }()

	id, err := h.RecordRun(run)
	if err != nil {
		return fmt.Errorf("recording benchmark: %w", err)
	}
	if flagBenchKeep > 0 {
		if _, err := h.Prune(flagBenchKeep); err != nil {
			dl.logger.Warn("pruning benchmark history", "error", err)
		}
	}
	progress("  Recorded run #%d in %s\n", id, historyPath())
	return nil
}

// measure averages n bypassing requests, then n cached requests, for q.
func measure(ctx context.Context, pool *worker.Pool, q protocol.Query, n int) (store.EndpointResult, error) {
	var res store.EndpointResult

	var cold time.Duration
	for i := 0; i < n; i++ {
		start := time.Now()
		reply, err := pool.Do(ctx, q, true)
		if err != nil {
			return res, err
		}
		cold += time.Since(start)
		res.PayloadBytes = len(reply.Payload)
	}

	var warm time.Duration
	for i := 0; i < n; i++ {
		start := time.Now()
		if _, err := pool.Do(ctx, q, false); err != nil {
			return res, err
		}
		warm += time.Since(start)
	}

	res.ColdMs = avgMs(cold, n)
	res.WarmMs = avgMs(warm, n)
	return res, nil
}

func avgMs(total time.Duration, n int) float64 {
	return float64(total.Microseconds()) / 1000 / float64(n)
}

func printBenchRun(run store.Run) {
	rows := make([][]string, 0, len(run.Results))
	var cold, warm float64
	for _, r := range run.Results {
		cold += r.ColdMs
		warm += r.WarmMs
		rows = append(rows, []string{
			cli.Truncate(r.Endpoint, 32),
			cli.FormatMs(r.ColdMs),
			cli.FormatMs(r.WarmMs),
			speedup(r.ColdMs, r.WarmMs),
			cli.FormatSize(int64(r.PayloadBytes)),
		})
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("BENCHMARK  %d projects  x%d", run.ProjectCount, run.Iterations)))
	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Endpoint", "Cold", "Cached", "Speedup", "Payload"},
		Rows:    rows,
		Footer:  [][]string{{"Total", cli.FormatMs(cold), cli.FormatMs(warm), speedup(cold, warm), ""}},
	}))
}

func speedup(cold, warm float64) string {
	if warm <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.0fx", cold/warm)
}

func printBenchHistory(n int) error {
	h, err := store.Open(historyPath())
	if err != nil {
		return fmt.Errorf("opening benchmark history: %w", err)
	}
	defer func() { _ = h.Close() }()

	runs, err := h.RecentRuns(n)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("\n  No benchmark runs recorded.")
		return nil
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		var cold, warm float64
		for _, er := range r.Results {
			cold += er.ColdMs
			warm += er.WarmMs
		}
		rows = append(rows, []string{
			fmt.Sprintf("#%d", r.ID),
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			cli.FormatNumber(int64(r.ProjectCount)),
			cli.FormatNumber(int64(r.Iterations)),
			cli.FormatMs(cold),
			cli.FormatMs(warm),
		})
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle("BENCHMARK HISTORY"))
	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Headers:  []string{"Run", "Started", "Projects", "Iterations", "Cold", "Cached"},
		Rows:     rows,
		LeftCols: 2,
	}))
	return nil
}
