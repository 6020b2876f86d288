package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/hegelpm/internal/cli"
	"github.com/theirongolddev/hegelpm/internal/model"
	"github.com/theirongolddev/hegelpm/internal/protocol"
)

var (
	flagJSON      bool
	flagNoCache   bool
	flagSortBy    string
	flagDesc      bool
	flagBenchmark bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find and inspect .hegel projects",
}

var discoverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered projects",
	Args:  cobra.NoArgs,
	RunE:  runDiscoverList,
}

var discoverShowCmd = &cobra.Command{
	Use:   "show <project-name>",
	Short: "Show metrics for one project",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiscoverShow,
}

var discoverAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Aggregate metrics across every project",
	Args:  cobra.NoArgs,
	RunE:  runDiscoverAll,
}

func init() {
	discoverCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Print the raw JSON payload")
	discoverCmd.PersistentFlags().BoolVar(&flagNoCache, "no-cache", false, "Bypass the response cache")

	discoverAllCmd.Flags().StringVar(&flagSortBy, "sort-by", string(model.DefaultSortColumn),
		"Sort column: "+joinColumns(model.SortColumns(true)))
	discoverAllCmd.Flags().BoolVar(&flagDesc, "desc", false, "Sort descending")
	discoverAllCmd.Flags().BoolVar(&flagBenchmark, "benchmark", false, "Time each project load")

	discoverCmd.AddCommand(discoverListCmd, discoverShowCmd, discoverAllCmd)
	rootCmd.AddCommand(discoverCmd)
}

// query runs q through a fresh data layer and returns the payload.
func query(q protocol.Query) ([]byte, error) {
	dl, err := setupData()
	if err != nil {
		return nil, err
	}
	defer dl.close()

	reply, err := dl.pool.Do(context.Background(), q, flagNoCache)
	if err != nil {
		return nil, err
	}
	return reply.Payload, nil
}

func printJSON(payload []byte) {
	_, _ = os.Stdout.Write(payload)
	fmt.Println()
}

func runDiscoverList(_ *cobra.Command, _ []string) error {
	payload, err := query(protocol.ListProjects{})
	if err != nil {
		return err
	}
	if flagJSON {
		printJSON(payload)
		return nil
	}

	var list model.ProjectList
	if err := json.Unmarshal(payload, &list); err != nil {
		return fmt.Errorf("decoding project list: %w", err)
	}
	if list.TotalCount == 0 {
		fmt.Println("\n  No projects found.")
		return nil
	}

	rows := make([][]string, 0, len(list.Projects))
	for _, p := range list.Projects {
		state := cli.Muted("-")
		if p.HasState {
			state = cli.OK("yes")
		}
		rows = append(rows, []string{
			cli.Truncate(p.Name, 28),
			cli.Truncate(p.ProjectPath, 48),
			cli.FormatSize(p.MarkerSizeBytes),
			cli.FormatAgo(p.LastActivityOrZero()),
			state,
		})
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("PROJECTS  %d found", list.TotalCount)))
	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Headers:  []string{"Name", "Path", "Size", "Last Activity", "State"},
		Rows:     rows,
		LeftCols: 2,
	}))
	return nil
}

func runDiscoverShow(_ *cobra.Command, args []string) error {
	payload, err := query(protocol.ShowProject{Name: args[0]})
	if err != nil {
		return err
	}
	if flagJSON {
		printJSON(payload)
		return nil
	}

	var d model.ProjectDetail
	if err := json.Unmarshal(payload, &d); err != nil {
		return fmt.Errorf("decoding project detail: %w", err)
	}
	s := d.Metrics.Summary

	fmt.Println()
	fmt.Println(cli.RenderTitle(strings.ToUpper(d.Project.Name)))
	fmt.Println()
	fmt.Print(cli.RenderKV("Project", [][2]string{
		{"Path", d.Project.ProjectPath},
		{"Marker", d.Project.MarkerDir},
		{"Size", cli.FormatSize(d.Project.MarkerSizeBytes)},
		{"Last activity", cli.FormatAgo(d.Project.LastActivityOrZero())},
	}))
	fmt.Println()
	fmt.Print(cli.RenderKV("Tokens", [][2]string{
		{"Input", cli.FormatTokens(s.InputTokens)},
		{"Output", cli.FormatTokens(s.OutputTokens)},
		{"Cache write", cli.FormatTokens(s.CacheCreationTokens)},
		{"Cache read", cli.FormatTokens(s.CacheReadTokens)},
		{"Total", cli.FormatTokens(s.TotalTokens)},
	}))
	fmt.Println()
	fmt.Print(cli.RenderKV("Activity", [][2]string{
		{"Hook events", cli.FormatNumber(int64(s.TotalEvents))},
		{"Bash commands", cli.FormatNumber(int64(s.BashCommandCount))},
		{"File edits", cli.FormatNumber(int64(s.FileModificationCount))},
		{"Git commits", cli.FormatNumber(int64(s.GitCommitCount))},
		{"Phases", cli.FormatNumber(int64(s.PhaseCount))},
	}))

	if st := d.Metrics.CurrentState; st != nil {
		fmt.Println()
		fmt.Print(cli.RenderKV("Current workflow", [][2]string{
			{"Mode", st.Mode},
			{"Node", st.CurrentNode},
			{"History", strings.Join(st.History, " → ")},
		}))
	}

	if len(d.Metrics.Workflows) > 0 {
		rows := make([][]string, 0, len(d.Metrics.Workflows))
		for _, w := range d.Metrics.Workflows {
			var secs int64
			for _, ph := range w.Phases {
				secs += ph.DurationSecs
			}
			rows = append(rows, []string{
				cli.Truncate(orDash(w.WorkflowID), 24),
				orDash(w.Mode),
				statusLabel(w.Status),
				orDash(w.CurrentPhase),
				strconv.Itoa(len(w.Phases)),
				cli.FormatDuration(secs),
				cli.FormatTokens(w.TotalMetrics.TotalTokens),
				cli.FormatNumber(int64(w.TotalMetrics.EventCount)),
			})
		}
		fmt.Println()
		fmt.Print(cli.RenderTable(cli.Table{
			Title:    "Workflows",
			Headers:  []string{"Workflow", "Mode", "Status", "Phase", "Phases", "Duration", "Tokens", "Events"},
			Rows:     rows,
			LeftCols: 4,
		}))

		// Phases of the most recent workflow.
		last := d.Metrics.Workflows[len(d.Metrics.Workflows)-1]
		if len(last.Phases) > 0 {
			rows = rows[:0]
			for _, ph := range last.Phases {
				m := ph.Metrics
				rows = append(rows, []string{
					ph.Name,
					string(ph.Status),
					cli.FormatDuration(ph.DurationSecs),
					cli.FormatTokens(m.TotalTokens),
					cli.FormatNumber(int64(m.EventCount)),
					cli.FormatNumber(int64(m.BashCommandCount)),
					cli.FormatNumber(int64(m.FileModificationCount)),
					cli.FormatNumber(int64(m.GitCommitCount)),
				})
			}
			fmt.Println()
			fmt.Print(cli.RenderTable(cli.Table{
				Title:    "Phases of " + orDash(last.WorkflowID),
				Headers:  []string{"Phase", "Status", "Duration", "Tokens", "Events", "Bash", "Edits", "Commits"},
				Rows:     rows,
				LeftCols: 2,
			}))
		}
	}
	if d.Metrics.SkippedLines > 0 {
		fmt.Println()
		fmt.Println("  " + cli.Warn(fmt.Sprintf("%d malformed hook lines skipped", d.Metrics.SkippedLines)))
	}
	return nil
}

func runDiscoverAll(_ *cobra.Command, _ []string) error {
	col, err := model.ParseSortColumn(flagSortBy, flagBenchmark)
	if err != nil {
		return protocol.Invalid(err.Error())
	}

	payload, err := query(protocol.AllProjects{SortBy: col, Descending: flagDesc, Benchmark: flagBenchmark})
	if err != nil {
		return err
	}
	if flagJSON {
		printJSON(payload)
		return nil
	}

	var r model.AllProjectsReport
	if err := json.Unmarshal(payload, &r); err != nil {
		return fmt.Errorf("decoding report: %w", err)
	}
	if r.TotalProjects == 0 {
		fmt.Println("\n  No projects found.")
		return nil
	}

	headers := []string{"Project", "Size", "Last Activity", "Tokens", "Events", "Bash", "Edits", "Phases"}
	if r.Benchmark {
		headers = append(headers, "Load")
	}

	rows := make([][]string, 0, len(r.Projects))
	for _, p := range r.Projects {
		var row []string
		if p.Failed() {
			row = []string{
				cli.Truncate(p.Name, 24),
				cli.FormatSize(p.MarkerSizeBytes),
				cli.FormatAgo(lastActivity(p)),
				cli.Warn(p.Error.Kind),
				cli.Muted("-"), cli.Muted("-"), cli.Muted("-"), cli.Muted("-"),
			}
		} else {
			s := p.Summary
			row = []string{
				cli.Truncate(p.Name, 24),
				cli.FormatSize(p.MarkerSizeBytes),
				cli.FormatAgo(lastActivity(p)),
				cli.FormatTokens(s.TotalTokens),
				cli.FormatNumber(int64(s.TotalEvents)),
				cli.FormatNumber(int64(s.BashCommandCount)),
				cli.FormatNumber(int64(s.FileModificationCount)),
				cli.FormatNumber(int64(s.PhaseCount)),
			}
		}
		if r.Benchmark {
			row = append(row, loadCell(p.LoadTimeMs))
		}
		rows = append(rows, row)
	}

	t := r.Totals
	footer := []string{
		"Total", "", "",
		cli.FormatTokens(t.TotalTokens),
		cli.FormatNumber(int64(t.TotalEvents)),
		cli.FormatNumber(int64(t.BashCommandCount)),
		cli.FormatNumber(int64(t.FileModificationCount)),
		cli.FormatNumber(int64(t.PhaseCount)),
	}
	if r.Benchmark {
		footer = append(footer, loadCell(r.TotalLoadTimeMs))
	}

	order := "asc"
	if r.Descending {
		order = "desc"
	}
	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("ALL PROJECTS  %d  sorted by %s %s", r.TotalProjects, r.SortBy, order)))
	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Headers:  headers,
		Rows:     rows,
		LeftCols: 1,
		Footer:   [][]string{footer},
	}))

	if r.FailedCount > 0 {
		fmt.Println()
		fmt.Println("  " + cli.Warn(fmt.Sprintf("%d of %d projects failed to load:", r.FailedCount, r.TotalProjects)))
		for _, p := range r.Projects {
			if p.Failed() {
				fmt.Printf("    %s  %s\n", p.Name, cli.Muted(p.Error.Message))
			}
		}
	}
	return nil
}

func lastActivity(p model.ProjectRow) time.Time {
	if p.LastActivity == nil {
		return time.Time{}
	}
	return *p.LastActivity
}

func loadCell(ms *float64) string {
	if ms == nil {
		return cli.Muted("-")
	}
	return cli.FormatMs(*ms)
}

func statusLabel(s model.WorkflowStatus) string {
	switch s {
	case model.WorkflowActive:
		return cli.OK(string(s))
	case model.WorkflowAborted:
		return cli.Warn(string(s))
	default:
		return cli.Muted(string(s))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func joinColumns(cols []model.SortColumn) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
