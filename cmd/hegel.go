package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/theirongolddev/hegelpm/internal/cli"
	"github.com/theirongolddev/hegelpm/internal/model"
	"github.com/theirongolddev/hegelpm/internal/protocol"
)

// interactiveHegelCommands take over the terminal and make no sense once
// per project.
var interactiveHegelCommands = []string{"top", "reflect"}

var (
	flagHegelBin      string
	flagHegelParallel int
)

var hegelCmd = &cobra.Command{
	Use:   "hegel <command> [args...]",
	Short: "Run a hegel command in every discovered project",
	Long: "Runs `hegel <command> [args...] --state-dir <marker>` in each discovered project directory " +
		"and prints each project's output in discovery order. Flags after <command> go to hegel.",
	Example: "  hegelpm hegel status\n  hegelpm --root ~/code hegel analyze --dry-run",
	RunE:    runHegel,
}

func init() {
	hegelCmd.Flags().StringVar(&flagHegelBin, "hegel-bin", "hegel", "hegel executable to run")
	hegelCmd.Flags().IntVar(&flagHegelParallel, "parallel", 1, "Projects to run at once")
	// Everything after the hegel subcommand belongs to hegel.
	hegelCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(hegelCmd)
}

// hegelRun is the outcome of one project's invocation.
type hegelRun struct {
	Project  model.ProjectIndexEntry
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Err      error
	Elapsed  time.Duration
}

func (r hegelRun) ok() bool {
	return r.Err == nil && r.ExitCode == 0
}

func checkHegelArgs(args []string) error {
	if len(args) == 0 {
		return protocol.Invalid("no hegel command given (usage: hegelpm hegel <command> [args...])")
	}
	if slices.Contains(interactiveHegelCommands, args[0]) {
		return protocol.Invalid(fmt.Sprintf("hegel %s is interactive and cannot run across projects (disallowed: %s)",
			args[0], strings.Join(interactiveHegelCommands, ", ")))
	}
	if flagHegelParallel < 1 {
		return protocol.Invalid(fmt.Sprintf("--parallel must be at least 1, got %d", flagHegelParallel))
	}
	return nil
}

func runHegel(_ *cobra.Command, args []string) error {
	if err := checkHegelArgs(args); err != nil {
		return err
	}
	bin, err := exec.LookPath(flagHegelBin)
	if err != nil {
		return fmt.Errorf("locating hegel: %w", err)
	}

	payload, err := query(protocol.ListProjects{})
	if err != nil {
		return err
	}
	var list model.ProjectList
	if err := json.Unmarshal(payload, &list); err != nil {
		return fmt.Errorf("decoding project list: %w", err)
	}
	if list.TotalCount == 0 {
		fmt.Println("\n  No projects found.")
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	progress("  Running 'hegel %s' across %d project(s)\n", strings.Join(args, " "), list.TotalCount)
	runs := fanOutHegel(ctx, bin, args, list.Projects, flagHegelParallel)

	failed := 0
	for _, r := range runs {
		if !r.ok() {
			failed++
		}
		fmt.Println()
		fmt.Println("  " + r.Project.Name + "  " + cli.Muted(r.Project.ProjectPath))
		_, _ = os.Stdout.Write(r.Stdout)
		_, _ = os.Stderr.Write(r.Stderr)
		switch {
		case r.Err != nil:
			fmt.Println("  " + cli.Warn("failed to run: "+r.Err.Error()))
		case r.ExitCode != 0:
			fmt.Println("  " + cli.Warn(fmt.Sprintf("exit code %d", r.ExitCode)))
		default:
			fmt.Println("  " + cli.OK("ok") + " " + cli.Muted(r.Elapsed.Round(time.Millisecond).String()))
		}
	}

	fmt.Println()
	fmt.Print(cli.RenderKV("Summary", [][2]string{
		{"Projects", cli.FormatNumber(int64(len(runs)))},
		{"Succeeded", cli.FormatNumber(int64(len(runs) - failed))},
		{"Failed", cli.FormatNumber(int64(failed))},
	}))

	if failed > 0 {
		return fmt.Errorf("%d of %d project(s) failed", failed, len(runs))
	}
	return nil
}

// fanOutHegel runs bin once per project with the project directory as
// working directory and its marker directory as --state-dir. Results keep
// the order of projects.
func fanOutHegel(ctx context.Context, bin string, args []string, projects []model.ProjectIndexEntry, parallel int) []hegelRun {
	runs := make([]hegelRun, len(projects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for i, p := range projects {
		g.Go(func() error {
			runs[i] = runHegelIn(gctx, bin, args, p)
			return nil
		})
	}
	_ = g.Wait()
	return runs
}

func runHegelIn(ctx context.Context, bin string, args []string, p model.ProjectIndexEntry) hegelRun {
	run := hegelRun{Project: p}
	if err := ctx.Err(); err != nil {
		run.Err = err
		return run
	}

	argv := append(slices.Clone(args), "--state-dir", p.MarkerDir)
	//nolint:gosec // the user names the hegel binary and its arguments
	c := exec.CommandContext(ctx, bin, argv...)
	c.Dir = p.ProjectPath
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	run.Elapsed = time.Since(start)
	run.Stdout, run.Stderr = stdout.Bytes(), stderr.Bytes()

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		run.ExitCode = exitErr.ExitCode()
	case err != nil:
		run.Err = err
	}
	return run
}
