package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/theirongolddev/hegelpm/internal/model"
)

// resetFlags returns every flag to its default so runs don't leak state.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if !f.Changed {
			return
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// execCLI runs the command line and captures its exit code and output.
func execCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	orig := os.Stdout
	os.Stdout = w

	out := make(chan string, 1)
	go func() {
		b, _ := io.ReadAll(r)
		out <- string(b)
	}()

	var errBuf bytes.Buffer
	code = run(args, &errBuf)

	os.Stdout = orig
	_ = w.Close()
	return code, <-out, errBuf.String()
}

// projectRoot creates a search root holding an empty marker dir per name.
func projectRoot(t *testing.T, names ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, n := range names {
		if err := os.MkdirAll(filepath.Join(root, n, ".hegel"), 0o750); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

// baseArgs points the CLI at root with no user config.
func baseArgs(t *testing.T, root string) []string {
	return []string{"--config", filepath.Join(t.TempDir(), "none.toml"), "--root", root, "--quiet", "--log-level", "error"}
}

func TestDiscoverAllLoadTimeNeedsBenchmark(t *testing.T) {
	// An unreadable config proves validation runs before any data setup.
	bad := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(bad, []byte("[discovery\nroots = "), 0o600); err != nil {
		t.Fatal(err)
	}

	code, stdout, stderr := execCLI(t, "--config", bad, "discover", "all", "--sort-by", "load-time")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if stdout != "" {
		t.Errorf("stdout = %q, want empty", stdout)
	}
	for _, want := range []string{"error:", "invalid_request:", "benchmark mode"} {
		if !strings.Contains(stderr, want) {
			t.Errorf("stderr = %q, want it to contain %q", stderr, want)
		}
	}
	if strings.Contains(stderr, "parsing config") {
		t.Errorf("config was loaded before the sort column was validated: %q", stderr)
	}
}

func TestDiscoverListRefusesBenchmarkFlag(t *testing.T) {
	root := projectRoot(t, "alpha")
	code, _, stderr := execCLI(t, append(baseArgs(t, root), "discover", "list", "--benchmark")...)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "error:") || !strings.Contains(stderr, "unknown flag: --benchmark") {
		t.Errorf("stderr = %q, want an unknown flag error", stderr)
	}
}

func TestDiscoverShowUnknownProject(t *testing.T) {
	root := projectRoot(t, "alpha")
	code, _, stderr := execCLI(t, append(baseArgs(t, root), "discover", "show", "nope")...)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "not_found:") || !strings.Contains(stderr, `"nope"`) {
		t.Errorf("stderr = %q, want a not_found error naming the project", stderr)
	}
}

func TestDiscoverListJSON(t *testing.T) {
	root := projectRoot(t, "alpha", "beta")
	code, stdout, stderr := execCLI(t, append(baseArgs(t, root), "discover", "list", "--json")...)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %q", code, stderr)
	}

	var list model.ProjectList
	if err := json.Unmarshal([]byte(stdout), &list); err != nil {
		t.Fatalf("decoding %q: %v", stdout, err)
	}
	if list.TotalCount != 2 {
		t.Fatalf("TotalCount = %d, want 2", list.TotalCount)
	}
}

func TestDiscoverAllJSONDefaultsAndBenchmark(t *testing.T) {
	root := projectRoot(t, "alpha", "beta")

	code, stdout, stderr := execCLI(t, append(baseArgs(t, root), "discover", "all", "--json")...)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %q", code, stderr)
	}
	var r model.AllProjectsReport
	if err := json.Unmarshal([]byte(stdout), &r); err != nil {
		t.Fatalf("decoding %q: %v", stdout, err)
	}
	if r.SortBy != model.SortLastActivity {
		t.Errorf("SortBy = %q, want %q", r.SortBy, model.SortLastActivity)
	}
	if r.TotalProjects != 2 || r.Benchmark {
		t.Errorf("TotalProjects = %d, Benchmark = %v, want 2, false", r.TotalProjects, r.Benchmark)
	}

	code, stdout, stderr = execCLI(t, append(baseArgs(t, root),
		"discover", "all", "--json", "--benchmark", "--sort-by", "load-time", "--desc")...)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %q", code, stderr)
	}
	r = model.AllProjectsReport{}
	if err := json.Unmarshal([]byte(stdout), &r); err != nil {
		t.Fatalf("decoding %q: %v", stdout, err)
	}
	if r.SortBy != model.SortLoadTime || !r.Benchmark || !r.Descending {
		t.Errorf("report = sort %q bench %v desc %v, want load-time true true", r.SortBy, r.Benchmark, r.Descending)
	}
	for _, p := range r.Projects {
		if p.LoadTimeMs == nil {
			t.Errorf("row %s has no load time", p.Name)
		}
	}
}
