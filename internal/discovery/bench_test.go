package discovery

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/theirongolddev/hegelpm/internal/config"
	"github.com/theirongolddev/hegelpm/internal/model"
	"github.com/theirongolddev/hegelpm/internal/protocol"
)

// benchTree builds n projects, each with a few hundred hook and transition lines.
func benchTree(b *testing.B, n int) string {
	b.Helper()
	root := b.TempDir()

	var hooks, states strings.Builder
	for i := 0; i < 300; i++ {
		fmt.Fprintf(&hooks, `{"timestamp":"2026-01-02T10:%02d:00Z","hook_event_name":"PostToolUse","tool_name":"Bash","session_id":"s1"}`+"\n", i%60)
	}
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&states, `{"timestamp":"2026-01-02T10:%02d:00Z","workflow_id":"w1","from_node":"n%d","to_node":"n%d","phase":"p%d","mode":"discovery"}`+"\n", i, i, i+1, i)
	}

	for i := 0; i < n; i++ {
		marker := filepath.Join(root, "group", fmt.Sprintf("proj-%03d", i), ".hegel")
		if err := os.MkdirAll(marker, 0o750); err != nil {
			b.Fatal(err)
		}
		files := map[string]string{
			"hooks.jsonl":  hooks.String(),
			"states.jsonl": states.String(),
			"state.json":   `{"workflow_state":{"mode":"discovery","current_node":"n20","history":["n0"],"workflow_id":"w1"}}`,
		}
		for name, body := range files {
			if err := os.WriteFile(filepath.Join(marker, name), []byte(body), 0o600); err != nil {
				b.Fatal(err)
			}
		}
	}
	return root
}

func benchEngine(b *testing.B, root string) *Engine {
	b.Helper()
	e, err := New(config.DiscoveryConfig{Roots: []string{root}, MaxDepth: 5, Marker: ".hegel"}, nil, log.New(io.Discard))
	if err != nil {
		b.Fatal(err)
	}
	return e
}

func BenchmarkListProjects(b *testing.B) {
	e := benchEngine(b, benchTree(b, 100))
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.ListProjects(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAllProjects(b *testing.B) {
	e := benchEngine(b, benchTree(b, 100))
	ctx := context.Background()
	q := protocol.AllProjects{SortBy: model.SortTokens, Benchmark: true}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r, err := e.AllProjects(ctx, q)
		if err != nil {
			b.Fatal(err)
		}
		if r.FailedCount > 0 {
			b.Fatalf("FailedCount = %d, want 0", r.FailedCount)
		}
	}
}
