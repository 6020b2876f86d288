package cmd

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/theirongolddev/hegelpm/internal/config"
)

func TestChildArgs(t *testing.T) {
	got := childArgs([]string{"serve", "--detach", "--addr", "127.0.0.1:9000", "--detach=true", "--watch"})
	want := []string{"serve", "--addr", "127.0.0.1:9000", "--watch", "--child"}
	if len(got) != len(want) {
		t.Fatalf("childArgs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("childArgs[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRunFileClaimAndLookup(t *testing.T) {
	rf := runFile(filepath.Join(t.TempDir(), "run", "serve.json"))
	if _, err := rf.lookup(); !errors.Is(err, errNotServing) {
		t.Fatalf("lookup on missing file = %v, want errNotServing", err)
	}

	self := serverRecord{PID: os.Getpid(), Addr: "127.0.0.1:7070", StartedAt: time.Now(), Roots: []string{"/srv"}}
	if err := rf.claim(self); err != nil {
		t.Fatal(err)
	}
	got, err := rf.lookup()
	if err != nil {
		t.Fatal(err)
	}
	if got.PID != self.PID || got.Addr != self.Addr || len(got.Roots) != 1 {
		t.Fatalf("lookup = %+v, want %+v", got, self)
	}

	other := serverRecord{PID: self.PID + 1, Addr: "127.0.0.1:7071"}
	if err := rf.claim(other); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("claim over a live server = %v, want already running", err)
	}

	rf.release()
	if _, err := os.Stat(string(rf)); !os.IsNotExist(err) {
		t.Fatalf("run file still present after release: %v", err)
	}
}

func TestRunFileClearsExitedServer(t *testing.T) {
	rf := runFile(filepath.Join(t.TempDir(), "serve.json"))
	gone := serverRecord{PID: math.MaxInt32, Addr: "127.0.0.1:7070"}
	if err := rf.claim(gone); err != nil {
		t.Fatal(err)
	}

	rec, err := rf.lookup()
	if !errors.Is(err, errNotServing) {
		t.Fatalf("lookup = %v, want errNotServing", err)
	}
	if rec.PID != gone.PID {
		t.Errorf("stale PID = %d, want %d", rec.PID, gone.PID)
	}
	if _, err := os.Stat(string(rf)); !os.IsNotExist(err) {
		t.Fatalf("stale run file not removed: %v", err)
	}

	// A new server may claim once the stale record is gone.
	if err := rf.claim(serverRecord{PID: os.Getpid()}); err != nil {
		t.Fatal(err)
	}
	rf.release()
}

func TestTerminateWithoutServer(t *testing.T) {
	rf := runFile(filepath.Join(t.TempDir(), "serve.json"))
	if _, err := rf.terminate(time.Second); !errors.Is(err, errNotServing) {
		t.Fatalf("terminate = %v, want errNotServing", err)
	}
}

func TestSplitRoots(t *testing.T) {
	got := splitRoots(" /srv/a, ,/srv/b ")
	if len(got) != 2 || got[0] != "/srv/a" || got[1] != "/srv/b" {
		t.Fatalf("splitRoots = %v", got)
	}
}

func TestValidateDepth(t *testing.T) {
	for _, s := range []string{"0", "-1", "x", ""} {
		if validateDepth(s) == nil {
			t.Errorf("validateDepth(%q) = nil, want error", s)
		}
	}
	if err := validateDepth(strconv.Itoa(3)); err != nil {
		t.Errorf("validateDepth(3) = %v", err)
	}
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	cfg := config.DefaultConfig()
	cfg.Discovery.Roots = []string{"/from/file"}
	if err := config.SaveTo(path, cfg); err != nil {
		t.Fatal(err)
	}

	flagConfig, flagRoots, flagMaxDepth, flagLogLevel = path, []string{dir}, 4, "debug"
	t.Cleanup(func() {
		flagConfig, flagRoots, flagMaxDepth, flagLogLevel = "", nil, 0, ""
	})

	got, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Discovery.Roots) != 1 || got.Discovery.Roots[0] != dir {
		t.Errorf("Roots = %v, want [%s]", got.Discovery.Roots, dir)
	}
	if got.Discovery.MaxDepth != 4 {
		t.Errorf("MaxDepth = %d, want 4", got.Discovery.MaxDepth)
	}
	if got.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", got.Log.Level)
	}
}

func TestHitRate(t *testing.T) {
	if r := hitRate(0, 0); r != 0 {
		t.Errorf("hitRate(0, 0) = %v, want 0", r)
	}
	if r := hitRate(3, 1); r != 0.75 {
		t.Errorf("hitRate(3, 1) = %v, want 0.75", r)
	}
}
