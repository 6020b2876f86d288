package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// errNotServing means no live server owns the run file.
var errNotServing = errors.New("server is not running")

// serverRecord describes one serving process.
type serverRecord struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"started_at"`
	Roots     []string  `json:"roots"`
	Watching  bool      `json:"watching"`
	LogFile   string    `json:"log_file,omitempty"`
}

func (r serverRecord) alive() bool {
	if r.PID <= 0 {
		return false
	}
	proc, err := os.FindProcess(r.PID)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// runFile is the single JSON file through which `serve status` and
// `serve stop` find the serving process. It exists only while that process
// is up; a file left by a crashed server is cleared on the next lookup.
type runFile string

// lookup returns the record of the live server. It returns errNotServing
// when there is none, removing a leftover file whose process is gone; the
// stale record is still returned so callers can report its PID.
func (f runFile) lookup() (serverRecord, error) {
	var rec serverRecord
	//nolint:gosec // run file path is chosen by the local user
	data, err := os.ReadFile(string(f))
	if errors.Is(err, os.ErrNotExist) {
		return rec, errNotServing
	}
	if err != nil {
		return rec, fmt.Errorf("reading run file: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil || rec.PID <= 0 {
		f.release()
		return serverRecord{}, errNotServing
	}
	if !rec.alive() {
		f.release()
		return rec, errNotServing
	}
	return rec, nil
}

// claim records rec as the serving process. It fails when another live
// server already owns the file.
func (f runFile) claim(rec serverRecord) error {
	if other, err := f.lookup(); err == nil && other.PID != rec.PID {
		return fmt.Errorf("server already running (pid %d, %s)", other.PID, other.Addr)
	}
	if err := os.MkdirAll(filepath.Dir(string(f)), 0o750); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	// Readers never see a partial record.
	tmp := string(f) + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, string(f))
}

// release removes the run file.
func (f runFile) release() {
	_ = os.Remove(string(f))
}

// terminate sends SIGTERM to the live server and waits up to timeout for it
// to exit.
func (f runFile) terminate(timeout time.Duration) (serverRecord, error) {
	rec, err := f.lookup()
	if err != nil {
		return rec, err
	}
	proc, err := os.FindProcess(rec.PID)
	if err != nil {
		return rec, fmt.Errorf("find server process: %w", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return rec, fmt.Errorf("signal server process: %w", err)
	}

	for deadline := time.Now().Add(timeout); time.Now().Before(deadline); time.Sleep(150 * time.Millisecond) {
		if !rec.alive() {
			f.release()
			return rec, nil
		}
	}
	return rec, fmt.Errorf("server (pid %d) did not exit within %s", rec.PID, timeout)
}

// childArgs turns the detaching command line into the one the background
// process runs with.
func childArgs(args []string) []string {
	out := make([]string, 0, len(args)+1)
	for _, a := range args {
		if a == "--detach" || strings.HasPrefix(a, "--detach=") {
			continue
		}
		out = append(out, a)
	}
	return append(out, "--child")
}
