// Package lock keeps two syncs from writing to the same sink at once.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/airtap/airtap/internal/config"
)

const DefaultPath = "~/.airtap/airtap.lock"

// Holder identifies the sync that owns the lock file.
type Holder struct {
	PID   int
	RunID string
	Since time.Time
}

// HeldError is returned by Acquire while another live sync owns the lock.
type HeldError struct {
	Holder Holder
}

func (e *HeldError) Error() string {
	msg := fmt.Sprintf("another sync is running (PID %d", e.Holder.PID)
	if e.Holder.RunID != "" {
		msg += ", run " + e.Holder.RunID
	}
	if !e.Holder.Since.IsZero() {
		msg += ", since " + e.Holder.Since.Local().Format(time.DateTime)
	}
	return msg + ")"
}

// Lock is an acquired lock file.
type Lock struct {
	path string
}

// Acquire creates the lock file for runID. The file is created exclusively;
// a file left behind by a dead process is removed and the create retried.
func Acquire(path, runID string) (*Lock, error) {
	path = resolve(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	for range 2 {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d %s %s\n", os.Getpid(), runID, time.Now().UTC().Format(time.RFC3339))
			if err := errors.Join(werr, f.Close()); err != nil {
				os.Remove(path)
				return nil, fmt.Errorf("writing lock: %w", err)
			}
			return &Lock{path: path}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("creating lock: %w", err)
		}

		h, held, err := Current(path)
		if err != nil {
			return nil, fmt.Errorf("checking lock: %w", err)
		}
		if held {
			return nil, &HeldError{Holder: h}
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("removing stale lock: %w", err)
		}
	}
	return nil, fmt.Errorf("lock %s was recreated while acquiring it", path)
}

// Release removes the lock file. Releasing twice is a no-op.
func (l *Lock) Release() error {
	err := os.Remove(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Current reports who holds the lock at path. A missing file, an unparsable
// file and a file whose process is gone all count as not held.
func Current(path string) (Holder, bool, error) {
	data, err := os.ReadFile(resolve(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Holder{}, false, nil
		}
		return Holder{}, false, err
	}
	h, ok := parseHolder(string(data))
	if !ok {
		return Holder{}, false, nil
	}
	return h, alive(h.PID), nil
}

// parseHolder reads "<pid> [run id] [RFC3339 time]".
func parseHolder(s string) (Holder, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Holder{}, false
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return Holder{}, false
	}
	h := Holder{PID: pid}
	if len(fields) > 1 {
		h.RunID = fields[1]
	}
	if len(fields) > 2 {
		h.Since, _ = time.Parse(time.RFC3339, fields[2])
	}
	return h, true
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

func resolve(path string) string {
	if path == "" {
		return config.ExpandHome(DefaultPath)
	}
	return path
}
