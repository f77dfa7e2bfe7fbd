// Package lock provides the cross-process exclusive-create lock described
// in §4.G/§4.J/§5: a file under <data>/.locks/*.lock that prevents two
// processes from rebuilding the same long-running index concurrently, plus
// an operation to clear a lock left behind by a crashed process.
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Info is the JSON body written into a held lock file (§6 persisted state
// layout: "<data>/.locks/*.lock (JSON {pid, startedAt})").
type Info struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
}

// Lock wraps a single named exclusive-create lock file.
type Lock struct {
	path string
	fl   *flock.Flock
}

// New returns a Lock for name under <dataDir>/.locks/<name>.lock. The
// directory is created lazily on first TryAcquire.
func New(dataDir, name string) *Lock {
	path := filepath.Join(dataDir, ".locks", name+".lock")
	return &Lock{path: path, fl: flock.New(path)}
}

// TryAcquire attempts to take the lock without blocking. On success it
// writes an Info body and returns true with a release function; on
// contention it returns false.
func (l *Lock) TryAcquire() (release func(), ok bool, err error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, false, fmt.Errorf("lock: mkdir: %w", err)
	}

	locked, err := l.fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("lock: try lock %s: %w", l.path, err)
	}
	if !locked {
		return nil, false, nil
	}

	info := Info{PID: os.Getpid(), StartedAt: time.Now().UTC()}
	body, _ := json.Marshal(info)
	if err := os.WriteFile(l.path, body, 0o644); err != nil {
		l.fl.Unlock()
		return nil, false, fmt.Errorf("lock: write info: %w", err)
	}

	return func() { l.fl.Unlock() }, true, nil
}

// ClearStale force-removes name's lock file regardless of whether its
// owning process is still alive. This is an operator escape hatch (§4.G "a
// stale-lock clear operation is provided") — callers are expected to use it
// only after confirming the owning process is gone.
func ClearStale(dataDir, name string) error {
	path := filepath.Join(dataDir, ".locks", name+".lock")
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lock: clear stale %s: %w", path, err)
	}
	return nil
}

// Read returns the Info body of name's lock file, if present.
func Read(dataDir, name string) (Info, bool, error) {
	path := filepath.Join(dataDir, ".locks", name+".lock")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, false, nil
		}
		return Info{}, false, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, false, fmt.Errorf("lock: parse info: %w", err)
	}
	return info, true, nil
}
