package supervisor

import (
	"fmt"
	"os"
	"strconv"

	"github.com/gofrs/flock"
)

// pidFile owns the advisory lock and the ASCII pid content at one path.
// Holding the lock is what actually prevents two supervisors from running
// against the same configuration; the file content is informational, read
// by operator tooling that doesn't want to speak the control protocol.
type pidFile struct {
	path string
	lock *flock.Flock
}

// writePidFile locks path (failing fast if another supervisor already
// holds it) and writes the current pid into it. Call release() on clean
// shutdown to unlock and remove the file.
func writePidFile(path string) (*pidFile, error) {
	if path == "" {
		return nil, nil
	}
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("supervisor: lock pidfile %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("supervisor: pidfile %s is already locked by another instance", path)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("supervisor: write pidfile %s: %w", path, err)
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	cerr := f.Close()
	if werr != nil {
		lock.Unlock()
		return nil, fmt.Errorf("supervisor: write pidfile %s: %w", path, werr)
	}
	if cerr != nil {
		lock.Unlock()
		return nil, fmt.Errorf("supervisor: write pidfile %s: %w", path, cerr)
	}

	return &pidFile{path: path, lock: lock}, nil
}

func (p *pidFile) release() {
	if p == nil {
		return
	}
	p.lock.Unlock()
	os.Remove(p.path)
}
