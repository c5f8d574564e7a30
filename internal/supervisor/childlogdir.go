package supervisor

import (
	"os"
	"path/filepath"
	"strings"
)

// autoLogPrefix marks a child log file as an auto-generated one. Only files
// with this prefix are candidates for ClearAutoChildLogDir, so an
// operator's own unrelated files sharing the directory are left alone.
// gosvd does not create such files itself: a process with no
// stdout_logfile/stderr_logfile gets no log file at all.
const autoLogPrefix = "gosv-"

// ClearAutoChildLogDir removes every autoLogPrefix-named file from dir.
// Mirrors clear_autochildlogdir()'s first-run-only placement in the
// original's main(): called once, before the first Supervisor is
// constructed, and never again across SIGHUP reloads.
func ClearAutoChildLogDir(dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasPrefix(e.Name(), autoLogPrefix) {
			continue
		}
		_ = os.Remove(filepath.Join(dir, e.Name()))
	}
	return nil
}
