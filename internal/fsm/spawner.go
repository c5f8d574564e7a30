package fsm

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/gosv/gosv/internal/config"
)

// Spawner creates a child process and hands back its pid plus the parent's
// non-blocking read ends of its stdout/stderr pipes. Modeled as an
// interface (the spec's "ProcessSpawner" contract, §6) so ProcessFSM can be
// tested without forking anything.
type Spawner interface {
	Spawn(cfg config.ProcessConfig) (pid int, stdoutFD, stderrFD int, err error)
}

// OSSpawner forks real child processes.
type OSSpawner struct {
	// umaskMu serializes Start() calls across all FSMs: Go has no
	// per-child umask hook, so we fall back to a process-wide
	// syscall.Umask bracketing the fork, like every other Go supervisor
	// in the absence of a pre-exec trampoline. This leaves a narrow race
	// window: a file created elsewhere in the process while the bracket is
	// open gets the child's umask.
	umaskMu sync.Mutex
}

func NewOSSpawner() *OSSpawner { return &OSSpawner{} }

func (s *OSSpawner) Spawn(cfg config.ProcessConfig) (int, int, int, error) {
	stdoutR, stdoutW, err := pipe()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("spawn %s: stdout pipe: %w", cfg.Name, err)
	}
	stderrR, stderrW, err := pipe()
	if err != nil {
		unix.Close(stdoutR)
		unix.Close(stdoutW)
		return 0, 0, 0, fmt.Errorf("spawn %s: stderr pipe: %w", cfg.Name, err)
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Directory
	cmd.Env = buildEnv(cfg.Environment)
	cmd.Stdout = os.NewFile(uintptr(stdoutW), cfg.Name+"-stdout-w")
	cmd.Stderr = os.NewFile(uintptr(stderrW), cfg.Name+"-stderr-w")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // new process group, child is leader: kill(-pgid) reaches the whole tree
		Pgid:    0,
	}
	if cfg.UID != 0 {
		cmd.SysProcAttr.Credential = &syscall.Credential{Uid: uint32(cfg.UID)}
	}

	s.umaskMu.Lock()
	var oldMask int
	if cfg.Umask != 0 {
		oldMask = unix.Umask(cfg.Umask)
	}
	err = cmd.Start()
	if cfg.Umask != 0 {
		unix.Umask(oldMask)
	}
	s.umaskMu.Unlock()

	// The child now owns its own copy of the write ends; the parent must
	// close its copies so the read ends see EOF when the child exits
	// instead of hanging open forever.
	cmd.Stdout.(*os.File).Close()
	cmd.Stderr.(*os.File).Close()

	if err != nil {
		unix.Close(stdoutR)
		unix.Close(stderrR)
		return 0, 0, 0, fmt.Errorf("spawn %s: %w", cfg.Name, err)
	}

	// We don't wait on cmd ourselves; the kernel reaps via waitpid on the
	// pid directly (internal/reaper), so detach the *exec.Cmd book-keeping
	// by not calling cmd.Wait(). Record nothing further here.
	return cmd.Process.Pid, stdoutR, stderrR, nil
}

// pipe creates a pipe whose read end is non-blocking and close-on-exec (so
// it's never leaked into a later child) and whose write end stays a normal
// blocking fd, since the child on the other side expects ordinary stdio.
func pipe() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return 0, 0, err
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

func buildEnv(overrides map[string]string) []string {
	env := os.Environ()
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}
