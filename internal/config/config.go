// Package config defines the on-disk supervisor configuration format and
// loads it into the in-memory ProcessConfig/ProcessGroupConfig values the
// kernel consumes. The kernel itself never touches a file path — this
// package is the external collaborator named in the spec's scope notes.
package config

import (
	"fmt"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/gosv/gosv/internal/logger"
)

// AutoRestart is the restart policy for a process once it has exited.
type AutoRestart string

const (
	RestartNever     AutoRestart = "never"
	RestartOnFailure AutoRestart = "on-failure"
	RestartAlways    AutoRestart = "always"
)

// ProcessConfig is immutable once loaded.
type ProcessConfig struct {
	Name        string            `toml:"name"`
	Command     string            `toml:"command"`
	Args        []string          `toml:"args"`
	Directory   string            `toml:"directory"`
	Environment map[string]string `toml:"environment"`
	UID         int               `toml:"uid"`
	Umask       int               `toml:"umask"`

	StdoutLogfile     string `toml:"stdout_logfile"`
	StdoutMaxBytes    int64  `toml:"stdout_logfile_maxbytes"`
	StdoutBackupCount int    `toml:"stdout_logfile_backups"`
	StderrLogfile     string `toml:"stderr_logfile"`
	StderrMaxBytes    int64  `toml:"stderr_logfile_maxbytes"`
	StderrBackupCount int    `toml:"stderr_logfile_backups"`
	TailBytes         int    `toml:"tail_bytes"`

	AutoStart   bool        `toml:"autostart"`
	AutoRestart AutoRestart `toml:"autorestart"`

	StartSecs    int           `toml:"startsecs"`
	StartRetries int           `toml:"startretries"`
	StopSignal   string        `toml:"stopsignal"`
	StopWaitSecs int           `toml:"stopwaitsecs"`
	ExitCodes    []int         `toml:"exitcodes"`
}

// ProcessGroupConfig groups sibling ProcessConfigs under one priority.
type ProcessGroupConfig struct {
	Name     string          `toml:"name"`
	Priority int             `toml:"priority"`
	Programs []ProcessConfig `toml:"program"`
}

// File is the top-level TOML document shape, e.g.:
//
//	[[group]]
//	name = "web"
//	priority = 1
//	  [[group.program]]
//	  name = "sleeper"
//	  command = "sleep"
//	  args = ["60"]
//	  autostart = true
//	  startsecs = 1
type File struct {
	Groups []ProcessGroupConfig `toml:"group"`
}

// Load reads and validates a TOML configuration file.
func Load(path string) (*File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	for gi := range f.Groups {
		g := &f.Groups[gi]
		if g.Name == "" {
			return nil, fmt.Errorf("config: group %d missing name", gi)
		}
		for pi := range g.Programs {
			applyDefaults(&g.Programs[pi])
			if g.Programs[pi].Name == "" {
				return nil, fmt.Errorf("config: group %s program %d missing name", g.Name, pi)
			}
			if g.Programs[pi].Command == "" {
				return nil, fmt.Errorf("config: program %s missing command", g.Programs[pi].Name)
			}
		}
	}
	return &f, nil
}

func applyDefaults(p *ProcessConfig) {
	if p.AutoRestart == "" {
		p.AutoRestart = RestartOnFailure
	}
	if p.StartSecs == 0 {
		p.StartSecs = 1
	}
	if p.StartRetries == 0 {
		p.StartRetries = 3
	}
	if p.StopSignal == "" {
		p.StopSignal = "TERM"
	}
	if p.StopWaitSecs == 0 {
		p.StopWaitSecs = 10
	}
	if len(p.ExitCodes) == 0 {
		p.ExitCodes = []int{0}
	}
}

// StartSecsDuration is a convenience accessor used by the FSM.
func (p ProcessConfig) StartSecsDuration() time.Duration {
	return time.Duration(p.StartSecs) * time.Second
}

// StopWaitDuration is a convenience accessor used by the FSM.
func (p ProcessConfig) StopWaitDuration() time.Duration {
	return time.Duration(p.StopWaitSecs) * time.Second
}

// Signal resolves the configured stop signal name to a syscall.Signal.
func (p ProcessConfig) Signal() syscall.Signal {
	if sig, ok := signalByName[p.StopSignal]; ok {
		return sig
	}
	return syscall.SIGTERM
}

var signalByName = map[string]syscall.Signal{
	"TERM": syscall.SIGTERM,
	"INT":  syscall.SIGINT,
	"QUIT": syscall.SIGQUIT,
	"HUP":  syscall.SIGHUP,
	"USR1": syscall.SIGUSR1,
	"USR2": syscall.SIGUSR2,
	"KILL": syscall.SIGKILL,
}

// ExpectedExit reports whether exitCode is in the process's configured
// "expected" set.
func (p ProcessConfig) ExpectedExit(exitCode int) bool {
	for _, c := range p.ExitCodes {
		if c == exitCode {
			return true
		}
	}
	return false
}

// Identity is the subset of fields that determine whether a reload should
// adopt a running FSM or replace it with a fresh one (see
// supervisor.Reload).
func (p ProcessConfig) Identity() string {
	return fmt.Sprintf("%s\x00%s\x00%v\x00%s\x00%s", p.Name, p.Command, p.Args, p.StdoutLogfile, p.StderrLogfile)
}

// LogLevel parses the CLI/TOML loglevel string into a logger.Level,
// defaulting to INFO.
func LogLevel(s string) logger.Level {
	if lvl, ok := logger.ByDescription(s); ok {
		return lvl
	}
	return logger.INFO
}
