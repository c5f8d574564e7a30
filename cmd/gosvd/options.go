package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/gosv/gosv/internal/config"
	"github.com/gosv/gosv/internal/control"
	"github.com/gosv/gosv/internal/fsm"
	"github.com/gosv/gosv/internal/kernel"
	"github.com/gosv/gosv/internal/logger"
	"github.com/gosv/gosv/internal/signals"
	"github.com/gosv/gosv/internal/supervisor"
)

// cliFlags is every flag gosvd accepts, mirroring supervisord's classic
// set (-c/-n/-l/-j/-i/-q/-e/-y/-z) plus a control socket path, which the
// original exposes via [unix_http_server] in the config file rather than
// a flag; here it's promoted to a flag since there is no config section
// for it yet.
type cliFlags struct {
	configPath  string
	noDaemon    bool
	logfile     string
	pidfile     string
	identifier  string
	childLogDir string
	logLevel    string
	maxBytes    int64
	backups     int
	socketPath  string
	noCleanup   bool
}

// options is the production supervisor.Options built from parsed flags
// plus a loaded config.File. One options value is rebuilt per generation
// (each SIGHUP reload constructs a fresh one against the same flags but a
// freshly-loaded config file, so editing the file and sending SIGHUP
// actually changes behavior).
type options struct {
	flags   cliFlags
	cfg     *config.File
	log     *logger.Logger
	spawner *fsm.OSSpawner
}

func newOptions(flags cliFlags) (*options, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("gosvd: %w", err)
	}

	log := logger.New(config.LogLevel(flags.logLevel))
	if flags.logfile != "" {
		fs, err := logger.NewFileSink(flags.logfile, flags.maxBytes, flags.backups)
		if err != nil {
			return nil, fmt.Errorf("gosvd: open logfile: %w", err)
		}
		log.AddSink(fs, logger.TRACE)
	} else {
		log.AddSink(logger.NewStreamSink(os.Stdout), logger.TRACE)
	}

	return &options{flags: flags, cfg: cfg, log: log, spawner: fsm.NewOSSpawner()}, nil
}

func (o *options) ProcessGroupConfigs() []config.ProcessGroupConfig { return o.cfg.Groups }
func (o *options) Logger() *logger.Logger                          { return o.log }
func (o *options) Clock() kernel.Clock                              { return kernel.RealClock{} }
func (o *options) Spawner() fsm.Spawner                             { return o.spawner }
func (o *options) SignalSource() signals.Source                     { return signals.NewOSSource() }
func (o *options) Daemoniser() supervisor.Daemoniser {
	if o.flags.noDaemon {
		return nil
	}
	return noopDaemoniser{}
}
func (o *options) PidFile() string           { return o.flags.pidfile }
func (o *options) ChildLogDir() string       { return o.flags.childLogDir }
func (o *options) NoCleanup() bool           { return o.flags.noCleanup }
func (o *options) ControlSocketPath() string { return o.flags.socketPath }

func (o *options) OpenControlServer(handler control.Handler) (*control.Server, error) {
	if o.flags.socketPath == "" {
		return nil, nil
	}
	return control.Listen(o.flags.socketPath, loggingHandler(o.log, handler), o.log)
}

// noopDaemoniser is the production Daemoniser: see
// supervisor.Daemoniser's doc comment for why this is intentionally a
// no-op rather than an actual fork-and-exit.
type noopDaemoniser struct{}

func (noopDaemoniser) Daemonize() error { return nil }

// loggingHandler wraps a control.Handler to attach a correlation id to
// every request's log line, so an operator can grep one request's whole
// round trip out of the supervisor log.
func loggingHandler(log *logger.Logger, next control.Handler) control.Handler {
	return func(req control.Request) (control.Response, error) {
		corr := uuid.NewString()
		log.Debug("control request %(corr)s: %(method)s", "corr", corr, "method", req.Method)
		resp, err := next(req)
		log.Debug("control response %(corr)s: ok=%(ok)s", "corr", corr, "ok", resp.OK)
		return resp, err
	}
}

// makeOptionsFactory adapts one parsed cliFlags value into a
// supervisor.MakeOptions: the "first" bool is unused here since gosvd has
// nothing that's only valid once except the identifier (kept for a
// possible future rlimit-message-once use, per SPEC_FULL.md's
// supplemented main() retry loop note).
func makeOptionsFactory(flags cliFlags) supervisor.MakeOptions {
	return func(first bool) (supervisor.Options, error) {
		return newOptions(flags)
	}
}
