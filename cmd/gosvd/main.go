// Command gosvd is the supervisor daemon: it loads a TOML configuration,
// builds process groups, and runs the event loop until a stop signal or
// control-protocol shutdown request arrives, reloading generations on
// SIGHUP in between.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gosv/gosv/internal/supervisor"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags cliFlags

	cmd := &cobra.Command{
		Use:   "gosvd",
		Short: "gosv process supervisor daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flags)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&flags.configPath, "config", "c", "", "path to configuration file (required)")
	fs.BoolVarP(&flags.noDaemon, "nodaemon", "n", true, "run in the foreground (daemonising is delegated to your process manager)")
	fs.StringVarP(&flags.logfile, "logfile", "l", "", "supervisor log file path (default: stdout)")
	fs.StringVarP(&flags.pidfile, "pidfile", "j", "", "pid file path")
	fs.StringVarP(&flags.identifier, "identifier", "i", "gosvd", "supervisor identifier, used in log banners")
	fs.StringVarP(&flags.childLogDir, "childlogdir", "q", os.TempDir(), "directory whose gosv- prefixed child log files are cleared on startup")
	fs.StringVarP(&flags.logLevel, "loglevel", "e", "info", "minimum log level (trace, debug, info, warn, error, critical)")
	fs.Int64VarP(&flags.maxBytes, "logfile-maxbytes", "y", 50*1024*1024, "supervisor logfile rotation size in bytes (0 disables rotation)")
	fs.IntVarP(&flags.backups, "logfile-backups", "z", 10, "supervisor logfile rotation backup count")
	fs.StringVar(&flags.socketPath, "socket", "", "control protocol Unix-domain socket path (disabled if empty)")
	fs.BoolVar(&flags.noCleanup, "nocleanup", false, "don't clear gosv- prefixed child log files from childlogdir on startup")
	cmd.MarkFlagRequired("config")

	return cmd
}

func run(flags cliFlags) error {
	printBanner(flags.identifier)

	return supervisor.Serve(makeOptionsFactory(flags), flags.childLogDir, flags.noCleanup)
}

// printBanner writes gosvd's one-line startup banner, colorized only when
// stdout is actually a terminal — piping gosvd's output into a log
// collector shouldn't embed ANSI escapes in the log file.
func printBanner(identifier string) {
	banner := fmt.Sprintf("gosvd %s starting, pid %d", identifier, os.Getpid())
	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintf(os.Stdout, "\x1b[1;32m%s\x1b[0m\n", banner)
		return
	}
	fmt.Fprintln(os.Stdout, banner)
}
