// Package logger wraps logrus with the supervisor's historical level ladder
// and its three sink kinds: rotating file, stream, and bounded ring.
package logger

import "github.com/sirupsen/logrus"

// Level mirrors the original CRIT/ERROR/WARN/INFO/DEBUG/TRACE numbering so
// config files and log output keep the familiar numbers.
type Level int

const (
	TRACE Level = 5
	DEBUG Level = 10
	INFO  Level = 20
	WARN  Level = 30
	ERROR Level = 40
	CRIT  Level = 50
)

var names = map[Level]string{
	TRACE: "TRAC",
	DEBUG: "DEBG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERRO",
	CRIT:  "CRIT",
}

func (l Level) String() string {
	if n, ok := names[l]; ok {
		return n
	}
	return "UNKN"
}

// ByDescription resolves the CLI-facing names (critical, error, warn, info,
// debug, trace) to a Level, returning false for anything else.
func ByDescription(desc string) (Level, bool) {
	switch desc {
	case "critical":
		return CRIT, true
	case "error":
		return ERROR, true
	case "warn":
		return WARN, true
	case "info":
		return INFO, true
	case "debug":
		return DEBUG, true
	case "trace":
		return TRACE, true
	}
	return 0, false
}

// toLogrus maps each of our six levels onto its own logrus level: CRIT to
// Fatal, then Error, Warn, Info, Debug and Trace. Sink hooks still filter on
// the Level itself, so each sink can keep its own floor.
func (l Level) toLogrus() logrus.Level {
	switch {
	case l >= CRIT:
		return logrus.FatalLevel
	case l >= ERROR:
		return logrus.ErrorLevel
	case l >= WARN:
		return logrus.WarnLevel
	case l >= INFO:
		return logrus.InfoLevel
	case l >= DEBUG:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}
