// Package logging configures the shared charmbracelet/log logger every
// cmd/ binary starts with and hands down to the one core type that accepts
// one (thp.Channel, via SetLogger), mirroring the teacher's own injectable
// console hooks (text_color_set/dw_printf) rather than hardwiring to
// stdout.
package logging

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
)

// New builds a colored, leveled logger writing to stderr at the given
// level ("debug", "info", "warn", "error"; anything else defaults to info).
func New(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
	})
	logger.SetLevel(parseLevel(level))
	return logger
}

func parseLevel(level string) log.Level {
	switch level {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// Fatal logs err at error level and exits the process with status 1,
// matching the teacher's habit of a single terminal error path per binary
// entry point.
func Fatal(logger *log.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	fmt.Fprintln(os.Stderr, msg+":", err)
	os.Exit(1)
}
