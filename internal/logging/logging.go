// Package logging is the append-only file sink used by provision-ble.
//
// Lines look like:
//
//	2026-02-01 11:06:12 [INFO] wifi_scan: starting scan
//
// The sink must never crash or block the daemon: open failures fall back to
// discarding, and write errors are swallowed.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(lineFormatter{})
	l.SetLevel(logrus.InfoLevel)
	l.SetOutput(io.Discard)
	return l
}

// lineFormatter renders entries as "YYYY-MM-DD HH:MM:SS [LEVEL] message".
type lineFormatter struct{}

func (lineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	return []byte(e.Time.Format("2006-01-02 15:04:05") + " [" + levelTag(e.Level) + "] " + e.Message + "\n"), nil
}

func levelTag(level logrus.Level) string {
	switch level {
	case logrus.WarnLevel:
		return "WARN"
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return "ERROR"
	default:
		return "INFO"
	}
}

// quietWriter appends to the underlying file and swallows write errors.
type quietWriter struct {
	f *os.File
}

func (w quietWriter) Write(p []byte) (int, error) {
	w.f.Write(p)
	return len(p), nil
}

// Init points the sink at path, creating parent directories as needed.
// On failure the sink stays on io.Discard and the daemon carries on.
func Init(path string) {
	if path == "" {
		return
	}
	os.MkdirAll(filepath.Dir(path), 0o755)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	log.SetOutput(quietWriter{f})
}

// SetOutput redirects the sink; tests use this to capture lines.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

func Info(msg string)  { log.Info(msg) }
func Warn(msg string)  { log.Warn(msg) }
func Error(msg string) { log.Error(msg) }

func Infof(format string, a ...any)  { log.Info(fmt.Sprintf(format, a...)) }
func Warnf(format string, a ...any)  { log.Warn(fmt.Sprintf(format, a...)) }
func Errorf(format string, a ...any) { log.Error(fmt.Sprintf(format, a...)) }
