package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
)

const (
	// RunStampLayout names per-run files, e.g. automation_20251019_143000.log.
	RunStampLayout = "20060102_150405"
	logTimeLayout  = "2006-01-02 15:04:05"
)

var Log = logrus.New()

func init() {
	Log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: logTimeLayout})
}

func SetLogLevel(level string) {
	lvl, err := ParseLevel(level)
	if err != nil {
		log.Fatal("Bad error level string")
	}
	Log.SetLevel(lvl)
}

// ParseLevel maps the --loglevel values onto logrus levels.
func ParseLevel(level string) (logrus.Level, error) {
	// We are not using logrus' trace and panic levels
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel, nil
	case "info":
		return log.InfoLevel, nil
	case "warning", "warn":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	case "fatal":
		return log.FatalLevel, nil
	}
	return log.InfoLevel, fmt.Errorf("unknown log level %q", level)
}

// RunStamp formats t for use in per-run file names.
func RunStamp(t time.Time) string {
	return t.Format(RunStampLayout)
}

// RunLogger is a logger whose lifetime is bound to one automation run.
type RunLogger struct {
	*logrus.Logger
	Path string
	file *os.File
}

// NewRunLogger creates dir if needed and returns a logger writing to
// dir/automation_<stamp>.log and, when console is non-nil, to console too.
func NewRunLogger(dir string, started time.Time, level logrus.Level, console io.Writer) (*RunLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, "automation_"+RunStamp(started)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}

	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: logTimeLayout, DisableColors: console == nil})
	if console != nil {
		l.SetOutput(io.MultiWriter(console, f))
	} else {
		l.SetOutput(f)
	}
	return &RunLogger{Logger: l, Path: path, file: f}, nil
}

// Close flushes and closes the run log file.
func (r *RunLogger) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Close()
}
