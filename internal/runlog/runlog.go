// Package runlog is the per-run logger: every line goes to the console and to
// a log file whose name embeds the run start time.
//
// The Logger is an explicit object owned by main. Close flushes and releases
// the file and must run on every exit path, including fatal ones.
package runlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultDir    = "logs"
	DefaultPrefix = "pulse_loader"

	timestampFormat = "2006-01-02 15:04:05"
	fileStampFormat = "20060102_150405"
)

type Options struct {
	// Dir holds the run log files. Created if missing. Empty means DefaultDir.
	Dir string
	// Prefix of the file name: <Prefix>_YYYYMMDD_HHMMSS.log.
	Prefix string
	// Level is a logrus level name ("debug", "info", ...). Empty means info.
	Level string
	// Console receives the same lines as the file. Nil means os.Stdout.
	Console io.Writer
	// NoFile disables the log file (tests, dry runs).
	NoFile bool

	now   func() time.Time
	runID string
}

// Logger writes leveled, timestamped lines tagged with the run id.
type Logger struct {
	entry *log.Entry
	file  *os.File
	path  string
	runID string

	closeOnce sync.Once
	closeErr  error
}

// New opens the run log file and builds the logger.
func New(opts Options) (*Logger, error) {
	now := opts.now
	if now == nil {
		now = time.Now
	}
	runID := opts.runID
	if runID == "" {
		runID = uuid.NewString()
	}

	level := log.InfoLevel
	if opts.Level != "" {
		lv, err := log.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("runlog: %w", err)
		}
		level = lv
	}

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	base := log.New()
	base.SetOutput(console)
	base.SetLevel(level)
	base.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: timestampFormat,
		ForceColors:     isTerminal(console),
		DisableColors:   !isTerminal(console),
	})

	l := &Logger{runID: runID}

	if !opts.NoFile {
		dir := opts.Dir
		if dir == "" {
			dir = DefaultDir
		}
		prefix := opts.Prefix
		if prefix == "" {
			prefix = DefaultPrefix
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("runlog: create dir: %w", err)
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", prefix, now().Format(fileStampFormat)))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("runlog: open file: %w", err)
		}
		base.AddHook(&fileHook{
			w: f,
			formatter: &log.TextFormatter{
				FullTimestamp:   true,
				TimestampFormat: timestampFormat,
				DisableColors:   true,
			},
		})
		l.file = f
		l.path = path
	}

	l.entry = base.WithField("run_id", runID)
	return l, nil
}

// Nop returns a logger that writes nowhere. Safe to Close.
func Nop() *Logger {
	l, _ := New(Options{Console: io.Discard, NoFile: true, runID: "nop"})
	return l
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Path is the log file path, or "" when no file is written.
func (l *Logger) Path() string { return l.path }

func (l *Logger) RunID() string { return l.runID }

// Printf logs at info level. It satisfies the Printf-style Logger seams used
// by the engine and schema packages.
func (l *Logger) Printf(format string, v ...any) { l.entry.Infof(format, v...) }

func (l *Logger) Debugf(format string, v ...any) { l.entry.Debugf(format, v...) }
func (l *Logger) Infof(format string, v ...any)  { l.entry.Infof(format, v...) }
func (l *Logger) Warnf(format string, v ...any)  { l.entry.Warnf(format, v...) }
func (l *Logger) Errorf(format string, v ...any) { l.entry.Errorf(format, v...) }

// With returns a logger that adds key=value to every line. It shares the
// underlying file; only the root logger should be closed.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value), path: l.path, runID: l.runID}
}

// Close syncs and closes the log file. Repeated calls return the first result.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		if l.file == nil {
			return
		}
		if err := l.file.Sync(); err != nil {
			l.closeErr = fmt.Errorf("runlog: sync: %w", err)
		}
		if err := l.file.Close(); err != nil && l.closeErr == nil {
			l.closeErr = fmt.Errorf("runlog: close: %w", err)
		}
	})
	return l.closeErr
}

// fileHook mirrors every entry into the run log file without colors.
type fileHook struct {
	mu        sync.Mutex
	w         io.Writer
	formatter log.Formatter
}

func (h *fileHook) Levels() []log.Level { return log.AllLevels }

func (h *fileHook) Fire(e *log.Entry) error {
	b, err := h.formatter.Format(e)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.w.Write(b)
	return err
}
