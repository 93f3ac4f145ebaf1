package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Tayen15/KZT-sub000/pkg/util"
)

// Category names a log stream. Each category gets its own *slog.Logger so
// records can be filtered by the "category" attribute.
type Category string

const (
	Application Category = "application"
	Discord     Category = "discord"
	Database    Category = "database"
	Errors      Category = "error"
)

// Logger groups the category loggers and the rotating file they share.
type Logger struct {
	application *slog.Logger
	discord     *slog.Logger
	database    *slog.Logger
	errors      *slog.Logger

	file *lumberjack.Logger
}

var (
	// GlobalLogger is set by SetupLogger. Category accessors fall back to a
	// stderr logger while it is nil so callers may log before setup.
	GlobalLogger *Logger

	mu       sync.RWMutex
	fallback = newLogger(os.Stderr, slog.LevelInfo, nil)
)

// Options configures SetupLoggerWithOptions.
type Options struct {
	// FilePath is the rotating log file. Empty disables file output.
	FilePath string
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
	// MaxSizeMB, MaxBackups and MaxAgeDays tune rotation; zero values use defaults.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Quiet disables the stderr copy.
	Quiet bool
}

// SetupLogger configures the global logger from the environment
// (STATUSBOT_LOG_LEVEL, STATUSBOT_LOG_FILE).
func SetupLogger() error {
	return SetupLoggerWithOptions(Options{
		FilePath: util.EnvString("STATUSBOT_LOG_FILE", util.GetLogFilePath()),
		Level:    util.EnvString("STATUSBOT_LOG_LEVEL", "info"),
	})
}

// SetupLoggerWithOptions configures the global logger. Calling it again
// replaces the previous logger and closes its file.
func SetupLoggerWithOptions(opts Options) error {
	var file *lumberjack.Logger
	if opts.FilePath != "" {
		if err := util.EnsureDirs(opts.FilePath); err != nil {
			return err
		}
		file = &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    orDefault(opts.MaxSizeMB, 20),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		}
	}

	var writers []io.Writer
	if !opts.Quiet {
		writers = append(writers, os.Stderr)
	}
	if file != nil {
		writers = append(writers, file)
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	l := newLogger(io.MultiWriter(writers...), parseLevel(opts.Level), file)

	mu.Lock()
	prev := GlobalLogger
	GlobalLogger = l
	mu.Unlock()

	if prev != nil && prev.file != nil {
		_ = prev.file.Close()
	}
	return nil
}

func newLogger(w io.Writer, level slog.Level, file *lumberjack.Logger) *Logger {
	base := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	return &Logger{
		application: base.With("category", string(Application)),
		discord:     base.With("category", string(Discord)),
		database:    base.With("category", string(Database)),
		errors:      base.With("category", string(Errors)),
		file:        file,
	}
}

// Sync flushes and closes the log file. Subsequent writes reopen it.
func (l *Logger) Sync() {
	if l == nil || l.file == nil {
		return
	}
	_ = l.file.Close()
}

// Rotate forces a log file rotation.
func (l *Logger) Rotate() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Rotate()
}

// For returns the logger for a category.
func (l *Logger) For(c Category) *slog.Logger {
	switch c {
	case Discord:
		return l.discord
	case Database:
		return l.database
	case Errors:
		return l.errors
	default:
		return l.application
	}
}

func current() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	if GlobalLogger != nil {
		return GlobalLogger
	}
	return fallback
}

// ApplicationLogger returns the logger for application lifecycle events.
func ApplicationLogger() *slog.Logger { return current().application }

// DiscordLogger returns the logger for Discord API and gateway events.
func DiscordLogger() *slog.Logger { return current().discord }

// DatabaseLogger returns the logger for storage events.
func DatabaseLogger() *slog.Logger { return current().database }

// ErrorLoggerRaw returns the logger for errors that need operator attention.
func ErrorLoggerRaw() *slog.Logger { return current().errors }

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
