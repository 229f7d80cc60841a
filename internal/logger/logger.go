// Package logger owns the process-wide slog logger. Each binary names itself
// as the component; long-running parts of a process log through a
// subsystem child of it.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/oggyb/cinematch/internal/config"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Component names of the cinematch binaries.
const (
	ComponentServer = "cinematch-server"
	ComponentSeed   = "cinematch-seed"
)

// Subsystem names used with Subsystem.
const (
	SubsystemSweeper  = "cooldown-sweeper"
	SubsystemMatching = "matching"
	SubsystemGRPC     = "grpc"
	SubsystemAdmin    = "admin-http"
)

type Config struct {
	Level      string
	Format     Format
	Component  string
	WithSource bool
	// Output defaults to stdout.
	Output io.Writer
}

var (
	mu     sync.RWMutex
	global *slog.Logger
)

// New builds a logger from c without touching the global one.
func New(c Config) *slog.Logger {
	out := c.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{
		Level:     parseLevel(c.Level),
		AddSource: c.WithSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// text logs read better with second precision in UTC
			if a.Key == slog.TimeKey && len(groups) == 0 && c.Format != FormatJSON {
				return slog.String(slog.TimeKey, a.Value.Time().UTC().Format("2006-01-02T15:04:05Z"))
			}
			return a
		},
	}

	var h slog.Handler = slog.NewTextHandler(out, opts)
	if Format(strings.ToLower(string(c.Format))) == FormatJSON {
		h = slog.NewJSONHandler(out, opts)
	}

	l := slog.New(h)
	if c.Component != "" {
		l = l.With("component", c.Component)
	}
	return l
}

// InitFromConfig installs the global logger for a binary. component is the
// binary's own name; LOG_COMPONENT, when set, overrides it.
func InitFromConfig(c *config.Config, component string) *slog.Logger {
	return Init(fromAppConfig(c, component))
}

func fromAppConfig(c *config.Config, component string) Config {
	lc := Config{Level: "info", Format: FormatText, Component: component}
	if c != nil {
		lc.Level = c.Log.Level
		lc.Format = Format(c.Log.Format)
		lc.WithSource = c.Log.Source
		if c.Log.Component != "" {
			lc.Component = c.Log.Component
		}
	}
	return lc
}

// Init replaces the global logger. Safe to call multiple times.
func Init(c Config) *slog.Logger {
	l := New(c)
	mu.Lock()
	global = l
	mu.Unlock()
	return l
}

// L returns the global logger, an info-level text logger on stdout until
// Init runs.
func L() *slog.Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}
	return Init(Config{Level: "info", Format: FormatText})
}

// Subsystem derives the logger of one part of the process from base, or
// from the global logger when base is nil.
func Subsystem(base *slog.Logger, name string) *slog.Logger {
	if base == nil {
		base = L()
	}
	return base.With("subsystem", name)
}

// With creates a child of the global logger with additional attributes.
func With(args ...any) *slog.Logger { return L().With(args...) }

func Debug(msg string, args ...any) { L().Debug(msg, args...) }
func Info(msg string, args ...any)  { L().Info(msg, args...) }
func Warn(msg string, args ...any)  { L().Warn(msg, args...) }
func Error(msg string, args ...any) { L().Error(msg, args...) }

func parseLevel(s string) slog.Leveler {
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
