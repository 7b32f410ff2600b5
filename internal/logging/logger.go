package logging

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Component names attached to every log line.
const (
	CompMain   = "main"
	CompUI     = "ui"
	CompProbe  = "probe"
	CompForest = "forest"
	CompEvents = "events"
	CompWeb    = "web"
	CompConfig = "config"
)

// Config controls the log sink and rotation policy.
type Config struct {
	// LogDir is where awm.log lives (e.g. ~/.awm/logs)
	LogDir string

	// Level is "debug", "info", "warn" or "error"; anything else means info
	Level string

	// Format selects "json" (the default) or "text" records
	Format string

	// Rotation policy. Zero values become 10 MB, 5 backups, 10 days.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Compress rotated files
	Compress bool

	// CrashBufferBytes sizes the in-memory crash ring (default 4 MB)
	CrashBufferBytes int

	// Debug keeps logging enabled even without a LogDir
	Debug bool
}

// withDefaults fills zero values with the standard rotation settings.
func (c Config) withDefaults() Config {
	def := func(v *int, fallback int) {
		if *v <= 0 {
			*v = fallback
		}
	}
	def(&c.MaxSizeMB, 10)
	def(&c.MaxBackups, 5)
	def(&c.MaxAgeDays, 10)
	def(&c.CrashBufferBytes, 4<<20)
	return c
}

func (c Config) slogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var (
	globalMu     sync.RWMutex
	globalLogger *slog.Logger
	globalRing   *CrashRing
	rotatingW    *lumberjack.Logger
)

var discard = slog.New(slog.NewJSONHandler(io.Discard, nil))

// Init wires the global slog sink. Outside debug mode, a missing LogDir
// means every record is discarded.
func Init(cfg Config) {
	cfg = cfg.withDefaults()

	globalMu.Lock()
	defer globalMu.Unlock()

	// Nowhere to write and not debugging: discard everything.
	if cfg.LogDir == "" && !cfg.Debug {
		globalLogger = discard
		globalRing = NewCrashRing(1024)
		return
	}

	rotatingW = &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "awm.log"),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	// Every line also lands in the crash ring, so a SIGUSR1 dump still has
	// recent history after rotation pruned the files on disk.
	globalRing = NewCrashRing(cfg.CrashBufferBytes)
	sink := io.MultiWriter(rotatingW, globalRing)

	opts := &slog.HandlerOptions{Level: cfg.slogLevel()}
	var h slog.Handler = slog.NewJSONHandler(sink, opts)
	if cfg.Format == "text" {
		h = slog.NewTextHandler(sink, opts)
	}
	globalLogger = slog.New(h)
}

// Logger returns the global logger. Safe to call before Init, which
// yields a discard logger.
func Logger() *slog.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger == nil {
		return discard
	}
	return globalLogger
}

// ForComponent returns a logger with the component field attached. The
// returned logger resolves the global handler at log time, so loggers
// created in package var blocks before Init still reach the real sink.
func ForComponent(name string) *slog.Logger {
	return slog.New(&liveHandler{
		attrs: []slog.Attr{slog.String("component", name)},
	})
}

// liveHandler defers handler resolution until each record is handled.
type liveHandler struct {
	attrs  []slog.Attr
	groups []string
}

func (h *liveHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return Logger().Handler().Enabled(ctx, level)
}

func (h *liveHandler) Handle(ctx context.Context, r slog.Record) error {
	target := Logger().Handler().WithAttrs(h.attrs)
	for _, g := range h.groups {
		target = target.WithGroup(g)
	}
	return target.Handle(ctx, r)
}

func (h *liveHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &liveHandler{
		attrs:  append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...),
		groups: h.groups,
	}
}

func (h *liveHandler) WithGroup(name string) slog.Handler {
	return &liveHandler{
		attrs:  h.attrs,
		groups: append(h.groups[:len(h.groups):len(h.groups)], name),
	}
}

// DumpCrashRing writes the crash ring contents to a file.
func DumpCrashRing(path string) error {
	globalMu.RLock()
	ring := globalRing
	globalMu.RUnlock()
	if ring == nil {
		return nil
	}
	return ring.DumpToFile(path)
}

// Shutdown closes the rotating writer and drops the global logger.
func Shutdown() {
	globalMu.Lock()
	defer globalMu.Unlock()
	if rotatingW != nil {
		rotatingW.Close()
		rotatingW = nil
	}
	globalLogger = nil
	globalRing = nil
}
