package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/awmdev/awm/internal/agent"
	"github.com/awmdev/awm/internal/config"
	"github.com/awmdev/awm/internal/events"
	"github.com/awmdev/awm/internal/logging"
	"github.com/awmdev/awm/internal/meta"
	"github.com/awmdev/awm/internal/procs"
	"github.com/awmdev/awm/internal/tmux"
	"github.com/awmdev/awm/internal/ui"
)

const Version = "0.3.1"

var mainLog = logging.ForComponent(logging.CompMain)

// init sets up the color profile before any lipgloss style renders.
func init() {
	initColorProfile()
}

// initColorProfile configures the lipgloss color profile from terminal
// capabilities, preferring TrueColor and falling back to ANSI256.
func initColorProfile() {
	// AWM_COLOR overrides detection: truecolor, 256, 16, none
	if colorEnv := os.Getenv("AWM_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}

	if ct := os.Getenv("COLORTERM"); ct == "truecolor" || ct == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	// TERM values that imply TrueColor support in practice.
	termName := os.Getenv("TERM")
	trueColorTerms := []string{
		"xterm-256color",
		"screen-256color",
		"tmux-256color",
		"xterm-direct",
		"alacritty",
		"kitty",
		"wezterm",
	}
	for _, t := range trueColorTerms {
		if strings.Contains(termName, t) {
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		}
	}

	// Terminal emulators that support TrueColor without advertising it.
	if os.Getenv("WT_SESSION") != "" || // Windows Terminal
		os.Getenv("ITERM_SESSION_ID") != "" || // iTerm2
		os.Getenv("TERMINAL_EMULATOR") != "" || // JetBrains terminals
		os.Getenv("KONSOLE_VERSION") != "" { // Konsole
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	lipgloss.SetColorProfile(termenv.ANSI256)
}

// globalOptions are the flags accepted before the subcommand.
type globalOptions struct {
	configPath string
	debug      bool
}

// extractGlobalFlags pulls -config and -debug from anywhere in the
// arguments so "awm -debug watch" and "awm watch -debug" both work.
func extractGlobalFlags(args []string) (globalOptions, []string) {
	var opts globalOptions
	var remaining []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-config=") {
			opts.configPath = strings.TrimPrefix(arg, "-config=")
			continue
		}
		if strings.HasPrefix(arg, "--config=") {
			opts.configPath = strings.TrimPrefix(arg, "--config=")
			continue
		}
		if arg == "-config" || arg == "--config" {
			if i+1 < len(args) {
				opts.configPath = args[i+1]
				i++
				continue
			}
		}
		if arg == "-debug" || arg == "--debug" {
			opts.debug = true
			continue
		}

		remaining = append(remaining, arg)
	}

	return opts, remaining
}

// newManager builds the config manager, honoring the -config override.
func newManager(opts globalOptions) (*config.Manager, error) {
	if opts.configPath != "" {
		path, err := filepath.Abs(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
		return config.NewManager(path), nil
	}
	return config.NewDefaultManager()
}

func main() {
	opts, args := extractGlobalFlags(os.Args[1:])

	mgr, err := newManager(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(args) > 0 {
		switch args[0] {
		case "version", "--version", "-v":
			fmt.Printf("awm v%s\n", Version)
			return
		case "help", "--help", "-h":
			printHelp()
			return
		case "watch":
			handleWatch(opts, mgr, args[1:])
			return
		case "ls", "list":
			handleLs(mgr, args[1:])
			return
		case "new":
			handleNew(mgr, args[1:])
			return
		case "kill":
			handleKill(mgr, args[1:])
			return
		case "rename":
			handleRename(mgr, args[1:])
			return
		case "attach":
			handleAttach(mgr, args[1:])
			return
		case "serve":
			handleServe(opts, mgr, args[1:])
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
			printHelp()
			os.Exit(1)
		}
	}

	runMonitor(opts, mgr)
}

// runMonitor starts the interactive TUI.
func runMonitor(opts globalOptions, mgr *config.Manager) {
	if err := tmux.IsAvailable(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: tmux not found in PATH")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "awm monitors tmux sessions and needs the tmux binary. Install with:")
		fmt.Fprintln(os.Stderr, "  brew install tmux      # macOS")
		fmt.Fprintln(os.Stderr, "  apt install tmux       # Debian/Ubuntu")
		os.Exit(1)
	}

	cfg, cfgErr := mgr.Load()
	if cfgErr != nil {
		// Printed to the normal screen so it is still readable after the
		// alt-screen TUI exits.
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", cfgErr)
	}

	ui.SetVersion(Version)
	ui.InitTheme(ui.ResolveTheme(cfg.UI.GetTheme()))
	ui.SetAgentOverrides(cfg.Agents)

	logDir := initLogging(cfg, opts.debug)
	defer logging.Shutdown()

	mainLog.Info("starting",
		slog.String("version", Version),
		slog.Int("pid", os.Getpid()),
		slog.String("config", mgr.Path()))
	if cfgErr != nil {
		mainLog.Warn("config_parse_failed", slog.String("error", cfgErr.Error()))
	}

	if logDir != "" {
		// SIGUSR1 dumps the crash ring for post-mortem debugging.
		usr1 := make(chan os.Signal, 1)
		signal.Notify(usr1, syscall.SIGUSR1)
		go func() {
			for range usr1 {
				path := filepath.Join(logDir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
				if err := logging.DumpCrashRing(path); err != nil {
					mainLog.Error("crash_dump_failed", slog.String("error", err.Error()))
				} else {
					mainLog.Info("crash_dump_written", slog.String("path", path))
				}
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	col := collaborators(cfg, mgr)
	if col.Meta != nil {
		defer col.Meta.Close()
	}

	monitor := ui.NewMonitor(ctx, col)
	defer monitor.Close()

	p := tea.NewProgram(
		monitor,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	// Embedded event endpoint: agents can report in while the TUI runs.
	if cfg.Ingest.Listen != "" {
		srv, err := newIngestServer(cfg, "", col.Buffer, col.Meta)
		if err != nil {
			mainLog.Warn("ingest_disabled", slog.String("error", err.Error()))
		} else {
			go func() {
				if err := srv.Start(); err != nil {
					mainLog.Error("ingest_failed", slog.String("error", err.Error()))
				}
			}()
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer shutdownCancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}
	}

	// Apply config edits live.
	go func() {
		if err := mgr.Watch(ctx, func(c *config.Config) {
			p.Send(ui.ConfigReloadedMsg{Config: c})
		}); err != nil {
			mainLog.Warn("config_watch_unavailable", slog.String("error", err.Error()))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	mainLog.Info("stopped")
}

// collaborators builds the shared data sources for one process. The meta
// store may come back nil; callers and the monitor treat that as "no
// reported statuses".
func collaborators(cfg *config.Config, mgr *config.Manager) ui.Collaborators {
	return ui.Collaborators{
		Probe:    tmux.NewProbe(cfg.Probe.SessionPrefix),
		Forest:   procs.NewCache(0, agentSpecs(cfg.Agents)),
		Resolver: agent.NewResolver(),
		Meta:     openMetaStore(),
		Buffer:   events.New(0),
		Config:   mgr,
	}
}

// agentSpecs merges configured agent definitions over the built-in set.
// A name matching a built-in replaces its binary list; new names extend
// the set, sorted for a deterministic match order.
func agentSpecs(defs map[string]config.AgentDef) []procs.AgentSpec {
	specs := procs.DefaultAgents()
	index := make(map[string]int, len(specs))
	for i, s := range specs {
		index[s.Type] = i
	}

	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := defs[name]
		if len(def.Binaries) == 0 {
			continue
		}
		if i, ok := index[name]; ok {
			specs[i].Binaries = def.Binaries
			continue
		}
		specs = append(specs, procs.AgentSpec{Type: name, Binaries: def.Binaries})
	}
	return specs
}

// openMetaStore opens the sqlite meta store, returning nil when it is
// unavailable. The monitor runs fine without reported statuses.
func openMetaStore() *meta.Store {
	path, err := meta.DefaultPath()
	if err != nil {
		mainLog.Warn("meta_store_unavailable", slog.String("error", err.Error()))
		return nil
	}
	store, err := meta.Open(path)
	if err != nil {
		mainLog.Warn("meta_store_unavailable", slog.String("error", err.Error()))
		return nil
	}
	return store
}

// initLogging wires the rotating log file and returns its directory.
// Without -debug, AWM_DEBUG, or an explicit log dir the sink is discarded
// so nothing competes with the TUI for the terminal.
func initLogging(cfg *config.Config, debug bool) string {
	debugMode := debug || cfg.Log.Debug || os.Getenv("AWM_DEBUG") != ""

	logDir := cfg.Log.Dir
	if logDir == "" && debugMode {
		logDir = cfg.LogDir()
	}

	level := cfg.Log.Level
	if debugMode && level == "" {
		level = "debug"
	}

	logging.Init(logging.Config{
		LogDir:     logDir,
		Level:      level,
		Format:     cfg.Log.Format,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		Debug:      debugMode && logDir != "",
	})
	return logDir
}

func printHelp() {
	fmt.Printf("awm v%s - live monitor for agent tmux sessions\n", Version)
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  awm                     Open the interactive monitor")
	fmt.Println("  awm <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  watch                   Repaint the monitor frame on a cadence, read-only")
	fmt.Println("  ls                      List monitored sessions")
	fmt.Println("  new <name>              Create a detached tmux session")
	fmt.Println("  kill <name>             Kill a tmux session")
	fmt.Println("  rename <old> <new>      Rename a tmux session")
	fmt.Println("  attach <name>           Attach to a session through a PTY (-r read-only)")
	fmt.Println("  serve                   Run the event endpoint without the TUI")
	fmt.Println("  version                 Print the version")
	fmt.Println("  help                    Show this help")
	fmt.Println()
	fmt.Println("Global flags:")
	fmt.Println("  -config <path>          Config file (default ~/.awm/config.toml)")
	fmt.Println("  -debug                  Verbose logging to the log directory")
	fmt.Println()
	fmt.Println("Monitor keys:")
	fmt.Println("  j/k move  tab panel  enter attach/detail  x kill  d done  r refresh")
	fmt.Println("  a agents  e expand  p last line  s stats  o sort  i interval  f filter")
	fmt.Println("  t templates  ? help  q quit")
	fmt.Println()
	fmt.Println("Config lives at ~/.awm/config.toml; AWM_HOME moves the directory.")
	fmt.Println("Agents report events with: POST http://127.0.0.1:8377/events")
	fmt.Println("  (enable with [ingest] listen = \"127.0.0.1:8377\", or run awm serve)")
}
