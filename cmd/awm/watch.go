package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/awmdev/awm/internal/config"
	"github.com/awmdev/awm/internal/logging"
	"github.com/awmdev/awm/internal/tmux"
	"github.com/awmdev/awm/internal/ui"
)

// Fallback frame size when stdout is not a terminal (pipes, CI).
const (
	fallbackTermWidth  = 100
	fallbackTermHeight = 32
)

// handleWatch repaints the monitor frame on a cadence without taking over
// the terminal. Useful in a spare tmux pane, over ssh, or piped once.
func handleWatch(opts globalOptions, mgr *config.Manager, args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	interval := fs.Duration("interval", 0, "Refresh cadence (default from config)")
	filter := fs.String("filter", "", "Show only sessions whose name contains this")
	once := fs.Bool("once", false, "Render a single frame and exit")
	expand := fs.Bool("expand", false, "Expand windows and panes for every session")

	fs.Usage = func() {
		fmt.Println("Usage: awm watch [options]")
		fmt.Println()
		fmt.Println("Repaint the monitor frame read-only. No keys are bound; stop with Ctrl+C.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  awm watch")
		fmt.Println("  awm watch -once")
		fmt.Println("  awm watch -interval 5s -filter claude -expand")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if err := tmux.IsAvailable(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg, cfgErr := mgr.Load()
	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", cfgErr)
	}

	ui.InitTheme(ui.ResolveTheme(cfg.UI.GetTheme()))
	ui.SetAgentOverrides(cfg.Agents)
	initLogging(cfg, opts.debug)
	defer logging.Shutdown()

	st := ui.DefaultViewState(cfg)
	if *filter != "" {
		st.Filter = *filter
	}
	if *expand {
		st.ExpandAll = true
	}
	if *interval > 0 {
		st.Interval = *interval
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	col := collaborators(cfg, mgr)
	if col.Meta != nil {
		defer col.Meta.Close()
	}

	if *once {
		w, h := termSize()
		snap, warn := ui.Collect(ctx, col, st)
		snap.Warning = warn
		fmt.Println(ui.Render(st, snap, w, h))
		return
	}

	// With the endpoint up, ingested events land in the frame's event
	// panel just like in the TUI.
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

	// Hide the cursor while repainting; restore it on the way out.
	fmt.Print("\033[?25l")
	defer fmt.Print("\033[?25h")

	ticker := time.NewTicker(st.Interval)
	defer ticker.Stop()

	for {
		w, h := termSize()
		snap, warn := ui.Collect(ctx, col, st)
		snap.Warning = warn

		fmt.Print("\033[H\033[J")
		fmt.Print(ui.Render(st, snap, w, h))

		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case <-ticker.C:
		}
	}
}

// termSize returns the stdout terminal size, or a fallback when stdout is
// not a terminal.
func termSize() (int, int) {
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 && h > 0 {
		return w, h
	}
	return fallbackTermWidth, fallbackTermHeight
}

// handleLs prints one table row per monitored session.
func handleLs(mgr *config.Manager, args []string) {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	filter := fs.String("filter", "", "Show only sessions whose name contains this")

	fs.Usage = func() {
		fmt.Println("Usage: awm ls [options]")
		fmt.Println()
		fmt.Println("List monitored tmux sessions with agent and status.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  awm ls")
		fmt.Println("  awm ls -json | jq '.[].name'")
		fmt.Println("  awm ls -filter claude")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if err := tmux.IsAvailable(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg, _ := mgr.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	col := collaborators(cfg, mgr)
	if col.Meta != nil {
		defer col.Meta.Close()
	}

	st := ui.DefaultViewState(cfg)
	st.Filter = *filter
	// A listing does not need pane output; skip the capture calls.
	st.ShowLastLine = false

	snap, warn := ui.Collect(ctx, col, st)
	if warn != "" {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warn)
	}

	sessions := ui.VisibleSessions(snap.Sessions, st.Filter, st.AgentsOnly, snap.Identities, st.Sort)
	if len(sessions) == 0 {
		if *jsonOutput {
			fmt.Println("[]")
		} else {
			fmt.Println("No sessions.")
		}
		return
	}

	if *jsonOutput {
		type sessionJSON struct {
			Name     string    `json:"name"`
			Agent    string    `json:"agent,omitempty"`
			Tag      string    `json:"tag,omitempty"`
			Status   string    `json:"status"`
			Windows  int       `json:"windows"`
			Panes    int       `json:"panes"`
			Attached bool      `json:"attached"`
			CPU      float64   `json:"cpu_percent"`
			Mem      float64   `json:"mem_percent"`
			RSSKb    int64     `json:"rss_kb"`
			Created  time.Time `json:"created"`
			Activity time.Time `json:"activity,omitempty"`
		}
		rows := make([]sessionJSON, 0, len(sessions))
		for _, s := range sessions {
			stats := snap.Stats[s.Name]
			rows = append(rows, sessionJSON{
				Name:     s.Name,
				Agent:    snap.Identities[s.Name].Type,
				Tag:      snap.Meta[s.Name].Tag,
				Status:   ui.StatusFor(s, snap.Meta[s.Name], snap.Refreshed),
				Windows:  s.WindowCount,
				Panes:    len(s.PanePIDs()),
				Attached: s.Attached,
				CPU:      stats.CPUPercent,
				Mem:      stats.MemPercent,
				RSSKb:    stats.RSSKb,
				Created:  s.Created,
				Activity: s.Activity,
			})
		}
		out, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to format JSON output: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tAGENT\tSTATUS\tWIN\tATTACHED\tCPU\tACTIVITY")
	for _, s := range sessions {
		agentCol := snap.Identities[s.Name].Type
		if agentCol == "" {
			agentCol = "-"
		}
		if tag := snap.Meta[s.Name].Tag; tag != "" {
			agentCol += "#" + tag
		}
		attached := "no"
		if s.Attached {
			attached = "yes"
		}
		cpu := "-"
		if stats, ok := snap.Stats[s.Name]; ok {
			cpu = fmt.Sprintf("%.1f%%", stats.CPUPercent)
		}
		activity := "-"
		if !s.Activity.IsZero() {
			activity = fmtAge(snap.Refreshed.Sub(s.Activity))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			s.Name, agentCol, ui.StatusFor(s, snap.Meta[s.Name], snap.Refreshed),
			s.WindowCount, attached, cpu, activity)
	}
	w.Flush()
	fmt.Printf("\nTotal: %d sessions\n", len(sessions))
}

// fmtAge formats an age in its coarsest sensible unit.
func fmtAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
