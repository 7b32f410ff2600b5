package tmux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/awmdev/awm/internal/logging"
)

var probeLog = logging.ForComponent(logging.CompProbe)

const (
	// tmuxTimeout bounds every tmux invocation so a wedged server cannot
	// stall the poll loop.
	tmuxTimeout = 3 * time.Second

	// serverDownTTL is how long a "no server running" result is trusted
	// before tmux is asked again.
	serverDownTTL = 2 * time.Second
)

// Tab-separated format strings. One list-sessions plus one list-panes -a
// covers the whole tree; tabs never appear in the numeric fields and are
// effectively absent from names and paths in practice.
const (
	sessionFormat = "#{session_name}\t#{session_windows}\t#{session_attached}\t#{session_created}\t#{session_activity}"
	paneFormat    = "#{session_name}\t#{window_index}\t#{window_name}\t#{window_active}\t" +
		"#{pane_index}\t#{pane_id}\t#{pane_pid}\t#{pane_active}\t" +
		"#{pane_current_command}\t#{pane_current_path}\t#{pane_activity}"
)

// Runner executes a tmux command and returns its stdout. Swappable in
// tests so no real server is needed.
type Runner func(ctx context.Context, args ...string) (string, error)

// Probe snapshots the tmux session tree and runs lifecycle commands.
type Probe struct {
	run    Runner
	prefix string
	now    func() time.Time

	mu        sync.Mutex
	downUntil time.Time

	capMu    sync.Mutex
	capCache map[string]captureEntry
	capSf    singleflight.Group
}

// NewProbe creates a probe. prefix limits snapshots to sessions whose
// name starts with it; empty watches everything.
func NewProbe(prefix string) *Probe {
	return &Probe{
		run:      tmuxRun,
		prefix:   prefix,
		now:      time.Now,
		capCache: make(map[string]captureEntry),
	}
}

// tmuxRun shells out to tmux. Stderr is folded into the error text so
// callers can distinguish "no server running" from real failures.
func tmuxRun(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, tmuxTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "tmux", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("tmux %s: %w: %s", args[0], err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("tmux %s: %w", args[0], err)
	}
	return string(out), nil
}

func isServerDown(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no server running") ||
		strings.Contains(msg, "error connecting to") ||
		strings.Contains(msg, "no sessions")
}

// Snapshot returns the current session tree. A stopped server yields an
// empty slice, not an error, and the down state is remembered for a short
// window so every poll tick does not re-spawn tmux against a dead socket.
func (p *Probe) Snapshot(ctx context.Context) ([]Session, error) {
	p.mu.Lock()
	if p.now().Before(p.downUntil) {
		p.mu.Unlock()
		return nil, nil
	}
	p.mu.Unlock()

	sessOut, err := p.run(ctx, "list-sessions", "-F", sessionFormat)
	if err != nil {
		if isServerDown(err) {
			p.markDown()
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := p.parseSessions(sessOut)
	if len(sessions) == 0 {
		return nil, nil
	}

	paneOut, err := p.run(ctx, "list-panes", "-a", "-F", paneFormat)
	if err != nil {
		if isServerDown(err) {
			p.markDown()
			return nil, nil
		}
		// Session names alone are still worth showing.
		probeLog.Warn("pane_listing_failed", slog.String("error", err.Error()))
		return sessions, nil
	}

	p.attachPanes(sessions, paneOut)
	return sessions, nil
}

func (p *Probe) markDown() {
	p.mu.Lock()
	p.downUntil = p.now().Add(serverDownTTL)
	p.mu.Unlock()
}

// parseSessions decodes list-sessions output, applying the name prefix
// filter. Lines that do not parse are skipped.
func (p *Probe) parseSessions(out string) []Session {
	var sessions []Session
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 5 {
			probeLog.Debug("malformed_session_line", slog.String("line", line))
			continue
		}
		name := fields[0]
		if p.prefix != "" && !strings.HasPrefix(name, p.prefix) {
			continue
		}
		windows, _ := strconv.Atoi(fields[1])
		attached, _ := strconv.Atoi(fields[2])

		s := Session{
			Name:        name,
			WindowCount: windows,
			Attached:    attached > 0,
		}
		if epoch, err := strconv.ParseInt(fields[3], 10, 64); err == nil {
			s.Created = time.Unix(epoch, 0)
		}
		if epoch, err := strconv.ParseInt(fields[4], 10, 64); err == nil {
			s.Activity = time.Unix(epoch, 0)
		}
		sessions = append(sessions, s)
	}
	return sessions
}

// attachPanes groups list-panes output into the session tree. Pane lines
// for filtered-out sessions fall through silently. tmux emits panes in
// window-index order, so first appearance fixes window order.
func (p *Probe) attachPanes(sessions []Session, out string) {
	known := make(map[string]bool, len(sessions))
	for i := range sessions {
		known[sessions[i].Name] = true
	}

	nowUnix := p.now().Unix()
	wins := make(map[string]map[int]*Window)
	order := make(map[string][]int)

	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 11 {
			probeLog.Debug("malformed_pane_line", slog.String("line", line))
			continue
		}
		sessName := fields[0]
		if !known[sessName] {
			continue
		}

		winIndex, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}

		if wins[sessName] == nil {
			wins[sessName] = make(map[int]*Window)
		}
		win, ok := wins[sessName][winIndex]
		if !ok {
			win = &Window{
				Index:  winIndex,
				Name:   fields[2],
				Active: fields[3] == "1",
			}
			wins[sessName][winIndex] = win
			order[sessName] = append(order[sessName], winIndex)
		}

		pane := Pane{
			ID:      fields[5],
			Active:  fields[7] == "1",
			Command: fields[8],
			Path:    fields[9],
		}
		pane.Index, _ = strconv.Atoi(fields[4])
		pane.PID, _ = strconv.Atoi(fields[6])
		if epoch, err := strconv.ParseInt(fields[10], 10, 64); err == nil {
			idle := nowUnix - epoch
			if idle < 0 {
				idle = 0
			}
			pane.IdleSeconds = &idle
		}
		win.Panes = append(win.Panes, pane)
	}

	for i := range sessions {
		name := sessions[i].Name
		for _, idx := range order[name] {
			sessions[i].Windows = append(sessions[i].Windows, *wins[name][idx])
		}
	}
}
