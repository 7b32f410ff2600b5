package ui

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/awmdev/awm/internal/agent"
	"github.com/awmdev/awm/internal/events"
	"github.com/awmdev/awm/internal/meta"
	"github.com/awmdev/awm/internal/procs"
	"github.com/awmdev/awm/internal/tmux"
)

// Snapshot bundles everything one frame needs so rendering stays a pure
// function: identical snapshots and view state yield identical frames.
type Snapshot struct {
	Sessions   []tmux.Session
	Stats      map[string]procs.Stats    // keyed by session name, summed over pane subtrees
	Identities map[string]agent.Identity // keyed by session name
	Meta       map[string]meta.Meta      // keyed by session name
	LastLines  map[string]string         // keyed by session name
	Events     []events.Entry            // oldest first, as the buffer stores them
	Warning    string                    // one-line action warning, empty when none
	Refreshed  time.Time                 // when the probe data was taken
}

const (
	minFrameWidth  = 40
	minFrameHeight = 12
	wideBreakpoint = 100
)

type layout struct {
	wide         bool
	sessW, sessH int
	evW, evH     int
}

// layoutFor splits the frame after reserving the header and footer lines.
// Wide terminals put the panels side by side at 55/45 of the width; narrow
// ones stack them with sessions taking 70% of the body height.
func layoutFor(width, height int) layout {
	body := height - 2
	if width >= wideBreakpoint {
		sw := width * 55 / 100
		return layout{wide: true, sessW: sw, sessH: body, evW: width - sw, evH: body}
	}
	sh := body * 70 / 100
	if sh < 4 {
		sh = 4
	}
	eh := body - sh
	if eh < 3 {
		eh = 3
		sh = body - eh
	}
	return layout{wide: false, sessW: width, sessH: sh, evW: width, evH: eh}
}

// Render composes a frame for non-interactive callers (watch mode and the
// ls table share the monitor's data path but not its input loop).
func Render(st ViewState, snap Snapshot, width, height int) string {
	return renderFrame(st, snap, width, height)
}

// renderFrame composes one full-screen frame.
func renderFrame(st ViewState, snap Snapshot, width, height int) string {
	if width < minFrameWidth || height < minFrameHeight {
		return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center,
			WarningStyle.Render(fmt.Sprintf("Terminal too small (%dx%d)\nMinimum: %dx%d",
				width, height, minFrameWidth, minFrameHeight)))
	}

	lay := layoutFor(width, height)
	sessions := renderSessionsPanel(st, snap, lay.sessW, lay.sessH)
	eventsPanel := renderEventsPanel(st, snap, lay.evW, lay.evH)

	var body string
	if lay.wide {
		body = lipgloss.JoinHorizontal(lipgloss.Top, sessions, eventsPanel)
	} else {
		body = lipgloss.JoinVertical(lipgloss.Left, sessions, eventsPanel)
	}

	return renderHeader(st, snap, width) + "\n" + body + "\n" + renderFooter(st, snap, width)
}

func renderSessionsPanel(st ViewState, snap Snapshot, w, h int) string {
	inner := w - 4
	contentH := h - 3
	if contentH < 1 {
		contentH = 1
	}

	lines, cursorLine, count := sessionLines(st, snap, inner)
	visible := viewportSlice(lines, viewportOffset(cursorLine, st.SessionOffset, len(lines), contentH), contentH)

	title := PanelTitle.Render(truncate(fmt.Sprintf("Sessions (%d)", count), inner))
	content := title
	if len(visible) > 0 {
		content += "\n" + strings.Join(visible, "\n")
	} else {
		content += "\n" + DimStyle.Render(truncate("no sessions", inner))
	}

	style := PanelStyle
	if st.Focus == FocusSessions {
		style = PanelFocused
	}
	return style.Width(w - 2).Height(h - 2).Render(content)
}

func renderEventsPanel(st ViewState, snap Snapshot, w, h int) string {
	inner := w - 4
	contentH := h - 3
	if contentH < 1 {
		contentH = 1
	}

	lines, cursorLine := eventLines(st, snap, inner)
	visible := viewportSlice(lines, viewportOffset(cursorLine, st.EventOffset, len(lines), contentH), contentH)

	title := PanelTitle.Render(truncate(fmt.Sprintf("Events (%d)", len(snap.Events)), inner))
	content := title
	if len(visible) > 0 {
		content += "\n" + strings.Join(visible, "\n")
	} else {
		content += "\n" + DimStyle.Render(truncate("no events yet", inner))
	}

	style := PanelStyle
	if st.Focus == FocusEvents {
		style = PanelFocused
	}
	return style.Width(w - 2).Height(h - 2).Render(content)
}

// sessionLines builds the full (unclamped) session panel body. It returns
// the styled lines, the line index of the selected session's summary row,
// and the visible session count.
func sessionLines(st ViewState, snap Snapshot, width int) ([]string, int, int) {
	visible := VisibleSessions(snap.Sessions, st.Filter, st.AgentsOnly, snap.Identities, st.Sort)
	cursor := clampCursor(st.SessionCursor, len(visible))

	var lines []string
	cursorLine := 0
	for i, s := range visible {
		selected := i == cursor && st.Focus == FocusSessions
		if i == cursor {
			cursorLine = len(lines)
		}
		lines = append(lines, sessionSummaryLine(s, snap, selected, width))

		if st.ExpandAll || i == cursor {
			lines = append(lines, sessionDetailLines(st, s, snap, width)...)
		}
	}
	return lines, cursorLine, len(visible)
}

func sessionSummaryLine(s tmux.Session, snap Snapshot, selected bool, width int) string {
	m := snap.Meta[s.Name]
	id := snap.Identities[s.Name]
	status := StatusFor(s, m, snap.Refreshed)

	prefix := "  "
	if selected {
		prefix = "▸ "
	}

	icon := AgentIcon(id.Type)
	badge := ""
	if id.Type != "" {
		badge = "[" + id.Type + "]"
	}
	if m.Tag != "" {
		badge += "#" + m.Tag
	}

	right := fmt.Sprintf("%dw", s.WindowCount)
	if s.Attached {
		right += " ⚡"
	}
	if !s.Activity.IsZero() && !snap.Refreshed.IsZero() {
		right += " " + humanDur(snap.Refreshed.Sub(s.Activity))
	}

	// Fixed pieces (and one cell of gap) leave the rest of the row to the
	// name.
	fixed := runewidth.StringWidth(prefix) + 2 + runewidth.StringWidth(icon) + 1 +
		runewidth.StringWidth(right) + 1
	if badge != "" {
		fixed += runewidth.StringWidth(badge) + 1
	}
	nameW := width - fixed
	if nameW < 3 {
		nameW = 3
	}
	name := truncate(s.Name, nameW)

	plain := prefix + statusGlyph(status) + " " + icon + " " + name
	if badge != "" {
		plain += " " + badge
	}

	if selected {
		line := spread(plain, right, width)
		return SelectedStyle.Render(line)
	}

	styled := prefix + StatusIndicator(status) + " " + icon + " " + name
	if badge != "" {
		styled += " " + AgentStyle(id.Type).Render(badge)
	}
	gap := width - runewidth.StringWidth(plain) - runewidth.StringWidth(right)
	if gap < 1 {
		gap = 1
	}
	return styled + strings.Repeat(" ", gap) + DimStyle.Render(right)
}

func sessionDetailLines(st ViewState, s tmux.Session, snap Snapshot, width int) []string {
	var out []string
	for _, w := range s.Windows {
		mark := ""
		if w.Active {
			mark = "*"
		}
		out = append(out, DimStyle.Render(truncate(fmt.Sprintf("    ─ %d:%s%s", w.Index, w.Name, mark), width)))
		for _, p := range w.Panes {
			idle := ""
			if p.IdleSeconds != nil {
				idle = " " + humanDur(time.Duration(*p.IdleSeconds)*time.Second)
			}
			dir := ""
			if p.Path != "" {
				dir = " " + filepath.Base(p.Path)
			}
			active := " "
			if p.Active {
				active = "·"
			}
			out = append(out, truncate(fmt.Sprintf("     %s%d %s%s%s", active, p.Index, p.Command, dir, idle), width))
		}
	}
	if st.ShowLastLine {
		if last := snap.LastLines[s.Name]; last != "" {
			out = append(out, LastLineStyle.Render(truncate("    └ "+last, width)))
		}
	}
	if st.ShowStats {
		if stats, ok := snap.Stats[s.Name]; ok {
			out = append(out, StatsStyle.Render(truncate(fmt.Sprintf("    cpu %.1f%% · mem %.1f%% · rss %s",
				stats.CPUPercent, stats.MemPercent, humanRSS(stats.RSSKb)), width)))
		}
	}
	return out
}

// displayedEvents is the event panel order: newest first.
func displayedEvents(all []events.Entry) []events.Entry {
	out := make([]events.Entry, len(all))
	for i, e := range all {
		out[len(all)-1-i] = e
	}
	return out
}

func eventLines(st ViewState, snap Snapshot, width int) ([]string, int) {
	shown := displayedEvents(snap.Events)
	cursor := clampCursor(st.EventCursor, len(shown))

	var lines []string
	for i, e := range shown {
		selected := i == cursor && st.Focus == FocusEvents
		lines = append(lines, eventLine(e, selected, width))
	}
	return lines, cursor
}

func eventLine(e events.Entry, selected bool, width int) string {
	ts := e.Timestamp.Format("15:04:05")
	head := ts + " " + e.Kind
	if e.Session != "" {
		head += " " + e.Session
	}
	summary := eventSummary(e)

	plain := head
	if summary != "" {
		plain += ": " + summary
	}
	plain = truncate(plain, width)

	if selected {
		return SelectedStyle.Render(padRight(plain, width))
	}
	if !strings.HasPrefix(plain, head) {
		// Truncation cut into the head itself; keep the plain form.
		return plain
	}

	// Re-style the visible pieces after plain truncation decided the cut.
	styled := EventTimeStyle.Render(ts) + " " + EventKindStyle.Render(e.Kind)
	if e.Session != "" {
		styled += " " + EventSessStyle.Render(e.Session)
	}
	return styled + strings.TrimPrefix(plain, head)
}

func eventSummary(e events.Entry) string {
	if s := e.Payload["summary"]; s != "" {
		return s
	}
	if len(e.Payload) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.Payload))
	for k := range e.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+e.Payload[k])
	}
	return strings.Join(parts, " ")
}

func renderHeader(st ViewState, snap Snapshot, width int) string {
	running, waiting, idle := 0, 0, 0
	for _, s := range snap.Sessions {
		switch StatusFor(s, snap.Meta[s.Name], snap.Refreshed) {
		case "running":
			running++
		case "waiting":
			waiting++
		default:
			idle++
		}
	}
	agents := 0
	for _, id := range snap.Identities {
		if id.Type != "" {
			agents++
		}
	}

	pieces := []string{
		TitleStyle.Render(" awm "),
		RunningStyle.Render(fmt.Sprintf("●%d", running)),
		WaitingStyle.Render(fmt.Sprintf("◐%d", waiting)),
		IdleStyle.Render(fmt.Sprintf("○%d", idle)),
		DimStyle.Render(fmt.Sprintf("· %d sessions · %d agents", len(snap.Sessions), agents)),
	}
	if st.Sort != SortNone {
		pieces = append(pieces, DimStyle.Render("· sort:"+st.Sort.String()))
	}
	pieces = append(pieces, DimStyle.Render("· "+st.Interval.String()))
	if st.Filter != "" {
		pieces = append(pieces, WaitingStyle.Render("[filter:"+st.Filter+"]"))
	}
	if st.AgentsOnly {
		pieces = append(pieces, DimStyle.Render("[agents]"))
	}
	if st.ExpandAll {
		pieces = append(pieces, DimStyle.Render("[expand]"))
	}
	return truncateStyled(strings.Join(pieces, " "), width)
}

type hint struct{ key, desc string }

func footerHints(st ViewState) []hint {
	if st.Focus == FocusEvents {
		return []hint{
			{"j/k", "move"}, {"enter", "detail"}, {"t", "template"},
			{"tab", "sessions"}, {"f", "filter"}, {"?", "help"}, {"q", "quit"},
		}
	}
	return []hint{
		{"j/k", "move"}, {"enter", "attach"}, {"x", "kill"}, {"d", "done"},
		{"f", "filter"}, {"o", "sort"}, {"tab", "events"}, {"?", "help"}, {"q", "quit"},
	}
}

func renderFooter(st ViewState, snap Snapshot, width int) string {
	if snap.Warning != "" {
		return WarningStyle.Render(truncate("⚠ "+snap.Warning, width))
	}

	var styled []string
	plainW := 0
	for _, h := range footerHints(st) {
		plain := h.key + " • " + h.desc
		w := runewidth.StringWidth(plain) + 2
		if plainW+w > width {
			break
		}
		styled = append(styled, MenuKey(h.key, h.desc))
		plainW += w
	}
	return MenuBarStyle.Render(strings.Join(styled, "  "))
}

// viewportOffset stabilizes the scroll offset after reserving rows for the
// "more above/below" indicators.
func viewportOffset(cursor, offset, total, height int) int {
	if total <= height {
		return 0
	}
	off := offset
	for i := 0; i < 2; i++ {
		effH := height
		if off > 0 {
			effH--
		}
		if total-off > effH {
			effH--
		}
		if effH < 1 {
			effH = 1
		}
		off = clampViewport(cursor, off, total, effH)
	}
	return off
}

// viewportSlice returns at most height rows: the window at offset plus
// indicator rows when content extends beyond either edge.
func viewportSlice(lines []string, offset, height int) []string {
	if len(lines) <= height {
		return lines
	}
	effH := height
	top := offset > 0
	if top {
		effH--
	}
	bottom := len(lines)-offset > effH
	if bottom {
		effH--
	}
	if effH < 1 {
		effH = 1
	}
	end := offset + effH
	if end > len(lines) {
		end = len(lines)
	}

	out := make([]string, 0, height)
	if top {
		out = append(out, ScrollMore.Render(fmt.Sprintf("⋮ %d more above", offset)))
	}
	out = append(out, lines[offset:end]...)
	if end < len(lines) {
		out = append(out, ScrollMore.Render(fmt.Sprintf("⋮ %d more below", len(lines)-end)))
	}
	return out
}

// StatusFor derives a session's display status. A reported status from
// the meta store wins; otherwise recent pane activity means "running".
func StatusFor(s tmux.Session, m meta.Meta, at time.Time) string {
	if m.Status != "" {
		return m.Status
	}
	if !s.Activity.IsZero() && !at.IsZero() && at.Sub(s.Activity) < 30*time.Second {
		return "running"
	}
	return "idle"
}

func statusGlyph(status string) string {
	switch status {
	case "running":
		return "●"
	case "waiting":
		return "◐"
	case "done":
		return "✓"
	case "error":
		return "✕"
	default:
		return "○"
	}
}

// truncate cuts s to fit width cells, appending … when shortened. Width is
// measured on the text itself, so call it before styling.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

// truncateStyled cuts an already-styled line by measuring its visible text.
func truncateStyled(s string, width int) string {
	if runewidth.StringWidth(tmux.StripANSI(s)) <= width {
		return s
	}
	// Rebuilding styled segments is not worth it for the header; strip and cut.
	return truncate(tmux.StripANSI(s), width)
}

func padRight(s string, width int) string {
	gap := width - runewidth.StringWidth(s)
	if gap <= 0 {
		return s
	}
	return s + strings.Repeat(" ", gap)
}

// spread joins left and right with padding so the pair spans width exactly;
// left gives way first when space is short.
func spread(left, right string, width int) string {
	rw := runewidth.StringWidth(right)
	if rw >= width {
		return truncate(right, width)
	}
	left = truncate(left, width-rw-1)
	gap := width - runewidth.StringWidth(left) - rw
	return left + strings.Repeat(" ", gap) + right
}

func humanDur(d time.Duration) string {
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
		return fmt.Sprintf("%dd", int(d.Hours())/24)
	}
}

func humanRSS(kb int64) string {
	mb := float64(kb) / 1024
	if mb >= 1024 {
		return fmt.Sprintf("%.1fGB", mb/1024)
	}
	return fmt.Sprintf("%.1fMB", mb)
}
