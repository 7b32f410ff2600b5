package ui

import (
	"fmt"
	"strings"
)

type helpSection struct {
	title string
	keys  []hint
}

var shortHelpKeys = []hint{
	{"j/k ↑/↓", "move"},
	{"tab", "switch panel"},
	{"enter", "attach / detail"},
	{"x", "kill session"},
	{"d", "mark done"},
	{"a", "agents only"},
	{"e", "expand all"},
	{"f", "filter"},
	{"o", "cycle sort"},
	{"?", "full help"},
	{"q", "quit"},
}

var detailedHelpSections = []helpSection{
	{
		title: "Navigation",
		keys: []hint{
			{"j / ↓", "move down"},
			{"k / ↑", "move up"},
			{"g", "jump to top"},
			{"G", "jump to bottom"},
			{"tab", "switch between sessions and events"},
		},
	},
	{
		title: "Sessions",
		keys: []hint{
			{"enter", "attach to the selected session"},
			{"x", "kill the selected session"},
			{"d", "mark the selected session done"},
			{"r", "refresh now"},
			{"i", "cycle refresh interval (1s 2s 5s 10s)"},
		},
	},
	{
		title: "View",
		keys: []hint{
			{"a", "show agent sessions only"},
			{"e", "expand every session"},
			{"p", "show last pane line"},
			{"s", "show cpu / memory stats"},
			{"o", "cycle sort: none name created activity"},
			{"f", "filter sessions by name"},
		},
	},
	{
		title: "Events",
		keys: []hint{
			{"enter", "open event detail"},
			{"t", "edit notification template for the event kind"},
		},
	},
	{
		title: "Other",
		keys: []hint{
			{"?", "toggle this help"},
			{"esc", "close the topmost overlay"},
			{"q / ctrl+c", "quit"},
		},
	},
}

var statusLegend = []hint{
	{"●", "running: output within the last 30s"},
	{"◐", "waiting: agent reported it needs input"},
	{"○", "idle: no recent output"},
	{"✓", "done: marked finished"},
	{"✕", "error: agent reported a failure"},
}

// renderHelp draws the compact key cheat sheet.
func renderHelp(width, height int) string {
	var b strings.Builder
	b.WriteString(DialogTitleStyle.Render("Keys"))
	b.WriteString("\n\n")
	for _, h := range shortHelpKeys {
		b.WriteString("  " + MenuKeyStyle.Render(padRight(h.key, 11)) + " " + MenuDescStyle.Render(h.desc) + "\n")
	}
	b.WriteString("\n")
	b.WriteString(DimStyle.Render("? full help · esc close"))
	return centerInScreen(DialogBoxStyle.Render(b.String()), width, height)
}

// detailedHelpLines builds the scrollable body of the full help screen.
func detailedHelpLines() []string {
	var lines []string
	for _, sec := range detailedHelpSections {
		lines = append(lines, PanelTitle.Render(sec.title))
		for _, h := range sec.keys {
			lines = append(lines, "  "+MenuKeyStyle.Render(padRight(h.key, 11))+" "+MenuDescStyle.Render(h.desc))
		}
		lines = append(lines, "")
	}

	lines = append(lines, PanelTitle.Render("Status"))
	for _, h := range statusLegend {
		lines = append(lines, "  "+StatusIndicator(statusForGlyph(h.key))+" "+MenuDescStyle.Render(h.desc))
	}
	lines = append(lines, "")

	lines = append(lines,
		PanelTitle.Render("Notes"),
		"  "+MenuDescStyle.Render("templates use {placeholders}; see the template editor"),
		"  "+MenuDescStyle.Render("awm watch renders the same view without a TUI"),
		"  "+MenuDescStyle.Render("config lives at "+DimStyle.Render("$AWM_HOME/config.toml")),
	)
	return lines
}

func statusForGlyph(glyph string) string {
	switch glyph {
	case "●":
		return "running"
	case "◐":
		return "waiting"
	case "✓":
		return "done"
	case "✕":
		return "error"
	default:
		return "idle"
	}
}

func detailedHelpViewHeight(height int) int {
	// Border, padding, title, blank, footer.
	h := height - 9
	if h < 4 {
		h = 4
	}
	return h
}

// detailedHelpMaxScroll is the largest useful scroll offset for the full
// help screen at the given frame size.
func detailedHelpMaxScroll(height int) int {
	max := len(detailedHelpLines()) - detailedHelpViewHeight(height)
	if max < 0 {
		max = 0
	}
	return max
}

// renderDetailedHelp draws the full key and concept reference, scrolled to
// the given offset.
func renderDetailedHelp(scroll, width, height int) string {
	lines := detailedHelpLines()
	viewH := detailedHelpViewHeight(height)

	if max := detailedHelpMaxScroll(height); scroll > max {
		scroll = max
	}
	if scroll < 0 {
		scroll = 0
	}
	end := scroll + viewH
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	b.WriteString(DialogTitleStyle.Render("awm help"))
	b.WriteString("\n\n")

	if scroll > 0 {
		b.WriteString(ScrollMore.Render(fmt.Sprintf("▲ %d more", scroll)))
	} else {
		b.WriteString(" ")
	}
	b.WriteString("\n")
	b.WriteString(strings.Join(lines[scroll:end], "\n"))
	b.WriteString("\n")
	if end < len(lines) {
		b.WriteString(ScrollMore.Render(fmt.Sprintf("▼ %d more", len(lines)-end)))
	} else {
		b.WriteString(" ")
	}

	b.WriteString("\n\n")
	b.WriteString(DimStyle.Render("j/k scroll · esc close · awm v" + Version))
	return centerInScreen(DialogBoxStyle.Render(b.String()), width, height)
}
