package ui

import (
	"sync"

	"github.com/charmbracelet/lipgloss"
	dark "github.com/thiagokokada/dark-mode-go"

	"github.com/awmdev/awm/internal/config"
	"github.com/awmdev/awm/internal/logging"
)

var uiLog = logging.ForComponent(logging.CompUI)

// Version is shown in the help overlay. Set by main at startup.
var Version = "dev"

// SetVersion records the build version for display.
func SetVersion(v string) {
	Version = v
}

// Theme names a palette family.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

var currentTheme = ThemeDark

// palette is one color scheme. Exported Color* variables are snapshots of
// the active palette; InitTheme swaps them and rebuilds every style.
type palette struct {
	bg, surface, border lipgloss.Color
	text, dim           lipgloss.Color
	blue, purple, cyan  lipgloss.Color
	green, yellow       lipgloss.Color
	orange, red         lipgloss.Color
}

// Tokyo Night Storm
var tokyoStorm = palette{
	bg:      "#24283b",
	surface: "#1f2335",
	border:  "#3b4261",
	text:    "#c0caf5",
	dim:     "#565f89",
	blue:    "#7aa2f7",
	purple:  "#bb9af7",
	cyan:    "#7dcfff",
	green:   "#9ece6a",
	yellow:  "#e0af68",
	orange:  "#ff9e64",
	red:     "#f7768e",
}

// Tokyo Night Day
var tokyoDay = palette{
	bg:      "#e1e2e7",
	surface: "#d0d5e3",
	border:  "#a8aecb",
	text:    "#3b4261",
	dim:     "#848cb5",
	blue:    "#2e7de9",
	purple:  "#9854f1",
	cyan:    "#007197",
	green:   "#587539",
	yellow:  "#8c6c3e",
	orange:  "#b15c00",
	red:     "#f52a65",
}

// Colors of the active palette, refreshed by InitTheme.
var (
	ColorBg      lipgloss.Color
	ColorSurface lipgloss.Color
	ColorBorder  lipgloss.Color
	ColorText    lipgloss.Color
	ColorTextDim lipgloss.Color
	ColorAccent  lipgloss.Color
	ColorPurple  lipgloss.Color
	ColorCyan    lipgloss.Color
	ColorGreen   lipgloss.Color
	ColorYellow  lipgloss.Color
	ColorOrange  lipgloss.Color
	ColorRed     lipgloss.Color
	ColorComment lipgloss.Color
)

// themeMu protects the style variables during live theme switches.
var themeMu sync.RWMutex

// InitTheme sets the active color palette. Must run before any rendering.
func InitTheme(theme string) {
	themeMu.Lock()
	defer themeMu.Unlock()

	p := tokyoStorm
	currentTheme = ThemeDark
	if theme == "light" {
		p = tokyoDay
		currentTheme = ThemeLight
	}

	ColorBg, ColorSurface, ColorBorder = p.bg, p.surface, p.border
	ColorText, ColorTextDim, ColorComment = p.text, p.dim, p.dim
	ColorAccent, ColorPurple, ColorCyan = p.blue, p.purple, p.cyan
	ColorGreen, ColorYellow = p.green, p.yellow
	ColorOrange, ColorRed = p.orange, p.red

	initStyles()
}

// GetCurrentTheme reports which palette is active.
func GetCurrentTheme() Theme {
	return currentTheme
}

// ResolveTheme maps a configured theme name to a concrete palette.
// "system" asks the OS for its dark-mode setting and falls back to dark.
func ResolveTheme(configured string) string {
	if configured != "system" {
		return configured
	}
	isDark, err := dark.IsDarkMode()
	if err != nil || isDark {
		return "dark"
	}
	return "light"
}

func init() {
	InitTheme("dark")
}

// Base styles
var (
	TitleStyle     lipgloss.Style
	PanelStyle     lipgloss.Style
	PanelFocused   lipgloss.Style
	PanelTitle     lipgloss.Style
	DimStyle       lipgloss.Style
	ErrorStyle     lipgloss.Style
	WarningStyle   lipgloss.Style
	SelectedStyle  lipgloss.Style
	SelectedPrefix lipgloss.Style
	AttachedStyle  lipgloss.Style
	StatsStyle     lipgloss.Style
	LastLineStyle  lipgloss.Style
	ScrollMore     lipgloss.Style
)

// Status indicator styles
var (
	RunningStyle lipgloss.Style
	WaitingStyle lipgloss.Style
	IdleStyle    lipgloss.Style
	DoneStyle    lipgloss.Style
	ErrIndStyle  lipgloss.Style
)

// Menu bar styles
var (
	MenuBarStyle       lipgloss.Style
	MenuKeyStyle       lipgloss.Style
	MenuDescStyle      lipgloss.Style
	MenuSeparatorStyle lipgloss.Style
)

// Dialog styles
var (
	DialogBoxStyle   lipgloss.Style
	DialogTitleStyle lipgloss.Style
	SearchBoxStyle   lipgloss.Style
)

// Event panel styles
var (
	EventTimeStyle lipgloss.Style
	EventKindStyle lipgloss.Style
	EventSessStyle lipgloss.Style
)

// Built-in agent icons
const (
	IconClaude   = "🤖"
	IconGemini   = "✨"
	IconOpenCode = "🌐"
	IconCodex    = "💻"
	IconShell    = "🐚"
)

type agentLook struct {
	icon  string
	style lipgloss.Style
}

// agentLooks caches per-agent badge styling; rebuilt on theme switch and
// when config overrides land.
var (
	agentLooks   map[string]agentLook
	agentDefault agentLook
	agentDefs    map[string]config.AgentDef
)

func initStyles() {
	fg := func(c lipgloss.Color) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(c)
	}
	panel := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)

	TitleStyle = fg(ColorAccent).Bold(true)

	PanelStyle = panel.BorderForeground(ColorBorder)
	PanelFocused = panel.BorderForeground(ColorAccent)
	PanelTitle = fg(ColorCyan).Bold(true)

	DimStyle = fg(ColorComment)
	ErrorStyle = fg(ColorRed).Bold(true)
	WarningStyle = fg(ColorYellow).Bold(true)

	SelectedStyle = fg(ColorBg).Background(ColorAccent).Bold(true)
	SelectedPrefix = fg(ColorAccent).Bold(true)
	AttachedStyle = fg(ColorGreen)
	StatsStyle = fg(ColorCyan)
	LastLineStyle = fg(ColorComment).Italic(true)
	ScrollMore = fg(ColorYellow)

	RunningStyle = fg(ColorGreen).Bold(true)
	WaitingStyle = fg(ColorYellow).Bold(true)
	IdleStyle = fg(ColorComment)
	DoneStyle = fg(ColorCyan)
	ErrIndStyle = fg(ColorRed).Bold(true)

	MenuBarStyle = fg(ColorText).Background(ColorSurface).Padding(0, 1)
	MenuKeyStyle = fg(ColorAccent).Bold(true)
	MenuDescStyle = fg(ColorText)
	MenuSeparatorStyle = fg(ColorBorder)

	DialogBoxStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorPurple).Padding(1, 2)
	DialogTitleStyle = fg(ColorPurple).Bold(true)
	SearchBoxStyle = panel.BorderForeground(ColorAccent)

	EventTimeStyle = fg(ColorComment)
	EventKindStyle = fg(ColorPurple).Bold(true)
	EventSessStyle = fg(ColorCyan)

	rebuildAgentLooks()
}

// SetAgentOverrides merges [agents] config entries into the badge tables.
// Custom agents get their configured icon and color; built-ins can be
// recolored the same way.
func SetAgentOverrides(defs map[string]config.AgentDef) {
	themeMu.Lock()
	defer themeMu.Unlock()
	agentDefs = defs
	rebuildAgentLooks()
}

func rebuildAgentLooks() {
	agentLooks = map[string]agentLook{
		"claude":   {IconClaude, lipgloss.NewStyle().Foreground(ColorOrange)},
		"gemini":   {IconGemini, lipgloss.NewStyle().Foreground(ColorPurple)},
		"codex":    {IconCodex, lipgloss.NewStyle().Foreground(ColorCyan)},
		"opencode": {IconOpenCode, lipgloss.NewStyle().Foreground(ColorText)},
		"aider":    {"🔧", lipgloss.NewStyle().Foreground(ColorRed)},
		"goose":    {"🪿", lipgloss.NewStyle().Foreground(ColorGreen)},
		"cursor":   {"📝", lipgloss.NewStyle().Foreground(ColorAccent)},
	}
	agentDefault = agentLook{IconShell, lipgloss.NewStyle().Foreground(ColorTextDim)}

	for name, def := range agentDefs {
		look, ok := agentLooks[name]
		if !ok {
			look = agentDefault
		}
		if def.Icon != "" {
			look.icon = def.Icon
		}
		if def.Color != "" {
			look.style = lipgloss.NewStyle().Foreground(lipgloss.Color(def.Color))
		}
		agentLooks[name] = look
	}
}

// AgentIcon returns the badge icon for an agent type.
func AgentIcon(agent string) string {
	themeMu.RLock()
	defer themeMu.RUnlock()
	if look, ok := agentLooks[agent]; ok {
		return look.icon
	}
	return agentDefault.icon
}

// AgentStyle returns the badge style for an agent type.
func AgentStyle(agent string) lipgloss.Style {
	themeMu.RLock()
	defer themeMu.RUnlock()
	if look, ok := agentLooks[agent]; ok {
		return look.style
	}
	return agentDefault.style
}

// MenuKey formats one menu-bar entry as "key • description".
func MenuKey(key, description string) string {
	sep := MenuSeparatorStyle.Render(" • ")
	return MenuKeyStyle.Render(key) + sep + MenuDescStyle.Render(description)
}

// StatusIndicator returns a styled status glyph.
// Standard symbols: ● running, ◐ waiting, ○ idle, ✓ done, ✕ error
func StatusIndicator(status string) string {
	themeMu.RLock()
	defer themeMu.RUnlock()
	switch status {
	case "running":
		return RunningStyle.Render("●")
	case "waiting":
		return WaitingStyle.Render("◐")
	case "done":
		return DoneStyle.Render("✓")
	case "error":
		return ErrIndStyle.Render("✕")
	default:
		return IdleStyle.Render("○")
	}
}

// centerInScreen centers modal content in the terminal.
func centerInScreen(content string, screenWidth, screenHeight int) string {
	return lipgloss.Place(screenWidth, screenHeight, lipgloss.Center, lipgloss.Center, content)
}
