package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/awmdev/awm/internal/agent"
	"github.com/awmdev/awm/internal/config"
	"github.com/awmdev/awm/internal/events"
	"github.com/awmdev/awm/internal/meta"
	"github.com/awmdev/awm/internal/procs"
	"github.com/awmdev/awm/internal/tmux"
)

// Terminal escape sequences used around tea.Exec transitions.
const (
	// Synchronized output (DEC mode 2026) batches the repaint after an
	// attach returns, avoiding a visible half-drawn frame.
	syncOutputBegin = "\x1b[?2026h"
	syncOutputEnd   = "\x1b[?2026l"
	clearScreen     = "\033[2J\033[H"
)

// warningTTL is how long an action warning stays in the footer.
const warningTTL = 5 * time.Second

type (
	tickMsg     time.Time
	snapshotMsg struct {
		snap Snapshot
		warn string
	}
	eventMsg      events.Entry
	attachDoneMsg struct{ err error }
	actionDoneMsg struct {
		action  string
		session string
		err     error
	}
	themeChangedMsg bool
)

// ConfigReloadedMsg is sent into the program when the config file changes
// on disk.
type ConfigReloadedMsg struct {
	Config *config.Config
}

// Collaborators are the data sources a monitor polls. Meta may be nil when
// the store failed to open; everything else is required.
type Collaborators struct {
	Probe    *tmux.Probe
	Forest   *procs.Cache
	Resolver *agent.Resolver
	Meta     *meta.Store
	Buffer   *events.Buffer
	Config   *config.Manager
}

// Monitor is the interactive TUI model. All state mutation happens in
// Update; commands run collaborator calls off-loop and report back as
// messages.
type Monitor struct {
	ctx context.Context
	col Collaborators

	state ViewState
	snap  Snapshot

	filter FilterPopup
	editor TemplateEditor
	// templateReturn is the modal to restore when the template editor
	// closes, so opening it from the event detail goes back there.
	templateReturn Modal

	width  int
	height int

	refreshing    bool
	refreshQueued bool
	isAttaching   atomic.Bool

	warning     string
	warningTime time.Time

	eventCh     <-chan events.Entry
	unsubscribe func()
	theme       *ThemeWatcher
}

// DefaultViewState seeds the toggles and interval from config.
func DefaultViewState(cfg *config.Config) ViewState {
	return ViewState{
		ShowLastLine: cfg.UI.GetShowLastLine(),
		ShowStats:    cfg.UI.ShowStats,
		AgentsOnly:   cfg.UI.AgentsOnly,
		ExpandAll:    cfg.UI.ExpandAll,
		Interval:     cfg.UI.GetRefreshInterval(),
	}
}

// NewMonitor builds the TUI model. The context bounds every subprocess
// call the monitor issues.
func NewMonitor(ctx context.Context, col Collaborators) *Monitor {
	cfg := col.Config.Current()

	m := &Monitor{
		ctx:    ctx,
		col:    col,
		state:  DefaultViewState(cfg),
		filter: NewFilterPopup(),
		editor: NewTemplateEditor(),
	}
	m.eventCh, m.unsubscribe = col.Buffer.Subscribe()
	if cfg.UI.GetTheme() == "system" {
		m.theme = NewThemeWatcher(ctx)
	}
	return m
}

// Close releases the event subscription and the theme watcher. Call after
// the program exits.
func (m *Monitor) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	if m.theme != nil {
		m.theme.Close()
	}
}

func (m *Monitor) Init() tea.Cmd {
	cmds := []tea.Cmd{m.startRefresh(), m.tick(), m.listenEvents()}
	if cmd := m.listenTheme(); cmd != nil {
		cmds = append(cmds, cmd)
	}
	return tea.Batch(cmds...)
}

func (m *Monitor) tick() tea.Cmd {
	return tea.Tick(m.state.Interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// listenEvents waits for one buffer entry; re-armed on every eventMsg.
func (m *Monitor) listenEvents() tea.Cmd {
	ch := m.eventCh
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(e)
	}
}

func (m *Monitor) listenTheme() tea.Cmd {
	if m.theme == nil {
		return nil
	}
	ch := m.theme.Changes()
	return func() tea.Msg {
		isDark, ok := <-ch
		if !ok {
			return nil
		}
		return themeChangedMsg(isDark)
	}
}

// requestRefresh coalesces refresh triggers: at most one snapshot
// collection runs at a time, and triggers during a run collapse into a
// single follow-up.
func (m *Monitor) requestRefresh() tea.Cmd {
	if m.refreshing {
		m.refreshQueued = true
		return nil
	}
	return m.startRefresh()
}

func (m *Monitor) startRefresh() tea.Cmd {
	m.refreshing = true
	ctx := m.ctx
	col := m.col
	st := m.state
	return func() tea.Msg {
		snap, warn := Collect(ctx, col, st)
		return snapshotMsg{snap: snap, warn: warn}
	}
}

// Collect gathers one display snapshot: sessions, per-session process
// stats, agent identities, meta, bounded last-line fetches, and the event
// slice. Failures degrade to omissions; the returned warning is the first
// failure worth surfacing.
func Collect(ctx context.Context, col Collaborators, st ViewState) (Snapshot, string) {
	snap := Snapshot{Refreshed: time.Now()}
	warn := ""

	sessions, err := col.Probe.Snapshot(ctx)
	if err != nil {
		uiLog.Warn("session_probe_failed", slog.String("error", err.Error()))
		warn = "sessions: " + err.Error()
	}
	snap.Sessions = sessions

	metaAll := map[string]meta.Meta{}
	if col.Meta != nil {
		if all, err := col.Meta.GetAll(); err != nil {
			uiLog.Warn("meta_read_failed", slog.String("error", err.Error()))
		} else {
			metaAll = all
		}
	}
	snap.Meta = metaAll

	var pids []int
	for _, s := range sessions {
		pids = append(pids, s.PanePIDs()...)
	}
	agg := col.Forest.Aggregate(ctx, pids)
	matches := col.Forest.Classify(ctx, pids)

	snap.Stats = make(map[string]procs.Stats, len(sessions))
	snap.Identities = make(map[string]agent.Identity, len(sessions))
	for _, s := range sessions {
		var total procs.Stats
		found := false
		for _, pid := range s.PanePIDs() {
			if ps, ok := agg[pid]; ok {
				total.CPUPercent += ps.CPUPercent
				total.MemPercent += ps.MemPercent
				total.RSSKb += ps.RSSKb
				found = true
			}
		}
		if found {
			snap.Stats[s.Name] = total
		}

		var scan procs.AgentMatch
		scanOK := false
		for _, pid := range s.PanePIDs() {
			if match, ok := matches[pid]; ok {
				scan, scanOK = match, true
				break
			}
		}
		if id, ok := col.Resolver.Resolve(s.Name, metaAll[s.Name].Agent, scan, scanOK); ok {
			snap.Identities[s.Name] = id
		}
	}

	snap.LastLines = make(map[string]string)
	if st.ShowLastLine {
		vis := VisibleSessions(sessions, st.Filter, st.AgentsOnly, snap.Identities, st.Sort)
		if st.ExpandAll {
			for _, s := range vis {
				if line, ok := col.Probe.LastLine(ctx, s.Name); ok {
					snap.LastLines[s.Name] = line
				}
			}
		} else if len(vis) > 0 {
			s := vis[clampCursor(st.SessionCursor, len(vis))]
			if line, ok := col.Probe.LastLine(ctx, s.Name); ok {
				snap.LastLines[s.Name] = line
			}
		}
	}

	if col.Buffer != nil {
		snap.Events = col.Buffer.All()
	}
	return snap, warn
}

func (m *Monitor) setWarning(text string) {
	m.warning = text
	m.warningTime = time.Now()
}

func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.filter.SetSize(msg.Width, msg.Height)
		m.editor.SetSize(msg.Width, msg.Height)
		m.syncViewports()
		return m, nil

	case tickMsg:
		if m.warning != "" && time.Since(m.warningTime) > warningTTL {
			m.warning = ""
		}
		return m, tea.Batch(m.requestRefresh(), m.tick())

	case snapshotMsg:
		m.refreshing = false
		m.snap = msg.snap
		if msg.warn != "" {
			m.setWarning(msg.warn)
		}
		m.syncViewports()
		if m.refreshQueued {
			m.refreshQueued = false
			return m, m.startRefresh()
		}
		return m, nil

	case eventMsg:
		m.snap.Events = append(m.snap.Events, events.Entry(msg))
		if capacity := m.col.Buffer.Capacity(); len(m.snap.Events) > capacity {
			m.snap.Events = m.snap.Events[len(m.snap.Events)-capacity:]
		}
		// Newest-first display: keep the same entry selected when the user
		// has scrolled away from the top.
		if m.state.Focus == FocusEvents && m.state.EventCursor > 0 {
			m.state.EventCursor++
		}
		m.syncViewports()
		return m, m.listenEvents()

	case attachDoneMsg:
		if msg.err != nil {
			m.setWarning("attach: " + msg.err.Error())
		}
		return m, m.requestRefresh()

	case actionDoneMsg:
		if msg.err != nil {
			m.setWarning(msg.action + " " + msg.session + ": " + msg.err.Error())
		}
		return m, m.requestRefresh()

	case themeChangedMsg:
		if m.col.Config.Current().UI.GetTheme() == "system" {
			if bool(msg) {
				InitTheme("dark")
			} else {
				InitTheme("light")
			}
		}
		return m, m.listenTheme()

	case ConfigReloadedMsg:
		return m, m.applyConfig(msg.Config)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// applyConfig folds a hot-reloaded config into the running view.
func (m *Monitor) applyConfig(cfg *config.Config) tea.Cmd {
	if cfg == nil {
		return nil
	}
	m.state.Interval = cfg.UI.GetRefreshInterval()
	SetAgentOverrides(cfg.Agents)
	if cfg.UI.GetTheme() != "system" {
		InitTheme(cfg.UI.GetTheme())
	}
	uiLog.Info("config_reloaded", slog.String("theme", cfg.UI.GetTheme()),
		slog.Duration("interval", m.state.Interval))
	return m.requestRefresh()
}

// syncViewports re-clamps cursors and recomputes scroll offsets with the
// same helpers the renderer uses, so render never has to mutate state.
func (m *Monitor) syncViewports() {
	if m.width == 0 || m.height == 0 {
		return
	}
	lay := layoutFor(m.width, m.height)

	vis := VisibleSessions(m.snap.Sessions, m.state.Filter, m.state.AgentsOnly, m.snap.Identities, m.state.Sort)
	m.state.SessionCursor = clampCursor(m.state.SessionCursor, len(vis))
	lines, cursorLine, _ := sessionLines(m.state, m.snap, lay.sessW-4)
	sessH := lay.sessH - 3
	if sessH < 1 {
		sessH = 1
	}
	m.state.SessionOffset = viewportOffset(cursorLine, m.state.SessionOffset, len(lines), sessH)

	m.state.EventCursor = clampCursor(m.state.EventCursor, len(m.snap.Events))
	evLines, evCursor := eventLines(m.state, m.snap, lay.evW-4)
	evH := lay.evH - 3
	if evH < 1 {
		evH = 1
	}
	m.state.EventOffset = viewportOffset(evCursor, m.state.EventOffset, len(evLines), evH)
}

func (m *Monitor) selectedSession() (tmux.Session, bool) {
	vis := VisibleSessions(m.snap.Sessions, m.state.Filter, m.state.AgentsOnly, m.snap.Identities, m.state.Sort)
	if len(vis) == 0 {
		return tmux.Session{}, false
	}
	return vis[clampCursor(m.state.SessionCursor, len(vis))], true
}

func (m *Monitor) selectedEvent() (events.Entry, bool) {
	shown := displayedEvents(m.snap.Events)
	if len(shown) == 0 {
		return events.Entry{}, false
	}
	return shown[clampCursor(m.state.EventCursor, len(shown))], true
}

// detailEvent finds the entry the detail modal pinned by ID.
func (m *Monitor) detailEvent() (events.Entry, bool) {
	for _, e := range m.snap.Events {
		if e.ID == m.state.EventDetail {
			return e, true
		}
	}
	return events.Entry{}, false
}

func (m *Monitor) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, tea.Quit
	}

	switch m.state.Modal {
	case ModalFilter:
		return m.handleFilterKey(msg, key)
	case ModalTemplate:
		return m.handleTemplateKey(msg, key)
	case ModalHelp:
		switch key {
		case "?":
			m.state.Modal = ModalDetailedHelp
			m.state.HelpScroll = 0
		case "esc", "q", "enter":
			m.state.Modal = ModalNone
		}
		return m, nil
	case ModalDetailedHelp:
		switch key {
		case "j", "down":
			if m.state.HelpScroll < detailedHelpMaxScroll(m.height) {
				m.state.HelpScroll++
			}
		case "k", "up":
			if m.state.HelpScroll > 0 {
				m.state.HelpScroll--
			}
		case "g":
			m.state.HelpScroll = 0
		case "G":
			m.state.HelpScroll = detailedHelpMaxScroll(m.height)
		case "esc", "q":
			m.state.Modal = ModalNone
		}
		return m, nil
	case ModalEventDetail:
		switch key {
		case "esc", "q", "enter":
			m.state.Modal = ModalNone
		case "t":
			if e, ok := m.detailEvent(); ok {
				m.openTemplateEditor(e.Kind, e, ModalEventDetail)
			}
		}
		return m, nil
	}

	return m.handleNormalKey(key)
}

func (m *Monitor) handleFilterKey(msg tea.KeyMsg, key string) (tea.Model, tea.Cmd) {
	switch key {
	case "esc":
		m.state.Filter = m.filter.Initial()
		m.filter.Hide()
		m.state.Modal = ModalNone
		m.syncViewports()
		return m, nil
	case "enter":
		m.state.Filter = m.filter.Value()
		m.filter.Hide()
		m.state.Modal = ModalNone
		m.state.SessionCursor = 0
		m.syncViewports()
		return m, m.requestRefresh()
	default:
		cmd := m.filter.Update(msg)
		m.state.Filter = m.filter.Value()
		m.syncViewports()
		return m, cmd
	}
}

func (m *Monitor) handleTemplateKey(msg tea.KeyMsg, key string) (tea.Model, tea.Cmd) {
	switch key {
	case "esc":
		m.editor.Hide()
		m.state.Modal = m.templateReturn
		return m, nil
	case "enter":
		kind := m.editor.Kind()
		value := m.editor.Value()
		m.editor.Hide()
		m.state.Modal = m.templateReturn
		return m, m.saveTemplateCmd(kind, value)
	default:
		return m, m.editor.Update(msg)
	}
}

func (m *Monitor) handleNormalKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "q":
		return m, tea.Quit

	case "j", "down":
		m.moveCursor(1)
	case "k", "up":
		m.moveCursor(-1)
	case "g":
		m.setCursor(0)
	case "G":
		m.setCursor(1 << 30)

	case "tab":
		if m.state.Focus == FocusSessions {
			m.state.Focus = FocusEvents
		} else {
			m.state.Focus = FocusSessions
		}
		m.syncViewports()

	case "enter":
		if m.state.Focus == FocusSessions {
			if s, ok := m.selectedSession(); ok {
				return m, m.attachCmd(s.Name)
			}
		} else if e, ok := m.selectedEvent(); ok {
			m.state.EventDetail = e.ID
			m.state.Modal = ModalEventDetail
		}

	case "x":
		if m.state.Focus == FocusSessions {
			if s, ok := m.selectedSession(); ok {
				return m, m.killCmd(s.Name)
			}
		}

	case "d":
		if m.state.Focus == FocusSessions {
			if s, ok := m.selectedSession(); ok {
				return m, m.markDoneCmd(s.Name)
			}
		}

	case "r":
		return m, m.requestRefresh()

	case "a":
		m.state.AgentsOnly = !m.state.AgentsOnly
		m.state.SessionCursor = 0
		m.syncViewports()
	case "e":
		m.state.ExpandAll = !m.state.ExpandAll
		m.syncViewports()
		return m, m.requestRefresh()
	case "p":
		m.state.ShowLastLine = !m.state.ShowLastLine
		m.syncViewports()
		return m, m.requestRefresh()
	case "s":
		m.state.ShowStats = !m.state.ShowStats
		m.syncViewports()
	case "o":
		m.state.Sort = cycleSort(m.state.Sort)
		m.syncViewports()
	case "i":
		m.state.Interval = cycleInterval(m.state.Interval)

	case "f":
		m.filter.Show(m.state.Filter)
		m.state.Modal = ModalFilter

	case "t":
		kind := "default"
		sample := sampleEvent()
		if m.state.Focus == FocusEvents {
			if e, ok := m.selectedEvent(); ok {
				kind, sample = e.Kind, e
			}
		}
		m.openTemplateEditor(kind, sample, ModalNone)

	case "?":
		m.state.Modal = ModalHelp

	case "esc":
		m.warning = ""
	}
	return m, nil
}

func (m *Monitor) openTemplateEditor(kind string, sample events.Entry, returnTo Modal) {
	current := m.col.Config.Current().Notify.Templates[kind]
	m.templateReturn = returnTo
	m.editor.Show(kind, sample, current)
	m.state.Modal = ModalTemplate
}

// sampleEvent feeds the template editor when no real event is selected.
func sampleEvent() events.Entry {
	return events.Entry{
		ID:        1,
		Timestamp: time.Now(),
		Kind:      "status",
		Session:   "awm-claude-1",
		Payload:   map[string]string{"status": "done", "summary": "tests passing"},
	}
}

func (m *Monitor) moveCursor(delta int) {
	if m.state.Focus == FocusSessions {
		m.setCursor(m.state.SessionCursor + delta)
	} else {
		m.setCursor(m.state.EventCursor + delta)
	}
}

func (m *Monitor) setCursor(target int) {
	if m.state.Focus == FocusSessions {
		vis := VisibleSessions(m.snap.Sessions, m.state.Filter, m.state.AgentsOnly, m.snap.Identities, m.state.Sort)
		m.state.SessionCursor = clampCursor(target, len(vis))
	} else {
		m.state.EventCursor = clampCursor(target, len(m.snap.Events))
	}
	m.syncViewports()
}

func (m *Monitor) attachCmd(name string) tea.Cmd {
	m.isAttaching.Store(true)
	uiLog.Info("attach", slog.String("session", name))
	return tea.ExecProcess(tmux.AttachCommand(name), func(err error) tea.Msg {
		// Clear the guard before the message lands so View cannot race a
		// blank frame (Bubble Tea issue #431).
		m.isAttaching.Store(false)
		fmt.Print(syncOutputBegin + clearScreen + syncOutputEnd)
		return attachDoneMsg{err: err}
	})
}

func (m *Monitor) killCmd(name string) tea.Cmd {
	ctx := m.ctx
	col := m.col
	return func() tea.Msg {
		killed, err := col.Probe.KillSession(ctx, name)
		if err == nil {
			col.Resolver.Forget(name)
			col.Probe.ForgetCapture(name)
			if killed && col.Buffer != nil {
				col.Buffer.Append(events.Entry{
					Timestamp: time.Now(),
					Kind:      "killed",
					Session:   name,
				})
			}
		}
		return actionDoneMsg{action: "kill", session: name, err: err}
	}
}

func (m *Monitor) markDoneCmd(name string) tea.Cmd {
	col := m.col
	return func() tea.Msg {
		if col.Meta == nil {
			return actionDoneMsg{action: "mark-done", session: name, err: errors.New("meta store unavailable")}
		}
		err := col.Meta.SetStatus(name, "done")
		if err == nil && col.Buffer != nil {
			col.Buffer.Append(events.Entry{
				Timestamp: time.Now(),
				Kind:      "status",
				Session:   name,
				Payload:   map[string]string{"status": "done"},
			})
		}
		return actionDoneMsg{action: "mark-done", session: name, err: err}
	}
}

func (m *Monitor) saveTemplateCmd(kind, value string) tea.Cmd {
	mgr := m.col.Config
	cfg := mgr.Current()
	if cfg.Notify.Templates == nil {
		cfg.Notify.Templates = make(map[string]string)
	}
	if value == "" {
		delete(cfg.Notify.Templates, kind)
	} else {
		cfg.Notify.Templates[kind] = value
	}
	return func() tea.Msg {
		return actionDoneMsg{action: "template", session: kind, err: mgr.Save(cfg)}
	}
}

func (m *Monitor) View() string {
	// Empty frame while a tea.Exec child owns the terminal, or View leaks
	// into the attached session's screen (Bubble Tea issue #431).
	if m.isAttaching.Load() {
		return ""
	}
	if m.width == 0 {
		return "Loading..."
	}

	switch m.state.Modal {
	case ModalFilter:
		return m.filter.View()
	case ModalTemplate:
		return m.editor.View()
	case ModalHelp:
		return renderHelp(m.width, m.height)
	case ModalDetailedHelp:
		return renderDetailedHelp(m.state.HelpScroll, m.width, m.height)
	case ModalEventDetail:
		if e, ok := m.detailEvent(); ok {
			return renderEventDetail(e, m.col.Config.Current().Notify.Templates, m.width, m.height)
		}
	}

	snap := m.snap
	snap.Warning = m.warning
	return renderFrame(m.state, snap, m.width, m.height)
}
