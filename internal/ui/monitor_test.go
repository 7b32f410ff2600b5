package ui

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awmdev/awm/internal/agent"
	"github.com/awmdev/awm/internal/config"
	"github.com/awmdev/awm/internal/events"
	"github.com/awmdev/awm/internal/procs"
	"github.com/awmdev/awm/internal/tmux"
)

func newTestMonitor(t *testing.T, buf *events.Buffer) *Monitor {
	t.Helper()
	if buf == nil {
		buf = events.New(0)
	}
	mgr := config.NewManager(filepath.Join(t.TempDir(), "config.toml"))
	_, err := mgr.Load()
	require.NoError(t, err)
	col := Collaborators{
		Probe:    tmux.NewProbe(""),
		Forest:   procs.NewCache(time.Minute, nil),
		Resolver: agent.NewResolver(),
		Buffer:   buf,
		Config:   mgr,
	}
	m := NewMonitor(context.Background(), col)
	t.Cleanup(m.Close)
	m.width, m.height = 120, 40
	return m
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestRefreshCoalescing(t *testing.T) {
	m := newTestMonitor(t, nil)

	cmd := m.requestRefresh()
	require.NotNil(t, cmd)
	assert.True(t, m.refreshing)

	// A second trigger during the run collapses into the queued flag.
	assert.Nil(t, m.requestRefresh())
	assert.Nil(t, m.requestRefresh())
	assert.True(t, m.refreshQueued)

	// Completion starts exactly one follow-up.
	_, follow := m.Update(snapshotMsg{snap: Snapshot{Refreshed: time.Now()}})
	assert.NotNil(t, follow)
	assert.False(t, m.refreshQueued)
	assert.True(t, m.refreshing)

	_, none := m.Update(snapshotMsg{snap: Snapshot{Refreshed: time.Now()}})
	assert.Nil(t, none)
	assert.False(t, m.refreshing)
}

func TestSnapshotWarningSurfaces(t *testing.T) {
	m := newTestMonitor(t, nil)
	m.refreshing = true

	m.Update(snapshotMsg{snap: Snapshot{}, warn: "sessions: tmux not found"})
	assert.Equal(t, "sessions: tmux not found", m.warning)
	assert.Contains(t, m.View(), "sessions: tmux not found")
}

func TestEscapeClosesExactlyOneModal(t *testing.T) {
	m := newTestMonitor(t, nil)

	m.state.Modal = ModalHelp
	m.Update(keyMsg("esc"))
	assert.Equal(t, ModalNone, m.state.Modal)

	// Template opened from the event detail returns there first.
	m.openTemplateEditor("status", sampleEvent(), ModalEventDetail)
	require.Equal(t, ModalTemplate, m.state.Modal)
	m.Update(keyMsg("esc"))
	assert.Equal(t, ModalEventDetail, m.state.Modal)
	m.Update(keyMsg("esc"))
	assert.Equal(t, ModalNone, m.state.Modal)
}

func TestHelpPromotesToDetailed(t *testing.T) {
	m := newTestMonitor(t, nil)

	m.Update(keyMsg("?"))
	assert.Equal(t, ModalHelp, m.state.Modal)
	m.Update(keyMsg("?"))
	assert.Equal(t, ModalDetailedHelp, m.state.Modal)
	m.Update(keyMsg("esc"))
	assert.Equal(t, ModalNone, m.state.Modal)
}

func TestTabSwitchesFocus(t *testing.T) {
	m := newTestMonitor(t, nil)

	m.Update(keyMsg("tab"))
	assert.Equal(t, FocusEvents, m.state.Focus)
	m.Update(keyMsg("tab"))
	assert.Equal(t, FocusSessions, m.state.Focus)
}

func TestNormalModeToggles(t *testing.T) {
	m := newTestMonitor(t, nil)
	m.state.SessionCursor = 2

	m.Update(keyMsg("a"))
	assert.True(t, m.state.AgentsOnly)
	assert.Equal(t, 0, m.state.SessionCursor, "agents-only resets the cursor")

	m.Update(keyMsg("s"))
	assert.True(t, m.state.ShowStats)

	m.Update(keyMsg("o"))
	assert.Equal(t, SortName, m.state.Sort)

	assert.Equal(t, 2*time.Second, m.state.Interval)
	m.Update(keyMsg("i"))
	assert.Equal(t, 5*time.Second, m.state.Interval)

	_, cmd := m.Update(keyMsg("e"))
	assert.True(t, m.state.ExpandAll)
	assert.NotNil(t, cmd, "expand-all fetches fresh data")

	m.Update(keyMsg("p"))
	assert.False(t, m.state.ShowLastLine)
}

func TestCursorNavigation(t *testing.T) {
	m := newTestMonitor(t, nil)
	m.snap.Sessions = []tmux.Session{{Name: "a"}, {Name: "b"}, {Name: "c"}}

	m.Update(keyMsg("j"))
	assert.Equal(t, 1, m.state.SessionCursor)
	m.Update(keyMsg("G"))
	assert.Equal(t, 2, m.state.SessionCursor)
	m.Update(keyMsg("j"))
	assert.Equal(t, 2, m.state.SessionCursor, "cursor clamps at the end")
	m.Update(keyMsg("g"))
	assert.Equal(t, 0, m.state.SessionCursor)
	m.Update(keyMsg("k"))
	assert.Equal(t, 0, m.state.SessionCursor, "cursor clamps at the top")
}

func TestEnterOnEventsOpensDetail(t *testing.T) {
	m := newTestMonitor(t, nil)
	m.snap.Events = []events.Entry{
		{ID: 1, Kind: "boot"},
		{ID: 2, Kind: "status"},
	}
	m.state.Focus = FocusEvents

	m.Update(keyMsg("enter"))
	assert.Equal(t, ModalEventDetail, m.state.Modal)
	assert.Equal(t, int64(2), m.state.EventDetail, "newest event sits under the cursor")
}

func TestEventMsgAppendsAndTrims(t *testing.T) {
	m := newTestMonitor(t, events.New(2))
	m.snap.Events = []events.Entry{{ID: 1}, {ID: 2}}
	m.state.Focus = FocusEvents
	m.state.EventCursor = 1

	_, cmd := m.Update(eventMsg(events.Entry{ID: 3}))
	assert.NotNil(t, cmd, "listen command re-arms")
	require.Len(t, m.snap.Events, 2, "display copy trims to buffer capacity")
	assert.Equal(t, int64(2), m.snap.Events[0].ID)
	assert.Equal(t, int64(3), m.snap.Events[1].ID)
	assert.Equal(t, 1, m.state.EventCursor, "cursor clamps after the shift")
}

func TestFilterFlow(t *testing.T) {
	m := newTestMonitor(t, nil)
	m.snap.Sessions = []tmux.Session{{Name: "alpha"}, {Name: "beta"}}

	m.Update(keyMsg("f"))
	require.Equal(t, ModalFilter, m.state.Modal)
	require.True(t, m.filter.IsVisible())

	// Typing applies the filter live.
	m.Update(keyMsg("b"))
	assert.Equal(t, "b", m.state.Filter)

	// Escape reverts to the value at open.
	m.Update(keyMsg("esc"))
	assert.Equal(t, ModalNone, m.state.Modal)
	assert.Equal(t, "", m.state.Filter)

	// Enter commits.
	m.Update(keyMsg("f"))
	m.Update(keyMsg("a"))
	_, cmd := m.Update(keyMsg("enter"))
	assert.Equal(t, "a", m.state.Filter)
	assert.Equal(t, ModalNone, m.state.Modal)
	assert.Equal(t, 0, m.state.SessionCursor)
	assert.NotNil(t, cmd)
}

func TestTemplateEditorSaveCommits(t *testing.T) {
	m := newTestMonitor(t, nil)

	m.Update(keyMsg("t"))
	require.Equal(t, ModalTemplate, m.state.Modal)
	assert.Equal(t, "default", m.editor.Kind(), "sessions focus edits the default template")

	for _, r := range "{kind}" {
		m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	_, cmd := m.Update(keyMsg("enter"))
	assert.Equal(t, ModalNone, m.state.Modal)
	require.NotNil(t, cmd)

	// The template lands in the cached config before the save runs.
	assert.Equal(t, "{kind}", m.col.Config.Current().Notify.Templates["default"])

	// Running the command persists and reports success.
	msg := cmd()
	done, ok := msg.(actionDoneMsg)
	require.True(t, ok)
	assert.NoError(t, done.err)
}

func TestViewEmptyWhileAttaching(t *testing.T) {
	m := newTestMonitor(t, nil)
	m.isAttaching.Store(true)
	assert.Equal(t, "", m.View())
}

func TestViewModalDispatch(t *testing.T) {
	m := newTestMonitor(t, nil)

	m.state.Modal = ModalHelp
	assert.Contains(t, m.View(), "Keys")

	m.state.Modal = ModalDetailedHelp
	assert.Contains(t, m.View(), "awm help")

	m.state.Modal = ModalFilter
	m.filter.SetSize(120, 40)
	m.filter.Show("")
	assert.Contains(t, m.View(), "Filter Sessions")
	m.filter.Hide()

	m.editor.SetSize(120, 40)
	m.openTemplateEditor("status", sampleEvent(), ModalNone)
	assert.Contains(t, m.View(), "Template: status")
	m.editor.Hide()

	m.snap.Events = []events.Entry{{ID: 5, Kind: "status", Timestamp: time.Now()}}
	m.state.EventDetail = 5
	m.state.Modal = ModalEventDetail
	assert.Contains(t, m.View(), "Event #5")

	// A detail pinned to an entry that fell off the ring falls back to the
	// base frame.
	m.state.EventDetail = 99
	assert.Contains(t, m.View(), "Sessions")
}

func TestWindowSizeUpdatesDimensions(t *testing.T) {
	m := newTestMonitor(t, nil)
	m.Update(tea.WindowSizeMsg{Width: 90, Height: 28})
	assert.Equal(t, 90, m.width)
	assert.Equal(t, 28, m.height)
}

func TestWarningClearsAfterTTL(t *testing.T) {
	m := newTestMonitor(t, nil)
	m.setWarning("boom")
	m.warningTime = time.Now().Add(-6 * time.Second)

	m.Update(tickMsg(time.Now()))
	assert.Equal(t, "", m.warning)
}

func TestEscDismissesWarning(t *testing.T) {
	m := newTestMonitor(t, nil)
	m.setWarning("boom")
	m.Update(keyMsg("esc"))
	assert.Equal(t, "", m.warning)
}
