package tmux

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProbe returns a probe whose runner answers from canned outputs
// keyed by the tmux subcommand, recording every invocation.
func scriptedProbe(prefix string, outputs map[string]string, errs map[string]error) (*Probe, *[]string) {
	var calls []string
	p := NewProbe(prefix)
	p.run = func(ctx context.Context, args ...string) (string, error) {
		calls = append(calls, args[0])
		if err, ok := errs[args[0]]; ok && err != nil {
			return "", err
		}
		return outputs[args[0]], nil
	}
	return p, &calls
}

func sessionLine(name string, windows, attached int, created, activity int64) string {
	return fmt.Sprintf("%s\t%d\t%d\t%d\t%d", name, windows, attached, created, activity)
}

func paneLine(sess string, winIdx int, winName string, winActive int, paneIdx int, id string, pid int, active int, command, path string, activity int64) string {
	return fmt.Sprintf("%s\t%d\t%s\t%d\t%d\t%s\t%d\t%d\t%s\t%s\t%d",
		sess, winIdx, winName, winActive, paneIdx, id, pid, active, command, path, activity)
}

func TestSnapshotParsesSessionTree(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	outputs := map[string]string{
		"list-sessions": strings.Join([]string{
			sessionLine("work", 2, 1, base.Unix()-3600, base.Unix()-10),
		}, "\n") + "\n",
		"list-panes": strings.Join([]string{
			paneLine("work", 0, "edit", 1, 0, "%0", 100, 1, "nvim", "/home/u/proj", base.Unix()-30),
			paneLine("work", 0, "edit", 1, 1, "%1", 101, 0, "zsh", "/home/u/proj", base.Unix()-90),
			paneLine("work", 1, "agent", 0, 0, "%2", 102, 1, "claude", "/home/u/proj", base.Unix()-5),
		}, "\n") + "\n",
	}

	p, calls := scriptedProbe("", outputs, nil)
	p.now = func() time.Time { return base }

	sessions, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, []string{"list-sessions", "list-panes"}, *calls, "exactly two tmux calls per snapshot")

	s := sessions[0]
	assert.Equal(t, "work", s.Name)
	assert.Equal(t, 2, s.WindowCount)
	assert.True(t, s.Attached)
	assert.Equal(t, base.Add(-time.Hour), s.Created)
	assert.Equal(t, base.Add(-10*time.Second), s.Activity)

	require.Len(t, s.Windows, 2)
	assert.Equal(t, "edit", s.Windows[0].Name)
	assert.True(t, s.Windows[0].Active)
	require.Len(t, s.Windows[0].Panes, 2)
	assert.Equal(t, "agent", s.Windows[1].Name)
	require.Len(t, s.Windows[1].Panes, 1)

	first := s.Windows[0].Panes[0]
	assert.Equal(t, "%0", first.ID)
	assert.Equal(t, 100, first.PID)
	assert.True(t, first.Active)
	assert.Equal(t, "nvim", first.Command)
	assert.Equal(t, "/home/u/proj", first.Path)
	require.NotNil(t, first.IdleSeconds)
	assert.Equal(t, int64(30), *first.IdleSeconds)

	assert.Equal(t, []int{100, 101, 102}, s.PanePIDs())

	active, ok := s.ActivePane()
	require.True(t, ok)
	assert.Equal(t, "%0", active.ID)
}

func TestSnapshotPrefixFilter(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	outputs := map[string]string{
		"list-sessions": strings.Join([]string{
			sessionLine("awm-claude-a1", 1, 0, base.Unix(), base.Unix()),
			sessionLine("awm-codex-b2", 1, 0, base.Unix(), base.Unix()),
			sessionLine("other-x", 1, 0, base.Unix(), base.Unix()),
		}, "\n"),
		"list-panes": strings.Join([]string{
			paneLine("awm-claude-a1", 0, "main", 1, 0, "%0", 10, 1, "claude", "/a", base.Unix()),
			paneLine("awm-codex-b2", 0, "main", 1, 0, "%1", 11, 1, "codex", "/b", base.Unix()),
			paneLine("other-x", 0, "main", 1, 0, "%2", 12, 1, "zsh", "/c", base.Unix()),
		}, "\n"),
	}

	p, _ := scriptedProbe("awm", outputs, nil)
	p.now = func() time.Time { return base }

	sessions, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "awm-claude-a1", sessions[0].Name)
	assert.Equal(t, "awm-codex-b2", sessions[1].Name)
	for _, s := range sessions {
		assert.NotEmpty(t, s.Windows, "filtered sessions keep their panes")
	}
}

func TestSnapshotNoServerIsEmptyNotError(t *testing.T) {
	p, calls := scriptedProbe("", nil, map[string]error{
		"list-sessions": errors.New("tmux list-sessions: exit status 1: no server running on /tmp/tmux-1000/default"),
	})

	sessions, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.Equal(t, 1, len(*calls))
}

func TestSnapshotCachesServerDown(t *testing.T) {
	cur := time.Unix(1_700_000_000, 0)
	p, calls := scriptedProbe("", nil, map[string]error{
		"list-sessions": errors.New("no server running"),
	})
	p.now = func() time.Time { return cur }

	_, err := p.Snapshot(context.Background())
	require.NoError(t, err)

	// Within the down window nothing is spawned.
	cur = cur.Add(time.Second)
	_, err = p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, len(*calls), "down state is served from cache")

	// Past the window tmux is consulted again.
	cur = cur.Add(2 * time.Second)
	_, err = p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, len(*calls))
}

func TestSnapshotRealFailureSurfaces(t *testing.T) {
	p, _ := scriptedProbe("", nil, map[string]error{
		"list-sessions": errors.New("tmux list-sessions: fork/exec: permission denied"),
	})

	_, err := p.Snapshot(context.Background())
	assert.Error(t, err)
}

func TestSnapshotPaneFailureDegradesToSessions(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	p, _ := scriptedProbe("",
		map[string]string{"list-sessions": sessionLine("work", 1, 0, base.Unix(), base.Unix())},
		map[string]error{"list-panes": errors.New("tmux list-panes: exit status 1: protocol mismatch")},
	)
	p.now = func() time.Time { return base }

	sessions, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Empty(t, sessions[0].Windows)
}

func TestSnapshotSkipsMalformedLines(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	outputs := map[string]string{
		"list-sessions": strings.Join([]string{
			sessionLine("good", 1, 0, base.Unix(), base.Unix()),
			"mangled line without tabs",
		}, "\n"),
		"list-panes": strings.Join([]string{
			paneLine("good", 0, "main", 1, 0, "%0", 10, 1, "zsh", "/", base.Unix()),
			"short\tline",
		}, "\n"),
	}

	p, _ := scriptedProbe("", outputs, nil)
	p.now = func() time.Time { return base }

	sessions, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Len(t, sessions[0].Windows, 1)
	assert.Len(t, sessions[0].Windows[0].Panes, 1)
}

func TestSnapshotUnparseableActivityYieldsNilIdle(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	outputs := map[string]string{
		"list-sessions": sessionLine("work", 1, 0, base.Unix(), base.Unix()),
		"list-panes":    "work\t0\tmain\t1\t0\t%0\t10\t1\tzsh\t/\tnot-a-number",
	}

	p, _ := scriptedProbe("", outputs, nil)
	p.now = func() time.Time { return base }

	sessions, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	pane := sessions[0].Windows[0].Panes[0]
	assert.Nil(t, pane.IdleSeconds)
}

func TestKillSessionMissingIsNotAnError(t *testing.T) {
	p, _ := scriptedProbe("", nil, map[string]error{
		"kill-session": errors.New("tmux kill-session: exit status 1: can't find session: gone"),
	})

	killed, err := p.KillSession(context.Background(), "gone")
	require.NoError(t, err)
	assert.False(t, killed)
}

func TestKillSessionNoServer(t *testing.T) {
	p, _ := scriptedProbe("", nil, map[string]error{
		"kill-session": errors.New("no server running"),
	})

	_, err := p.KillSession(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoServer)
}

func TestRenameSession(t *testing.T) {
	p, calls := scriptedProbe("", nil, nil)

	renamed, err := p.RenameSession(context.Background(), "old", "new")
	require.NoError(t, err)
	assert.True(t, renamed)
	assert.Equal(t, []string{"rename-session"}, *calls)
}

func TestLastLineStripsAndCaches(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	capture := "$ make test\n\x1b[32mok\x1b[0m  awm/internal/tmux  0.3s\n   \n\n"
	count := 0
	p := NewProbe("")
	p.now = func() time.Time { return base }
	p.run = func(ctx context.Context, args ...string) (string, error) {
		count++
		return capture, nil
	}

	line, ok := p.LastLine(context.Background(), "work")
	require.True(t, ok)
	assert.Equal(t, "ok  awm/internal/tmux  0.3s", line)

	p.LastLine(context.Background(), "work")
	assert.Equal(t, 1, count, "second lookup inside the TTL is served from cache")

	p.ForgetCapture("work")
	p.LastLine(context.Background(), "work")
	assert.Equal(t, 2, count)
}

func TestLastLineFailure(t *testing.T) {
	p := NewProbe("")
	p.run = func(ctx context.Context, args ...string) (string, error) {
		return "", errors.New("can't find pane")
	}

	_, ok := p.LastLine(context.Background(), "work")
	assert.False(t, ok)
}
