package procs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedLister(records []Record) Lister {
	return func(ctx context.Context) ([]Record, error) {
		return records, nil
	}
}

func newTestCache(t *testing.T, ttl time.Duration, records []Record) *Cache {
	t.Helper()
	c := NewCache(ttl, nil)
	c.list = fixedLister(records)
	return c
}

func TestAggregateSumsSubtree(t *testing.T) {
	records := []Record{
		{PID: 100, ParentPID: 1, Comm: "tmux", Args: "tmux", CPUPercent: 1.0, MemPercent: 0.5, RSSKb: 1000},
		{PID: 101, ParentPID: 100, Comm: "zsh", Args: "-zsh", CPUPercent: 2.0, MemPercent: 0.5, RSSKb: 2000},
		{PID: 102, ParentPID: 100, Comm: "claude", Args: "claude", CPUPercent: 3.0, MemPercent: 1.0, RSSKb: 3000},
	}

	c := newTestCache(t, time.Minute, records)
	got := c.Aggregate(context.Background(), []int{100})

	require.Contains(t, got, 100)
	assert.InDelta(t, 6.0, got[100].CPUPercent, 0.0001)
	assert.InDelta(t, 2.0, got[100].MemPercent, 0.0001)
	assert.Equal(t, int64(6000), got[100].RSSKb)
}

func TestAggregateOrderIndependent(t *testing.T) {
	// Children listed before their parent must still be attributed.
	records := []Record{
		{PID: 102, ParentPID: 100, CPUPercent: 3.0},
		{PID: 101, ParentPID: 100, CPUPercent: 2.0},
		{PID: 100, ParentPID: 1, CPUPercent: 1.0},
		{PID: 103, ParentPID: 101, CPUPercent: 4.0},
	}

	c := newTestCache(t, time.Minute, records)
	got := c.Aggregate(context.Background(), []int{100})

	require.Contains(t, got, 100)
	assert.InDelta(t, 10.0, got[100].CPUPercent, 0.0001)
}

func TestAggregateCycleTerminates(t *testing.T) {
	// A corrupt table where two pids claim each other as parent must not
	// loop, and each pid must be counted exactly once.
	records := []Record{
		{PID: 100, ParentPID: 101, CPUPercent: 1.0},
		{PID: 101, ParentPID: 100, CPUPercent: 2.0},
	}

	c := newTestCache(t, time.Minute, records)

	done := make(chan map[int]Stats, 1)
	go func() { done <- c.Aggregate(context.Background(), []int{100}) }()

	select {
	case got := <-done:
		require.Contains(t, got, 100)
		assert.InDelta(t, 3.0, got[100].CPUPercent, 0.0001)
	case <-time.After(2 * time.Second):
		t.Fatal("aggregate did not terminate on cyclic table")
	}
}

func TestAggregateOmitsUnknownPIDs(t *testing.T) {
	records := []Record{{PID: 100, ParentPID: 1, CPUPercent: 1.0}}

	c := newTestCache(t, time.Minute, records)
	got := c.Aggregate(context.Background(), []int{100, 9999})

	assert.Contains(t, got, 100)
	assert.NotContains(t, got, 9999)
}

func TestClassifyExactMatchWins(t *testing.T) {
	// The shell's argv mentions claude only as a path substring while a
	// deeper child is literally the codex binary. The exact name wins
	// even though the substring sits closer to the root.
	records := []Record{
		{PID: 10, ParentPID: 1, Comm: "zsh", Args: "zsh /home/u/.claude/wrapper.sh"},
		{PID: 11, ParentPID: 10, Comm: "node", Args: "node server.js"},
		{PID: 12, ParentPID: 11, Comm: "codex", Args: "codex --full-auto"},
	}

	c := newTestCache(t, time.Minute, records)
	got := c.Classify(context.Background(), []int{10})

	require.Contains(t, got, 10)
	assert.Equal(t, "codex", got[10].Type)
	assert.Equal(t, "codex", got[10].MatchedCommand)
}

func TestClassifySubstringFallback(t *testing.T) {
	records := []Record{
		{PID: 10, ParentPID: 1, Comm: "zsh", Args: "-zsh"},
		{PID: 11, ParentPID: 10, Comm: "node", Args: "node /usr/local/bin/claude --continue"},
	}

	c := newTestCache(t, time.Minute, records)
	got := c.Classify(context.Background(), []int{10})

	require.Contains(t, got, 10)
	assert.Equal(t, "claude", got[10].Type)
	assert.Contains(t, got[10].MatchedCommand, "claude")
}

func TestClassifyNearestInBreadthOrder(t *testing.T) {
	// Two exact matches in the subtree: the one fewer hops from the root
	// is reported.
	records := []Record{
		{PID: 10, ParentPID: 1, Comm: "zsh", Args: "-zsh"},
		{PID: 11, ParentPID: 10, Comm: "gemini", Args: "gemini"},
		{PID: 12, ParentPID: 11, Comm: "claude", Args: "claude"},
	}

	c := newTestCache(t, time.Minute, records)
	got := c.Classify(context.Background(), []int{10})

	require.Contains(t, got, 10)
	assert.Equal(t, "gemini", got[10].Type)
}

func TestClassifyNoAgent(t *testing.T) {
	records := []Record{
		{PID: 10, ParentPID: 1, Comm: "zsh", Args: "-zsh"},
		{PID: 11, ParentPID: 10, Comm: "vim", Args: "vim main.go"},
	}

	c := newTestCache(t, time.Minute, records)
	got := c.Classify(context.Background(), []int{10})

	assert.Empty(t, got)
}

func TestListingFailureYieldsEmptyMaps(t *testing.T) {
	calls := 0
	c := NewCache(time.Minute, nil)
	c.list = func(ctx context.Context) ([]Record, error) {
		calls++
		return nil, errors.New("ps exploded")
	}

	assert.Empty(t, c.Aggregate(context.Background(), []int{100}))
	assert.Empty(t, c.Classify(context.Background(), []int{100}))
	// The failure itself is cached for the TTL window.
	assert.Equal(t, 1, calls)
}

func TestSnapshotTTL(t *testing.T) {
	calls := 0
	c := NewCache(50*time.Millisecond, nil)
	c.list = func(ctx context.Context) ([]Record, error) {
		calls++
		return []Record{{PID: 100, ParentPID: 1, CPUPercent: 1.0}}, nil
	}

	c.Aggregate(context.Background(), []int{100})
	c.Classify(context.Background(), []int{100})
	assert.Equal(t, 1, calls, "calls within the TTL window share one listing")

	time.Sleep(80 * time.Millisecond)
	c.Aggregate(context.Background(), []int{100})
	assert.Equal(t, 2, calls, "an expired snapshot triggers one refresh")
}

func TestParsePSTable(t *testing.T) {
	out := `  PID  PPID %CPU %MEM   RSS ARGS
    1     0  0.0  0.1  9600 /sbin/init splash
  100     1  1.5  0.3 42000 tmux new-session -d
  101   100  2.0  0.5 52000 node /usr/local/bin/claude --continue
  bad   100  1.0  0.1  1000 ghost
  102   100  x.y  0.2 31000 -zsh
`

	records := parsePSTable(out)
	require.Len(t, records, 4, "unparseable pid drops the row, bad floats do not")

	byPID := make(map[int]Record, len(records))
	for _, r := range records {
		byPID[r.PID] = r
	}

	assert.Equal(t, "init", byPID[1].Comm)
	assert.Equal(t, "/sbin/init splash", byPID[1].Args)

	assert.Equal(t, 100, byPID[101].ParentPID)
	assert.Equal(t, "node", byPID[101].Comm)
	assert.InDelta(t, 2.0, byPID[101].CPUPercent, 0.0001)
	assert.Equal(t, int64(52000), byPID[101].RSSKb)

	assert.Zero(t, byPID[102].CPUPercent, "bad float degrades to zero")
}

func TestCommFromArgs(t *testing.T) {
	tests := []struct {
		args string
		want string
	}{
		{"/usr/local/bin/claude --continue", "claude"},
		{"tmux new-session", "tmux"},
		{"-zsh", "-zsh"},
		{"[kworker/0:1]", "[kworker/0:1]"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, commFromArgs(tt.args), tt.args)
	}
}
