// Package procs reconstructs the host process forest from a single ps
// listing and answers subtree-aggregation and agent-classification
// queries against it. One snapshot serves every session being watched;
// a short TTL bounds ps invocations to one per window.
package procs

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/awmdev/awm/internal/logging"
)

var forestLog = logging.ForComponent(logging.CompForest)

// DefaultTTL is how long a process snapshot stays fresh.
const DefaultTTL = 5 * time.Second

// Record is one row of the system process table.
type Record struct {
	PID        int
	ParentPID  int
	Comm       string
	Args       string
	CPUPercent float64
	MemPercent float64
	RSSKb      int64
}

// Stats is the aggregate over a pid and all of its descendants.
type Stats struct {
	PID        int
	CPUPercent float64
	MemPercent float64
	RSSKb      int64
}

// AgentMatch identifies the agent found in a pid's subtree.
type AgentMatch struct {
	Type           string
	MatchedCommand string
}

// AgentSpec maps an agent type to the binary names that identify it.
type AgentSpec struct {
	Type     string
	Binaries []string
}

// DefaultAgents returns the built-in set of recognized agent CLIs.
func DefaultAgents() []AgentSpec {
	return []AgentSpec{
		{Type: "claude", Binaries: []string{"claude"}},
		{Type: "codex", Binaries: []string{"codex"}},
		{Type: "gemini", Binaries: []string{"gemini"}},
		{Type: "opencode", Binaries: []string{"opencode"}},
		{Type: "aider", Binaries: []string{"aider"}},
		{Type: "goose", Binaries: []string{"goose"}},
		{Type: "cursor", Binaries: []string{"cursor-agent"}},
	}
}

// Lister produces the raw process table. Swappable in tests.
type Lister func(ctx context.Context) ([]Record, error)

type snapshot struct {
	children map[int][]int
	records  map[int]Record
	takenAt  time.Time
}

// Cache holds the current forest snapshot plus its expiry metadata.
// Concurrent expired requests are collapsed into one listing call.
type Cache struct {
	ttl    time.Duration
	agents []AgentSpec
	list   Lister

	mu   sync.Mutex
	snap *snapshot
	sf   singleflight.Group
}

// NewCache creates a forest cache. A ttl of zero means DefaultTTL; a nil
// agent set means DefaultAgents.
func NewCache(ttl time.Duration, agents []AgentSpec) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if agents == nil {
		agents = DefaultAgents()
	}
	return &Cache{ttl: ttl, agents: agents, list: psList}
}

// Aggregate returns, for each requested pid present in the snapshot, the
// summed cpu/mem/rss of the pid and its full transitive subtree. Pids
// missing from the table are omitted. A failed listing yields an empty map.
func (c *Cache) Aggregate(ctx context.Context, pids []int) map[int]Stats {
	snap := c.current(ctx)
	out := make(map[int]Stats, len(pids))
	for _, pid := range pids {
		if _, ok := snap.records[pid]; !ok {
			continue
		}
		out[pid] = snap.aggregate(pid)
	}
	return out
}

// Classify returns, for each requested pid whose subtree contains a known
// agent binary, the first match in breadth order from the root outward.
// Exact command-name matches are preferred over argument substrings.
func (c *Cache) Classify(ctx context.Context, pids []int) map[int]AgentMatch {
	snap := c.current(ctx)
	out := make(map[int]AgentMatch, len(pids))
	for _, pid := range pids {
		if m, ok := snap.classify(pid, c.agents); ok {
			out[pid] = m
		}
	}
	return out
}

// current returns a fresh snapshot, refreshing through singleflight when
// the TTL has lapsed. Listing failures are cached as an empty snapshot so
// a broken ps cannot trigger a call storm.
func (c *Cache) current(ctx context.Context) *snapshot {
	c.mu.Lock()
	if c.snap != nil && time.Since(c.snap.takenAt) < c.ttl {
		s := c.snap
		c.mu.Unlock()
		return s
	}
	c.mu.Unlock()

	v, _, _ := c.sf.Do("refresh", func() (any, error) {
		c.mu.Lock()
		if c.snap != nil && time.Since(c.snap.takenAt) < c.ttl {
			s := c.snap
			c.mu.Unlock()
			return s, nil
		}
		c.mu.Unlock()

		records, err := c.list(ctx)
		if err != nil {
			forestLog.Warn("process_listing_failed", slog.String("error", err.Error()))
			records = nil
		}
		s := buildSnapshot(records)
		c.mu.Lock()
		c.snap = s
		c.mu.Unlock()
		return s, nil
	})
	return v.(*snapshot)
}

func buildSnapshot(records []Record) *snapshot {
	s := &snapshot{
		children: make(map[int][]int, len(records)),
		records:  make(map[int]Record, len(records)),
		takenAt:  time.Now(),
	}
	for _, r := range records {
		s.records[r.PID] = r
	}
	// Second pass so child ordering follows the table and self-parented
	// rows (pid 0 style) don't create a self-loop edge.
	for _, r := range records {
		if r.ParentPID == r.PID {
			continue
		}
		s.children[r.ParentPID] = append(s.children[r.ParentPID], r.PID)
	}
	return s
}

// aggregate walks pid's subtree iteratively. The visited set makes the
// walk terminate even on a malformed table containing cycles.
func (s *snapshot) aggregate(pid int) Stats {
	total := Stats{PID: pid}
	visited := make(map[int]bool)
	stack := []int{pid}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[p] {
			continue
		}
		visited[p] = true
		if r, ok := s.records[p]; ok {
			total.CPUPercent += r.CPUPercent
			total.MemPercent += r.MemPercent
			total.RSSKb += r.RSSKb
		}
		stack = append(stack, s.children[p]...)
	}
	return total
}

// bfsOrder returns pid's subtree in breadth order from the root outward,
// visiting each pid at most once.
func (s *snapshot) bfsOrder(pid int) []int {
	var order []int
	visited := make(map[int]bool)
	queue := []int{pid}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if visited[p] {
			continue
		}
		visited[p] = true
		order = append(order, p)
		queue = append(queue, s.children[p]...)
	}
	return order
}

func (s *snapshot) classify(pid int, agents []AgentSpec) (AgentMatch, bool) {
	order := s.bfsOrder(pid)

	// Exact command-name match first. A wrapped invocation like
	// "node /usr/local/bin/claude" only surfaces in the substring pass.
	for _, p := range order {
		r, ok := s.records[p]
		if !ok {
			continue
		}
		comm := strings.ToLower(r.Comm)
		for _, a := range agents {
			for _, bin := range a.Binaries {
				if comm == bin {
					return AgentMatch{Type: a.Type, MatchedCommand: r.Comm}, true
				}
			}
		}
	}

	for _, p := range order {
		r, ok := s.records[p]
		if !ok {
			continue
		}
		args := strings.ToLower(r.Args)
		for _, a := range agents {
			for _, bin := range a.Binaries {
				if strings.Contains(args, bin) {
					return AgentMatch{Type: a.Type, MatchedCommand: r.Args}, true
				}
			}
		}
	}

	return AgentMatch{}, false
}
