// Package agent resolves which AI agent a tmux session is running.
// Resolution is layered: an explicit per-session override always wins,
// then a memoized earlier detection, then a live process-tree scan.
package agent

import (
	"sync"

	"github.com/awmdev/awm/internal/procs"
)

// Source records which layer produced an identity.
type Source int

const (
	SourceNone Source = iota
	// SourceMeta is an explicit user-assigned agent from the meta store.
	SourceMeta
	// SourceMemo is a remembered earlier scan result.
	SourceMemo
	// SourceScan is a fresh process-tree detection.
	SourceScan
)

func (s Source) String() string {
	switch s {
	case SourceMeta:
		return "meta"
	case SourceMemo:
		return "memo"
	case SourceScan:
		return "scan"
	}
	return "none"
}

// Identity names the agent attributed to a session.
type Identity struct {
	Type           string
	MatchedCommand string
	Source         Source
}

// Resolver owns the per-session memo. The memo only ever stores live scan
// results: an explicit override is re-read from the meta store each poll,
// so removing the override falls back to detection instead of a stale copy.
type Resolver struct {
	mu   sync.Mutex
	memo map[string]Identity
}

func NewResolver() *Resolver {
	return &Resolver{memo: make(map[string]Identity)}
}

// Resolve returns the session's agent identity. metaAgent is the explicit
// override ("" when unset); scan carries the live classifier result for
// the session's panes when scanOK is true.
func (r *Resolver) Resolve(session, metaAgent string, scan procs.AgentMatch, scanOK bool) (Identity, bool) {
	if metaAgent != "" {
		return Identity{Type: metaAgent, Source: SourceMeta}, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.memo[session]; ok {
		id.Source = SourceMemo
		return id, true
	}

	if scanOK {
		id := Identity{Type: scan.Type, MatchedCommand: scan.MatchedCommand, Source: SourceScan}
		r.memo[session] = id
		return id, true
	}

	return Identity{}, false
}

// Forget drops the memo for a session. Used when the session is killed so
// a later session reusing the name starts from a clean scan.
func (r *Resolver) Forget(session string) {
	r.mu.Lock()
	delete(r.memo, session)
	r.mu.Unlock()
}

// Memoized reports whether a session currently has a remembered identity.
func (r *Resolver) Memoized(session string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.memo[session]
	return ok
}
