package ui

import (
	"sort"
	"strings"
	"time"

	"github.com/awmdev/awm/internal/agent"
	"github.com/awmdev/awm/internal/tmux"
)

// SortMode orders the session panel. Cycled round-robin with `o`.
type SortMode int

const (
	SortNone SortMode = iota
	SortName
	SortCreated
	SortActivity
)

func (s SortMode) String() string {
	switch s {
	case SortName:
		return "name"
	case SortCreated:
		return "created"
	case SortActivity:
		return "activity"
	default:
		return "none"
	}
}

// FocusPanel is the panel receiving navigation keys.
type FocusPanel int

const (
	FocusSessions FocusPanel = iota
	FocusEvents
)

// Modal is a tagged union: at most one modal is active, and the tag decides
// which component owns the keyboard.
type Modal int

const (
	ModalNone Modal = iota
	ModalHelp
	ModalDetailedHelp
	ModalEventDetail
	ModalFilter
	ModalTemplate
)

// ViewState holds every toggle, cursor, and offset the renderer consumes.
// All mutation happens in the update loop; the renderer only reads it.
type ViewState struct {
	ShowLastLine bool
	ShowStats    bool
	AgentsOnly   bool
	ExpandAll    bool

	Sort   SortMode
	Focus  FocusPanel
	Filter string
	Modal  Modal

	SessionCursor int
	SessionOffset int
	EventCursor   int
	EventOffset   int

	Interval time.Duration

	// Per-modal sub-state. EventDetail holds the entry ID, not an index, so
	// the detail view survives a refresh that shifts the slice.
	EventDetail int64
	HelpScroll  int
}

// intervalPresets are the refresh intervals `i` cycles through.
var intervalPresets = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
}

func cycleSort(s SortMode) SortMode {
	return (s + 1) % 4
}

// cycleInterval advances to the next preset. A configured interval that is
// not a preset jumps to the next larger one.
func cycleInterval(d time.Duration) time.Duration {
	for _, p := range intervalPresets {
		if p > d {
			return p
		}
	}
	return intervalPresets[0]
}

func clampCursor(cursor, total int) int {
	if total <= 0 {
		return 0
	}
	if cursor < 0 {
		return 0
	}
	if cursor >= total {
		return total - 1
	}
	return cursor
}

// clampViewport moves the offset the minimal amount needed to keep the
// cursor line visible, then clamps it to [0, max(0, total-height)].
func clampViewport(cursor, offset, total, height int) int {
	if height <= 0 || total <= height {
		return 0
	}
	if cursor < offset {
		offset = cursor
	}
	if cursor >= offset+height {
		offset = cursor - height + 1
	}
	if max := total - height; offset > max {
		offset = max
	}
	if offset < 0 {
		offset = 0
	}
	return offset
}

// VisibleSessions applies the filter, the agents-only toggle, and the sort
// mode. Ties keep probe order (stable sort); SortNone keeps probe order
// entirely.
func VisibleSessions(sessions []tmux.Session, filter string, agentsOnly bool, identities map[string]agent.Identity, mode SortMode) []tmux.Session {
	out := make([]tmux.Session, 0, len(sessions))
	needle := strings.ToLower(strings.TrimSpace(filter))
	for _, s := range sessions {
		if needle != "" && !strings.Contains(strings.ToLower(s.Name), needle) {
			continue
		}
		if agentsOnly {
			if id, ok := identities[s.Name]; !ok || id.Type == "" {
				continue
			}
		}
		out = append(out, s)
	}

	switch mode {
	case SortName:
		sort.SliceStable(out, func(i, j int) bool {
			return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
		})
	case SortCreated:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Created.After(out[j].Created)
		})
	case SortActivity:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Activity.After(out[j].Activity)
		})
	}
	return out
}
