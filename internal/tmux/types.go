// Package tmux probes the local tmux server for the live session tree and
// performs session lifecycle operations. Snapshots are built from exactly
// two tmux invocations regardless of how many sessions exist.
package tmux

import "time"

// Session is one tmux session with its window tree. Snapshots are
// rebuilt from scratch each poll and never mutated in place.
type Session struct {
	Name        string
	WindowCount int
	Attached    bool
	Created     time.Time
	Activity    time.Time
	Windows     []Window
}

// Window groups the panes of one tmux window.
type Window struct {
	Index  int
	Name   string
	Active bool
	Panes  []Pane
}

// Pane is a single tmux pane. IdleSeconds is nil when the activity
// timestamp could not be parsed.
type Pane struct {
	Index       int
	ID          string
	PID         int
	Active      bool
	Command     string
	Path        string
	IdleSeconds *int64
}

// PanePIDs returns the root pids of every pane in the session, in window
// and pane order. These are the entry points for process subtree queries.
func (s Session) PanePIDs() []int {
	var pids []int
	for _, w := range s.Windows {
		for _, p := range w.Panes {
			if p.PID > 0 {
				pids = append(pids, p.PID)
			}
		}
	}
	return pids
}

// ActivePane returns the active pane of the session's active window.
func (s Session) ActivePane() (Pane, bool) {
	for _, w := range s.Windows {
		if !w.Active {
			continue
		}
		for _, p := range w.Panes {
			if p.Active {
				return p, true
			}
		}
	}
	return Pane{}, false
}
