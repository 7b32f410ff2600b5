package tmux

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNoServer is returned by lifecycle operations that need a running
// tmux server. Snapshot never returns it; an absent server is an empty
// snapshot there.
var ErrNoServer = errors.New("tmux server not running")

// IsAvailable reports whether the tmux binary can be executed at all.
func IsAvailable() error {
	if err := exec.Command("tmux", "-V").Run(); err != nil {
		return fmt.Errorf("tmux not found in PATH: %w", err)
	}
	return nil
}

// NewSession creates a detached session. dir sets the starting directory
// and command replaces the default shell; both are optional.
func (p *Probe) NewSession(ctx context.Context, name, dir, command string) error {
	args := []string{"new-session", "-d", "-s", name}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	if command != "" {
		args = append(args, command)
	}
	if _, err := p.run(ctx, args...); err != nil {
		if strings.Contains(err.Error(), "duplicate session") {
			return fmt.Errorf("session %q already exists", name)
		}
		return err
	}
	// The server is definitely up now.
	p.mu.Lock()
	p.downUntil = p.now()
	p.mu.Unlock()
	return nil
}

// KillSession terminates a session. Returns false without error when the
// session does not exist.
func (p *Probe) KillSession(ctx context.Context, name string) (bool, error) {
	if _, err := p.run(ctx, "kill-session", "-t", "="+name); err != nil {
		if isServerDown(err) {
			return false, ErrNoServer
		}
		if strings.Contains(err.Error(), "can't find session") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RenameSession renames a session. Returns false without error when the
// source session does not exist.
func (p *Probe) RenameSession(ctx context.Context, oldName, newName string) (bool, error) {
	if _, err := p.run(ctx, "rename-session", "-t", "="+oldName, newName); err != nil {
		if isServerDown(err) {
			return false, ErrNoServer
		}
		if strings.Contains(err.Error(), "can't find session") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// HasSession reports whether a session with exactly this name exists.
func (p *Probe) HasSession(ctx context.Context, name string) bool {
	_, err := p.run(ctx, "has-session", "-t", "="+name)
	return err == nil
}

// AttachCommand builds the attach invocation for handing the terminal
// over to tmux, either through tea.Exec or a PTY.
func AttachCommand(name string) *exec.Cmd {
	return exec.Command("tmux", "attach-session", "-t", "="+name)
}
