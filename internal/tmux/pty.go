//go:build !windows
// +build !windows

package tmux

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// detachKey is Ctrl+Q. It is intercepted before reaching tmux so the
// attach returns to awm instead of leaving the session attached.
const detachKey = 17

// controlSeqGrace discards terminal capability replies that arrive right
// after entering raw mode, so they are not typed into the session.
const controlSeqGrace = 50 * time.Millisecond

// AttachPTY attaches the current terminal to a tmux session through a
// pty. Ctrl+Q detaches and returns nil; the standard tmux detach
// (prefix d) also returns nil.
func (p *Probe) AttachPTY(ctx context.Context, name string) error {
	if !p.HasSession(ctx, name) {
		return fmt.Errorf("session %q does not exist", name)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, "tmux", "attach-session", "-t", "="+name)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("start pty: %w", err)
	}
	defer ptmx.Close()

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	defer func() { _ = term.Restore(int(os.Stdin.Fd()), oldState) }()

	sigwinch := make(chan os.Signal, 1)
	signal.Notify(sigwinch, syscall.SIGWINCH)
	sigwinchDone := make(chan struct{})
	defer func() {
		signal.Stop(sigwinch)
		close(sigwinchDone)
	}()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-sigwinchDone:
				return
			case _, ok := <-sigwinch:
				if !ok {
					return
				}
				if ws, err := pty.GetsizeFull(os.Stdin); err == nil {
					_ = pty.Setsize(ptmx, ws)
				}
			}
		}
	}()
	// Initial size sync.
	sigwinch <- syscall.SIGWINCH

	detached := make(chan struct{})
	started := time.Now()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(os.Stdout, ptmx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 32)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			if time.Since(started) < controlSeqGrace {
				continue
			}
			if n == 1 && buf[0] == detachKey {
				close(detached)
				cancel()
				return
			}
			if _, err := ptmx.Write(buf[:n]); err != nil {
				return
			}
		}
	}()

	cmdDone := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		cmdDone <- cmd.Wait()
	}()

	select {
	case <-detached:
		return nil
	case err := <-cmdDone:
		if err != nil {
			// Exit 0 and 1 both mean a normal tmux detach.
			if exitErr, ok := err.(*exec.ExitError); ok {
				if code := exitErr.ExitCode(); code == 0 || code == 1 {
					return nil
				}
			}
			if ctx.Err() != nil {
				return nil
			}
		}
		return err
	case <-ctx.Done():
		return nil
	}
}

// AttachReadOnly attaches in tmux read-only mode without the pty layer.
// Input still reaches tmux for scrolling but cannot modify the session.
func (p *Probe) AttachReadOnly(ctx context.Context, name string) error {
	if !p.HasSession(ctx, name) {
		return fmt.Errorf("session %q does not exist", name)
	}

	cmd := exec.CommandContext(ctx, "tmux", "attach-session", "-r", "-t", "="+name)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if code := exitErr.ExitCode(); code == 0 || code == 1 {
				return nil
			}
		}
		return fmt.Errorf("attach failed: %w", err)
	}
	return nil
}
