package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/awmdev/awm/internal/config"
	"github.com/awmdev/awm/internal/tmux"
)

// actionTimeout bounds one-shot tmux lifecycle calls.
const actionTimeout = 10 * time.Second

// mergeFlags prefers the long-form value when both are set.
func mergeFlags(long, short string) string {
	if long != "" {
		return long
	}
	return short
}

// reorderArgs moves positional arguments after the flags so "new api -c
// claude" parses the same as "new -c claude api". flag.Parse stops at the
// first non-flag argument otherwise. valueFlags names the flags whose
// value is a separate argument.
func reorderArgs(args []string, valueFlags map[string]bool) []string {
	var flags []string
	var positional []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "-") {
			flags = append(flags, arg)
			if !strings.Contains(arg, "=") && valueFlags[arg] && i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, arg)
		}
	}
	return append(flags, positional...)
}

// handleNew creates a detached tmux session.
func handleNew(mgr *config.Manager, args []string) {
	fs := flag.NewFlagSet("new", flag.ExitOnError)
	dir := fs.String("dir", "", "Starting directory (defaults to the shell's)")
	dirShort := fs.String("d", "", "Starting directory (short)")
	command := fs.String("cmd", "", "Command to run instead of a shell")
	commandShort := fs.String("c", "", "Command to run (short)")
	attach := fs.Bool("attach", false, "Attach after creating")
	attachShort := fs.Bool("a", false, "Attach after creating (short)")

	fs.Usage = func() {
		fmt.Println("Usage: awm new <name> [options]")
		fmt.Println()
		fmt.Println("Create a detached tmux session.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  awm new awm-scratch")
		fmt.Println("  awm new awm-claude-api -c claude -d ~/src/api")
		fmt.Println("  awm new awm-review -a")
	}

	args = reorderArgs(args, map[string]bool{
		"-dir": true, "-d": true,
		"-cmd": true, "-c": true,
	})
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	name := fs.Arg(0)
	if name == "" {
		fmt.Fprintln(os.Stderr, "Error: session name is required")
		fmt.Println()
		fs.Usage()
		os.Exit(1)
	}

	dirVal := mergeFlags(*dir, *dirShort)
	if dirVal != "" {
		abs, err := filepath.Abs(dirVal)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to resolve directory: %v\n", err)
			os.Exit(1)
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			fmt.Fprintf(os.Stderr, "Error: not a directory: %s\n", dirVal)
			os.Exit(1)
		}
		dirVal = abs
	}

	cfg, _ := mgr.Load()
	probe := tmux.NewProbe(cfg.Probe.SessionPrefix)

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	if err := probe.NewSession(ctx, name, dirVal, mergeFlags(*command, *commandShort)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created session: %s\n", name)

	if prefix := cfg.Probe.SessionPrefix; prefix != "" && !strings.HasPrefix(name, prefix) {
		fmt.Printf("Note: name does not start with %q, so the monitor will not list it\n", prefix)
	}

	if *attach || *attachShort {
		if err := probe.AttachPTY(context.Background(), name); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	fmt.Printf("Attach with: awm attach %s\n", name)
}

// handleKill terminates a tmux session.
func handleKill(mgr *config.Manager, args []string) {
	fs := flag.NewFlagSet("kill", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Println("Usage: awm kill <name>")
		fmt.Println()
		fmt.Println("Kill a tmux session. The monitor's x key does the same thing.")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	name := fs.Arg(0)
	if name == "" {
		fmt.Fprintln(os.Stderr, "Error: session name is required")
		fmt.Println()
		fs.Usage()
		os.Exit(1)
	}

	cfg, _ := mgr.Load()
	probe := tmux.NewProbe(cfg.Probe.SessionPrefix)

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	killed, err := probe.KillSession(ctx, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !killed {
		fmt.Fprintf(os.Stderr, "Error: no such session: %s\n", name)
		os.Exit(1)
	}
	fmt.Printf("Killed session: %s\n", name)
}

// handleRename renames a tmux session, carrying its reported status along.
func handleRename(mgr *config.Manager, args []string) {
	fs := flag.NewFlagSet("rename", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Println("Usage: awm rename <old> <new>")
		fmt.Println()
		fmt.Println("Rename a tmux session. Reported status and agent override move")
		fmt.Println("to the new name.")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	oldName, newName := fs.Arg(0), fs.Arg(1)
	if oldName == "" || newName == "" {
		fmt.Fprintln(os.Stderr, "Error: old and new session names are required")
		fmt.Println()
		fs.Usage()
		os.Exit(1)
	}

	cfg, _ := mgr.Load()
	probe := tmux.NewProbe(cfg.Probe.SessionPrefix)

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	renamed, err := probe.RenameSession(ctx, oldName, newName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !renamed {
		fmt.Fprintf(os.Stderr, "Error: no such session: %s\n", oldName)
		os.Exit(1)
	}

	// Meta rows are keyed by session name; move the old one over.
	if store := openMetaStore(); store != nil {
		if m, ok, err := store.Get(oldName); err == nil && ok {
			m.Session = newName
			if err := store.Upsert(m); err == nil {
				_ = store.Delete(oldName)
			}
		}
		store.Close()
	}

	fmt.Printf("Renamed session: %s -> %s\n", oldName, newName)
}

// handleAttach hands the terminal to tmux through a PTY.
func handleAttach(mgr *config.Manager, args []string) {
	fs := flag.NewFlagSet("attach", flag.ExitOnError)
	readOnly := fs.Bool("r", false, "Read-only: view output without forwarding keys")

	fs.Usage = func() {
		fmt.Println("Usage: awm attach <name> [options]")
		fmt.Println()
		fmt.Println("Attach to a tmux session through a PTY. Detach with Ctrl+Q or")
		fmt.Println("the usual tmux prefix (C-b d).")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}

	args = reorderArgs(args, nil)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	name := fs.Arg(0)
	if name == "" {
		fmt.Fprintln(os.Stderr, "Error: session name is required")
		fmt.Println()
		fs.Usage()
		os.Exit(1)
	}

	cfg, _ := mgr.Load()
	probe := tmux.NewProbe(cfg.Probe.SessionPrefix)

	ctx := context.Background()
	if !probe.HasSession(ctx, name) {
		fmt.Fprintf(os.Stderr, "Error: no such session: %s\n", name)
		os.Exit(1)
	}

	var err error
	if *readOnly {
		err = probe.AttachReadOnly(ctx, name)
	} else {
		err = probe.AttachPTY(ctx, name)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
