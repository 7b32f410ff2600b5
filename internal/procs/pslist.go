package procs

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const psTimeout = 5 * time.Second

// psList shells out to ps for the full process table. Keeping args as the
// last column lets every other field parse with strings.Fields even though
// the command line itself contains spaces.
func psList(ctx context.Context) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, psTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "ps", "axo", "pid,ppid,pcpu,pmem,rss,args").Output()
	if err != nil {
		return nil, fmt.Errorf("ps listing: %w", err)
	}
	return parsePSTable(string(out)), nil
}

// parsePSTable converts ps output into records. A row is dropped only when
// its pid is unparseable; any other bad field degrades to zero so one
// mangled column cannot blank the whole table.
func parsePSTable(out string) []Record {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return nil
	}

	records := make([]Record, 0, len(lines)-1)
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		ppid, _ := strconv.Atoi(fields[1])
		cpu, _ := strconv.ParseFloat(fields[2], 64)
		mem, _ := strconv.ParseFloat(fields[3], 64)
		rss, _ := strconv.ParseInt(fields[4], 10, 64)
		args := strings.Join(fields[5:], " ")

		records = append(records, Record{
			PID:        pid,
			ParentPID:  ppid,
			Comm:       commFromArgs(args),
			Args:       args,
			CPUPercent: cpu,
			MemPercent: mem,
			RSSKb:      rss,
		})
	}
	return records
}

// commFromArgs derives the short command name from the first argv token,
// stripping any path prefix. Bracketed kernel threads pass through as-is.
func commFromArgs(args string) string {
	first := args
	if i := strings.IndexByte(args, ' '); i >= 0 {
		first = args[:i]
	}
	if strings.HasPrefix(first, "[") {
		return first
	}
	return filepath.Base(first)
}
