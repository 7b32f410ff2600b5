package tmux

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// captureTTL keeps pane captures for a couple of poll ticks. Only the
// selected session is captured, so this stays one subprocess per tick at
// worst.
const captureTTL = 2 * time.Second

type captureEntry struct {
	line string
	ok   bool
	at   time.Time
}

// LastLine returns the last non-blank visible line of the session's
// active pane, with escape sequences stripped. The result is cached
// briefly and concurrent captures of the same session are deduplicated.
func (p *Probe) LastLine(ctx context.Context, session string) (string, bool) {
	p.capMu.Lock()
	if e, ok := p.capCache[session]; ok && p.now().Sub(e.at) < captureTTL {
		p.capMu.Unlock()
		return e.line, e.ok
	}
	p.capMu.Unlock()

	v, _, _ := p.capSf.Do(session, func() (any, error) {
		p.capMu.Lock()
		if e, ok := p.capCache[session]; ok && p.now().Sub(e.at) < captureTTL {
			p.capMu.Unlock()
			return e, nil
		}
		p.capMu.Unlock()

		e := captureEntry{at: p.now()}
		out, err := p.run(ctx, "capture-pane", "-t", "="+session, "-p", "-J")
		if err != nil {
			probeLog.Debug("capture_failed", slog.String("session", session), slog.String("error", err.Error()))
		} else if line, ok := lastNonBlankLine(out); ok {
			e.line, e.ok = line, true
		}

		p.capMu.Lock()
		p.capCache[session] = e
		p.capMu.Unlock()
		return e, nil
	})
	e := v.(captureEntry)
	return e.line, e.ok
}

// ForgetCapture drops the cached capture for a session, typically after
// it was killed.
func (p *Probe) ForgetCapture(session string) {
	p.capMu.Lock()
	delete(p.capCache, session)
	p.capMu.Unlock()
}

func lastNonBlankLine(content string) (string, bool) {
	lines := strings.Split(content, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		clean := strings.TrimRight(StripANSI(lines[i]), " \t\r")
		if clean != "" {
			return clean, true
		}
	}
	return "", false
}
