package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/awmdev/awm/internal/events"
	"github.com/awmdev/awm/internal/notify"
)

// renderEventDetail shows one event in full: core fields, every payload
// key, and the notification text the current templates would produce.
func renderEventDetail(e events.Entry, templates map[string]string, width, height int) string {
	const valueWidth = 48

	var b strings.Builder
	b.WriteString(DialogTitleStyle.Render(fmt.Sprintf("Event #%d", e.ID)))
	b.WriteString("\n\n")

	writeField := func(name, value string) {
		b.WriteString("  " + MenuKeyStyle.Render(padRight(name, 9)) + " " + truncate(value, valueWidth) + "\n")
	}
	writeField("time", e.Timestamp.Format("2006-01-02 15:04:05"))
	writeField("kind", e.Kind)
	if e.Session != "" {
		writeField("session", e.Session)
	}

	if len(e.Payload) > 0 {
		b.WriteString("\n")
		b.WriteString(PanelTitle.Render("Payload"))
		b.WriteString("\n")
		keys := make([]string, 0, len(e.Payload))
		for k := range e.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeField(k, e.Payload[k])
		}
	}

	b.WriteString("\n")
	b.WriteString(DimStyle.Render("notify: ") + LastLineStyle.Render(truncate(notify.Message(templates, e), valueWidth)))
	b.WriteString("\n\n")
	b.WriteString(DimStyle.Render("t edit template · esc close"))

	return centerInScreen(DialogBoxStyle.Render(b.String()), width, height)
}
