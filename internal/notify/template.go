// Package notify turns agent events into human-readable notification
// text through small {placeholder} templates.
package notify

import (
	"sort"
	"strconv"
	"strings"

	"github.com/awmdev/awm/internal/events"
)

// fallbackTemplate renders events whose kind has no configured template
// and no "default" entry exists either.
const fallbackTemplate = "{session}: {kind}"

// Keys extracts every substitution value an event provides. The core
// fields win over payload keys with the same name.
func Keys(e events.Entry) map[string]string {
	keys := make(map[string]string, len(e.Payload)+4)
	for k, v := range e.Payload {
		keys[k] = v
	}
	keys["id"] = strconv.FormatInt(e.ID, 10)
	keys["kind"] = e.Kind
	keys["session"] = e.Session
	keys["time"] = e.Timestamp.Format("15:04:05")
	return keys
}

// PlaceholderNames lists the available placeholders in sorted order, for
// the template editor's suggestion list.
func PlaceholderNames(keys map[string]string) []string {
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Expand substitutes {name} tokens from keys. Unknown placeholders stay
// literal so a typo is visible in the output instead of vanishing.
func Expand(template string, keys map[string]string) string {
	var b strings.Builder
	b.Grow(len(template))

	for i := 0; i < len(template); {
		open := strings.IndexByte(template[i:], '{')
		if open < 0 {
			b.WriteString(template[i:])
			break
		}
		open += i
		close := strings.IndexByte(template[open:], '}')
		if close < 0 {
			b.WriteString(template[i:])
			break
		}
		close += open

		b.WriteString(template[i:open])
		name := template[open+1 : close]
		if val, ok := keys[name]; ok {
			b.WriteString(val)
		} else {
			b.WriteString(template[open : close+1])
		}
		i = close + 1
	}
	return b.String()
}

// Message renders an event using the configured per-kind templates,
// falling back to the "default" entry, then to the built-in template.
func Message(templates map[string]string, e events.Entry) string {
	tpl, ok := templates[e.Kind]
	if !ok || tpl == "" {
		tpl, ok = templates["default"]
		if !ok || tpl == "" {
			tpl = fallbackTemplate
		}
	}
	return Expand(tpl, Keys(e))
}
