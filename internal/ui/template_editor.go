package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sahilm/fuzzy"

	"github.com/awmdev/awm/internal/events"
	"github.com/awmdev/awm/internal/notify"
)

const maxSuggestions = 5

// TemplateEditor edits the notification template for one event kind. A
// sample event drives both the placeholder suggestions and the live
// preview, so the editor shows what an actual notification would say.
type TemplateEditor struct {
	input        textinput.Model
	visible      bool
	kind         string
	sample       events.Entry
	placeholders []string
	suggestions  []string
	width        int
	height       int
}

func NewTemplateEditor() TemplateEditor {
	ti := textinput.New()
	ti.Placeholder = "{session}: {kind}"
	ti.CharLimit = 200
	ti.Width = 50
	return TemplateEditor{input: ti}
}

// Show opens the editor for the given kind. The sample event supplies the
// placeholder names and preview values; pass a synthetic entry when no
// real event is selected.
func (t *TemplateEditor) Show(kind string, sample events.Entry, current string) {
	t.visible = true
	t.kind = kind
	t.sample = sample
	t.placeholders = notify.PlaceholderNames(notify.Keys(sample))
	t.input.SetValue(current)
	t.input.CursorEnd()
	t.input.Focus()
	t.refreshSuggestions()
}

func (t *TemplateEditor) Hide() {
	t.visible = false
	t.input.Blur()
}

func (t *TemplateEditor) IsVisible() bool {
	return t.visible
}

// Kind is the event kind whose template is being edited.
func (t *TemplateEditor) Kind() string {
	return t.kind
}

func (t *TemplateEditor) Value() string {
	return t.input.Value()
}

func (t *TemplateEditor) SetSize(width, height int) {
	t.width = width
	t.height = height
}

func (t *TemplateEditor) Update(msg tea.Msg) tea.Cmd {
	if !t.visible {
		return nil
	}
	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "tab" {
		t.complete()
		return nil
	}
	var cmd tea.Cmd
	t.input, cmd = t.input.Update(msg)
	t.refreshSuggestions()
	return cmd
}

// openBrace finds the '{' of an unterminated placeholder before the
// cursor, returning its index and the partial name typed so far.
func (t *TemplateEditor) openBrace() (int, string, bool) {
	value := t.input.Value()
	pos := t.input.Position()
	if pos > len(value) {
		pos = len(value)
	}
	head := value[:pos]
	open := strings.LastIndexByte(head, '{')
	if open < 0 || strings.ContainsRune(head[open:], '}') {
		return 0, "", false
	}
	return open, head[open+1:], true
}

func (t *TemplateEditor) refreshSuggestions() {
	_, partial, ok := t.openBrace()
	if !ok {
		t.suggestions = nil
		return
	}
	if partial == "" {
		t.suggestions = limitSuggestions(t.placeholders)
		return
	}
	matches := fuzzy.Find(partial, t.placeholders)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.Str)
	}
	t.suggestions = limitSuggestions(names)
}

func limitSuggestions(names []string) []string {
	if len(names) > maxSuggestions {
		return names[:maxSuggestions]
	}
	return names
}

// complete replaces the open placeholder with the top suggestion.
func (t *TemplateEditor) complete() {
	open, _, ok := t.openBrace()
	if !ok || len(t.suggestions) == 0 {
		return
	}
	value := t.input.Value()
	pos := t.input.Position()
	if pos > len(value) {
		pos = len(value)
	}
	name := t.suggestions[0]
	next := value[:open] + "{" + name + "}" + value[pos:]
	t.input.SetValue(next)
	t.input.SetCursor(open + len(name) + 2)
	t.refreshSuggestions()
}

func (t *TemplateEditor) View() string {
	if !t.visible {
		return ""
	}

	var b strings.Builder
	b.WriteString(DialogTitleStyle.Render("Template: " + t.kind))
	b.WriteString("\n\n")
	b.WriteString(SearchBoxStyle.Render(t.input.View()))
	b.WriteString("\n\n")

	if len(t.suggestions) > 0 {
		parts := make([]string, len(t.suggestions))
		for i, s := range t.suggestions {
			parts[i] = StatsStyle.Render("{" + s + "}")
		}
		b.WriteString(strings.Join(parts, " "))
	} else {
		b.WriteString(DimStyle.Render("placeholders: {" + strings.Join(t.placeholders, "} {") + "}"))
	}
	b.WriteString("\n\n")

	preview := notify.Expand(t.input.Value(), notify.Keys(t.sample))
	if t.input.Value() == "" {
		preview = notify.Message(map[string]string{}, t.sample)
	}
	b.WriteString(DimStyle.Render("preview: ") + LastLineStyle.Render(truncate(preview, 50)))
	b.WriteString("\n\n")
	b.WriteString(DimStyle.Render("tab complete · enter save · esc cancel"))

	return centerInScreen(DialogBoxStyle.Render(b.String()), t.width, t.height)
}
