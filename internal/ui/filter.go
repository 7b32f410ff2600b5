package ui

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// FilterPopup is the session filter prompt. The filter applies live while
// typing; Escape restores whatever was set when the popup opened.
type FilterPopup struct {
	input   textinput.Model
	visible bool
	initial string
	width   int
	height  int
}

func NewFilterPopup() FilterPopup {
	ti := textinput.New()
	ti.Placeholder = "session name..."
	ti.CharLimit = 100
	ti.Width = 38
	return FilterPopup{input: ti}
}

func (f *FilterPopup) Show(current string) {
	f.visible = true
	f.initial = current
	f.input.SetValue(current)
	f.input.CursorEnd()
	f.input.Focus()
}

func (f *FilterPopup) Hide() {
	f.visible = false
	f.input.Blur()
}

func (f *FilterPopup) IsVisible() bool {
	return f.visible
}

// Initial is the filter value at open time, for cancel.
func (f *FilterPopup) Initial() string {
	return f.initial
}

func (f *FilterPopup) Value() string {
	return f.input.Value()
}

func (f *FilterPopup) SetSize(width, height int) {
	f.width = width
	f.height = height
}

func (f *FilterPopup) Update(msg tea.Msg) tea.Cmd {
	if !f.visible {
		return nil
	}
	var cmd tea.Cmd
	f.input, cmd = f.input.Update(msg)
	return cmd
}

func (f *FilterPopup) View() string {
	if !f.visible {
		return ""
	}
	content := DialogTitleStyle.Render("Filter Sessions") + "\n\n" +
		SearchBoxStyle.Render(f.input.View()) + "\n\n" +
		DimStyle.Render("enter apply · esc cancel")
	return centerInScreen(DialogBoxStyle.Render(content), f.width, f.height)
}
