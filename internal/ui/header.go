package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Field is one labelled value in a header or result box. Fields keep the
// order they were added in.
type Field struct {
	Key   string
	Value string
}

// Header is the boxed banner printed before a command's output.
type Header struct {
	Title   string  // e.g., "MODULES"
	Command string  // e.g., "roehn devices"
	Params  []Field // e.g., {"Processor", "192.168.51.10"}
	Width   int
}

// NewHeader creates a new header sized to the terminal
func NewHeader(title, command string) *Header {
	return &Header{
		Title:   title,
		Command: command,
		Width:   GetTerminalWidth(),
	}
}

// SetWidth sets the width used for rendering
func (h *Header) SetWidth(width int) *Header {
	h.Width = width
	return h
}

// AddParam appends a parameter line; empty values are skipped.
func (h *Header) AddParam(key, value string) *Header {
	if value != "" {
		h.Params = append(h.Params, Field{Key: key, Value: value})
	}
	return h
}

// Render returns the styled header as a string
func (h *Header) Render() string {
	width := h.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	top := lipgloss.JoinVertical(lipgloss.Left,
		HeaderTitleStyle.Render(strings.ToUpper(h.Title)),
		HeaderCommandStyle.Render(h.Command),
	)

	content := top
	if len(h.Params) > 0 {
		keyWidth := fieldKeyWidth(h.Params)
		lines := make([]string, 0, len(h.Params))
		for _, p := range h.Params {
			key := HeaderParamKeyStyle.Width(keyWidth + 4).Render(p.Key + ":")
			lines = append(lines, key+HeaderParamValueStyle.Render(p.Value))
		}
		divider := RenderHorizontalDivider(max(width-6, 10), "─")
		content = lipgloss.JoinVertical(lipgloss.Left, top, divider, strings.Join(lines, "\n"))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(PrimaryColor).
		Width(width - 2).
		Render(content)
}

// String implements fmt.Stringer
func (h *Header) String() string {
	return h.Render()
}

func fieldKeyWidth(fields []Field) int {
	w := 0
	for _, f := range fields {
		if n := lipgloss.Width(f.Key); n > w {
			w = n
		}
	}
	return w
}
