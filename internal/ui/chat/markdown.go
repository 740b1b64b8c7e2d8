package chat

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
)

// noMarginStyle removes glamour's document margins so replies align
// with the transcript gutter.
const noMarginStyle = `{
	"document": {
		"margin": 0,
		"block_prefix": "",
		"block_suffix": ""
	}
}`

// mdRenderer wraps glamour for agent replies.
type mdRenderer struct {
	renderer *glamour.TermRenderer
	width    int
}

// newMarkdownRenderer builds a renderer for the given wrap width. The
// style is picked from the terminal background once at construction;
// glamour's auto style would query the terminal mid-session and leak
// OSC responses into the input stream.
func newMarkdownRenderer(width int) (*mdRenderer, error) {
	style := "light"
	if termenv.HasDarkBackground() {
		style = "dark"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath(style),
		glamour.WithStylesFromJSONBytes([]byte(noMarginStyle)),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, err
	}
	return &mdRenderer{renderer: r, width: width}, nil
}

// Render transforms markdown to styled terminal output. On render
// failure the raw text is returned so replies are never lost.
func (r *mdRenderer) Render(markdown string) string {
	if r == nil || r.renderer == nil {
		return markdown
	}
	out, err := r.renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return strings.TrimRight(out, "\n")
}
