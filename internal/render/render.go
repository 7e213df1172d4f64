// Package render projects session state into what the page displays.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"call-analysis-console/internal/models"
)

// ErrRendering marks analysis markdown that could not be turned into HTML.
var ErrRendering = errors.New("unable to render analysis")

// RenderingMessage is shown in place of an analysis that failed to render.
const RenderingMessage = "Unable to render the analysis. Please check the formatting."

// DiarizedText renders utterances as "speaker: text" lines in speech order.
func DiarizedText(utterances []models.Utterance) string {
	lines := make([]string, 0, len(utterances))
	for _, u := range utterances {
		lines = append(lines, u.Speaker+": "+u.Text)
	}
	return strings.Join(lines, "\n")
}

// Markdown converts backend-sourced markdown to HTML. Unless allowRawHTML is
// set, raw HTML in the source is dropped and the output is sanitized.
type Markdown struct {
	md           goldmark.Markdown
	policy       *bluemonday.Policy
	allowRawHTML bool
}

// NewMarkdown builds a GFM converter. extra options are applied after the
// defaults.
func NewMarkdown(allowRawHTML bool, extra ...goldmark.Option) *Markdown {
	opts := []goldmark.Option{goldmark.WithExtensions(extension.GFM)}
	if allowRawHTML {
		opts = append(opts, goldmark.WithRendererOptions(html.WithUnsafe()))
	}
	opts = append(opts, extra...)
	return &Markdown{
		md:           goldmark.New(opts...),
		policy:       bluemonday.UGCPolicy(),
		allowRawHTML: allowRawHTML,
	}
}

// Render returns safe-to-embed HTML or an error wrapping ErrRendering.
func (m *Markdown) Render(src string) (out template.HTML, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = "", fmt.Errorf("%w: %v", ErrRendering, r)
		}
	}()

	var buf bytes.Buffer
	if err := m.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRendering, err)
	}
	if m.allowRawHTML {
		return template.HTML(buf.String()), nil
	}
	return template.HTML(m.policy.SanitizeBytes(buf.Bytes())), nil
}
