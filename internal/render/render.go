// Package render executes the embedded HTML page templates.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
)

// Page names
const (
	PageIndex    = "index"
	PageNewShort = "new_short"
)

//go:embed templates/*.html
var templateFS embed.FS

// Renderer holds one parsed template set per page. Every page shares the
// layout and fills its "content" block.
type Renderer struct {
	pages map[string]*template.Template
}

// New parses the embedded templates
func New() (*Renderer, error) {
	r := &Renderer{pages: make(map[string]*template.Template)}

	for _, name := range []string{PageIndex, PageNewShort} {
		t, err := template.New(name).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.pages[name] = t
	}

	return r, nil
}

// Render writes page name executed with data to w. The page is rendered into
// a buffer first so a failing template never leaves a half written response.
func (r *Renderer) Render(w io.Writer, name string, data any) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}

	_, err := buf.WriteTo(w)
	return err
}
