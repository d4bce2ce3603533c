package visualize

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
)

//go:embed templates/graph.html.tmpl
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/graph.html.tmpl"))

// Layout selects how nodes are arranged on the page. "force" (the
// default, actually a single ring grouped by insertion order — true
// force-directed relaxation is left to the browser-side script to add
// later) and "radial" (grouped into concentric rings per node kind)
// are recognized; anything else falls back to "force".
type Layout string

const (
	LayoutForce  Layout = "force"
	LayoutRadial Layout = "radial"
)

func normalizeLayout(layout string) Layout {
	if Layout(layout) == LayoutRadial {
		return LayoutRadial
	}
	return LayoutForce
}

type pageData struct {
	Layout     Layout
	DataJSON   template.JS
	LayoutJSON template.JS
}

// Render writes the self-contained HTML page for g to w, with nodes
// arranged per layout ("force" or "radial", as selected by the CLI's
// --layout flag).
func Render(w io.Writer, g *Graph, layout string) error {
	dataJSON, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("visualize: marshal graph: %w", err)
	}
	l := normalizeLayout(layout)
	layoutJSON, err := json.Marshal(string(l))
	if err != nil {
		return fmt.Errorf("visualize: marshal layout: %w", err)
	}

	return pageTemplate.Execute(w, pageData{
		Layout:     l,
		DataJSON:   template.JS(dataJSON),
		LayoutJSON: template.JS(layoutJSON),
	})
}
