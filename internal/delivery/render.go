// Package delivery processes the durable outbound queue: claim due jobs,
// render them, hand them to a transport, and move them through the status
// state machine with bounded retries.
package delivery

import (
	"fmt"
	"strings"
	"text/template"
)

// defaultTemplate is used for jobs whose template name is empty or unknown.
// Producers put the message text under the "body" key.
const defaultTemplate = `{{.body}}`

// Renderer turns a job's template name and data into the message body.
type Renderer struct {
	templates map[string]*template.Template
	fallback  *template.Template
}

// NewRenderer parses the named templates. A job referencing a name not in the
// set falls back to the default template instead of failing the job.
func NewRenderer(templates map[string]string) (*Renderer, error) {
	r := &Renderer{
		templates: make(map[string]*template.Template, len(templates)),
		fallback:  template.Must(template.New("default").Parse(defaultTemplate)),
	}
	for name, text := range templates {
		tpl, err := template.New(name).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse template %q: %w", name, err)
		}
		r.templates[name] = tpl
	}
	return r, nil
}

func (r *Renderer) Render(name string, data map[string]string) (string, error) {
	tpl, ok := r.templates[name]
	if !ok {
		tpl = r.fallback
	}
	var sb strings.Builder
	if err := tpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %q: %w", templateName(name), err)
	}
	return sb.String(), nil
}

func templateName(name string) string {
	if name == "" {
		return "default"
	}
	return name
}
