package shop

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"github.com/Suhaibinator/SDispatch/pkg/dispatch"
)

//go:embed templates/*.html
var templateFS embed.FS

// page is the data passed to every template.
type page struct {
	Site  string
	Title string
	Data  any
}

// views holds one template set per page, each combined with the layout.
type views struct {
	site  string
	pages map[string]*template.Template
}

func loadViews(site string) (*views, error) {
	v := &views{site: site, pages: make(map[string]*template.Template)}
	for _, name := range []string{"shop", "add-product", "guides", "guide", "404"} {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		v.pages[name] = t
	}
	return v, nil
}

// render finalizes res with the named page.
func (v *views) render(res *dispatch.Response, status int, name, title string, data any) error {
	t, ok := v.pages[name]
	if !ok {
		return fmt.Errorf("unknown template %s", name)
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", page{Site: v.site, Title: title, Data: data}); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	return res.Status(status).HTML(buf.Bytes())
}
