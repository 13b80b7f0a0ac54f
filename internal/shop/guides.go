package shop

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/Suhaibinator/SDispatch/pkg/dispatch"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gopkg.in/yaml.v3"
)

//go:embed guides/*.md
var guideFS embed.FS

var frontMatterDelim = []byte("---")

// Guide is a markdown page rendered to HTML.
type Guide struct {
	Slug    string `yaml:"-"`
	Title   string `yaml:"title"`
	Summary string `yaml:"summary"`
	Order   int    `yaml:"order"`

	HTML template.HTML `yaml:"-"`
}

// LoadGuides renders every .md file in dir of fsys. The slug of a guide is its file name
// without the extension.
func LoadGuides(fsys fs.FS, dir string) ([]Guide, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))

	paths, err := fs.Glob(fsys, path.Join(dir, "*.md"))
	if err != nil {
		return nil, err
	}

	guides := make([]Guide, 0, len(paths))
	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read guide %s: %w", p, err)
		}

		g, body, err := parseFrontMatter(data)
		if err != nil {
			return nil, fmt.Errorf("guide %s: %w", p, err)
		}
		g.Slug = strings.TrimSuffix(path.Base(p), ".md")
		if g.Title == "" {
			g.Title = g.Slug
		}

		var buf bytes.Buffer
		if err := md.Convert(body, &buf); err != nil {
			return nil, fmt.Errorf("render guide %s: %w", p, err)
		}
		g.HTML = template.HTML(buf.String())
		guides = append(guides, g)
	}

	sort.SliceStable(guides, func(i, j int) bool {
		if guides[i].Order != guides[j].Order {
			return guides[i].Order < guides[j].Order
		}
		return guides[i].Slug < guides[j].Slug
	})
	return guides, nil
}

// parseFrontMatter splits an optional YAML block delimited by --- lines off the markdown.
func parseFrontMatter(data []byte) (Guide, []byte, error) {
	var g Guide
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	if !bytes.HasPrefix(data, frontMatterDelim) {
		return g, data, nil
	}

	rest := data[len(frontMatterDelim):]
	end := bytes.Index(rest, append([]byte("\n"), frontMatterDelim...))
	if end < 0 {
		return g, nil, errors.New("unterminated front matter")
	}
	if err := yaml.Unmarshal(rest[:end], &g); err != nil {
		return g, nil, fmt.Errorf("parse front matter: %w", err)
	}

	body := rest[end+1+len(frontMatterDelim):]
	return g, bytes.TrimLeft(body, "\r\n"), nil
}

// guidesHandler serves the guide index at the prefix and each guide below it.
// Anything else is passed down the chain.
type guidesHandler struct {
	prefix string
	guides []Guide
	bySlug map[string]int
	views  *views
}

func newGuidesHandler(prefix string, guides []Guide, v *views) *guidesHandler {
	h := &guidesHandler{prefix: prefix, guides: guides, bySlug: make(map[string]int), views: v}
	for i, g := range guides {
		h.bySlug[g.Slug] = i
	}
	return h
}

// Handle implements dispatch.Handler.
func (h *guidesHandler) Handle(req *dispatch.Request, res *dispatch.Response, next dispatch.Next) error {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return next()
	}

	rest := strings.TrimPrefix(req.Path, h.prefix)
	switch {
	case rest == "" || rest == "/":
		return h.views.render(res, http.StatusOK, "guides", "Guides", h.guides)
	case strings.HasPrefix(rest, "/"):
		i, ok := h.bySlug[strings.TrimSuffix(rest[1:], "/")]
		if !ok {
			return next()
		}
		g := h.guides[i]
		return h.views.render(res, http.StatusOK, "guide", g.Title, g)
	default:
		return next()
	}
}
