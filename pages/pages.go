package pages

import (
	iface "AnpdServer/interface"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

// Selection is the sidebar navigation choice.
type Selection int

const (
	Home Selection = iota
	ModelImplementation
	Exit
)

// Selections lists the sidebar entries in display order.
var Selections = []Selection{Home, ModelImplementation, Exit}

func (s Selection) String() string {
	switch s {
	case ModelImplementation:
		return "Model Implementation"
	case Exit:
		return "Exit"
	default:
		return "Home"
	}
}

// Slug is the value used in ?page= links.
func (s Selection) Slug() string {
	switch s {
	case ModelImplementation:
		return "model"
	case Exit:
		return "exit"
	default:
		return "home"
	}
}

// ParseSelection accepts a label or slug. Anything unknown is Home.
func ParseSelection(label string) Selection {
	l := strings.ToLower(strings.TrimSpace(label))
	for _, s := range Selections {
		if l == strings.ToLower(s.String()) || l == s.Slug() {
			return s
		}
	}
	return Home
}

type Branding struct {
	AppTitle     string
	Organization string
	Location     string
	Developer    string
	Department   string
	Batch        string
	Year         string
	HasLogo      bool
}

// UploadView is the result of one processed upload.
type UploadView struct {
	FileName     string
	ImageURI     template.URL
	DownloadURI  template.URL
	DownloadName string
	MIME         string
	Detections   []iface.Result
}

type Data struct {
	Selection Selection
	Branding  Branding
	// Tab is "image" or "camera" on the model page.
	Tab       string
	Upload    *UploadView
	Error     string
	Confirmed bool
}

// Nav is used by the sidebar template.
func (d Data) Nav() []Selection { return Selections }

type Renderer interface {
	Render(w io.Writer, data Data) error
}

type RendererFunc func(w io.Writer, data Data) error

func (f RendererFunc) Render(w io.Writer, data Data) error { return f(w, data) }

// Router runs exactly one renderer per selection.
type Router struct {
	Home  Renderer
	Model Renderer
	Exit  Renderer
}

func (r *Router) Render(w io.Writer, sel Selection, data Data) error {
	data.Selection = sel
	switch sel {
	case ModelImplementation:
		return r.Model.Render(w, data)
	case Exit:
		return r.Exit.Render(w, data)
	default:
		return r.Home.Render(w, data)
	}
}

type templateRenderer struct {
	tmpl *template.Template
}

func (t templateRenderer) Render(w io.Writer, data Data) error {
	return t.tmpl.ExecuteTemplate(w, "layout", data)
}

var funcs = template.FuncMap{
	"pct": func(f float32) string { return fmt.Sprintf("%.1f%%", f*100) },
	"px":  func(f float32) string { return fmt.Sprintf("%.0f", f) },
}

func parsePage(page string) (Renderer, error) {
	tmpl, err := template.New(page).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+page+".html")
	if err != nil {
		return nil, fmt.Errorf("parse %s page: %w", page, err)
	}
	return templateRenderer{tmpl: tmpl}, nil
}

// NewRouter builds the router over the embedded templates.
func NewRouter() (*Router, error) {
	home, err := parsePage("home")
	if err != nil {
		return nil, err
	}
	model, err := parsePage("model")
	if err != nil {
		return nil, err
	}
	exit, err := parsePage("exit")
	if err != nil {
		return nil, err
	}
	return &Router{Home: home, Model: model, Exit: exit}, nil
}
