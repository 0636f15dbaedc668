package adapthttp

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"go.uber.org/zap"
)

//go:embed web/templates/*.html
var templateFS embed.FS

//go:embed web/static
var staticFS embed.FS

var pageNames = []string{"login", "register", "dashboard", "404", "error"}

type views struct {
	pages map[string]*template.Template
}

func mustParseViews() *views {
	funcs := template.FuncMap{
		"rfc3339": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
	}
	v := &views{pages: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		t := template.Must(template.New("layout.html").Funcs(funcs).ParseFS(templateFS,
			"web/templates/layout.html", "web/templates/"+name+".html"))
		v.pages[name] = t
	}
	return v
}

func staticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "web/static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}

// pageData is what every template receives.
type pageData struct {
	Title string
	User  any
	Flash *flash
	SSO   bool
	Data  any
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	t, ok := s.views.pages[name]
	if !ok {
		s.log.Error("unknown template", zap.String("name", name))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if id, ok := IdentityFrom(r.Context()); ok && data.User == nil {
		data.User = id.User
	}
	if data.Flash == nil {
		data.Flash = s.popFlash(w, r)
	}
	data.SSO = s.cfg.SSO != nil

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		s.log.Error("render template", zap.String("name", name), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// internalError renders the 500 page, or JSON for API requests. Detail is
// only shown outside production.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	detail := ""
	if !s.cfg.Production && err != nil {
		detail = err.Error()
	}
	if isAPI(r) {
		body := map[string]any{"error": "internal server error"}
		if detail != "" {
			body["details"] = detail
		}
		writeJSON(w, http.StatusInternalServerError, body)
		return
	}
	s.render(w, r, http.StatusInternalServerError, "error", pageData{
		Title: "Internal server error",
		Data:  map[string]string{"Message": "Internal server error", "Detail": detail},
	})
}
