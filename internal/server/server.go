package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/threadlens/internal/projection"
	"github.com/TobiSchelling/threadlens/internal/render"
	"github.com/TobiSchelling/threadlens/internal/selection"
	"github.com/TobiSchelling/threadlens/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// maxBody caps event payloads.
const maxBody = 1 << 20

const sessionCookie = "threadlens_session"

// Options configures the page chrome.
type Options struct {
	Title  string
	Intro  string
	Logger *slog.Logger
}

// Server is the HTTP server for the linked views.
type Server struct {
	manager *session.Manager
	opts    Options
	logger  *slog.Logger
	pages   map[string]*template.Template
	mux     *http.ServeMux
}

// New creates a new Server.
func New(manager *session.Manager, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"scatter": func(v projection.ScatterView) template.HTML {
			return inlineSVG(func(w io.Writer) error { return render.Scatter(w, v) })
		},
		"bars": func(v projection.BarView) template.HTML {
			return inlineSVG(func(w io.Writer) error { return render.Bars(w, v) })
		},
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of the base so their blocks do not collide.
	pageNames := []string{"index.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{manager: manager, opts: opts, logger: logger, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Routes
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /api/sessions", s.handleOpen)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleViews)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleClose)
	s.mux.HandleFunc("POST /api/sessions/{id}/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/sessions/{id}/views/{file}", s.handleSVG)
}

type sessionResponse struct {
	Session string              `json:"session"`
	Views   *projection.Set     `json:"views"`
	Dropped []selection.Drop    `json:"dropped,omitempty"`
	Event   *selection.Resolved `json:"event,omitempty"`
}

// eventReport is the wire form of one source report. Changed defaults to true.
type eventReport struct {
	Origin  selection.View `json:"origin"`
	Kind    selection.Kind `json:"kind"`
	Year    int            `json:"year"`
	Threads []int64        `json:"threads"`
	Changed *bool          `json:"changed"`
}

type eventsRequest struct {
	Reports []eventReport `json:"reports"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess, err := s.pageSession(w, r)
	if err != nil {
		s.fail(w, err)
		return
	}
	title := s.opts.Title
	if title == "" {
		title = "Hacker News"
	}
	s.render(w, "index.html", map[string]any{
		"Title":   title,
		"Intro":   s.opts.Intro,
		"Session": sess.ID(),
		"Views":   sess.Views(),
	})
}

// pageSession resumes the browser's session from its cookie, or opens one.
// Reloading the page keeps the selection.
func (s *Server) pageSession(w http.ResponseWriter, r *http.Request) (*session.Session, error) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if sess, err := s.manager.Get(c.Value); err == nil {
			return sess, nil
		}
	}
	sess, err := s.manager.Open()
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID(),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess, nil
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Open()
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sessionResponse{Session: sess.ID(), Views: sess.Views()})
}

func (s *Server) handleViews(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sessionResponse{Session: sess.ID(), Views: sess.Views()})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Close(r.PathValue("id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}

	var req eventsRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "malformed event body: "+err.Error(), http.StatusBadRequest)
		return
	}

	reports := make([]selection.Report, len(req.Reports))
	for i, rep := range req.Reports {
		changed := rep.Changed == nil || *rep.Changed
		reports[i] = selection.Report{
			Origin:  rep.Origin,
			Event:   selection.Event{Kind: rep.Kind, Year: rep.Year, Threads: rep.Threads},
			Changed: changed,
		}
	}

	views, err := sess.Dispatch(r.Context(), reports)
	if err != nil {
		s.fail(w, err)
		return
	}
	res := sess.LastResolution()
	resp := sessionResponse{Session: sess.ID(), Views: views, Dropped: res.Dropped}
	if !res.Event.IsNoOp() {
		resp.Event = &res.Event
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSVG(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	name, ok := strings.CutSuffix(r.PathValue("file"), ".svg")
	if !ok {
		http.NotFound(w, r)
		return
	}

	views := sess.Views()
	var buf bytes.Buffer
	switch view := selection.View(name); view {
	case selection.ViewScatter:
		err = render.Scatter(&buf, views.Scatter)
	default:
		bar, found := views.Bar(view)
		if !found {
			http.NotFound(w, r)
			return
		}
		err = render.Bars(&buf, bar)
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, context.Canceled):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.logger.Error("request failed", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writing response", "err", err)
	}
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.logger.Error("template not found", "name", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		s.logger.Error("rendering template", "name", name, "err", err)
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// inlineSVG renders a chart for embedding in HTML, without the XML prolog.
func inlineSVG(draw func(io.Writer) error) template.HTML {
	var buf bytes.Buffer
	if err := draw(&buf); err != nil {
		return ""
	}
	out := buf.String()
	if i := strings.Index(out, "<svg"); i > 0 {
		out = out[i:]
	}
	return template.HTML(out) //nolint: gosec
}

// Serve runs the server on addr until ctx is done, closing sessions idle for
// longer than idle.
func Serve(ctx context.Context, srv *Server, manager *session.Manager, addr string, idle time.Duration) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := manager.Sweep(idle); n > 0 {
					srv.logger.Info("closed idle sessions", "count", n, "open", manager.Len())
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	srv.logger.Info("server listening", "url", "http://"+addr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
