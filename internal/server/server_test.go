package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/threadlens/internal/database"
	"github.com/TobiSchelling/threadlens/internal/projection"
	"github.com/TobiSchelling/threadlens/internal/records"
	"github.com/TobiSchelling/threadlens/internal/selection"
	"github.com/TobiSchelling/threadlens/internal/session"
)

var now = time.Date(2021, time.June, 15, 12, 0, 0, 0, time.UTC)

func testServer(t *testing.T) *Server {
	t.Helper()
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 12, 0, 0, 0, time.UTC) }
	store := records.Build([]database.Thread{
		{ID: 200, Title: "Last year", Type: "story", Score: 10, Descendants: 4, CreatedAt: day(2019, time.July, 1)},
		{ID: 300, Title: "Show HN: threadlens", Type: "story", Score: 500, Descendants: 2, CreatedAt: day(2020, time.March, 2)},
		{ID: 301, Title: "Rust in production", Type: "story", Score: 900, Descendants: 3, CreatedAt: day(2020, time.March, 5)},
		{ID: 302, Title: "Why SQLite <3", Type: "story", Score: 40, Descendants: 200, CreatedAt: day(2020, time.March, 9)},
	}, now)
	mgr := session.NewManager(store, session.WithClock(func() time.Time { return now }))

	srv, err := New(mgr, Options{Title: "Hacker News", Intro: "### Hacker News\n\nPick a thread."})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

type response struct {
	Session string           `json:"session"`
	Views   projection.Set   `json:"views"`
	Dropped []selection.Drop `json:"dropped"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var r response
	if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil {
		t.Fatalf("invalid json %q: %v", rec.Body.String(), err)
	}
	return r
}

func openSession(t *testing.T, srv *Server) response {
	t.Helper()
	rec := do(t, srv, "POST", "/api/sessions", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	return decode(t, rec)
}

func TestIndexRoute(t *testing.T) {
	srv := testServer(t)
	rec := do(t, srv, "GET", "/", "")

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"<h3>Hacker News</h3>", "data-session=", "<svg", "Stats for 2020/1", `value="2020"`} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in response body", want)
		}
	}
	if strings.Contains(body, "<?xml") {
		t.Error("inline charts should not carry the xml prolog")
	}
}

func TestIndexReusesSessionCookie(t *testing.T) {
	srv := testServer(t)

	first := do(t, srv, "GET", "/", "")
	cookies := first.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != sessionCookie {
		t.Fatalf("expected a session cookie, got %v", cookies)
	}
	id := cookies[0].Value

	do(t, srv, "POST", "/api/sessions/"+id+"/events", `{"reports":[{"origin":"scatter","kind":"point_selected","threads":[301]}]}`)

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(cookies[0])
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if n := srv.manager.Len(); n != 1 {
		t.Errorf("expected the reload to reuse its session, %d open", n)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("expected no new cookie on reload")
	}
	if !strings.Contains(rec.Body.String(), `data-session="`+id+`"`) {
		t.Error("expected the page bound to the existing session")
	}
	if !strings.Contains(rec.Body.String(), "Stats for 2020/3") {
		t.Error("expected the reload to keep the selection")
	}
}

func TestIndexReplacesExpiredSessionCookie(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: "gone"})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value == "gone" {
		t.Errorf("expected a fresh session cookie, got %v", cookies)
	}
}

func TestUnknownRoute(t *testing.T) {
	srv := testServer(t)
	rec := do(t, srv, "GET", "/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestOpenSession(t *testing.T) {
	srv := testServer(t)
	r := openSession(t, srv)

	if r.Session == "" {
		t.Fatal("expected a session id")
	}
	if r.Views.Round != 1 {
		t.Errorf("expected round 1, got %d", r.Views.Round)
	}
	if r.Views.State.Year != 2020 || r.Views.State.Month != 1 {
		t.Errorf("unexpected default state %+v", r.Views.State)
	}
	if len(r.Views.Bars) != 2 {
		t.Errorf("expected 2 bar charts, got %d", len(r.Views.Bars))
	}
}

func TestDispatchEvents(t *testing.T) {
	srv := testServer(t)
	id := openSession(t, srv).Session
	path := fmt.Sprintf("/api/sessions/%s/events", id)

	rec := do(t, srv, "POST", path, `{"reports":[{"origin":"scatter","kind":"point_selected","threads":[300]}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	r := decode(t, rec)
	if r.Views.State.Thread != 300 || r.Views.State.Month != 3 {
		t.Errorf("unexpected state %+v", r.Views.State)
	}
	votes := r.Views.Bars[0]
	if votes.Highlight != 1 || votes.Bars[votes.Highlight].ID != 300 {
		t.Errorf("expected votes highlight on 300 at 1, got %d", votes.Highlight)
	}

	// The votes chart echoes the pushed highlight back.
	rec = do(t, srv, "POST", path, `{"reports":[{"origin":"votes","kind":"point_selected","threads":[300]}]}`)
	r2 := decode(t, rec)
	if r2.Views.Round != r.Views.Round {
		t.Errorf("echo should not start a round: %d != %d", r2.Views.Round, r.Views.Round)
	}
	if len(r2.Dropped) != 1 || r2.Dropped[0].Origin != selection.ViewVotes {
		t.Errorf("expected the echo to be dropped, got %+v", r2.Dropped)
	}

	rec = do(t, srv, "GET", "/api/sessions/"+id, "")
	if got := decode(t, rec).Views.State.Thread; got != 300 {
		t.Errorf("expected committed thread 300, got %d", got)
	}
}

func TestStaleReportIsIgnored(t *testing.T) {
	srv := testServer(t)
	id := openSession(t, srv).Session

	rec := do(t, srv, "POST", "/api/sessions/"+id+"/events",
		`{"reports":[{"origin":"scatter","kind":"point_selected","threads":[300],"changed":false}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if r := decode(t, rec); r.Views.Round != 1 {
		t.Errorf("expected round 1, got %d", r.Views.Round)
	}
}

func TestEventsBadBody(t *testing.T) {
	srv := testServer(t)
	id := openSession(t, srv).Session

	for _, body := range []string{"", "{", `{"reports":"x"}`, `{"events":[]}`} {
		rec := do(t, srv, "POST", "/api/sessions/"+id+"/events", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestUnknownSession(t *testing.T) {
	srv := testServer(t)
	for _, tc := range []struct{ method, path, body string }{
		{"GET", "/api/sessions/missing", ""},
		{"DELETE", "/api/sessions/missing", ""},
		{"POST", "/api/sessions/missing/events", `{"reports":[]}`},
		{"GET", "/api/sessions/missing/views/scatter.svg", ""},
	} {
		rec := do(t, srv, tc.method, tc.path, tc.body)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestCloseSession(t *testing.T) {
	srv := testServer(t)
	id := openSession(t, srv).Session

	rec := do(t, srv, "DELETE", "/api/sessions/"+id, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	rec = do(t, srv, "GET", "/api/sessions/"+id, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after close, got %d", rec.Code)
	}
}

func TestViewSVG(t *testing.T) {
	srv := testServer(t)
	id := openSession(t, srv).Session
	do(t, srv, "POST", "/api/sessions/"+id+"/events", `{"reports":[{"origin":"scatter","kind":"point_selected","threads":[302]}]}`)

	for _, view := range []string{"scatter", "votes", "comments"} {
		rec := do(t, srv, "GET", fmt.Sprintf("/api/sessions/%s/views/%s.svg", id, view), "")
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", view, rec.Code)
			continue
		}
		if ct := rec.Header().Get("Content-Type"); ct != "image/svg+xml" {
			t.Errorf("%s: unexpected content type %q", view, ct)
		}
		body := rec.Body.String()
		if !strings.Contains(body, `data-thread="302"`) {
			t.Errorf("%s: expected thread 302 in chart", view)
		}
		if !strings.Contains(body, "Why SQLite &lt;3") {
			t.Errorf("%s: expected escaped title in chart", view)
		}
	}

	for _, file := range []string{"pie.svg", "scatter.png"} {
		rec := do(t, srv, "GET", fmt.Sprintf("/api/sessions/%s/views/%s", id, file), "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", file, rec.Code)
		}
	}
}

func TestStaticRoute(t *testing.T) {
	srv := testServer(t)
	rec := do(t, srv, "GET", "/static/style.css", "")

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "font-sans") {
		t.Error("expected CSS content")
	}
}

func TestRenderMarkdown(t *testing.T) {
	result := renderMarkdown("## Hello\n\nWorld")
	s := string(result)
	if !strings.Contains(s, "<h2>") {
		t.Errorf("expected <h2> in rendered markdown, got %q", s)
	}
	if !strings.Contains(s, "World") {
		t.Errorf("expected 'World' in rendered markdown, got %q", s)
	}
}
