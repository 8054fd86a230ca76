package web

import (
	"context"
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/example/cita-sniper/internal/config"
	"github.com/example/cita-sniper/internal/monitor"
	"github.com/example/cita-sniper/internal/queue"
)

//go:embed templates/*.html
var fs embed.FS

// Server is the operator surface: health, metrics, stats, and a
// session-protected queue page. Applicant-facing traffic never comes
// through here.
type Server struct {
	Monitor *monitor.Monitor
	Queue   *queue.Repo
	Cfg     config.Config
	Log     zerolog.Logger

	auth *auth
}

type pageData struct {
	Title        string
	Flash        string
	Stats        monitor.Stats
	Entries      []queue.Entry
	Reservations []queue.Reservation
}

func (s *Server) Routes() http.Handler {
	if s.auth == nil {
		s.auth = newAuth(s.Cfg)
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/stats", s.handleStats)

	mux.HandleFunc("/login", s.handleLogin)
	mux.Handle("/", s.auth.require(http.HandlerFunc(s.handleQueue)))

	return mux
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	waiting, err := s.Queue.CountWaiting(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := struct {
		Monitor monitor.Stats `json:"monitor"`
		Waiting int           `json:"queue_waiting"`
	}{s.Monitor.Stats(), waiting}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Queue.List(r.Context(), 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	reservations, err := s.Queue.Reservations(r.Context(), 20)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.render(w, "templates/queue.html", pageData{
		Title:        "Queue",
		Stats:        s.Monitor.Stats(),
		Entries:      entries,
		Reservations: reservations,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.render(w, "templates/login.html", pageData{Title: "Login"})
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !s.auth.check(r.FormValue("password")) {
			s.render(w, "templates/login.html", pageData{Title: "Login", Flash: "Invalid password"})
			return
		}
		if err := s.auth.setSession(w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, "/", http.StatusFound)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) render(w http.ResponseWriter, name string, data pageData) {
	t, err := template.ParseFS(fs, name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.Execute(w, data); err != nil {
		s.Log.Error().Err(err).Str("template", name).Msg("render failed")
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	case err := <-errCh:
		return err
	}
}
