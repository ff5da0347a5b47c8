package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru"

	"taskcal/internal/config"
	appLog "taskcal/internal/log"
	"taskcal/internal/model"
	"taskcal/internal/occurrence"
)

// Repository is the storage the API reads and writes.
type Repository interface {
	LoadTaskSet(ctx context.Context, userID string) (model.TaskSet, error)
	CreateTask(ctx context.Context, userID string, task model.Task) (model.Task, error)
	GetTask(ctx context.Context, userID, taskID string) (model.Task, error)
	UpdateTask(ctx context.Context, userID, taskID string, u model.TaskUpdate) (model.Task, error)
	DeleteTask(ctx context.Context, userID, taskID string) error
	AddException(ctx context.Context, userID, taskID string, start time.Time) error
	AddRDate(ctx context.Context, userID string, rdate model.TaskRDate) error
	SaveOverride(ctx context.Context, userID string, ov model.TaskOverride) error
	Revision() int64
}

// Server serves the occurrence API, the ICS export and the agenda page.
type Server struct {
	cfg      *config.Config
	repo     Repository
	expander *occurrence.Expander
	validate *validator.Validate
	router   *mux.Router
	loc      *time.Location

	// Expanded windows keyed by user, window, zone and repository revision.
	cache *lru.Cache

	// snapshotPath is served at /agenda.png when set.
	snapshotPath string

	now func() time.Time
}

// NewServer constructs a Server. An unknown cfg.Timezone falls back to UTC.
func NewServer(cfg *config.Config, repo Repository) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	loc, err := cfg.Location()
	if err != nil {
		appLog.Warn("unknown display timezone; using UTC", "timezone", cfg.Timezone, "err", err)
	}

	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create expansion cache: %w", err)
	}

	s := &Server{
		cfg:  cfg,
		repo: repo,
		expander: occurrence.NewExpander(occurrence.ExpanderConfig{
			MaxOccurrencesPerTask: cfg.Expansion.MaxOccurrencesPerTask,
			DefaultDuration:       cfg.Expansion.DefaultDuration(),
			DefaultLocation:       loc,
		}),
		validate:     validator.New(),
		router:       mux.NewRouter(),
		loc:          loc,
		cache:        cache,
		snapshotPath: cfg.SnapshotPath,
		now:          time.Now,
	}
	s.registerRoutes()
	return s, nil
}

// Handler returns the root handler with auth applied.
func (s *Server) Handler() http.Handler {
	h := accessLog(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return s.defaultUserMiddleware(h)
}

func (s *Server) registerRoutes() {
	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/occurrences", s.handleOccurrences).Methods(http.MethodGet)
	api.HandleFunc("/occurrences.ics", s.handleOccurrencesICS).Methods(http.MethodGet)
	api.HandleFunc("/tasks", s.handleCreateTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{taskID}", s.handleGetTask).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{taskID}", s.handleUpdateTask).Methods(http.MethodPatch)
	api.HandleFunc("/tasks/{taskID}", s.handleDeleteTask).Methods(http.MethodDelete)
	api.HandleFunc("/tasks/{taskID}/exceptions", s.handleAddException).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{taskID}/rdates", s.handleAddRDate).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{taskID}/overrides", s.handleSaveOverride).Methods(http.MethodPost)

	r.HandleFunc("/agenda", s.handleAgenda).Methods(http.MethodGet)
	r.HandleFunc("/agenda.png", s.handleSnapshot).Methods(http.MethodGet)
}

// ListenAndServe listens on cfg.Listen and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleSnapshot serves the last rendered agenda PNG from disk.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshotPath == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, s.snapshotPath)
}
