// Package server exposes the clipboard history to the UI over a local HTTP
// API and pushes history changes over a websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pastemine/internal/blobstore"
	"pastemine/internal/paste"
	"pastemine/internal/service"
	"pastemine/internal/storage"
	"pastemine/pkg/types"
)

// DefaultPort is where the UI expects the daemon.
const DefaultPort = 54321

// HistoryService is the part of service.ClipboardService the API uses.
type HistoryService interface {
	Entries(ctx context.Context) ([]*types.Entry, error)
	Entry(ctx context.Context, id string) (*types.Entry, error)
	Image(ctx context.Context, id string) ([]byte, error)
	Search(ctx context.Context, keyword string) ([]*types.Entry, error)
	List(ctx context.Context, filter storage.Filter) ([]*types.Entry, error)
	SourceApps(ctx context.Context) ([]storage.AppCount, error)
	ImagesSize(ctx context.Context) (int64, error)
	SweepOrphans(ctx context.Context) (int, error)
	Paste(ctx context.Context, id string) (paste.Outcome, error)
	SetPinned(ctx context.Context, id string, pinned bool) (*types.Entry, error)
	Delete(ctx context.Context, id string) error
	ClearAll(ctx context.Context) error
	ShowRequested()
	ReportPermission(ctx context.Context, kind service.PermissionKind, granted bool) error
	RequestAccessibility(ctx context.Context) (bool, error)
	Status() service.Status
	RegisterHandler(handler service.ChangeHandler)
}

type Server struct {
	clipService HistoryService
	hub         *Hub
	pid         *pidFile
	srv         *http.Server
	config      Config
	started     time.Time
}

type Config struct {
	Port int
	// PIDPath is the daemon's PID file. Empty disables the single-instance
	// check.
	PIDPath string
}

func New(clipService HistoryService, config Config) *Server {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	s := &Server{
		clipService: clipService,
		hub:         newHub(),
		config:      config,
	}
	if config.PIDPath != "" {
		s.pid = newPIDFile(config.PIDPath)
	}
	go s.hub.run()
	clipService.RegisterHandler(s.hub)
	return s
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// The websocket outlives any request timeout.
	r.Get("/ws", s.serveWs)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))

		r.Get("/status", s.handleStatus)
		r.Route("/api", func(r chi.Router) {
			r.Route("/entries", func(r chi.Router) {
				r.Get("/", s.handleListEntries)
				r.Delete("/", s.handleClearEntries)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetEntry)
					r.Delete("/", s.handleDeleteEntry)
					r.Get("/image", s.handleGetImage)
					r.Post("/paste", s.handlePasteEntry)
					r.Post("/pin", s.handlePin(true))
					r.Delete("/pin", s.handlePin(false))
				})
			})
			r.Get("/apps", s.handleSourceApps)
			r.Post("/images/sweep", s.handleSweepImages)
			r.Post("/window/show", s.handleShowWindow)
			r.Post("/permissions", s.handlePermission)
			r.Post("/permissions/accessibility/request", s.handleRequestAccessibility)
		})
	})
	return r
}

func (s *Server) Start() error {
	if s.pid != nil {
		if err := s.pid.acquire(); err != nil {
			return err
		}
	}

	handler := s.Routes()

	// Try different addresses if one fails
	addresses := []string{
		fmt.Sprintf("localhost:%d", s.config.Port),
		fmt.Sprintf("127.0.0.1:%d", s.config.Port),
	}

	var lastErr error
	for _, addr := range addresses {
		slog.Debug("attempting to start HTTP server", "addr", addr)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			lastErr = err
			slog.Warn("failed to listen", "addr", addr, "err", err)
			continue
		}

		s.srv = &http.Server{
			Addr:              ln.Addr().String(),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.started = time.Now()
		go func() {
			if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "addr", ln.Addr(), "err", err)
			}
		}()
		slog.Info("server started", "addr", s.srv.Addr)
		return nil
	}

	s.hub.stop()
	if s.pid != nil {
		s.pid.remove()
	}
	return fmt.Errorf("failed to start server on any address: %w", lastErr)
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	if s.srv == nil {
		return ""
	}
	return s.srv.Addr
}

func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if s.srv != nil {
		if serr := s.srv.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("error shutting down server: %w", serr)
		}
	}
	s.hub.stop()
	if s.pid != nil {
		if perr := s.pid.remove(); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}

// writeError maps service errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, blobstore.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidKind), errors.Is(err, blobstore.ErrInvalidRef):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrStopped), errors.Is(err, storage.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.clipService.Status()
	size, err := s.clipService.ImagesSize(r.Context())
	if err != nil {
		slog.Warn("failed to size image store", "err", err)
		size = -1
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"time":                 time.Now().Format(time.RFC3339),
		"addr":                 s.Addr(),
		"uptime":               time.Since(s.started).Round(time.Second).String(),
		"running":              st.Running,
		"accessibility":        st.Accessibility,
		"notifications_denied": st.NotificationsDenied,
		"clients":              s.hub.count(),
		"images_bytes":         size,
	})
}

// handleListEntries serves the history newest first, narrowed by the
// optional q (keyword) and app (exact source app) query parameters.
func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		entries []*types.Entry
		err     error
	)
	switch filter := (storage.Filter{Keyword: q.Get("q"), SourceApp: q.Get("app")}); {
	case filter.SourceApp != "":
		entries, err = s.clipService.List(r.Context(), filter)
	case filter.Keyword != "":
		entries, err = s.clipService.Search(r.Context(), filter.Keyword)
	default:
		entries, err = s.clipService.Entries(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*types.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSourceApps(w http.ResponseWriter, r *http.Request) {
	apps, err := s.clipService.SourceApps(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if apps == nil {
		apps = []storage.AppCount{}
	}
	writeJSON(w, http.StatusOK, apps)
}

func (s *Server) handleSweepImages(w http.ResponseWriter, r *http.Request) {
	removed, err := s.clipService.SweepOrphans(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.clipService.Entry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	data, err := s.clipService.Image(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.Write(data)
}

func (s *Server) handlePasteEntry(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.clipService.Paste(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": outcome.String()})
}

func (s *Server) handlePin(pinned bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, err := s.clipService.SetPinned(r.Context(), chi.URLParam(r, "id"), pinned)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.clipService.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearEntries(w http.ResponseWriter, r *http.Request) {
	if err := s.clipService.ClearAll(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleShowWindow(w http.ResponseWriter, r *http.Request) {
	s.clipService.ShowRequested()
	w.WriteHeader(http.StatusNoContent)
}

type permissionRequest struct {
	Kind    service.PermissionKind `json:"kind"`
	Granted bool                   `json:"granted"`
}

func (s *Server) handlePermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	switch req.Kind {
	case service.PermissionAccessibility, service.PermissionNotifications:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown permission %q", req.Kind)})
		return
	}
	if err := s.clipService.ReportPermission(r.Context(), req.Kind, req.Granted); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRequestAccessibility(w http.ResponseWriter, r *http.Request) {
	granted, err := s.clipService.RequestAccessibility(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"granted": granted})
}
