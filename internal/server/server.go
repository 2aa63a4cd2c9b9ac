// Package server is the HTTP bridge between a view layer and the sessions
// of this process. The view layer never touches the address bar or the
// preference store itself; it dispatches actions and reads state here.
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalogsync/internal/model"
	"github.com/sells-group/catalogsync/internal/prefs"
	"github.com/sells-group/catalogsync/internal/reqcache"
	"github.com/sells-group/catalogsync/internal/search"
	"github.com/sells-group/catalogsync/internal/session"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Options configures the bridge.
type Options struct {
	// AllowedOrigins lists the CORS origins. Default: any.
	AllowedOrigins []string
}

// Server routes HTTP requests to sessions.
type Server struct {
	mgr    *session.Manager
	router chi.Router
}

// New builds the router over mgr.
func New(mgr *session.Manager, opts Options) *Server {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &Server{mgr: mgr}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Delete("/", s.handleClose)
			r.Post("/duplicate", s.handleDuplicate)
			r.Post("/actions", s.handleDispatch)
			r.Post("/reload", s.handleReload)
			r.Get("/state", s.handleState)
			r.Get("/url", s.handleURL)
			r.Post("/url/flush", s.handleFlush)
			r.Get("/cache", s.handleCache)
			r.Get("/compilation/{goalID}", s.handleCompilation)
			r.Post("/compilation/{goalID}/retry", s.handleRetry)
			r.Get("/notifications", s.handleNotifications)
			r.Post("/notifications/{nid}/trigger", s.handleTrigger)
			r.Post("/notifications/{nid}/dismiss", s.handleDismiss)
			r.Get("/goals", s.handleGoals)
			r.Get("/sets/{setID}/cost-to-complete", s.handleCostToComplete)
			r.Get("/prefs/{key}", s.handleGetPref)
			r.Put("/prefs/{key}", s.handleSetPref)
			r.Delete("/prefs/{key}", s.handleDeletePref)
		})
	})

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

type createRequest struct {
	View  model.View `json:"view"`
	Path  string     `json:"path"`
	Query string     `json:"query"`
}

type sessionResponse struct {
	ID          string             `json:"id"`
	View        model.View         `json:"view"`
	Scope       model.ScopeContext `json:"scope"`
	State       model.SearchState  `json:"state"`
	URL         string             `json:"url"`
	Fingerprint string             `json:"fingerprint"`
	CacheStatus reqcache.Status    `json:"cache_status"`
}

func describe(h *session.Handle) sessionResponse {
	fp := h.Fingerprint()
	return sessionResponse{
		ID:          h.ID(),
		View:        h.View(),
		Scope:       h.Scope(),
		State:       h.State(),
		URL:         h.Bar.URL(),
		Fingerprint: fp,
		CacheStatus: h.CacheStatus(fp),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.mgr.IDs()),
	})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": s.mgr.IDs()})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.View != "" && !req.View.Valid() {
		writeError(w, http.StatusBadRequest, eris.Errorf("unknown view %q", req.View))
		return
	}
	h, err := s.mgr.Create(req.View, req.Path, req.Query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	zap.L().Info("session created",
		zap.String("session_id", h.ID()),
		zap.String("url", h.Bar.URL()),
	)
	writeJSON(w, http.StatusCreated, describe(h))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, describe(h))
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if !s.mgr.Close(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, session.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDuplicate(w http.ResponseWriter, r *http.Request) {
	h, err := s.mgr.Duplicate(chi.URLParam(r, "id"))
	if err != nil {
		status := http.StatusInternalServerError
		if eris.Is(err, session.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, describe(h))
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	action, err := search.DecodeAction(body)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	state, err := h.Dispatch(action)
	switch {
	case eris.Is(err, search.ErrInvalidAction):
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	case eris.Is(err, session.ErrClosed):
		writeError(w, http.StatusGone, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":       state,
		"fingerprint": h.Fingerprint(),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	h.Reload()
	writeJSON(w, http.StatusAccepted, map[string]string{"fingerprint": h.Fingerprint()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.State())
}

func (s *Server) handleURL(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":     h.Bar.URL(),
		"query":   h.Bar.Query(),
		"pending": h.PendingURL(),
	})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	written := h.FlushURL()
	writeJSON(w, http.StatusOK, map[string]any{"written": written, "url": h.Bar.URL()})
}

type cacheResponse struct {
	Fingerprint string          `json:"fingerprint"`
	Status      reqcache.Status `json:"status"`
	FulfilledAt *time.Time      `json:"fulfilled_at,omitempty"`
	Compiling   bool            `json:"compiling,omitempty"`
	TotalCount  *int            `json:"total_count,omitempty"`
	Error       string          `json:"error,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	fp := r.URL.Query().Get("fingerprint")
	if fp == "" {
		fp = h.Fingerprint()
	}
	resp := cacheResponse{Fingerprint: fp, Status: reqcache.StatusNone}
	if e, found := h.Entry(fp); found {
		resp.Status = e.Status
		if !e.FulfilledAt.IsZero() {
			at := e.FulfilledAt
			resp.FulfilledAt = &at
		}
		if e.Err != nil {
			resp.Error = e.Err.Error()
		}
		if ready, isReady := e.Ready(); isReady {
			resp.Body = ready.Body
			if ready.TotalCount >= 0 {
				n := ready.TotalCount
				resp.TotalCount = &n
			}
		} else if e.Status == reqcache.StatusFulfilled {
			resp.Compiling = true
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCompilation(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	goalID, ok := intParam(w, r, "goalID")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.CompilationStatus(goalID))
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	goalID, ok := intParam(w, r, "goalID")
	if !ok {
		return
	}
	if !h.RetryNow(goalID) {
		writeError(w, http.StatusConflict, eris.Errorf("goal %d is not compiling", goalID))
		return
	}
	writeJSON(w, http.StatusAccepted, h.CompilationStatus(goalID))
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"open":   h.Notifications.Open(),
		"events": h.Notifications.Events(),
	})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if !h.Notifications.Trigger(chi.URLParam(r, "nid")) {
		writeError(w, http.StatusNotFound, eris.New("no open notification with an action"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := h.DismissMessage(chi.URLParam(r, "nid")); err != nil {
		zap.L().Warn("server: persist dismissed message", zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGoals(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	goals, err := h.Goals(r.Context())
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"goals": goals})
}

func (s *Server) handleCostToComplete(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	setID, ok := intParam(w, r, "setID")
	if !ok {
		return
	}
	body, err := h.CostToComplete(r.Context(), setID)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleGetPref(w http.ResponseWriter, r *http.Request) {
	h, key, ok := s.prefKey(w, r)
	if !ok {
		return
	}
	raw, found := h.Prefs().GetRaw(key)
	if !found {
		writeError(w, http.StatusNotFound, eris.Errorf("preference %s is not set", key.Name))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) handleSetPref(w http.ResponseWriter, r *http.Request) {
	h, key, ok := s.prefKey(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, eris.New("preference value must be JSON"))
		return
	}
	if err := h.Prefs().SetRaw(key, body); err != nil {
		// The value is live in this context even when the backend refused it.
		zap.L().Warn("server: persist preference", zap.String("key", key.Name), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeletePref(w http.ResponseWriter, r *http.Request) {
	h, key, ok := s.prefKey(w, r)
	if !ok {
		return
	}
	if err := h.Prefs().Delete(key); err != nil {
		zap.L().Warn("server: delete preference", zap.String("key", key.Name), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) prefKey(w http.ResponseWriter, r *http.Request) (*session.Handle, prefs.Key, bool) {
	h, ok := s.lookup(w, r)
	if !ok {
		return nil, prefs.Key{}, false
	}
	name := chi.URLParam(r, "key")
	key, known := prefs.LookupKey(name)
	if !known {
		writeError(w, http.StatusNotFound, eris.Errorf("unknown preference %q", name))
		return nil, prefs.Key{}, false
	}
	return h, key, true
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Handle, bool) {
	h, ok := s.mgr.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, session.ErrNotFound)
		return nil, false
	}
	return h, true
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || v <= 0 {
		writeError(w, http.StatusBadRequest, eris.Errorf("%s must be a positive integer", name))
		return 0, false
	}
	return v, true
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return eris.Wrap(err, "invalid request body")
	}
	return nil
}

// writeUpstreamError maps an error of a catalog-backed read.
func writeUpstreamError(w http.ResponseWriter, err error) {
	switch {
	case eris.Is(err, session.ErrNoCollection):
		writeError(w, http.StatusBadRequest, err)
	case eris.Is(err, session.ErrCompiling):
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "calculating"})
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
