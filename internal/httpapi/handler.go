// Package httpapi exposes wizard sessions over HTTP. Sessions live in server
// memory keyed by a generated id; durable progress goes through whatever
// session.Store the controllers are wired with, so a session survives process
// restarts via its progress id.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/PandiO/knk-form-engine/pkg/formconfig"
	"github.com/PandiO/knk-form-engine/pkg/session"
)

// Handler serves the wizard session API.
type Handler struct {
	configs formconfig.Provider
	options []session.Option
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*liveSession
}

// liveSession pairs a controller with its place in the session tree. Child
// sessions carry the parent session id and the join entry they edit. The
// mutex serializes requests on one session: the controller is single-owner
// and has no locking of its own.
type liveSession struct {
	mu              sync.Mutex
	controller      *session.Controller
	parentSessionID string
	relatedEntityID any
}

// NewHandler builds a Handler resolving configurations through provider and
// constructing controllers with the given options.
func NewHandler(provider formconfig.Provider, logger *slog.Logger, options ...session.Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		configs:  provider,
		options:  options,
		logger:   logger,
		sessions: make(map[string]*liveSession),
	}
}

// Routes mounts the session API.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Route("/{sessionId}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Put("/fields/{fieldName}", h.SetField)
			r.Post("/advance", h.Advance)
			r.Post("/retreat", h.Retreat)
			r.Post("/save", h.SaveDraft)
			r.Post("/abandon", h.Abandon)
			r.Post("/submit", h.Submit)
			r.Post("/complete", h.CompleteChild)
			r.Route("/relationships", func(r chi.Router) {
				r.Get("/", h.ListRelationships)
				r.Get("/browse", h.BrowseRelated)
				r.Post("/select", h.SelectRelated)
				r.Delete("/{relatedId}", h.RemoveRelated)
				r.Put("/{relatedId}/fields/{fieldName}", h.SetJoinField)
				r.Post("/{relatedId}/child", h.OpenChild)
			})
		})
	})
	return r
}

type createSessionRequest struct {
	ConfigurationID  string `json:"configurationId"`
	EntityTypeName   string `json:"entityTypeName"`
	ResumeProgressID string `json:"resumeProgressId"`
	EntityID         any    `json:"entityId"`
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConfigurationID == "" && req.EntityTypeName == "" {
		writeError(w, http.StatusBadRequest, "configurationId or entityTypeName is required")
		return
	}

	cfg, err := h.configs.Configuration(r.Context(), formconfig.Ref{
		ID:             req.ConfigurationID,
		EntityTypeName: req.EntityTypeName,
	})
	if errors.Is(err, formconfig.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	controller := session.New(cfg, h.options...)
	err = controller.Start(r.Context(), session.StartOptions{
		ResumeProgressID: req.ResumeProgressID,
		EntityID:         req.EntityID,
	})
	if errors.Is(err, session.ErrTerminalProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if errors.Is(err, session.ErrProgressNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	id := h.register(&liveSession{controller: controller})
	h.logger.Info("session created", "session", id, "configuration", cfg.ID)
	writeJSON(w, http.StatusCreated, h.view(id, controller))
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, live, ok := h.lookup(w, r)
	if !ok {
		return
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	writeJSON(w, http.StatusOK, h.view(id, live.controller))
}

type setFieldRequest struct {
	Value any `json:"value"`
}

func (h *Handler) SetField(w http.ResponseWriter, r *http.Request) {
	id, live, ok := h.lookup(w, r)
	if !ok {
		return
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	var req setFieldRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	fieldName := chi.URLParam(r, "fieldName")
	// The debounced validation fires after this response is written, so it
	// must not inherit the request's cancellation.
	if err := live.controller.SetField(context.WithoutCancel(r.Context()), fieldName, req.Value); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(id, live.controller))
}

func (h *Handler) Advance(w http.ResponseWriter, r *http.Request) {
	id, live, ok := h.lookup(w, r)
	if !ok {
		return
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	if err := live.controller.Advance(r.Context()); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(id, live.controller))
}

func (h *Handler) Retreat(w http.ResponseWriter, r *http.Request) {
	id, live, ok := h.lookup(w, r)
	if !ok {
		return
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	if err := live.controller.Retreat(r.Context()); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(id, live.controller))
}

func (h *Handler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	id, live, ok := h.lookup(w, r)
	if !ok {
		return
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	if err := live.controller.SaveDraft(r.Context()); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(id, live.controller))
}

func (h *Handler) Abandon(w http.ResponseWriter, r *http.Request) {
	id, live, ok := h.lookup(w, r)
	if !ok {
		return
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	if err := live.controller.Abandon(r.Context()); err != nil {
		writeSessionError(w, err)
		return
	}
	h.unregister(id)
	writeJSON(w, http.StatusOK, map[string]any{"status": string(session.StatusAbandoned)})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	id, live, ok := h.lookup(w, r)
	if !ok {
		return
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	payload, err := live.controller.Submit(r.Context())
	if err != nil {
		writeSessionError(w, err)
		return
	}
	h.unregister(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"progressId": live.controller.ProgressID(),
		"payload":    payload,
	})
}

func (h *Handler) ListRelationships(w http.ResponseWriter, r *http.Request) {
	_, live, ok := h.lookup(w, r)
	if !ok {
		return
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	entries, err := live.controller.RelationshipEntries()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) BrowseRelated(w http.ResponseWriter, r *http.Request) {
	_, live, ok := h.lookup(w, r)
	if !ok {
		return
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 20
	}
	page, err := live.controller.BrowseRelated(r.Context(), offset, limit)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type selectRelatedRequest struct {
	Entities []map[string]any `json:"entities"`
}

func (h *Handler) SelectRelated(w http.ResponseWriter, r *http.Request) {
	_, live, ok := h.lookup(w, r)
	if !ok {
		return
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	var req selectRelatedRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := live.controller.SelectRelated(req.Entities...); err != nil {
		writeSessionError(w, err)
		return
	}
	entries, _ := live.controller.RelationshipEntries()
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) RemoveRelated(w http.ResponseWriter, r *http.Request) {
	_, live, ok := h.lookup(w, r)
	if !ok {
		return
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	if err := live.controller.RemoveRelated(relatedParam(r)); err != nil {
		writeSessionError(w, err)
		return
	}
	entries, _ := live.controller.RelationshipEntries()
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) SetJoinField(w http.ResponseWriter, r *http.Request) {
	_, live, ok := h.lookup(w, r)
	if !ok {
		return
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	var req setFieldRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	fieldName := chi.URLParam(r, "fieldName")
	if err := live.controller.SetJoinField(relatedParam(r), fieldName, req.Value); err != nil {
		writeSessionError(w, err)
		return
	}
	entries, _ := live.controller.RelationshipEntries()
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// OpenChild starts a nested session over the join entry and registers it as a
// session of its own; the caller drives it through the same endpoints and
// finishes with POST /sessions/{childId}/complete.
func (h *Handler) OpenChild(w http.ResponseWriter, r *http.Request) {
	parentID, live, ok := h.lookup(w, r)
	if !ok {
		return
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	relatedID := relatedParam(r)
	child, err := live.controller.OpenChild(r.Context(), relatedID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	childID := h.register(&liveSession{
		controller:      child,
		parentSessionID: parentID,
		relatedEntityID: relatedID,
	})
	h.logger.Info("child session opened", "session", childID, "parent", parentID)
	writeJSON(w, http.StatusCreated, h.view(childID, child))
}

func (h *Handler) CompleteChild(w http.ResponseWriter, r *http.Request) {
	childID, childLive, ok := h.lookup(w, r)
	if !ok {
		return
	}
	childLive.mu.Lock()
	defer childLive.mu.Unlock()
	if childLive.parentSessionID == "" {
		writeError(w, http.StatusBadRequest, "session is not a child session")
		return
	}
	h.mu.Lock()
	parentLive := h.sessions[childLive.parentSessionID]
	h.mu.Unlock()
	if parentLive == nil {
		writeError(w, http.StatusConflict, "parent session no longer exists")
		return
	}

	// Child before parent is the only multi-session lock order in this
	// package.
	parentLive.mu.Lock()
	defer parentLive.mu.Unlock()
	err := parentLive.controller.CompleteChild(r.Context(), childLive.relatedEntityID, childLive.controller)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	h.unregister(childID)
	entries, _ := parentLive.controller.RelationshipEntries()
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) register(live *liveSession) string {
	id := uuid.NewString()
	h.mu.Lock()
	h.sessions[id] = live
	h.mu.Unlock()
	return id
}

func (h *Handler) unregister(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (string, *liveSession, bool) {
	id := chi.URLParam(r, "sessionId")
	h.mu.Lock()
	live := h.sessions[id]
	h.mu.Unlock()
	if live == nil {
		writeError(w, http.StatusNotFound, "unknown session id")
		return "", nil, false
	}
	return id, live, true
}

func relatedParam(r *http.Request) any {
	raw := chi.URLParam(r, "relatedId")
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return raw
}

type fieldView struct {
	ID        string `json:"id"`
	FieldName string `json:"fieldName"`
	FieldType string `json:"fieldType"`
	Required  bool   `json:"required"`
	State     string `json:"state"`
}

type sessionView struct {
	SessionID     string            `json:"sessionId"`
	ProgressID    string            `json:"progressId,omitempty"`
	StepIndex     int               `json:"stepIndex"`
	StepName      string            `json:"stepName"`
	Relationship  bool              `json:"isRelationshipStep"`
	VisibleFields []fieldView       `json:"visibleFields"`
	FieldErrors   map[string]string `json:"fieldErrors,omitempty"`
	SaveError     string            `json:"saveError,omitempty"`
}

func (h *Handler) view(id string, c *session.Controller) sessionView {
	view := sessionView{
		SessionID:   id,
		ProgressID:  c.ProgressID(),
		StepIndex:   c.CurrentStepIndex(),
		FieldErrors: c.FieldErrors(),
	}
	if step, ok := c.CurrentStep(); ok {
		view.StepName = step.StepName
		view.Relationship = step.IsManyToManyRelationship
	}
	for _, field := range c.VisibleFields() {
		view.VisibleFields = append(view.VisibleFields, fieldView{
			ID:        field.ID,
			FieldName: field.FieldName,
			FieldType: string(field.FieldType),
			Required:  field.Required,
			State:     c.FieldState(field.ID).String(),
		})
	}
	if err := c.LastSaveError(); err != nil {
		view.SaveError = err.Error()
	}
	return view
}

func writeSessionError(w http.ResponseWriter, err error) {
	var blocked *session.StepBlockedError
	switch {
	case errors.As(err, &blocked):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "step blocked",
			"reasons": blocked.Reasons,
		})
	case errors.Is(err, session.ErrNotActive),
		errors.Is(err, session.ErrFinalStep),
		errors.Is(err, session.ErrFirstStep),
		errors.Is(err, session.ErrNotRelationshipStep):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
