// Package httpapi exposes the composition engine over HTTP: the editing REST
// API, the published render endpoint and the websocket layout feed.
package httpapi

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/platformkit/composer/internal/app/domain/definition"
	"github.com/platformkit/composer/internal/app/domain/platform"
	"github.com/platformkit/composer/internal/app/services/definitions"
	"github.com/platformkit/composer/internal/app/services/editor"
	"github.com/platformkit/composer/internal/app/services/instances"
	"github.com/platformkit/composer/internal/app/services/ordering"
	"github.com/platformkit/composer/internal/app/services/platforms"
	"github.com/platformkit/composer/internal/app/services/render"
	"github.com/platformkit/composer/internal/app/storage"
	"github.com/platformkit/composer/internal/auth"
	composererr "github.com/platformkit/composer/internal/errors"
	"github.com/platformkit/composer/internal/logging"
	"github.com/platformkit/composer/internal/metrics"
	"github.com/platformkit/composer/internal/middleware"
)

// Config carries the handler's middleware settings.
type Config struct {
	AllowedOrigin  string
	RateLimitRPS   float64
	RateLimitBurst int
}

// Handler serves the composer API.
type Handler struct {
	definitions *definitions.Service
	platforms   *platforms.Service
	instances   *instances.Service
	order       *ordering.Controller
	editor      *editor.Service
	render      *render.Service
	store       storage.InstanceStore
	authorizer  *auth.Authorizer
	metrics     *metrics.Metrics
	log         *logging.Logger
	upgrader    websocket.Upgrader
}

// New constructs the API handler.
func New(
	defs *definitions.Service,
	plats *platforms.Service,
	inst *instances.Service,
	order *ordering.Controller,
	ed *editor.Service,
	r *render.Service,
	store storage.InstanceStore,
	authorizer *auth.Authorizer,
	m *metrics.Metrics,
	log *logging.Logger,
) *Handler {
	if log == nil {
		log = logging.NewDefault("httpapi")
	}
	return &Handler{
		definitions: defs,
		platforms:   plats,
		instances:   inst,
		order:       order,
		editor:      ed,
		render:      r,
		store:       store,
		authorizer:  authorizer,
		metrics:     m,
		log:         log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the full route table with the middleware chain applied.
func (h *Handler) Router(cfg Config) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/definitions", h.handleCreateDefinition).Methods(http.MethodPost)
	r.HandleFunc("/definitions", h.handleListDefinitions).Methods(http.MethodGet)
	r.HandleFunc("/definitions/{id}", h.handleGetDefinition).Methods(http.MethodGet)
	r.HandleFunc("/definitions/{id}", h.handleUpdateDefinition).Methods(http.MethodPut)
	r.HandleFunc("/definitions/{id}", h.handleDeleteDefinition).Methods(http.MethodDelete)

	r.HandleFunc("/platforms", h.handleCreatePlatform).Methods(http.MethodPost)
	r.HandleFunc("/platforms", h.handleListPlatforms).Methods(http.MethodGet)
	r.HandleFunc("/platforms/{id}", h.handleGetPlatform).Methods(http.MethodGet)
	r.HandleFunc("/platforms/{id}", h.handleUpdatePlatform).Methods(http.MethodPut)
	r.HandleFunc("/platforms/{id}/status", h.handleSetStatus).Methods(http.MethodPost)
	r.HandleFunc("/platforms/{id}/render", h.handleRenderPlatform).Methods(http.MethodGet)

	r.HandleFunc("/platforms/{id}/layouts", h.handleAddLayout).Methods(http.MethodPost)
	r.HandleFunc("/platforms/{id}/layouts", h.handleListLayouts).Methods(http.MethodGet)
	r.HandleFunc("/platforms/{id}/layouts/{layoutID}/instances", h.handleAddInstance).Methods(http.MethodPost)
	r.HandleFunc("/platforms/{id}/layouts/{layoutID}/reorder", h.handleReorder).Methods(http.MethodPost)

	r.HandleFunc("/layouts/{layoutID}/instances", h.handleListInstances).Methods(http.MethodGet)
	r.HandleFunc("/instances/{id}", h.handleDeleteInstance).Methods(http.MethodDelete)
	r.HandleFunc("/instances/{id}/form", h.handleGetForm).Methods(http.MethodGet)
	r.HandleFunc("/instances/{id}/values/{property}", h.handleUpdateValue).Methods(http.MethodPatch)

	r.HandleFunc("/ws/layouts/{layoutID}", h.handleLayoutFeed).Methods(http.MethodGet)

	r.Use(
		middleware.CORS(cfg.AllowedOrigin),
		middleware.Metrics(h.metrics),
		middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, h.log),
		middleware.Auth(h.authorizer, h.log, "/healthz", "/metrics", "*/render"),
	)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- definitions ---------------------------------------------------------

func (h *Handler) handleCreateDefinition(w http.ResponseWriter, r *http.Request) {
	var def definition.Definition
	if err := decodeBody(r, &def); err != nil {
		h.writeError(w, err)
		return
	}
	created, err := h.definitions.Create(r.Context(), def)
	h.observe("create_definition", err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := h.definitions.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

func (h *Handler) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := h.definitions.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (h *Handler) handleUpdateDefinition(w http.ResponseWriter, r *http.Request) {
	var def definition.Definition
	if err := decodeBody(r, &def); err != nil {
		h.writeError(w, err)
		return
	}
	def.ID = mux.Vars(r)["id"]
	updated, err := h.definitions.Update(r.Context(), def)
	h.observe("update_definition", err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteDefinition(w http.ResponseWriter, r *http.Request) {
	err := h.definitions.Delete(r.Context(), mux.Vars(r)["id"])
	h.observe("delete_definition", err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- platforms -----------------------------------------------------------

func (h *Handler) handleCreatePlatform(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		h.writeError(w, composererr.Unauthorized("no actor"))
		return
	}

	var p platform.Platform
	if err := decodeBody(r, &p); err != nil {
		h.writeError(w, err)
		return
	}
	if p.TenantID == "" {
		p.TenantID = actor.TenantID
	}
	p.Admins = appendUnique(p.Admins, actor.ID)

	created, err := h.platforms.Create(r.Context(), p)
	h.observe("create_platform", err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleListPlatforms(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		if actor, ok := auth.ActorFrom(r.Context()); ok {
			tenantID = actor.TenantID
		}
	}
	ps, err := h.platforms.List(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *Handler) handleGetPlatform(w http.ResponseWriter, r *http.Request) {
	p, err := h.platforms.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleUpdatePlatform(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.requireMutate(r, id); err != nil {
		h.writeError(w, err)
		return
	}

	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Purpose     string `json:"purpose"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, err)
		return
	}
	p, err := h.platforms.UpdateMetadata(r.Context(), id, body.Name, body.Description, body.Purpose)
	h.observe("update_platform", err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.requireMutate(r, id); err != nil {
		h.writeError(w, err)
		return
	}

	var body struct {
		Status platform.Status `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, err)
		return
	}
	p, err := h.platforms.SetStatus(r.Context(), id, body.Status)
	h.observe("set_status", err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.render.Invalidate(r.Context(), id)
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleRenderPlatform(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	snap, err := h.render.RenderPlatform(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.metrics.ObserveRender(time.Since(start))
	writeJSON(w, http.StatusOK, snap)
}

// --- layouts -------------------------------------------------------------

func (h *Handler) handleAddLayout(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.requireMutate(r, id); err != nil {
		h.writeError(w, err)
		return
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, err)
		return
	}
	l, err := h.platforms.AddLayout(r.Context(), id, body.Name)
	h.observe("add_layout", err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (h *Handler) handleListLayouts(w http.ResponseWriter, r *http.Request) {
	ls, err := h.platforms.ListLayouts(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ls)
}

// --- instances -----------------------------------------------------------

func (h *Handler) handleAddInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	platformID, layoutID := vars["id"], vars["layoutID"]
	if err := h.requireMutate(r, platformID); err != nil {
		h.writeError(w, err)
		return
	}

	var body struct {
		DefinitionID string `json:"definition_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, err)
		return
	}
	in, err := h.instances.Add(r.Context(), body.DefinitionID, platformID, layoutID)
	h.observe("add_instance", err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.render.Invalidate(r.Context(), platformID)
	writeJSON(w, http.StatusCreated, in)
}

func (h *Handler) handleReorder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	platformID, layoutID := vars["id"], vars["layoutID"]
	if err := h.requireMutate(r, platformID); err != nil {
		h.writeError(w, err)
		return
	}

	var body struct {
		InstanceID string `json:"instance_id"`
		NewIndex   int    `json:"new_index"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, err)
		return
	}
	err := h.order.Move(r.Context(), layoutID, body.InstanceID, body.NewIndex)
	h.observe("reorder", err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.render.Invalidate(r.Context(), platformID)

	ordered, err := h.order.Sequence(r.Context(), layoutID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ordered)
}

func (h *Handler) handleListInstances(w http.ResponseWriter, r *http.Request) {
	ordered, err := h.instances.ListByLayout(r.Context(), mux.Vars(r)["layoutID"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ordered)
}

func (h *Handler) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	in, err := h.instances.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.requireMutate(r, in.PlatformID); err != nil {
		h.writeError(w, err)
		return
	}

	err = h.instances.Delete(r.Context(), id)
	h.observe("delete_instance", err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.render.Invalidate(r.Context(), in.PlatformID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetForm(w http.ResponseWriter, r *http.Request) {
	form, err := h.editor.BuildForm(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, form)
}

func (h *Handler) handleUpdateValue(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, property := vars["id"], vars["property"]

	in, err := h.instances.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.requireMutate(r, in.PlatformID); err != nil {
		h.writeError(w, err)
		return
	}

	var body struct {
		Value any `json:"value"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, err)
		return
	}
	form, err := h.editor.ApplyEdit(r.Context(), id, property, body.Value)
	h.observe("update_value", err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.render.Invalidate(r.Context(), in.PlatformID)
	writeJSON(w, http.StatusOK, form)
}

// --- helpers -------------------------------------------------------------

// requireMutate checks the authenticated actor against the platform's admin
// list.
func (h *Handler) requireMutate(r *http.Request, platformID string) error {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		return composererr.Unauthorized("no actor")
	}
	p, err := h.platforms.Get(r.Context(), platformID)
	if err != nil {
		return err
	}
	if !auth.CanMutate(actor, p) {
		return composererr.PermissionDenied("actor %s may not mutate platform %s", actor.ID, platformID)
	}
	return nil
}

func (h *Handler) observe(operation string, err error) {
	if h.metrics != nil {
		h.metrics.ObserveMutation(operation, err)
	}
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return composererr.Validation("invalid request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	resp := errorResponse{Error: err.Error(), Code: string(composererr.CodeInternal)}

	var e *composererr.Error
	if stderrors.As(err, &e) {
		status = e.HTTPStatus()
		resp.Code = string(e.Code)
		resp.Retryable = e.Retryable()
	}
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).Error("request failed")
	}
	writeJSON(w, status, resp)
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
