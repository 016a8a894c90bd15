package authz

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/workmesh/workmesh/internal/auth"
	"github.com/workmesh/workmesh/internal/platform/httpx"
)

// RoleRequest grants or revokes a role on a subject.
type RoleRequest struct {
	Role uint8 `json:"role"`
}

// CapabilityRequest binds a role to a guarded operation.
type CapabilityRequest struct {
	Resource  string `json:"resource" validate:"required,max=64"`
	Operation string `json:"operation" validate:"required,max=64"`
	Role      uint8  `json:"role"`
}

// RootRequest toggles root status on a subject.
type RootRequest struct {
	Subject int64 `json:"subject" validate:"required,gt=0"`
	Enabled bool  `json:"enabled"`
}

// PublicRequest toggles public access on a guarded operation.
type PublicRequest struct {
	Resource  string `json:"resource" validate:"required,max=64"`
	Operation string `json:"operation" validate:"required,max=64"`
	Enabled   bool   `json:"enabled"`
}

// Handler exposes the registry's admin surface.
type Handler struct {
	logger   *slog.Logger
	registry *Registry
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, registry *Registry) *Handler {
	return &Handler{logger: logger, registry: registry, validate: validator.New()}
}

// MountRoutes registers registry routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/subjects/{subject}/roles", h.subjectRoles)
	r.Post("/subjects/{subject}/roles", h.grantRole)
	r.Delete("/subjects/{subject}/roles/{role}", h.revokeRole)
	r.Post("/capabilities", h.grantCapability)
	r.Delete("/capabilities", h.revokeCapability)
	r.Put("/root", h.setRoot)
	r.Put("/public", h.setPublic)
	r.Get("/check", h.check)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	subject := auth.SubjectFromContext(r.Context())
	if subject == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid API key")
		return 0, false
	}
	return subject, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func subjectParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "subject"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid subject id")
		return 0, false
	}
	return id, true
}

func (h *Handler) subjectRoles(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectParam(w, r)
	if !ok {
		return
	}
	roles, err := h.registry.RolesOf(r.Context(), subject)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"subject": subject,
		"roles":   roles.Roles(),
		"bits":    roles.String(),
	})
}

func (h *Handler) grantRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	subject, ok := subjectParam(w, r)
	if !ok {
		return
	}
	var req RoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.registry.GrantRole(r.Context(), actor, subject, Role(req.Role)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	subject, ok := subjectParam(w, r)
	if !ok {
		return
	}
	role, err := strconv.ParseUint(chi.URLParam(r, "role"), 10, 8)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid role")
		return
	}
	if err := h.registry.RevokeRole(r.Context(), actor, subject, Role(role)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) grantCapability(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CapabilityRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.registry.GrantCapability(r.Context(), actor, req.Resource, req.Operation, Role(req.Role)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeCapability(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CapabilityRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.registry.RevokeCapability(r.Context(), actor, req.Resource, req.Operation, Role(req.Role)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setRoot(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req RootRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.registry.SetRoot(r.Context(), actor, req.Subject, req.Enabled); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setPublic(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req PublicRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.registry.SetPublic(r.Context(), actor, req.Resource, req.Operation, req.Enabled); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	subject, err := strconv.ParseInt(q.Get("subject"), 10, 64)
	if err != nil || subject <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid subject")
		return
	}
	resource, operation := q.Get("resource"), q.Get("operation")
	if resource == "" || operation == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "resource and operation required")
		return
	}
	allowed := h.registry.MayInvoke(r.Context(), subject, resource, operation)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"subject":   subject,
		"resource":  resource,
		"operation": operation,
		"allowed":   allowed,
	})
}
