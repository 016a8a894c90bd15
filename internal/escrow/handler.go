package escrow

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/workmesh/workmesh/internal/auth"
	"github.com/workmesh/workmesh/internal/platform/httpx"
)

// ApproveRequest arms a single-use approval for an operation.
type ApproveRequest struct {
	OperationID string `json:"operation_id" validate:"required,max=128"`
}

// ServiceModeRequest toggles manual approval mode.
type ServiceModeRequest struct {
	Enabled bool `json:"enabled"`
}

// Handler exposes the ledger's admin surface. Locks and releases are not
// reachable over HTTP; only the workflow engine initiates them.
type Handler struct {
	logger   *slog.Logger
	ledger   *Ledger
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, ledger *Ledger) *Handler {
	return &Handler{logger: logger, ledger: ledger, validate: validator.New()}
}

// MountRoutes registers escrow admin routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/status", h.status)
	r.Get("/operations", h.getOperation)
	r.Post("/approvals", h.approve)
	r.Put("/service-mode", h.setServiceMode)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.ledger.Status(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) getOperation(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id query parameter required")
		return
	}
	op, err := h.ledger.Operation(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	approved, err := h.ledger.Approved(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"operation": op,
		"approved":  approved,
	})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	subject := auth.SubjectFromContext(r.Context())
	if subject == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid API key")
		return
	}
	var req ApproveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.ledger.Approve(r.Context(), subject, req.OperationID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setServiceMode(w http.ResponseWriter, r *http.Request) {
	subject := auth.SubjectFromContext(r.Context())
	if subject == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid API key")
		return
	}
	var req ServiceModeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.ledger.SetServiceMode(r.Context(), subject, req.Enabled); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
