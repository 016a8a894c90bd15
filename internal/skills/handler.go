package skills

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/workmesh/workmesh/internal/auth"
	"github.com/workmesh/workmesh/internal/platform/httpx"
)

// DeclareRequest records the caller's skills for one area and category.
type DeclareRequest struct {
	Area     uint64 `json:"area" validate:"required"`
	Category uint64 `json:"category" validate:"required"`
	Skills   uint64 `json:"skills" validate:"required"`
}

// Handler exposes the skills directory over HTTP.
type Handler struct {
	logger    *slog.Logger
	directory *Directory
	validate  *validator.Validate
}

func NewHandler(logger *slog.Logger, directory *Directory) *Handler {
	return &Handler{logger: logger, directory: directory, validate: validator.New()}
}

// MountRoutes registers skills routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Put("/", h.declare)
	r.Get("/check", h.check)
}

func (h *Handler) declare(w http.ResponseWriter, r *http.Request) {
	subject := auth.SubjectFromContext(r.Context())
	if subject == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid API key")
		return
	}
	var req DeclareRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	p := Profile{Subject: subject, Area: req.Area, Category: req.Category, Skills: req.Skills}
	if err := h.directory.Declare(r.Context(), p); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
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
	area, _ := strconv.ParseUint(q.Get("area"), 10, 64)
	category, _ := strconv.ParseUint(q.Get("category"), 10, 64)
	required, _ := strconv.ParseUint(q.Get("skills"), 10, 64)

	ok, err := h.directory.HasSkills(r.Context(), subject, area, category, required)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"subject": subject, "qualified": ok})
}
