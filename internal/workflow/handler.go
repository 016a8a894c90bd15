package workflow

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/workmesh/workmesh/internal/auth"
	"github.com/workmesh/workmesh/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the job workflow.
type Handler struct {
	logger   *slog.Logger
	engine   *Engine
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{logger: logger, engine: engine, validate: validator.New()}
}

// MountRoutes registers workflow routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.postJob)
	r.Get("/", h.listJobs)
	r.Get("/{id}", h.getJob)
	r.Get("/{id}/offers", h.listOffers)
	r.Post("/{id}/offers", h.postOffer)
	r.Post("/{id}/accept", h.acceptOffer)
	r.Post("/{id}/start", h.startWork)
	r.Post("/{id}/confirm-start", h.confirmStart)
	r.Post("/{id}/pause", h.pauseWork)
	r.Post("/{id}/resume", h.resumeWork)
	r.Post("/{id}/time", h.addTime)
	r.Post("/{id}/end", h.endWork)
	r.Post("/{id}/confirm-end", h.confirmEnd)
	r.Post("/{id}/cancel", h.cancelJob)
	r.Post("/{id}/release", h.releasePayment)
}

func caller(r *http.Request, w http.ResponseWriter) (int64, bool) {
	subject := auth.SubjectFromContext(r.Context())
	if subject == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid API key")
		return 0, false
	}
	return subject, true
}

func jobID(r *http.Request, w http.ResponseWriter) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid job id")
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(r *http.Request, w http.ResponseWriter, target any) bool {
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

func (h *Handler) postJob(w http.ResponseWriter, r *http.Request) {
	subject, ok := caller(r, w)
	if !ok {
		return
	}
	var req PostJobRequest
	if !h.decode(r, w, &req) {
		return
	}
	id, err := h.engine.PostJob(r.Context(), subject, Flags(req.Flags), req.Area, req.Category, req.Skills, req.DefaultPay, req.Details)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f ListFilter
	f.Client, _ = strconv.ParseInt(q.Get("client"), 10, 64)
	f.Worker, _ = strconv.ParseInt(q.Get("worker"), 10, 64)
	f.State = State(q.Get("state"))
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	jobs, err := h.engine.Jobs(r.Context(), f)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(r, w)
	if !ok {
		return
	}
	job, err := h.engine.Job(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h *Handler) listOffers(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(r, w)
	if !ok {
		return
	}
	offers, err := h.engine.Offers(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"offers": offers})
}

func (h *Handler) postOffer(w http.ResponseWriter, r *http.Request) {
	subject, ok := caller(r, w)
	if !ok {
		return
	}
	id, ok := jobID(r, w)
	if !ok {
		return
	}
	var req PostOfferRequest
	if !h.decode(r, w, &req) {
		return
	}
	if err := h.engine.PostOffer(r.Context(), subject, id, req.Token, req.Rate, req.Estimate, req.OnTop); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) acceptOffer(w http.ResponseWriter, r *http.Request) {
	subject, ok := caller(r, w)
	if !ok {
		return
	}
	id, ok := jobID(r, w)
	if !ok {
		return
	}
	var req AcceptOfferRequest
	if !h.decode(r, w, &req) {
		return
	}
	if err := h.engine.AcceptOffer(r.Context(), subject, id, req.Worker); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// action wraps the bodyless lifecycle transitions.
func (h *Handler) action(do func(r *http.Request, subject, id int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject, ok := caller(r, w)
		if !ok {
			return
		}
		id, ok := jobID(r, w)
		if !ok {
			return
		}
		if err := do(r, subject, id); err != nil {
			httpx.RespondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) startWork(w http.ResponseWriter, r *http.Request) {
	h.action(func(r *http.Request, subject, id int64) error {
		return h.engine.StartWork(r.Context(), subject, id)
	})(w, r)
}

func (h *Handler) confirmStart(w http.ResponseWriter, r *http.Request) {
	h.action(func(r *http.Request, subject, id int64) error {
		return h.engine.ConfirmStartWork(r.Context(), subject, id)
	})(w, r)
}

func (h *Handler) pauseWork(w http.ResponseWriter, r *http.Request) {
	h.action(func(r *http.Request, subject, id int64) error {
		return h.engine.PauseWork(r.Context(), subject, id)
	})(w, r)
}

func (h *Handler) resumeWork(w http.ResponseWriter, r *http.Request) {
	h.action(func(r *http.Request, subject, id int64) error {
		return h.engine.ResumeWork(r.Context(), subject, id)
	})(w, r)
}

func (h *Handler) endWork(w http.ResponseWriter, r *http.Request) {
	h.action(func(r *http.Request, subject, id int64) error {
		return h.engine.EndWork(r.Context(), subject, id)
	})(w, r)
}

func (h *Handler) confirmEnd(w http.ResponseWriter, r *http.Request) {
	h.action(func(r *http.Request, subject, id int64) error {
		return h.engine.ConfirmEndWork(r.Context(), subject, id)
	})(w, r)
}

func (h *Handler) cancelJob(w http.ResponseWriter, r *http.Request) {
	h.action(func(r *http.Request, subject, id int64) error {
		return h.engine.CancelJob(r.Context(), subject, id)
	})(w, r)
}

func (h *Handler) releasePayment(w http.ResponseWriter, r *http.Request) {
	h.action(func(r *http.Request, subject, id int64) error {
		return h.engine.ReleasePayment(r.Context(), subject, id)
	})(w, r)
}

func (h *Handler) addTime(w http.ResponseWriter, r *http.Request) {
	subject, ok := caller(r, w)
	if !ok {
		return
	}
	id, ok := jobID(r, w)
	if !ok {
		return
	}
	var req AddTimeRequest
	if !h.decode(r, w, &req) {
		return
	}
	if err := h.engine.AddMoreTime(r.Context(), subject, id, req.Minutes); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
