package payments

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/workmesh/workmesh/internal/auth"
	"github.com/workmesh/workmesh/internal/authz"
	"github.com/workmesh/workmesh/internal/platform/httpx"
)

// OpReadAnyBalance guards balance lookups for subjects other than the
// caller, registered as a capability under the payments resource.
const OpReadAnyBalance = "read_any_balance"

// Authorizer answers whether a subject may perform a guarded operation.
// *authz.Registry satisfies it.
type Authorizer interface {
	MayInvoke(ctx context.Context, subject int64, resource, operation string) bool
}

// DepositRequest credits the caller's balance. Amounts are minor units.
type DepositRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

// WithdrawRequest debits the caller's balance.
type WithdrawRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

// Handler exposes balances over HTTP.
type Handler struct {
	logger   *slog.Logger
	gateway  *Gateway
	authz    Authorizer
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, gateway *Gateway, authorizer Authorizer) *Handler {
	return &Handler{logger: logger, gateway: gateway, authz: authorizer, validate: validator.New()}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/deposits", h.deposit)
	r.Post("/withdrawals", h.withdraw)
	r.Get("/balance", h.balance)
}

func (h *Handler) deposit(w http.ResponseWriter, r *http.Request) {
	subject := auth.SubjectFromContext(r.Context())
	if subject == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid API key")
		return
	}
	var req DepositRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.gateway.Deposit(r.Context(), SubjectAccount(subject), req.Amount); err != nil {
		httpx.RespondError(w, err)
		return
	}
	bal, err := h.gateway.Balance(r.Context(), SubjectAccount(subject))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"balance": bal})
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	subject := auth.SubjectFromContext(r.Context())
	if subject == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid API key")
		return
	}
	var req WithdrawRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.gateway.Withdraw(r.Context(), SubjectAccount(subject), req.Amount); err != nil {
		httpx.RespondError(w, err)
		return
	}
	bal, err := h.gateway.Balance(r.Context(), SubjectAccount(subject))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"balance": bal})
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	subject := auth.SubjectFromContext(r.Context())
	if subject == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid API key")
		return
	}
	// Reading another subject's balance through ?subject= needs the
	// read_any_balance capability on the payments resource.
	acct := SubjectAccount(subject)
	if s := r.URL.Query().Get("subject"); s != "" {
		other, err := strconv.ParseInt(s, 10, 64)
		if err != nil || other <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid subject")
			return
		}
		if other != subject && !h.authz.MayInvoke(r.Context(), subject, authz.ResourcePayments, OpReadAnyBalance) {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "not allowed to read other balances")
			return
		}
		acct = SubjectAccount(other)
	}
	bal, err := h.gateway.Balance(r.Context(), acct)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"account": acct, "balance": bal})
}
