package payments

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/workmesh/workmesh/internal/auth"
)

type allowReads struct{}

func (allowReads) MayInvoke(_ context.Context, _ int64, resource, operation string) bool {
	return resource == "payments" && operation == OpReadAnyBalance
}

type denyReads struct{}

func (denyReads) MayInvoke(context.Context, int64, string, string) bool { return false }

func newBalanceRouter(t *testing.T, authorizer Authorizer) chi.Router {
	t.Helper()
	gw, _ := newTestGateway(t, 0)
	if err := gw.Deposit(context.Background(), SubjectAccount(2), 750); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	r := chi.NewRouter()
	NewHandler(slog.Default(), gw, authorizer).MountRoutes(r)
	return r
}

func getBalance(router chi.Router, subject int64, query string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/balance"+query, nil)
	req = req.WithContext(auth.WithSubject(req.Context(), subject))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestBalanceOwnAlwaysAllowed(t *testing.T) {
	router := newBalanceRouter(t, denyReads{})

	if rec := getBalance(router, 2, ""); rec.Code != http.StatusOK {
		t.Errorf("own balance status = %d, want 200", rec.Code)
	}
	// Naming yourself explicitly is still an own-balance read.
	if rec := getBalance(router, 2, "?subject=2"); rec.Code != http.StatusOK {
		t.Errorf("own balance by id status = %d, want 200", rec.Code)
	}
}

func TestBalanceCrossSubjectNeedsCapability(t *testing.T) {
	router := newBalanceRouter(t, denyReads{})

	rec := getBalance(router, 1, "?subject=2")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cross-subject read status = %d, want 403", rec.Code)
	}

	router = newBalanceRouter(t, allowReads{})
	rec = getBalance(router, 1, "?subject=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("authorized read status = %d, want 200", rec.Code)
	}
}
