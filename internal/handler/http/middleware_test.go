package http_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackmart/checkout-service/internal/account"
	handler "github.com/stackmart/checkout-service/internal/handler/http"
)

type mockAccountRepository struct {
	getRoleFunc func(ctx context.Context, userID uuid.UUID) (string, error)
}

func (m *mockAccountRepository) GetRole(ctx context.Context, userID uuid.UUID) (string, error) {
	return m.getRoleFunc(ctx, userID)
}

func TestRequireUser(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("valid_identity_passes_through", func(t *testing.T) {
		id, err := uuid.NewV4()
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		req.Header.Set("X-User-ID", id.String())
		rec := httptest.NewRecorder()

		handler.RequireUser(next).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("rejects_bad_identities", func(t *testing.T) {
		for _, header := range []string{"", "not-a-uuid", uuid.Nil.String()} {
			req := httptest.NewRequest(http.MethodGet, "/orders", nil)
			if header != "" {
				req.Header.Set("X-User-ID", header)
			}
			rec := httptest.NewRecorder()

			handler.RequireUser(next).ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
		}
	})
}

func TestRequireAdmin(t *testing.T) {
	adminID, err := uuid.NewV4()
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name       string
		role       string
		roleErr    error
		wantStatus int
	}{
		{name: "admin_allowed", role: account.RoleAdmin, wantStatus: http.StatusNoContent},
		{name: "customer_forbidden", role: account.RoleCustomer, wantStatus: http.StatusForbidden},
		{name: "unknown_account_forbidden", roleErr: account.ErrAccountNotFound, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts := &mockAccountRepository{
				getRoleFunc: func(ctx context.Context, userID uuid.UUID) (string, error) {
					return tt.role, tt.roleErr
				},
			}

			req := httptest.NewRequest(http.MethodPost, "/payments/abc/refund", nil)
			req.Header.Set("X-User-ID", adminID.String())
			rec := httptest.NewRecorder()

			handler.RequireUser(handler.RequireAdmin(accounts)(next)).ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
