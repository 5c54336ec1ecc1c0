package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stackmart/checkout-service/internal/account"
)

type contextKey string

const userIDKey contextKey = "user_id"

// RequireUser extracts the caller identity set by the upstream auth layer.
// Requests without a valid X-User-ID never reach the handlers.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.FromString(r.Header.Get("X-User-ID"))
		if err != nil || userID == uuid.Nil {
			respondWithError(w, http.StatusUnauthorized, "missing or invalid user identity")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFrom(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(userIDKey).(uuid.UUID)
	return id
}

// RequireAdmin gates admin-only operations by resolving the caller's role
// through the account collaborator.
func RequireAdmin(accounts account.Repository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := userIDFrom(r.Context())

			role, err := accounts.GetRole(r.Context(), userID)
			if err != nil {
				if errors.Is(err, account.ErrAccountNotFound) {
					respondWithError(w, http.StatusForbidden, "admin access required")
					return
				}
				log.Error().Err(err).Stringer("user_id", userID).Msg("Failed to resolve user role")
				respondWithError(w, http.StatusInternalServerError, "failed to resolve user role")
				return
			}
			if role != account.RoleAdmin {
				respondWithError(w, http.StatusForbidden, "admin access required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
