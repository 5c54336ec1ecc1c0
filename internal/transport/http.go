package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stackmart/checkout-service/internal/account"
	checkoutHttp "github.com/stackmart/checkout-service/internal/handler/http"
)

// NewRouter assembles the HTTP surface. The webhook route is outside the
// user-identity group: it is authenticated by payload signature, not session.
func NewRouter(
	orderHandler *checkoutHttp.OrderHandler,
	paymentHandler *checkoutHttp.PaymentHandler,
	accounts account.Repository,
) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	paymentHandler.RegisterWebhookRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(checkoutHttp.RequireUser)
		orderHandler.RegisterRoutes(r)
		paymentHandler.RegisterOwnerRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(checkoutHttp.RequireAdmin(accounts))
			paymentHandler.RegisterAdminRoutes(r)
		})
	})

	return r
}
