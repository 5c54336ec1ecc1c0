package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stackmart/checkout-service/internal/payment"
)

const signatureHeader = "X-Razorpay-Signature"

// One megabyte is far beyond any legitimate webhook payload.
const maxWebhookBody = 1 << 20

type InitiatePaymentRequest struct {
	OrderID string `json:"order_id" validate:"required,uuid4"`
}

// PaymentHandler handles payment initiation, the gateway webhook and refunds.
type PaymentHandler struct {
	service    payment.Service
	reconciler *payment.Reconciler
	validate   *validator.Validate
}

func NewPaymentHandler(service payment.Service, reconciler *payment.Reconciler) *PaymentHandler {
	return &PaymentHandler{
		service:    service,
		reconciler: reconciler,
		validate:   validator.New(),
	}
}

func (h *PaymentHandler) RegisterOwnerRoutes(router chi.Router) {
	router.Post("/payments/initiate", h.handleInitiatePayment)
}

func (h *PaymentHandler) RegisterAdminRoutes(router chi.Router) {
	router.Post("/payments/{id}/refund", h.handleRefund)
}

func (h *PaymentHandler) RegisterWebhookRoutes(router chi.Router) {
	router.Post("/payments/webhook", h.handleWebhook)
}

func (h *PaymentHandler) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	var requestPayload InitiatePaymentRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&requestPayload); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	if err := h.validate.Struct(requestPayload); err != nil {
		respondWithValidationError(w, err)
		return
	}

	orderID, err := uuid.FromString(requestPayload.OrderID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	intent, err := h.service.InitiatePayment(r.Context(), userID, orderID)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, intent)
}

// handleWebhook always acknowledges the gateway with 200. Business outcomes
// are recorded internally; a non-2xx here only causes redelivery storms.
func (h *PaymentHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		log.Error().Err(err).Msg("Failed to read webhook body")
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.reconciler.HandleNotification(r.Context(), body, r.Header.Get(signatureHeader)); err != nil {
		log.Error().Err(err).Msg("Webhook processing failed")
	}

	w.WriteHeader(http.StatusOK)
}

func (h *PaymentHandler) handleRefund(w http.ResponseWriter, r *http.Request) {
	attemptID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid payment attempt id")
		return
	}

	if err := h.service.Refund(r.Context(), attemptID); err != nil {
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "refunded"})
}
