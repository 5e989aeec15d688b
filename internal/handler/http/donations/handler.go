package donations_http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"donations/internal/app/reconcile"
	"donations/internal/domain"
)

// webhookSignatureHeader and webhookEventIDHeader are the names Razorpay
// uses on webhook deliveries.
const (
	webhookSignatureHeader = "X-Razorpay-Signature"
	webhookEventIDHeader   = "X-Razorpay-Event-Id"

	maxWebhookBodyBytes = 1 << 20
)

type DonationHandler struct {
	service        reconcile.ReconcileService
	sweepStaleAge  time.Duration
	sweepExpireAge time.Duration
	logger         *zap.Logger
}

func NewDonationHandler(s reconcile.ReconcileService, sweepStaleAge, sweepExpireAge time.Duration, l *zap.Logger) *DonationHandler {
	return &DonationHandler{service: s, sweepStaleAge: sweepStaleAge, sweepExpireAge: sweepExpireAge, logger: l}
}

type VerifyRequest struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

type MarkFailedRequest struct {
	Reason string `json:"reason"`
}

func (h *DonationHandler) InitiateOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req reconcile.InitiateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Invalid request body for order initiation", zap.Error(err))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.service.InitiateOrder(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrUnsupportedCurrency):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, domain.ErrGatewayUnavailable):
			h.logger.Error("Gateway unavailable during order initiation", zap.Error(err))
			http.Error(w, "Payment gateway is unavailable, please retry", http.StatusServiceUnavailable)
		default:
			h.logger.Error("Failed to initiate donation order", zap.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *DonationHandler) VerifyCallbackHandler(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Invalid request body for callback verification", zap.Error(err))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		http.Error(w, "order_id, payment_id and signature are required", http.StatusBadRequest)
		return
	}

	result, err := h.service.VerifyClientCallback(r.Context(), req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSignature):
			http.Error(w, "Signature verification failed", http.StatusUnauthorized)
		case errors.Is(err, domain.ErrDonationNotFound):
			http.Error(w, "Donation not found", http.StatusNotFound)
		default:
			h.logger.Error("Failed to verify callback", zap.String("order_id", req.OrderID), zap.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *DonationHandler) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.logger.Error("Failed to read webhook body", zap.Error(err))
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	err = h.service.IngestWebhook(r.Context(), body,
		r.Header.Get(webhookSignatureHeader),
		r.Header.Get(webhookEventIDHeader))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSignature):
			http.Error(w, "Invalid webhook signature", http.StatusUnauthorized)
			return
		case errors.Is(err, domain.ErrWebhookSecretMissing):
			h.logger.Error("Webhook secret is not configured")
			http.Error(w, "Webhook processing unavailable", http.StatusInternalServerError)
			return
		default:
			// Past the signature gate the sender is always acknowledged;
			// the sweep recovers anything that failed to apply.
			h.logger.Error("Failed to process webhook", zap.Error(err))
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *DonationHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	donationID := chi.URLParam(r, "id")
	if donationID == "" {
		http.Error(w, "Donation ID is required", http.StatusBadRequest)
		return
	}

	result, err := h.service.GetStatus(r.Context(), donationID)
	if err != nil {
		if errors.Is(err, domain.ErrDonationNotFound) {
			http.Error(w, "Donation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to fetch donation status", zap.String("donation_id", donationID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *DonationHandler) SyncStatusHandler(w http.ResponseWriter, r *http.Request) {
	donationID := chi.URLParam(r, "id")
	if donationID == "" {
		http.Error(w, "Donation ID is required", http.StatusBadRequest)
		return
	}

	result, err := h.service.SyncStatus(r.Context(), donationID)
	if err != nil {
		if errors.Is(err, domain.ErrDonationNotFound) {
			http.Error(w, "Donation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to sync donation", zap.String("donation_id", donationID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *DonationHandler) MarkFailedHandler(w http.ResponseWriter, r *http.Request) {
	donationID := chi.URLParam(r, "id")
	if donationID == "" {
		http.Error(w, "Donation ID is required", http.StatusBadRequest)
		return
	}

	var req MarkFailedRequest
	if r.Body != nil {
		// The reason is optional, so an empty body is fine.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	donation, err := h.service.MarkFailed(r.Context(), donationID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrDonationNotFound):
			http.Error(w, "Donation not found", http.StatusNotFound)
		case errors.Is(err, domain.ErrAlreadyTerminal):
			http.Error(w, "Donation is already in a terminal state", http.StatusConflict)
		default:
			h.logger.Error("Failed to mark donation as failed", zap.String("donation_id", donationID), zap.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, donation)
}

func (h *DonationHandler) SweepHandler(w http.ResponseWriter, r *http.Request) {
	olderThan := h.sweepStaleAge
	if minutesStr := r.URL.Query().Get("minutes"); minutesStr != "" {
		minutes, err := strconv.Atoi(minutesStr)
		if err != nil || minutes <= 0 {
			http.Error(w, "minutes must be a positive integer", http.StatusBadRequest)
			return
		}
		olderThan = time.Duration(minutes) * time.Minute
	}

	result, err := h.service.SweepStalePending(r.Context(), olderThan)
	if err != nil {
		h.logger.Error("Manual sweep failed", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *DonationHandler) AnalyticsHandler(w http.ResponseWriter, r *http.Request) {
	var from, to time.Time
	var err error
	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			http.Error(w, "from must be an RFC3339 timestamp", http.StatusBadRequest)
			return
		}
	}
	if toStr := r.URL.Query().Get("to"); toStr != "" {
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			http.Error(w, "to must be an RFC3339 timestamp", http.StatusBadRequest)
			return
		}
	}

	analytics, err := h.service.GetAnalytics(r.Context(), from, to)
	if err != nil {
		h.logger.Error("Failed to compute analytics", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, analytics)
}

func (h *DonationHandler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}
