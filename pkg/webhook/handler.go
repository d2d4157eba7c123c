package webhook

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/stripebill/stripebill/internal/httputil"
	"github.com/stripebill/stripebill/pkg/invoicing"
)

// ConnectHandler returns the HTTP handler for the connected-account flow:
// the owning tenant is resolved from the event's connected account id.
func (h *Handler) ConnectHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.handleWebhook(w, r, false)
	})
}

// TokenHandler returns the HTTP handler for the token-based flow: the
// tenant is resolved from the X-User-Token header, which is required.
func (h *Handler) TokenHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.handleWebhook(w, r, true)
	})
}

// handleWebhook verifies and dispatches one delivery. Once the signature
// has verified, every outcome is acknowledged with 200: the sender's
// redelivery loop must only react to signature failures.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request, requireToken bool) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.webhookSecret == "" {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := httputil.ReadBodyStrict(w, r, defaultMaxBodyBytes)
	if err != nil {
		if errors.Is(err, httputil.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			h.metrics.RecordWebhookError("payload_too_large")
		} else {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			h.metrics.RecordWebhookError("invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		http.Error(w, "missing signature", http.StatusBadRequest)
		h.metrics.RecordWebhookError("missing_signature")
		return
	}

	tenantToken := r.Header.Get(TenantTokenHeader)
	if requireToken && tenantToken == "" {
		http.Error(w, "missing tenant token", http.StatusBadRequest)
		h.metrics.RecordWebhookError("missing_token")
		return
	}

	// Signatures are computed over the exact raw bytes; never a
	// re-serialized object.
	event, err := stripe.ConstructEvent(body, sig, h.webhookSecret)
	if err != nil {
		h.logger.Warn("webhook signature verification failed",
			invoicing.Field{Key: "error", Value: err.Error()})
		http.Error(w, "invalid signature", http.StatusBadRequest)
		h.metrics.RecordWebhookError("auth_failed")
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	if !h.firstDelivery(r.Context(), event.ID) {
		h.logger.Info("duplicate webhook delivery skipped",
			invoicing.Field{Key: "event_id", Value: event.ID},
			invoicing.Field{Key: "event_type", Value: eventType})
		h.acknowledge(w)
		return
	}

	if err := h.processEvent(r.Context(), &event, tenantToken); err != nil {
		// Processing failures are terminal-and-logged; redelivery would
		// not change the outcome.
		h.logger.Error("webhook processing failed",
			invoicing.Field{Key: "event_id", Value: event.ID},
			invoicing.Field{Key: "event_type", Value: eventType},
			invoicing.Field{Key: "error", Value: err.Error()})
		h.metrics.RecordWebhookEvent(eventType, "error")
		h.metrics.RecordWebhookError("processing_error")
	} else {
		h.metrics.RecordWebhookEvent(eventType, "success")
	}
	h.metrics.RecordWebhookProcessingDuration(eventType, time.Since(startTime))

	h.acknowledge(w)
}

// firstDelivery reports whether this event id has not been seen before.
// Cache failures fail open: dedupe must never turn a deliverable webhook
// into an error.
func (h *Handler) firstDelivery(ctx context.Context, eventID string) bool {
	if h.eventCache == nil || eventID == "" {
		return true
	}
	first, err := h.eventCache.MarkProcessed(ctx, eventID, h.eventCacheTTL)
	if err != nil {
		h.logger.Warn("event dedupe cache unavailable",
			invoicing.Field{Key: "error", Value: err.Error()})
		return true
	}
	return first
}

func (h *Handler) acknowledge(w http.ResponseWriter) {
	_ = httputil.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
