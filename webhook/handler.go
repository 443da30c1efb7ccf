// Package webhook is the HTTP boundary for provider event delivery. It
// verifies signatures before any side effect and maps reconciliation
// outcomes onto response codes: only a failed outcome answers non-2xx, so
// the provider redelivers exactly the events that did not process.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/xraph/credits/event"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// Processor reconciles decoded events. The credits engine implements it.
type Processor interface {
	ProcessEvent(ctx context.Context, evt *event.Event) event.Result
}

// Handler serves the Stripe webhook endpoint.
type Handler struct {
	secret    string
	processor Processor
	logger    *slog.Logger
}

// NewHandler creates a webhook handler. secret is the Stripe endpoint
// signing secret.
func NewHandler(secret string, p Processor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		secret:    secret,
		processor: p,
		logger:    logger,
	}
}

// Routes mounts the webhook endpoints on a chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/stripe", h.handleStripe)
	return r
}

func (h *Handler) handleStripe(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		h.writeError(w, http.StatusServiceUnavailable, "webhook secret not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		h.writeError(w, http.StatusBadRequest, "missing signature")
		return
	}

	se, err := webhook.ConstructEventWithOptions(payload, sig, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		h.logger.Warn("webhook signature rejected", "error", err)
		h.writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	evt, handled, err := Decode(&se)
	if err != nil {
		h.logger.Warn("webhook payload rejected",
			"event_id", se.ID,
			"type", se.Type,
			"error", err,
		)
		h.writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	if !handled {
		h.logger.Debug("webhook event skipped",
			"event_id", se.ID,
			"type", se.Type,
		)
		h.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	res := h.processor.ProcessEvent(r.Context(), evt)
	if res.Outcome == event.OutcomeFailed {
		h.logger.Error("webhook processing failed",
			"event_id", evt.ID,
			"kind", evt.Kind,
			"error", res.Err,
		)
	}

	h.writeJSON(w, res.Outcome.HTTPStatus(), map[string]any{
		"received": true,
		"outcome":  res.Outcome,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("webhook response encode failed", "error", err)
	}
}
