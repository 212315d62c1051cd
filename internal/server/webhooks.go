package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gannetcloud/tenantd/internal/webhook"
)

// maxWebhookPayloadBytes caps inbound webhook bodies.
const maxWebhookPayloadBytes = 1 << 20

// handleBillingWebhook receives billing provider events. There is no auth
// context here: the payload signature authenticates the provider, and the
// tenant is derived from the external account reference inside the payload.
// The provider gets 200 for anything recorded, including events that were
// discarded or dead-lettered; retrying those would change nothing.
func (s *Server) handleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookPayloadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(payload) > maxWebhookPayloadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")

	event, err := s.processor.Process(r.Context(), "stripe", payload, signature)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		respondStoreError(w, r, err, true)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event_id": event.EventID,
		"status":   event.Status,
	})
}
