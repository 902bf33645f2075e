package httpapi

import (
	stderrors "errors"
	"net/http"

	"github.com/the-pines/frog/internal/errors"
	"github.com/the-pines/frog/internal/httputil"
	"github.com/the-pines/frog/internal/issuing"
)

type decisionMetadata struct {
	Reason errors.Reason `json:"reason"`
}

type decisionResponse struct {
	Approved bool              `json:"approved"`
	Metadata *decisionMetadata `json:"metadata,omitempty"`
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// stripeWebhook answers authorization requests synchronously and records
// authorization outcomes. Every reply carries the processor API version.
func (h *handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Stripe-Version", issuing.ResponseAPIVersion)
	ctx := r.Context()

	if h.webhooks == nil {
		h.log.WithContext(ctx).Error("webhook received without a configured verifier")
		httputil.InternalError(w)
		return
	}

	payload, err := httputil.ReadAllStrict(r.Body, httputil.DefaultMaxBodyBytes)
	if err != nil {
		writeText(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	evt, err := h.webhooks.Parse(payload, r.Header.Get(issuing.SignatureHeader))
	switch {
	case stderrors.Is(err, issuing.ErrMissingSignature):
		writeText(w, http.StatusBadRequest, "Missing stripe-signature")
		return
	case stderrors.Is(err, issuing.ErrInvalidSignature):
		h.log.LogSecurityEvent(ctx, "webhook_invalid_signature", map[string]interface{}{
			"remote_addr": r.RemoteAddr,
		})
		writeText(w, http.StatusBadRequest, "Invalid signature")
		return
	case err != nil:
		h.log.WithContext(ctx).WithError(err).Warn("malformed webhook event")
		writeText(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	entry := h.log.WithContext(ctx).WithField("event_id", evt.ID).WithField("event_type", evt.Type)

	switch evt.Type {
	case issuing.EventAuthorizationRequest:
		decision, err := h.app.Payments.Authorize(ctx, evt.Authorization)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		resp := decisionResponse{Approved: decision.Approved}
		if !decision.Approved {
			resp.Metadata = &decisionMetadata{Reason: decision.Reason}
		}
		entry.WithField("approved", decision.Approved).Info("authorization decided")
		httputil.WriteJSON(w, http.StatusOK, resp)

	case issuing.EventAuthorizationCreated:
		if _, err := h.app.Payments.RecordAuthorization(ctx, evt.Authorization); err != nil {
			h.writeError(w, r, err)
			return
		}
		entry.Info("authorization recorded")
		writeText(w, http.StatusOK, "ok")

	default:
		entry.Debug("webhook event ignored")
		writeText(w, http.StatusOK, "ignored")
	}
}
