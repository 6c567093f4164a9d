// Package api provides HTTP handlers for KakeruBot endpoints.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/KakeruBot/internal/broadcast"
	"github.com/BTreeMap/KakeruBot/internal/flow"
	"github.com/BTreeMap/KakeruBot/internal/payment"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
)

// Fixed plain-text bodies.
const (
	okBody     = "OK"
	bannerBody = "✅ Kakeru Bot running gently with memory!"
)

// callbackHandler receives LINE webhook deliveries. Once the signature is
// verified it always answers 200 so the platform does not redeliver.
func (s *Server) callbackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.callbackHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	cb, err := webhook.ParseRequest(s.channelSecret, r)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			slog.Warn("Server.callbackHandler: invalid signature")
		} else {
			slog.Warn("Server.callbackHandler: failed to parse webhook request", "error", err)
		}
		writeTextResponse(w, http.StatusBadRequest, "Bad Request")
		return
	}
	slog.Debug("Server.callbackHandler: received events", "count", len(cb.Events))

	// Events of one delivery are handled in order, one at a time. A client
	// disconnect must not abort a reply that is already being generated.
	ctx := context.WithoutCancel(r.Context())
	for _, event := range cb.Events {
		s.handleEvent(ctx, event)
	}
	writeTextResponse(w, http.StatusOK, okBody)
}

// handleEvent routes one text message event and delivers the resulting reply.
// Failures are logged; nothing is returned to the platform.
func (s *Server) handleEvent(ctx context.Context, event webhook.EventInterface) {
	e, ok := event.(webhook.MessageEvent)
	if !ok {
		slog.Debug("Server.handleEvent: ignoring non-message event", "type", fmt.Sprintf("%T", event))
		return
	}
	msg, ok := e.Message.(webhook.TextMessageContent)
	if !ok {
		slog.Debug("Server.handleEvent: ignoring non-text message", "type", fmt.Sprintf("%T", e.Message))
		return
	}
	userID := sourceUserID(e.Source)
	if userID == "" {
		slog.Warn("Server.handleEvent: message without user id", "eventID", e.WebhookEventId)
		return
	}

	if s.dedup != nil && e.WebhookEventId != "" {
		fresh, err := s.dedup.RecordEvent(ctx, e.WebhookEventId, userID)
		switch {
		case err != nil:
			slog.Warn("Server.handleEvent: dedup check failed, processing anyway", "eventID", e.WebhookEventId, "error", err)
		case !fresh:
			slog.Info("Server.handleEvent: skipping redelivered event", "eventID", e.WebhookEventId, "userID", userID,
				"redelivery", e.DeliveryContext != nil && e.DeliveryContext.IsRedelivery)
			return
		}
	}

	action, err := s.router.Route(ctx, userID, msg.Text)
	if err != nil {
		slog.Warn("Server.handleEvent: route degraded", "userID", userID, "error", err)
	}
	if action.Kind != flow.ActionSendText {
		return
	}
	if err := s.users.SendMessage(ctx, userID, action.Text); err != nil {
		slog.Error("Server.handleEvent: failed to deliver reply", "userID", userID, "error", err)
		return
	}
	slog.Debug("Server.handleEvent: reply delivered", "userID", userID)
}

// sourceUserID returns the sending user for any source kind.
func sourceUserID(src webhook.SourceInterface) string {
	switch v := src.(type) {
	case webhook.UserSource:
		return v.UserId
	case webhook.GroupSource:
		return v.UserId
	case webhook.RoomSource:
		return v.UserId
	default:
		return ""
	}
}

// cronHandler runs a named broadcast when the shared key matches.
func (s *Server) cronHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.cronAuthorized(r.URL.Query().Get("key")) {
		slog.Warn("Server.cronHandler: forbidden", "name", name, "remote", r.RemoteAddr)
		writeTextResponse(w, http.StatusForbidden, "Forbidden")
		return
	}
	bname, err := broadcast.ParseName(name)
	if err != nil {
		slog.Warn("Server.cronHandler: unknown broadcast", "name", name)
		writeTextResponse(w, http.StatusNotFound, "Not Found")
		return
	}

	res, err := s.broadcaster.Run(r.Context(), bname)
	if err != nil {
		slog.Error("Server.cronHandler: broadcast failed", "name", bname, "error", err)
		writeTextResponse(w, http.StatusInternalServerError, fmt.Sprintf("❌ %s failed", bname))
		return
	}
	slog.Info("Server.cronHandler: broadcast finished", "name", bname, "status", res.Status, "sent", res.Sent, "failed", res.Failed)
	writeTextResponse(w, http.StatusOK, res.Status)
}

func (s *Server) cronAuthorized(key string) bool {
	if s.cronKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.cronKey)) == 1
}

// paymentHandler verifies a Stripe event and applies the plan change.
func (s *Server) paymentHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPaymentBody))
	if err != nil {
		slog.Warn("Server.paymentHandler: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, Response{Status: "error", Message: "unreadable body"})
		return
	}

	ev, err := payment.Parse(body, r.Header.Get("Stripe-Signature"), s.paymentSecret)
	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		writeJSONResponse(w, http.StatusUnauthorized, Response{Status: "error", Message: "invalid signature"})
		return
	case errors.Is(err, payment.ErrMalformedEvent):
		slog.Warn("Server.paymentHandler: malformed event", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, Response{Status: "error", Message: "malformed event"})
		return
	case errors.Is(err, payment.ErrMissingUserID):
		// Redelivery cannot add the missing reference, so acknowledge.
		slog.Warn("Server.paymentHandler: event without user reference", "eventID", ev.ID, "type", ev.Type)
		writeJSONResponse(w, http.StatusOK, Response{Status: "ignored", Event: ev.Type})
		return
	case err != nil:
		slog.Error("Server.paymentHandler: unexpected parse error", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, Response{Status: "error", Message: "invalid event"})
		return
	}

	if ev.Kind == payment.KindIgnored {
		writeJSONResponse(w, http.StatusOK, Response{Status: "ignored", Event: ev.Type})
		return
	}
	err = s.payments.Apply(context.WithoutCancel(r.Context()), ev)
	switch {
	case errors.Is(err, payment.ErrUnknownUser):
		slog.Warn("Server.paymentHandler: event for unknown user acknowledged", "eventID", ev.ID, "userID", ev.UserID)
		writeJSONResponse(w, http.StatusOK, Response{Status: "ignored", Event: ev.Type})
		return
	case err != nil:
		writeJSONResponse(w, http.StatusInternalServerError, Response{Status: "error", Message: "failed to apply event"})
		return
	}
	writeJSONResponse(w, http.StatusOK, Response{Status: "ok", Event: ev.Type})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeTextResponse(w, http.StatusOK, okBody)
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	writeTextResponse(w, http.StatusOK, bannerBody)
}
