package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/KakeruBot/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using the Twilio WhatsApp API.
// It is used as the optional admin channel.
type TwilioService struct {
	client twiliowhatsapp.Sender // Could be real Twilio client or MockClient
}

// NewTwilioService creates a new TwilioService around the given sender.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{client: client}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
// It removes all non-numeric characters and validates the result has at least 6 digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", ErrEmptyRecipient
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if recipient != canonical {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return "+" + canonical, nil
}

// SendMessage sends a WhatsApp message via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}
	text, err := prepareBody(body)
	if err != nil {
		return err
	}
	return s.client.SendMessage(ctx, canonicalTo, text)
}
