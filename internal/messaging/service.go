// Package messaging delivers outbound text to end users and the admin.
package messaging

import (
	"context"
	"errors"
	"regexp"

	"github.com/BTreeMap/KakeruBot/internal/models"
)

// Constants for outbound delivery
const (
	// MaxOutboundLength is the hard cut applied to every outbound body, in characters.
	MaxOutboundLength = 490
	// DefaultPushAttempts is the number of immediate attempts for one push.
	DefaultPushAttempts = 3
)

var (
	// ErrEmptyRecipient is returned when a send has no recipient.
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	// ErrEmptyBody is returned when a send has nothing to deliver.
	ErrEmptyBody = errors.New("message body cannot be empty")
)

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient. Bodies longer than
	// MaxOutboundLength are cut before delivery.
	SendMessage(ctx context.Context, to string, body string) error
}

// prepareBody applies the outbound length cut.
func prepareBody(body string) (string, error) {
	if body == "" {
		return "", ErrEmptyBody
	}
	return models.Truncate(body, MaxOutboundLength), nil
}
