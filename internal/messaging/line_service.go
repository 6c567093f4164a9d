package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
)

// linePusher is the subset of the LINE Messaging API used for delivery.
type linePusher interface {
	PushMessageWithHttpInfo(req *messaging_api.PushMessageRequest, xLineRetryKey string) (*http.Response, *messaging_api.PushMessageResponse, error)
}

// errPushAccepted marks a 409 answer to a reused retry key: an earlier
// attempt with the same key was already accepted.
var errPushAccepted = errors.New("push already accepted")

// LINEService implements Service with LINE push messages.
type LINEService struct {
	client   linePusher
	attempts int
}

// NewLINEService creates a LINEService with a real Messaging API client.
func NewLINEService(channelToken string) (*LINEService, error) {
	if channelToken == "" {
		return nil, fmt.Errorf("LINE channel access token must be provided")
	}
	client, err := messaging_api.NewMessagingApiAPI(channelToken)
	if err != nil {
		return nil, fmt.Errorf("create messaging API client: %w", err)
	}
	return newLINEServiceWithClient(client), nil
}

func newLINEServiceWithClient(client linePusher) *LINEService {
	return &LINEService{client: client, attempts: DefaultPushAttempts}
}

// ValidateAndCanonicalizeRecipient trims the LINE user, group or room id.
func (s *LINEService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical := strings.TrimSpace(recipient)
	if canonical == "" {
		return "", ErrEmptyRecipient
	}
	return canonical, nil
}

// SendMessage pushes one text message. All attempts share a single retry key
// so LINE accepts the push at most once.
func (s *LINEService) SendMessage(ctx context.Context, to string, body string) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("LINEService SendMessage validation error", "error", err, "to", to)
		return err
	}
	text, err := prepareBody(body)
	if err != nil {
		return err
	}

	req := &messaging_api.PushMessageRequest{
		To:       canonicalTo,
		Messages: []messaging_api.MessageInterface{messaging_api.TextMessage{Text: text}},
	}
	retryKey := uuid.NewString()

	attempt := 0
	err = retry.Do(
		func() error {
			attempt++
			resp, _, err := s.client.PushMessageWithHttpInfo(req, retryKey)
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
			if err == nil {
				return nil
			}
			if resp == nil {
				return err
			}
			switch {
			case resp.StatusCode == http.StatusConflict:
				return retry.Unrecoverable(errPushAccepted)
			case resp.StatusCode < http.StatusInternalServerError:
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(s.attempts)),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retry.IsRecoverable),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("LINEService push attempt failed", "to", canonicalTo, "attempt", n+1, "error", err)
		}),
	)
	switch {
	case err == nil:
		slog.Debug("LINEService message pushed", "to", canonicalTo, "attempt", attempt, "length", len([]rune(text)))
		return nil
	case errors.Is(err, errPushAccepted):
		slog.Debug("LINEService push already accepted", "to", canonicalTo, "attempt", attempt)
		return nil
	}
	slog.Error("LINEService SendMessage failed", "to", canonicalTo, "attempts", attempt, "error", err)
	return fmt.Errorf("failed to push message to %s: %w", canonicalTo, err)
}
