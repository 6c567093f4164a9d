package messaging

import (
	"context"
	"strings"
	"sync"
)

// SentMessage records one delivery made through MockService.
type SentMessage struct {
	To   string
	Body string
}

// MockService is an in-memory Service used by tests and dry runs.
type MockService struct {
	mu   sync.Mutex
	sent []SentMessage
	// Err, when set, is returned by every SendMessage call.
	Err error
}

// NewMockService creates an empty MockService.
func NewMockService() *MockService {
	return &MockService{}
}

func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical := strings.TrimSpace(recipient)
	if canonical == "" {
		return "", ErrEmptyRecipient
	}
	return canonical, nil
}

func (m *MockService) SendMessage(ctx context.Context, to string, body string) error {
	canonicalTo, err := m.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	text, err := prepareBody(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, SentMessage{To: canonicalTo, Body: text})
	return nil
}

// Sent returns a copy of every successful delivery in order.
func (m *MockService) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
