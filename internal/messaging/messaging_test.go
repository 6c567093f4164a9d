package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/BTreeMap/KakeruBot/internal/twiliowhatsapp"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
)

// Ensure implementations satisfy Service.
var (
	_ Service = (*LINEService)(nil)
	_ Service = (*TwilioService)(nil)
	_ Service = (*MockService)(nil)
)

// pushResult is one scripted answer: a status of 0 means a transport error.
type pushResult struct {
	status int
	err    error
}

type fakePusher struct {
	results   []pushResult
	requests  []*messaging_api.PushMessageRequest
	retryKeys []string
}

func (f *fakePusher) PushMessageWithHttpInfo(req *messaging_api.PushMessageRequest, xLineRetryKey string) (*http.Response, *messaging_api.PushMessageResponse, error) {
	f.requests = append(f.requests, req)
	f.retryKeys = append(f.retryKeys, xLineRetryKey)
	if len(f.results) > 0 {
		r := f.results[0]
		f.results = f.results[1:]
		if r.err != nil {
			if r.status == 0 {
				return nil, nil, r.err
			}
			return &http.Response{StatusCode: r.status, Body: http.NoBody}, nil, r.err
		}
	}
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, &messaging_api.PushMessageResponse{}, nil
}

func statusErr(code int) pushResult {
	return pushResult{status: code, err: fmt.Errorf("unexpected status code: %d, {}", code)}
}

func pushedText(t *testing.T, req *messaging_api.PushMessageRequest) string {
	t.Helper()
	if len(req.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(req.Messages))
	}
	msg, ok := req.Messages[0].(messaging_api.TextMessage)
	if !ok {
		t.Fatalf("expected TextMessage, got %T", req.Messages[0])
	}
	return msg.Text
}

func TestLINEService_SendMessage(t *testing.T) {
	pusher := &fakePusher{}
	svc := newLINEServiceWithClient(pusher)
	if err := svc.SendMessage(context.Background(), " U123 ", "こんにちは"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if len(pusher.requests) != 1 {
		t.Fatalf("expected 1 push, got %d", len(pusher.requests))
	}
	if pusher.requests[0].To != "U123" {
		t.Errorf("expected recipient U123, got %q", pusher.requests[0].To)
	}
	if got := pushedText(t, pusher.requests[0]); got != "こんにちは" {
		t.Errorf("expected body こんにちは, got %q", got)
	}
}

func TestLINEService_TruncatesLongBody(t *testing.T) {
	pusher := &fakePusher{}
	svc := newLINEServiceWithClient(pusher)
	long := strings.Repeat("恋", MaxOutboundLength+100)
	if err := svc.SendMessage(context.Background(), "U123", long); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if n := len([]rune(pushedText(t, pusher.requests[0]))); n != MaxOutboundLength {
		t.Errorf("expected %d characters, got %d", MaxOutboundLength, n)
	}
}

func TestLINEService_RetriesWithSameKey(t *testing.T) {
	pusher := &fakePusher{results: []pushResult{statusErr(500), {}}}
	svc := newLINEServiceWithClient(pusher)
	if err := svc.SendMessage(context.Background(), "U123", "hi"); err != nil {
		t.Fatalf("expected success on retry, got %v", err)
	}
	if len(pusher.retryKeys) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(pusher.retryKeys))
	}
	if pusher.retryKeys[0] == "" || pusher.retryKeys[0] != pusher.retryKeys[1] {
		t.Errorf("expected one shared retry key, got %v", pusher.retryKeys)
	}
}

func TestLINEService_GivesUpAfterAttempts(t *testing.T) {
	fail := errors.New("dial tcp: connection refused")
	pusher := &fakePusher{results: []pushResult{{err: fail}, {err: fail}, {err: fail}, {err: fail}}}
	svc := newLINEServiceWithClient(pusher)
	err := svc.SendMessage(context.Background(), "U123", "hi")
	if !errors.Is(err, fail) {
		t.Errorf("expected wrapped push error, got %v", err)
	}
	if len(pusher.requests) != DefaultPushAttempts {
		t.Errorf("expected %d attempts, got %d", DefaultPushAttempts, len(pusher.requests))
	}
}

func TestLINEService_ConflictMeansAccepted(t *testing.T) {
	pusher := &fakePusher{results: []pushResult{statusErr(500), statusErr(409)}}
	svc := newLINEServiceWithClient(pusher)
	if err := svc.SendMessage(context.Background(), "U123", "hi"); err != nil {
		t.Errorf("expected 409 to count as delivered, got %v", err)
	}
	if len(pusher.requests) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(pusher.requests))
	}
}

func TestLINEService_ClientErrorsAreNotRetried(t *testing.T) {
	for _, code := range []int{400, 401, 403, 429} {
		pusher := &fakePusher{results: []pushResult{statusErr(code), {}}}
		svc := newLINEServiceWithClient(pusher)
		if err := svc.SendMessage(context.Background(), "U123", "hi"); err == nil {
			t.Errorf("status %d: expected error", code)
		}
		if len(pusher.requests) != 1 {
			t.Errorf("status %d: expected 1 attempt, got %d", code, len(pusher.requests))
		}
	}
}

func TestLINEService_StatusTextInBodyIsNotConflict(t *testing.T) {
	// A 500 whose body happens to mention 409 is still a server error.
	fail := pushResult{status: 500, err: errors.New("unexpected status code: 500, {\"requestId\":\"a409b\"}")}
	pusher := &fakePusher{results: []pushResult{fail, fail, fail}}
	svc := newLINEServiceWithClient(pusher)
	if err := svc.SendMessage(context.Background(), "U123", "hi"); err == nil {
		t.Error("expected failure after server errors")
	}
	if len(pusher.requests) != DefaultPushAttempts {
		t.Errorf("expected %d attempts, got %d", DefaultPushAttempts, len(pusher.requests))
	}
}

func TestLINEService_RejectsEmptyInput(t *testing.T) {
	pusher := &fakePusher{}
	svc := newLINEServiceWithClient(pusher)
	if err := svc.SendMessage(context.Background(), "  ", "hi"); !errors.Is(err, ErrEmptyRecipient) {
		t.Errorf("expected ErrEmptyRecipient, got %v", err)
	}
	if err := svc.SendMessage(context.Background(), "U123", ""); !errors.Is(err, ErrEmptyBody) {
		t.Errorf("expected ErrEmptyBody, got %v", err)
	}
	if len(pusher.requests) != 0 {
		t.Errorf("expected no pushes, got %d", len(pusher.requests))
	}
}

func TestNewLINEService_NoToken(t *testing.T) {
	if _, err := NewLINEService(""); err == nil {
		t.Error("expected error without channel token")
	}
}

func TestTwilioService_SendMessage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	if err := svc.SendMessage(context.Background(), "+81 90-1234-5678", "週間レポート"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.SentMessages))
	}
	if mock.SentMessages[0].To != "+819012345678" {
		t.Errorf("expected canonical number, got %q", mock.SentMessages[0].To)
	}
}

func TestTwilioService_ValidateRecipient(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+1 (555) 123-4567", "+15551234567", false},
		{"", "", true},
		{"abc", "", true},
		{"123", "", true},
	}
	for _, tt := range tests {
		got, err := svc.ValidateAndCanonicalizeRecipient(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMockService_RecordsAndFails(t *testing.T) {
	svc := NewMockService()
	svc.SendMessage(context.Background(), "U1", "one")
	svc.Err = errors.New("down")
	if err := svc.SendMessage(context.Background(), "U1", "two"); err == nil {
		t.Error("expected configured error")
	}
	sent := svc.Sent()
	if len(sent) != 1 || sent[0].Body != "one" {
		t.Errorf("expected only the first message recorded, got %+v", sent)
	}
}
