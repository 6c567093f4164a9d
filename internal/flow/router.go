// Package flow routes inbound user text through onboarding and conversation.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BTreeMap/KakeruBot/internal/models"
	"github.com/BTreeMap/KakeruBot/internal/store"
)

// ErrAmbiguousInput is returned with the re-prompt when a gender answer
// matches no rule.
var ErrAmbiguousInput = errors.New("ambiguous onboarding input")

// ActionKind tells the caller what to do with an Action.
type ActionKind int

const (
	ActionNoop ActionKind = iota
	ActionSendText
)

// Action is the outbound result of routing one message.
type Action struct {
	Kind ActionKind
	Text string
}

// SendText returns an action that delivers text to the sender.
func SendText(text string) Action {
	return Action{Kind: ActionSendText, Text: text}
}

// Noop returns an action that sends nothing.
func Noop() Action {
	return Action{Kind: ActionNoop}
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithHistoryWindow sets how many log rows are replayed to the reply generator.
func WithHistoryWindow(n int) RouterOption {
	return func(r *Router) { r.historyWindow = n }
}

// WithPremiumURL adds an upsell link to the onboarding acknowledgement for
// free-plan users.
func WithPremiumURL(url string) RouterOption {
	return func(r *Router) { r.premiumURL = url }
}

// WithClock overrides the time source used for last_active_at.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

// Router is the onboarding and conversation state machine. The state is
// derived from the stored profile on every call.
type Router struct {
	store         store.Store
	replies       Replier
	historyWindow int
	premiumURL    string
	now           func() time.Time
}

// NewRouter creates a Router over the given store and reply generator.
func NewRouter(st store.Store, replies Replier, opts ...RouterOption) *Router {
	r := &Router{
		store:         st,
		replies:       replies,
		historyWindow: DefaultHistoryWindow,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route handles one inbound text and returns what to send back. The returned
// Action is always usable; a non-nil error reports a degraded path the caller
// should log (ErrAmbiguousInput, input validation, store failures).
func (r *Router) Route(ctx context.Context, userID, text string) (Action, error) {
	if userID == "" {
		return Noop(), models.ErrEmptyUserID
	}
	if err := validateInbound(text); err != nil {
		slog.Debug("Router.Route: rejected inbound text", "userID", userID, "error", err)
		return SendText(ResendText), err
	}

	profile, err := r.store.GetProfile(ctx, userID)
	if err != nil {
		slog.Error("Router.Route: profile lookup failed", "userID", userID, "error", err)
		return SendText(FallbackReply), fmt.Errorf("lookup profile: %w", err)
	}

	state := models.DeriveOnboardingState(profile)
	slog.Debug("Router.Route: derived state", "userID", userID, "state", state)
	now := r.now().UTC()

	switch state {
	case models.StateNew:
		if err := r.store.UpsertProfile(ctx, userID, models.ProfileUpdate{LastActiveAt: &now}); err != nil {
			return r.storeFailure(userID, "create profile", err)
		}
		slog.Info("Router.Route: new profile created", "userID", userID)
		return SendText(WelcomeText), nil

	case models.StateNeedGender:
		gender, ok := NormalizeGender(text)
		if !ok {
			slog.Debug("Router.Route: ambiguous gender answer", "userID", userID)
			return SendText(GenderQuestion), ErrAmbiguousInput
		}
		if err := r.store.UpsertProfile(ctx, userID, models.ProfileUpdate{Gender: &gender, LastActiveAt: &now}); err != nil {
			return r.storeFailure(userID, "save gender", err)
		}
		return SendText(StatusPrompt), nil

	case models.StateNeedStatus:
		status := NormalizeRelationshipStatus(text)
		if err := r.store.UpsertProfile(ctx, userID, models.ProfileUpdate{RelationshipStatus: &status, LastActiveAt: &now}); err != nil {
			return r.storeFailure(userID, "save relationship status", err)
		}
		return SendText(FeelingPrompt), nil

	case models.StateNeedFeeling:
		feeling := models.Truncate(text, models.MaxFeelingLength)
		if err := r.store.UpsertProfile(ctx, userID, models.ProfileUpdate{Feeling: &feeling, LastActiveAt: &now}); err != nil {
			return r.storeFailure(userID, "save feeling", err)
		}
		slog.Info("Router.Route: onboarding completed", "userID", userID)
		return SendText(r.acknowledgement(profile)), nil

	default:
		return r.converse(ctx, userID, text, profile, now), nil
	}
}

// converse generates a reply and records both turns. Log and activity writes
// are best-effort.
func (r *Router) converse(ctx context.Context, userID, text string, profile *models.Profile, now time.Time) Action {
	history, err := r.store.RecentLogs(ctx, userID, r.historyWindow)
	if err != nil {
		slog.Warn("Router.converse: history unavailable, continuing without it", "userID", userID, "error", err)
	}

	reply := r.replies.Generate(ctx, userID, text, profile, history)
	if reply.Err != nil {
		slog.Warn("Router.converse: reply degraded to fallback", "userID", userID, "error", reply.Err)
	}

	if err := r.store.AppendLog(ctx, models.LogEntry{UserID: userID, Message: text, Type: models.LogTypeUser}); err != nil {
		slog.Warn("Router.converse: failed to log user message", "userID", userID, "error", err)
	}
	if err := r.store.AppendLog(ctx, models.LogEntry{UserID: userID, Message: reply.Text, Type: models.LogTypeAI}); err != nil {
		slog.Warn("Router.converse: failed to log reply", "userID", userID, "error", err)
	}
	if err := r.store.UpsertProfile(ctx, userID, models.ProfileUpdate{LastActiveAt: &now}); err != nil {
		slog.Warn("Router.converse: failed to refresh last_active_at", "userID", userID, "error", err)
	}
	return SendText(reply.Text)
}

func (r *Router) acknowledgement(profile *models.Profile) string {
	if r.premiumURL == "" || profile.IsPremium() {
		return AcknowledgementText
	}
	return AcknowledgementText + premiumInvitation + r.premiumURL
}

func (r *Router) storeFailure(userID, op string, err error) (Action, error) {
	slog.Error("Router.Route: store write failed", "userID", userID, "op", op, "error", err)
	return SendText(FallbackReply), fmt.Errorf("%s: %w", op, err)
}

// validateInbound rejects blank and over-long messages.
func validateInbound(text string) error {
	if strings.TrimSpace(text) == "" {
		return models.ErrEmptyText
	}
	if utf8.RuneCountInString(text) > models.MaxInboundTextLength {
		return models.ErrTextTooLong
	}
	return nil
}
