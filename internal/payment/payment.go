// Package payment verifies Stripe webhook events and applies plan changes.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/KakeruBot/internal/messaging"
	"github.com/BTreeMap/KakeruBot/internal/models"
	"github.com/BTreeMap/KakeruBot/internal/store"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

var (
	// ErrInvalidSignature is returned when the Stripe-Signature header does not verify.
	ErrInvalidSignature = errors.New("invalid payment webhook signature")
	// ErrMalformedEvent is returned when a verified payload is not a Stripe event.
	ErrMalformedEvent = errors.New("malformed payment event")
	// ErrMissingUserID is returned when a plan event does not reference a user.
	ErrMissingUserID = errors.New("payment event does not reference a user")
	// ErrUnknownUser is returned by Apply when the referenced user has no profile.
	ErrUnknownUser = errors.New("payment event references a user without a profile")
)

// Kind is the effect of an event on the referenced profile.
type Kind int

const (
	KindIgnored Kind = iota
	KindActivate
	KindCancel
)

func (k Kind) String() string {
	switch k {
	case KindActivate:
		return "activate"
	case KindCancel:
		return "cancel"
	default:
		return "ignored"
	}
}

// eventKinds maps Stripe event types to plan effects.
var eventKinds = map[string]Kind{
	"checkout.session.completed":    KindActivate,
	"customer.subscription.created": KindActivate,
	"invoice.payment_succeeded":     KindActivate,
	"customer.subscription.deleted": KindCancel,
}

// userIDKeys are the metadata keys checked for the LINE user id, in order.
var userIDKeys = []string{"line_user_id", "user_id"}

// ConfirmationText is pushed to the user after a premium activation.
const ConfirmationText = "🎉プレミアムプランへのご登録ありがとうございます！\nこれからは、もっとじっくりお話を聞かせてくださいね。"

// Event is a verified payment event reduced to what the bot acts on.
type Event struct {
	ID     string
	Type   string
	Kind   Kind
	UserID string
}

// eventObject holds the fields of data.object that can carry the user id.
type eventObject struct {
	ClientReferenceID   string            `json:"client_reference_id"`
	Metadata            map[string]string `json:"metadata"`
	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
}

func (o eventObject) userID() string {
	if o.ClientReferenceID != "" {
		return o.ClientReferenceID
	}
	sources := []map[string]string{o.Metadata}
	if o.SubscriptionDetails != nil {
		sources = append(sources, o.SubscriptionDetails.Metadata)
	}
	for _, md := range sources {
		for _, k := range userIDKeys {
			if v := md[k]; v != "" {
				return v
			}
		}
	}
	return ""
}

// Parse verifies the signature over the raw payload and decodes the event.
// Unrecognized event types yield KindIgnored and no error.
func Parse(payload []byte, sigHeader, secret string) (Event, error) {
	if err := webhook.ValidatePayload(payload, sigHeader, secret); err != nil {
		slog.Warn("payment.Parse: signature verification failed", "error", err)
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var se stripe.Event
	if err := json.Unmarshal(payload, &se); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	ev := Event{ID: se.ID, Type: string(se.Type), Kind: eventKinds[string(se.Type)]}
	if ev.Kind == KindIgnored {
		slog.Debug("payment.Parse: ignoring event type", "eventID", ev.ID, "type", ev.Type)
		return ev, nil
	}
	if se.Data == nil {
		return ev, fmt.Errorf("%w: missing data", ErrMalformedEvent)
	}

	var obj eventObject
	if err := json.Unmarshal(se.Data.Raw, &obj); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	ev.UserID = obj.userID()
	if ev.UserID == "" {
		return ev, ErrMissingUserID
	}
	slog.Debug("payment.Parse: verified event", "eventID", ev.ID, "type", ev.Type, "kind", ev.Kind, "userID", ev.UserID)
	return ev, nil
}

// Processor applies verified events to profiles.
type Processor struct {
	store store.Store
	users messaging.Service
	// mu serializes read-then-write plan changes so concurrent deliveries of
	// one signup see each other's transition.
	mu sync.Mutex
}

// NewProcessor creates a Processor.
func NewProcessor(st store.Store, users messaging.Service) *Processor {
	return &Processor{store: st, users: users}
}

// Apply sets the plan for the referenced user. Only existing profiles are
// changed; a user who never messaged the bot yields ErrUnknownUser. The
// confirmation is pushed only when the plan moves from free to premium, and a
// failed push is logged, not returned, since the plan change already succeeded.
func (p *Processor) Apply(ctx context.Context, ev Event) error {
	var plan models.Plan
	switch ev.Kind {
	case KindActivate:
		plan = models.PlanPremium
	case KindCancel:
		plan = models.PlanFree
	default:
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	prof, err := p.store.GetProfile(ctx, ev.UserID)
	if err != nil {
		slog.Error("payment.Processor.Apply: failed to load profile", "userID", ev.UserID, "error", err)
		return fmt.Errorf("load profile %s: %w", ev.UserID, err)
	}
	if prof == nil {
		slog.Warn("payment.Processor.Apply: no profile for user", "userID", ev.UserID, "eventType", ev.Type)
		return ErrUnknownUser
	}
	if prof.Plan == plan {
		slog.Debug("payment.Processor.Apply: plan unchanged", "userID", ev.UserID, "plan", plan, "eventType", ev.Type)
		return nil
	}

	if err := p.store.UpsertProfile(ctx, ev.UserID, models.ProfileUpdate{Plan: &plan}); err != nil {
		slog.Error("payment.Processor.Apply: failed to update plan", "userID", ev.UserID, "plan", plan, "error", err)
		return fmt.Errorf("update plan for %s: %w", ev.UserID, err)
	}
	slog.Info("payment.Processor.Apply: plan updated", "userID", ev.UserID, "from", prof.Plan, "plan", plan, "eventType", ev.Type)

	if plan == models.PlanPremium {
		if err := p.users.SendMessage(ctx, ev.UserID, ConfirmationText); err != nil {
			slog.Warn("payment.Processor.Apply: confirmation push failed", "userID", ev.UserID, "error", err)
		}
	}
	return nil
}
