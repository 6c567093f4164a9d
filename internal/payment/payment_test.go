package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/BTreeMap/KakeruBot/internal/messaging"
	"github.com/BTreeMap/KakeruBot/internal/models"
	"github.com/BTreeMap/KakeruBot/internal/store"
	"github.com/BTreeMap/KakeruBot/internal/testutil"
)

const testSecret = "whsec_test"

// signPayload builds a Stripe-Signature header for payload.
func signPayload(payload []byte, secret string, at time.Time) string {
	return testutil.StripeSignature(secret, payload, at)
}

func eventJSON(eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","type":%q,"data":{"object":%s}}`, eventType, object))
}

func TestParse_CheckoutCompleted(t *testing.T) {
	payload := eventJSON("checkout.session.completed", `{"id":"cs_1","client_reference_id":"U123"}`)
	ev, err := Parse(payload, signPayload(payload, testSecret, time.Now()), testSecret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind != KindActivate || ev.UserID != "U123" || ev.Type != "checkout.session.completed" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestParse_UserIDSources(t *testing.T) {
	tests := []struct {
		name, eventType, object string
		want                    Kind
	}{
		{"subscription metadata", "customer.subscription.created", `{"metadata":{"line_user_id":"U123"}}`, KindActivate},
		{"invoice subscription details", "invoice.payment_succeeded", `{"metadata":{},"subscription_details":{"metadata":{"user_id":"U123"}}}`, KindActivate},
		{"cancellation", "customer.subscription.deleted", `{"metadata":{"user_id":"U123"}}`, KindCancel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := eventJSON(tt.eventType, tt.object)
			ev, err := Parse(payload, signPayload(payload, testSecret, time.Now()), testSecret)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ev.Kind != tt.want || ev.UserID != "U123" {
				t.Errorf("unexpected event %+v", ev)
			}
		})
	}
}

func TestParse_RejectsBadSignature(t *testing.T) {
	payload := eventJSON("checkout.session.completed", `{"client_reference_id":"U123"}`)
	tests := map[string]string{
		"wrong secret": signPayload(payload, "whsec_other", time.Now()),
		"stale":        signPayload(payload, testSecret, time.Now().Add(-time.Hour)),
		"missing":      "",
		"garbage":      "t=abc,v1=zz",
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(payload, header, testSecret); !errors.Is(err, ErrInvalidSignature) {
				t.Errorf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}
}

func TestParse_TamperedBody(t *testing.T) {
	payload := eventJSON("checkout.session.completed", `{"client_reference_id":"U123"}`)
	header := signPayload(payload, testSecret, time.Now())
	tampered := eventJSON("checkout.session.completed", `{"client_reference_id":"U999"}`)
	if _, err := Parse(tampered, header, testSecret); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestParse_IgnoresUnknownType(t *testing.T) {
	payload := eventJSON("charge.refunded", `{"id":"ch_1"}`)
	ev, err := Parse(payload, signPayload(payload, testSecret, time.Now()), testSecret)
	if err != nil || ev.Kind != KindIgnored {
		t.Errorf("expected ignored event, got %+v, %v", ev, err)
	}
}

func TestParse_MissingUserID(t *testing.T) {
	payload := eventJSON("checkout.session.completed", `{"id":"cs_1"}`)
	if _, err := Parse(payload, signPayload(payload, testSecret, time.Now()), testSecret); !errors.Is(err, ErrMissingUserID) {
		t.Errorf("expected ErrMissingUserID, got %v", err)
	}
}

func TestProcessor_ActivateAndCancel(t *testing.T) {
	st := store.NewInMemoryStore()
	users := messaging.NewMockService()
	p := NewProcessor(st, users)
	ctx := context.Background()
	feeling := "不安"
	st.UpsertProfile(ctx, "U123", models.ProfileUpdate{Feeling: &feeling})

	if err := p.Apply(ctx, Event{Type: "checkout.session.completed", Kind: KindActivate, UserID: "U123"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prof, _ := st.GetProfile(ctx, "U123")
	if !prof.IsPremium() || prof.Feeling != "不安" {
		t.Errorf("expected premium with feeling kept, got %+v", prof)
	}
	sent := users.Sent()
	if len(sent) != 1 || sent[0].To != "U123" || sent[0].Body != ConfirmationText {
		t.Errorf("expected confirmation push, got %+v", sent)
	}

	if err := p.Apply(ctx, Event{Type: "customer.subscription.deleted", Kind: KindCancel, UserID: "U123"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prof, _ = st.GetProfile(ctx, "U123")
	if prof.Plan != models.PlanFree {
		t.Errorf("expected free plan after cancel, got %q", prof.Plan)
	}
	if len(users.Sent()) != 1 {
		t.Error("expected no push on cancellation")
	}
}

func TestProcessor_ConfirmationFailureIsNotFatal(t *testing.T) {
	st := store.NewInMemoryStore()
	users := messaging.NewMockService()
	users.Err = errors.New("line down")
	p := NewProcessor(st, users)
	ctx := context.Background()
	st.UpsertProfile(ctx, "U1", models.ProfileUpdate{})
	if err := p.Apply(ctx, Event{Kind: KindActivate, UserID: "U1"}); err != nil {
		t.Fatalf("expected plan change to succeed, got %v", err)
	}
	prof, _ := st.GetProfile(ctx, "U1")
	if !prof.IsPremium() {
		t.Error("expected premium plan")
	}
}

func TestProcessor_SignupEventsConfirmOnce(t *testing.T) {
	st := store.NewInMemoryStore()
	users := messaging.NewMockService()
	p := NewProcessor(st, users)
	ctx := context.Background()
	st.UpsertProfile(ctx, "U1", models.ProfileUpdate{})

	signup := []string{"checkout.session.completed", "customer.subscription.created", "invoice.payment_succeeded"}
	for _, typ := range signup {
		if err := p.Apply(ctx, Event{Type: typ, Kind: KindActivate, UserID: "U1"}); err != nil {
			t.Fatalf("%s: unexpected error: %v", typ, err)
		}
	}
	if n := len(users.Sent()); n != 1 {
		t.Errorf("expected one confirmation for the signup, got %d", n)
	}
}

func TestProcessor_RenewalIsSilent(t *testing.T) {
	st := store.NewInMemoryStore()
	users := messaging.NewMockService()
	p := NewProcessor(st, users)
	ctx := context.Background()
	premium := models.PlanPremium
	st.UpsertProfile(ctx, "U1", models.ProfileUpdate{Plan: &premium})

	for i := 0; i < 2; i++ {
		if err := p.Apply(ctx, Event{Type: "invoice.payment_succeeded", Kind: KindActivate, UserID: "U1"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if n := len(users.Sent()); n != 0 {
		t.Errorf("expected no confirmation on renewal, got %d", n)
	}
}

func TestProcessor_ResubscribeConfirmsAgain(t *testing.T) {
	st := store.NewInMemoryStore()
	users := messaging.NewMockService()
	p := NewProcessor(st, users)
	ctx := context.Background()
	st.UpsertProfile(ctx, "U1", models.ProfileUpdate{})

	events := []Event{
		{Type: "checkout.session.completed", Kind: KindActivate, UserID: "U1"},
		{Type: "customer.subscription.deleted", Kind: KindCancel, UserID: "U1"},
		{Type: "checkout.session.completed", Kind: KindActivate, UserID: "U1"},
	}
	for _, ev := range events {
		if err := p.Apply(ctx, ev); err != nil {
			t.Fatalf("%s: unexpected error: %v", ev.Type, err)
		}
	}
	if n := len(users.Sent()); n != 2 {
		t.Errorf("expected a confirmation per free to premium change, got %d", n)
	}
}

func TestProcessor_UnknownUserIsNotCreated(t *testing.T) {
	st := store.NewInMemoryStore()
	users := messaging.NewMockService()
	p := NewProcessor(st, users)
	ctx := context.Background()

	for _, kind := range []Kind{KindActivate, KindCancel} {
		if err := p.Apply(ctx, Event{Kind: kind, UserID: "U9"}); !errors.Is(err, ErrUnknownUser) {
			t.Errorf("%s: expected ErrUnknownUser, got %v", kind, err)
		}
	}
	if prof, _ := st.GetProfile(ctx, "U9"); prof != nil {
		t.Errorf("expected no profile for a user who never messaged, got %+v", prof)
	}
	if n := len(users.Sent()); n != 0 {
		t.Errorf("expected no confirmation, got %d", n)
	}
}

func TestProcessor_IgnoredEventIsNoop(t *testing.T) {
	st := store.NewInMemoryStore()
	p := NewProcessor(st, messaging.NewMockService())
	if err := p.Apply(context.Background(), Event{Kind: KindIgnored, UserID: "U1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prof, _ := st.GetProfile(context.Background(), "U1"); prof != nil {
		t.Error("expected no profile write for ignored events")
	}
}
