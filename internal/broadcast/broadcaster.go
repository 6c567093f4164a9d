package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/BTreeMap/KakeruBot/internal/messaging"
	"github.com/BTreeMap/KakeruBot/internal/models"
	"github.com/BTreeMap/KakeruBot/internal/store"
)

// ReportWindow is how far back the weekly report looks.
const ReportWindow = 7 * 24 * time.Hour

// ErrNoDelivery is returned when every send of a broadcast failed.
var ErrNoDelivery = errors.New("broadcast delivered to no recipient")

// Summarizer produces the AI section of the weekly report.
type Summarizer interface {
	GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Admin is the single administrative recipient. ID keys the log rows; the
// message goes to Address through Service.
type Admin struct {
	ID      string
	Address string
	Service messaging.Service
}

// Result describes one broadcast run.
type Result struct {
	Name    Name
	Sent    int
	Failed  int
	Skipped bool
	// Status is the plain-text summary returned to cron callers.
	Status string
}

// Opts holds configuration for a Broadcaster.
type Opts struct {
	BroadcastAll bool
	PremiumURL   string
	Location     *time.Location
	Now          func() time.Time
	Pick         func(n int) int
}

// Option configures a Broadcaster.
type Option func(*Opts)

// WithBroadcastAll sends day, fortune and moon messages to every stored profile.
func WithBroadcastAll(all bool) Option {
	return func(o *Opts) { o.BroadcastAll = all }
}

// WithPremiumURL sets the link used by the premium upsell.
func WithPremiumURL(url string) Option {
	return func(o *Opts) { o.PremiumURL = url }
}

// WithLocation sets the time zone used for moon and report computations.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// WithPicker overrides the random fortune choice; pick(n) must return [0, n).
func WithPicker(pick func(n int) int) Option {
	return func(o *Opts) { o.Pick = pick }
}

// Broadcaster composes catalogue broadcasts, delivers them and logs each
// successful delivery.
type Broadcaster struct {
	store      store.Store
	users      messaging.Service
	admin      Admin
	summarizer Summarizer
	cfg        Opts
}

// New creates a Broadcaster. users delivers to end users; admin receives
// admin-only broadcasts and, unless broadcast-to-all is set, every broadcast.
func New(st store.Store, users messaging.Service, admin Admin, summarizer Summarizer, opts ...Option) *Broadcaster {
	cfg := Opts{Location: time.UTC, Now: time.Now, Pick: rand.IntN}
	for _, opt := range opts {
		opt(&cfg)
	}
	if admin.Address == "" {
		admin.Address = admin.ID
	}
	if admin.Service == nil {
		admin.Service = users
	}
	return &Broadcaster{store: st, users: users, admin: admin, summarizer: summarizer, cfg: cfg}
}

// Run composes and delivers the named broadcast.
func (b *Broadcaster) Run(ctx context.Context, name Name) (Result, error) {
	slog.Debug("Broadcaster.Run invoked", "name", name)
	switch name {
	case Monday, Wednesday, Friday, Sunday:
		return b.deliver(ctx, name, dayMessages[name], b.dayLabel(name)+" sent")
	case Omikuji:
		msg := omikujiHeader + fortunes[b.cfg.Pick(len(fortunes))]
		return b.deliver(ctx, name, msg, "Omikuji sent")
	case MoonAuto:
		return b.runMoon(ctx)
	case WeeklyReport:
		return b.runWeeklyReport(ctx)
	case PremiumCheck:
		return b.runPremiumCheck(ctx)
	default:
		return Result{Name: name}, ErrUnknownBroadcast
	}
}

func (b *Broadcaster) dayLabel(name Name) string {
	s := string(name)
	return strings.ToUpper(s[:1]) + s[1:]
}

func (b *Broadcaster) runMoon(ctx context.Context) (Result, error) {
	age := MoonAge(b.cfg.Now().In(b.cfg.Location))
	msg := moonMessage(age)
	if msg == "" {
		slog.Info("Broadcaster moon_auto: not a moon day", "moonAge", fmt.Sprintf("%.1f", age))
		return Result{Name: MoonAuto, Skipped: true, Status: "ℹ Not moon day"}, nil
	}
	slog.Debug("Broadcaster moon_auto: moon day", "moonAge", fmt.Sprintf("%.1f", age))
	return b.deliver(ctx, MoonAuto, msg, string([]rune(msg)[:2])+"Message sent")
}

func (b *Broadcaster) runWeeklyReport(ctx context.Context) (Result, error) {
	since := b.cfg.Now().In(b.cfg.Location).Add(-ReportWindow)
	logs, err := b.store.LogsSince(ctx, since)
	if err != nil {
		slog.Error("Broadcaster weekly_report: failed to load logs", "error", err)
		return Result{Name: WeeklyReport}, fmt.Errorf("load logs since %s: %w", since.Format(time.RFC3339), err)
	}

	counts := countByType(logs)
	summary := ""
	if len(logs) > 0 && b.summarizer != nil {
		summary, err = b.summarizer.GeneratePrompt(ctx, reportSystemText, analysisPrompt(len(logs), counts))
		if err != nil {
			slog.Warn("Broadcaster weekly_report: AI summary unavailable, omitting section", "error", err)
			summary = ""
		}
	}
	report := renderReport(len(logs), counts, summary)

	if err := b.sendAdmin(ctx, WeeklyReport, report); err != nil {
		return Result{Name: WeeklyReport, Failed: 1}, err
	}
	return Result{Name: WeeklyReport, Sent: 1, Status: "✅ Weekly report sent"}, nil
}

func (b *Broadcaster) runPremiumCheck(ctx context.Context) (Result, error) {
	if b.cfg.PremiumURL == "" {
		slog.Warn("Broadcaster premium_check: premium URL not configured")
		return Result{Name: PremiumCheck, Skipped: true, Status: "ℹ Premium URL not configured"}, nil
	}
	profiles, err := b.store.ListProfiles(ctx)
	if err != nil {
		slog.Error("Broadcaster premium_check: failed to list profiles", "error", err)
		return Result{Name: PremiumCheck}, fmt.Errorf("list profiles: %w", err)
	}

	msg := premiumUpsell + b.cfg.PremiumURL
	res := Result{Name: PremiumCheck}
	for _, p := range profiles {
		if p.IsPremium() || models.DeriveOnboardingState(&p) != models.StateActive {
			continue
		}
		if err := b.sendUser(ctx, PremiumCheck, p.UserID, msg); err != nil {
			res.Failed++
			continue
		}
		res.Sent++
	}
	res.Status = fmt.Sprintf("✅ Premium check sent to %d users", res.Sent)
	if res.Sent == 0 && res.Failed > 0 {
		return res, ErrNoDelivery
	}
	return res, nil
}

// deliver sends msg to the admin, or to every stored profile when
// broadcast-to-all is configured.
func (b *Broadcaster) deliver(ctx context.Context, name Name, msg, okStatus string) (Result, error) {
	if !b.cfg.BroadcastAll {
		if err := b.sendAdmin(ctx, name, msg); err != nil {
			return Result{Name: name, Failed: 1}, err
		}
		return Result{Name: name, Sent: 1, Status: "✅ " + okStatus}, nil
	}

	profiles, err := b.store.ListProfiles(ctx)
	if err != nil {
		slog.Error("Broadcaster failed to list profiles", "name", name, "error", err)
		return Result{Name: name}, fmt.Errorf("list profiles: %w", err)
	}
	res := Result{Name: name}
	for _, p := range profiles {
		if err := b.sendUser(ctx, name, p.UserID, msg); err != nil {
			res.Failed++
			continue
		}
		res.Sent++
	}
	res.Status = fmt.Sprintf("✅ %s (%d/%d)", okStatus, res.Sent, len(profiles))
	if res.Sent == 0 && res.Failed > 0 {
		return res, ErrNoDelivery
	}
	slog.Info("Broadcaster delivered to all profiles", "name", name, "sent", res.Sent, "failed", res.Failed)
	return res, nil
}

func (b *Broadcaster) sendAdmin(ctx context.Context, name Name, msg string) error {
	if err := b.admin.Service.SendMessage(ctx, b.admin.Address, msg); err != nil {
		slog.Error("Broadcaster admin send failed", "name", name, "error", err)
		return fmt.Errorf("send %s to admin: %w", name, err)
	}
	b.logDelivery(ctx, name, b.admin.ID, msg)
	return nil
}

func (b *Broadcaster) sendUser(ctx context.Context, name Name, userID, msg string) error {
	if err := b.users.SendMessage(ctx, userID, msg); err != nil {
		slog.Warn("Broadcaster user send failed", "name", name, "userID", userID, "error", err)
		return err
	}
	b.logDelivery(ctx, name, userID, msg)
	return nil
}

// logDelivery records the full message; the store applies its own cap.
func (b *Broadcaster) logDelivery(ctx context.Context, name Name, userID, msg string) {
	err := b.store.AppendLog(ctx, models.LogEntry{UserID: userID, Message: msg, Type: models.LogType(name)})
	if err != nil {
		slog.Warn("Broadcaster failed to log delivery", "name", name, "userID", userID, "error", err)
	}
}
