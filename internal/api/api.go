// Package api provides the HTTP server and main wiring for KakeruBot.
//
// It exposes the LINE webhook, the shared-secret cron endpoints that trigger
// broadcasts, the payment webhook and health probes. The Server built in Run
// is the single application context shared by every handler.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/KakeruBot/internal/broadcast"
	"github.com/BTreeMap/KakeruBot/internal/flow"
	"github.com/BTreeMap/KakeruBot/internal/genai"
	"github.com/BTreeMap/KakeruBot/internal/keepalive"
	"github.com/BTreeMap/KakeruBot/internal/messaging"
	"github.com/BTreeMap/KakeruBot/internal/payment"
	"github.com/BTreeMap/KakeruBot/internal/scheduler"
	"github.com/BTreeMap/KakeruBot/internal/store"
	"github.com/BTreeMap/KakeruBot/internal/twiliowhatsapp"
	"golang.org/x/sync/errgroup"
)

// Server configuration defaults.
const (
	DefaultServerAddress = ":10000"
	DefaultAdminChannel  = "line"
	DefaultShutdownGrace = 10 * time.Second
	// ReadHeaderTimeout bounds slow clients; handlers themselves block on
	// completion calls, so no write timeout is set.
	ReadHeaderTimeout = 10 * time.Second
	// maxPaymentBody caps the payment webhook payload.
	maxPaymentBody = 64 << 10
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr             string
	LINEAccessToken  string
	ChannelSecret    string
	CronKey          string
	PaymentSecret    string
	AdminID          string
	AdminChannel     string
	AdminAddress     string
	PremiumURL       string
	BroadcastAll     bool
	InternalSchedule bool
	KeepAliveURL     string
	Location         *time.Location
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithLINEAccessToken sets the LINE channel access token.
func WithLINEAccessToken(token string) Option {
	return func(o *Opts) { o.LINEAccessToken = token }
}

// WithChannelSecret sets the LINE webhook signing secret.
func WithChannelSecret(secret string) Option {
	return func(o *Opts) { o.ChannelSecret = secret }
}

// WithCronKey sets the shared secret required by the cron endpoints.
func WithCronKey(key string) Option {
	return func(o *Opts) { o.CronKey = key }
}

// WithPaymentSecret enables the payment webhook.
func WithPaymentSecret(secret string) Option {
	return func(o *Opts) { o.PaymentSecret = secret }
}

// WithAdminID sets the admin identity broadcasts and reports are sent to.
func WithAdminID(id string) Option {
	return func(o *Opts) { o.AdminID = id }
}

// WithAdminChannel selects "line" or "twilio" for admin delivery. address is
// the Twilio recipient and is ignored for LINE.
func WithAdminChannel(channel, address string) Option {
	return func(o *Opts) {
		o.AdminChannel = channel
		o.AdminAddress = address
	}
}

// WithPremiumURL sets the upsell link.
func WithPremiumURL(url string) Option {
	return func(o *Opts) { o.PremiumURL = url }
}

// WithBroadcastAll sends broadcasts to every stored profile.
func WithBroadcastAll(all bool) Option {
	return func(o *Opts) { o.BroadcastAll = all }
}

// WithInternalSchedule runs broadcasts from an in-process cron.
func WithInternalSchedule(enabled bool) Option {
	return func(o *Opts) { o.InternalSchedule = enabled }
}

// WithKeepAliveURL enables the periodic self ping.
func WithKeepAliveURL(url string) Option {
	return func(o *Opts) { o.KeepAliveURL = url }
}

// WithLocation sets the time zone for broadcasts and the internal schedule.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// Server holds all shared dependencies for the HTTP handlers.
type Server struct {
	st            store.Store
	dedup         store.DedupRepo
	router        *flow.Router
	users         messaging.Service
	broadcaster   *broadcast.Broadcaster
	payments      *payment.Processor
	channelSecret string
	cronKey       string
	paymentSecret string
}

// NewServer creates a Server from constructed components. Event dedup is
// enabled when the store implements store.DedupRepo.
func NewServer(st store.Store, router *flow.Router, users messaging.Service, b *broadcast.Broadcaster, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{
		st:            st,
		router:        router,
		users:         users,
		broadcaster:   b,
		channelSecret: cfg.ChannelSecret,
		cronKey:       cfg.CronKey,
		paymentSecret: cfg.PaymentSecret,
	}
	if repo, ok := st.(store.DedupRepo); ok {
		s.dedup = repo
	}
	if cfg.PaymentSecret != "" {
		s.payments = payment.NewProcessor(st, users)
	}
	return s
}

// Handler returns the HTTP handler with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", s.callbackHandler)
	mux.HandleFunc("GET /cron/{name}", s.cronHandler)
	if s.payments != nil {
		mux.HandleFunc("/payment/webhook", s.paymentHandler)
	} else {
		slog.Info("Server.Handler: payment webhook disabled, no secret configured")
	}
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /{$}", s.rootHandler)
	return mux
}

// Run builds every module from the given options and serves until ctx is
// cancelled or a component fails.
func Run(ctx context.Context, storeOpts []store.Option, genaiOpts []genai.Option, twilioOpts []twiliowhatsapp.Option, apiOpts []Option) error {
	cfg := Opts{Addr: DefaultServerAddress, AdminChannel: DefaultAdminChannel, Location: time.Local}
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	slog.Debug("api.Run: configuration applied",
		"addr", cfg.Addr,
		"admin_channel", cfg.AdminChannel,
		"payment_enabled", cfg.PaymentSecret != "",
		"broadcast_all", cfg.BroadcastAll,
		"internal_schedule", cfg.InternalSchedule,
		"keepalive_enabled", cfg.KeepAliveURL != "")

	st, err := store.NewStore(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("api.Run: failed to close store", "error", err)
		}
	}()

	gaClient, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to create completion client: %w", err)
	}

	lineService, err := messaging.NewLINEService(cfg.LINEAccessToken)
	if err != nil {
		return fmt.Errorf("failed to create LINE service: %w", err)
	}

	admin, err := buildAdmin(cfg, lineService, twilioOpts)
	if err != nil {
		return err
	}

	router := flow.NewRouter(st, flow.NewReplyGenerator(gaClient), flow.WithPremiumURL(cfg.PremiumURL))
	broadcaster := broadcast.New(st, lineService, admin, gaClient,
		broadcast.WithBroadcastAll(cfg.BroadcastAll),
		broadcast.WithPremiumURL(cfg.PremiumURL),
		broadcast.WithLocation(cfg.Location))
	server := NewServer(st, router, lineService, broadcaster, apiOpts...)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.InternalSchedule {
		sched := scheduler.NewScheduler(scheduler.WithLocation(cfg.Location))
		if err := sched.ScheduleBroadcasts(gctx, broadcaster, scheduler.DefaultSchedule); err != nil {
			sched.Stop()
			return fmt.Errorf("failed to schedule broadcasts: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			sched.Stop()
			return nil
		})
	}

	if cfg.KeepAliveURL != "" {
		pinger, err := keepalive.New(cfg.KeepAliveURL)
		if err == nil {
			err = pinger.Start(gctx)
		}
		if err != nil {
			slog.Error("api.Run: keepalive disabled", "error", err)
		} else {
			g.Go(func() error {
				<-gctx.Done()
				return pinger.Shutdown()
			})
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
	}
	g.Go(func() error {
		slog.Info("KakeruBot API running", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownGrace)
		defer cancel()
		slog.Info("api.Run: shutting down HTTP server")
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildAdmin selects the admin delivery channel.
func buildAdmin(cfg Opts, lineService messaging.Service, twilioOpts []twiliowhatsapp.Option) (broadcast.Admin, error) {
	admin := broadcast.Admin{ID: cfg.AdminID, Address: cfg.AdminID, Service: lineService}
	switch cfg.AdminChannel {
	case "", "line":
		return admin, nil
	case "twilio":
		client, err := twiliowhatsapp.NewClient(twilioOpts...)
		if err != nil {
			return admin, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		admin.Service = messaging.NewTwilioService(client)
		admin.Address = cfg.AdminAddress
		slog.Info("api.Run: admin messages delivered over Twilio WhatsApp")
		return admin, nil
	default:
		return admin, fmt.Errorf("unknown admin channel %q", cfg.AdminChannel)
	}
}
