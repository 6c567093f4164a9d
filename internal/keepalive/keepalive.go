// Package keepalive pings the service's own public URL on an interval so
// free-tier hosts do not idle it out.
package keepalive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-co-op/gocron/v2"
)

const (
	// DefaultInterval is the time between pings.
	DefaultInterval = 10 * time.Minute
	// DefaultTimeout bounds a single ping request.
	DefaultTimeout = 10 * time.Second
	jobName        = "keepalive"
)

// Opts holds keep-alive configuration.
type Opts struct {
	Interval time.Duration
	Timeout  time.Duration
	Client   *http.Client
}

// Option configures a Pinger.
type Option func(*Opts)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(o *Opts) { o.Interval = d }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithHTTPClient sets the client used for pings.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.Client = c }
}

// Pinger periodically requests a URL. It shares no state with the request path.
type Pinger struct {
	url       string
	cfg       Opts
	scheduler gocron.Scheduler
}

// New creates a Pinger for url. It does not start pinging until Start.
func New(url string, opts ...Option) (*Pinger, error) {
	if url == "" {
		return nil, fmt.Errorf("keepalive URL not set")
	}
	cfg := Opts{Interval: DefaultInterval, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	s, err := gocron.NewScheduler(gocron.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("failed to create keepalive scheduler: %w", err)
	}
	return &Pinger{url: url, cfg: cfg, scheduler: s}, nil
}

// Ping issues one GET request and reports the status code.
func (p *Pinger) Ping(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return 0, fmt.Errorf("build keepalive request: %w", err)
	}
	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("keepalive request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Start schedules the ping job and returns immediately. The job stops when
// ctx is cancelled or Shutdown is called.
func (p *Pinger) Start(ctx context.Context) error {
	_, err := p.scheduler.NewJob(
		gocron.DurationJob(p.cfg.Interval),
		gocron.NewTask(func() {
			code, err := p.Ping(ctx)
			if err != nil {
				slog.Warn("keepalive.Ping failed", "url", p.url, "error", err)
				return
			}
			slog.Debug("keepalive.Ping succeeded", "url", p.url, "status", code)
		}),
		gocron.WithName(jobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule keepalive job: %w", err)
	}
	p.scheduler.Start()
	slog.Info("keepalive started", "url", p.url, "interval", p.cfg.Interval)
	return nil
}

// Shutdown stops the scheduler and waits for a running ping to finish.
func (p *Pinger) Shutdown() error {
	if err := p.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown keepalive scheduler: %w", err)
	}
	return nil
}
