// Package scheduler provides scheduling logic for KakeruBot.
//
// It runs the broadcast catalogue from an in-process cron when the deployment
// does not rely on an external cron caller.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/KakeruBot/internal/broadcast"
	"github.com/robfig/cron/v3"
)

// DefaultJobTimeout bounds a single scheduled broadcast run.
const DefaultJobTimeout = 5 * time.Minute

// Runner executes a named broadcast.
type Runner interface {
	Run(ctx context.Context, name broadcast.Name) (broadcast.Result, error)
}

// Entry pairs a broadcast with its 5-field cron expression.
type Entry struct {
	Name broadcast.Name
	Spec string
}

// DefaultSchedule mirrors the external cron the bot was deployed with.
var DefaultSchedule = []Entry{
	{Name: broadcast.Monday, Spec: "0 8 * * 1"},
	{Name: broadcast.Wednesday, Spec: "0 8 * * 3"},
	{Name: broadcast.Friday, Spec: "0 8 * * 5"},
	{Name: broadcast.Sunday, Spec: "0 8 * * 0"},
	{Name: broadcast.Omikuji, Spec: "0 7 * * *"},
	{Name: broadcast.MoonAuto, Spec: "0 21 * * *"},
	{Name: broadcast.WeeklyReport, Spec: "0 21 * * 0"},
}

// Opts holds scheduler configuration.
type Opts struct {
	Location   *time.Location
	JobTimeout time.Duration
}

// Option configures a Scheduler.
type Option func(*Opts)

// WithLocation sets the time zone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithJobTimeout bounds each broadcast run.
func WithJobTimeout(d time.Duration) Option {
	return func(o *Opts) { o.JobTimeout = d }
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron       *cron.Cron
	jobTimeout time.Duration
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	cfg := Opts{Location: time.Local, JobTimeout: DefaultJobTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	logger := slogCronLogger{}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(cfg.Location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Start()
	slog.Debug("Scheduler started", "location", cfg.Location.String())
	return &Scheduler{cron: c, jobTimeout: cfg.JobTimeout}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// ScheduleBroadcasts registers one job per entry. Each run gets its own
// timeout derived from ctx.
func (s *Scheduler) ScheduleBroadcasts(ctx context.Context, runner Runner, entries []Entry) error {
	for _, e := range entries {
		name := e.Name
		if err := s.AddJob(e.Spec, func() { s.runBroadcast(ctx, runner, name) }); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", name, e.Spec, err)
		}
		slog.Info("Scheduler: broadcast scheduled", "name", name, "cron", e.Spec)
	}
	return nil
}

func (s *Scheduler) runBroadcast(ctx context.Context, runner Runner, name broadcast.Name) {
	runCtx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()
	res, err := runner.Run(runCtx, name)
	if err != nil {
		slog.Error("Scheduler: broadcast failed", "name", name, "error", err)
		return
	}
	slog.Info("Scheduler: broadcast finished", "name", name, "status", res.Status, "sent", res.Sent, "failed", res.Failed)
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// slogCronLogger routes cron's internal logging through slog.
type slogCronLogger struct{}

func (slogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
