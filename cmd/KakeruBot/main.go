package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/BTreeMap/KakeruBot/internal/api"
	"github.com/BTreeMap/KakeruBot/internal/genai"
	"github.com/BTreeMap/KakeruBot/internal/lockfile"
	"github.com/BTreeMap/KakeruBot/internal/store"
	"github.com/BTreeMap/KakeruBot/internal/twiliowhatsapp"
	"github.com/BTreeMap/KakeruBot/internal/util"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for KakeruBot state data
	DefaultStateDir = "/var/lib/kakeru"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "kakeru.db"
	// DefaultTimezone is where broadcasts are scheduled
	DefaultTimezone = "Asia/Tokyo"
	// DefaultLogLevel is used when LOG_LEVEL is unset
	DefaultLogLevel = "debug"
)

// logLevel lets the level change after the configuration is read.
var logLevel = new(slog.LevelVar)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	config, err := parseCommandLineFlags(config, os.Args[1:])
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	if err := validateConfig(config); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	setLogLevel(config.LogLevel)

	loc, err := loadLocation(config.Timezone)
	if err != nil {
		slog.Error("Failed to load timezone", "timezone", config.Timezone, "error", err)
		os.Exit(1)
	}

	// Build module options
	storeOpts := buildStoreOptions(config)
	genaiOpts := buildGenAIOptions(config)
	twilioOpts := buildTwilioOptions(config)
	apiOpts := buildAPIOptions(config, loc)

	lock, err := acquireStateLock(config)
	if err != nil {
		slog.Error("Failed to lock state directory", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	slog.Info("Bootstrapping KakeruBot with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "genai", len(genaiOpts), "twilio", len(twilioOpts), "api", len(apiOpts))
	runErr := api.Run(ctx, storeOpts, genaiOpts, twilioOpts, apiOpts)
	stop()
	if err := lock.Release(); err != nil {
		slog.Warn("Failed to release state directory lock", "error", err)
	}
	if runErr != nil {
		slog.Error("KakeruBot failed to run", "error", runErr)
		os.Exit(1)
	}
	slog.Info("KakeruBot exited successfully")
}

// Config holds the resolved configuration.
type Config struct {
	LINEAccessToken   string `validate:"required"`
	LINEChannelSecret string `validate:"required"`
	OpenAIKey         string `validate:"required"`
	OpenAIModel       string `validate:"required"`
	OpenAIBaseURL     string `validate:"omitempty,url"`
	DatabaseURL       string
	StateDir          string `validate:"required"`
	AdminID           string `validate:"required"`
	CronKey           string `validate:"required"`
	PaymentSecret     string
	PremiumURL        string `validate:"omitempty,url"`
	APIAddr           string `validate:"required"`
	BroadcastAll      bool
	InternalSchedule  bool
	KeepAliveURL      string `validate:"omitempty,url"`
	AdminChannel      string `validate:"oneof=line twilio"`
	AdminWhatsAppTo   string `validate:"required_if=AdminChannel twilio"`
	TwilioAccountSID  string `validate:"required_if=AdminChannel twilio"`
	TwilioAuthToken   string `validate:"required_if=AdminChannel twilio"`
	TwilioFromNumber  string `validate:"required_if=AdminChannel twilio"`
	Timezone          string `validate:"required"`
	LogLevel          string `validate:"oneof=debug info warn error"`
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logLevel.Set(slog.LevelDebug)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
}

// setLogLevel applies a validated level name.
func setLogLevel(name string) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		slog.Warn("Unknown log level, keeping current", "level", name)
		return
	}
	logLevel.Set(level)
	slog.Debug("Log level set", "level", level)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		LINEAccessToken:   os.Getenv("LINE_CHANNEL_ACCESS_TOKEN"),
		LINEChannelSecret: os.Getenv("LINE_CHANNEL_SECRET"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       util.EnvOrDefault("OPENAI_MODEL", genai.DefaultModel),
		OpenAIBaseURL:     os.Getenv("OPENAI_BASE_URL"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		StateDir:          util.EnvOrDefault("KAKERU_STATE_DIR", DefaultStateDir),
		AdminID:           os.Getenv("ADMIN_ID"),
		CronKey:           os.Getenv("CRON_KEY"),
		PaymentSecret:     os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		PremiumURL:        os.Getenv("PREMIUM_URL"),
		APIAddr:           util.EnvOrDefault("API_ADDR", api.DefaultServerAddress),
		BroadcastAll:      util.ParseBoolEnv("BROADCAST_ALL", false),
		InternalSchedule:  util.ParseBoolEnv("INTERNAL_SCHEDULE", false),
		KeepAliveURL:      os.Getenv("KEEPALIVE_URL"),
		AdminChannel:      strings.ToLower(util.EnvOrDefault("ADMIN_CHANNEL", api.DefaultAdminChannel)),
		AdminWhatsAppTo:   os.Getenv("ADMIN_WHATSAPP_TO"),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:  os.Getenv("TWILIO_FROM_NUMBER"),
		Timezone:          util.EnvOrDefault("KAKERU_TIMEZONE", DefaultTimezone),
		LogLevel:          strings.ToLower(util.EnvOrDefault("LOG_LEVEL", DefaultLogLevel)),
	}

	slog.Debug("environment variables loaded",
		"LINE_CHANNEL_ACCESS_TOKEN_SET", config.LINEAccessToken != "",
		"LINE_CHANNEL_SECRET_SET", config.LINEChannelSecret != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"KAKERU_STATE_DIR", config.StateDir,
		"ADMIN_ID_SET", config.AdminID != "",
		"CRON_KEY_SET", config.CronKey != "",
		"PAYMENT_WEBHOOK_SECRET_SET", config.PaymentSecret != "",
		"API_ADDR", config.APIAddr,
		"BROADCAST_ALL", config.BroadcastAll,
		"INTERNAL_SCHEDULE", config.InternalSchedule,
		"ADMIN_CHANNEL", config.AdminChannel)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config, args []string) (Config, error) {
	fs := flag.NewFlagSet("KakeruBot", flag.ContinueOnError)
	stateDir := fs.String("state-dir", config.StateDir, "state directory for the SQLite database (overrides $KAKERU_STATE_DIR)")
	dbDSN := fs.String("db-dsn", config.DatabaseURL, "Postgres DSN or SQLite path (overrides $DATABASE_URL)")
	openaiKey := fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	openaiModel := fs.String("openai-model", config.OpenAIModel, "completion model (overrides $OPENAI_MODEL)")
	apiAddr := fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	adminID := fs.String("admin-id", config.AdminID, "admin LINE user id (overrides $ADMIN_ID)")
	broadcastAll := fs.Bool("broadcast-all", config.BroadcastAll, "send broadcasts to every profile (overrides $BROADCAST_ALL)")
	internalSchedule := fs.Bool("internal-schedule", config.InternalSchedule, "run broadcasts from an in-process cron (overrides $INTERNAL_SCHEDULE)")
	keepAliveURL := fs.String("keepalive-url", config.KeepAliveURL, "URL pinged every 10 minutes (overrides $KEEPALIVE_URL)")
	logLevelName := fs.String("log-level", config.LogLevel, "debug, info, warn or error (overrides $LOG_LEVEL)")

	if err := fs.Parse(args); err != nil {
		return config, err
	}

	config.StateDir = *stateDir
	config.DatabaseURL = *dbDSN
	config.OpenAIKey = *openaiKey
	config.OpenAIModel = *openaiModel
	config.APIAddr = *apiAddr
	config.AdminID = *adminID
	config.BroadcastAll = *broadcastAll
	config.InternalSchedule = *internalSchedule
	config.KeepAliveURL = *keepAliveURL
	config.LogLevel = strings.ToLower(*logLevelName)

	slog.Debug("flags parsed",
		"stateDir", config.StateDir,
		"dbDSN_set", config.DatabaseURL != "",
		"openaiKeySet", config.OpenAIKey != "",
		"openaiModel", config.OpenAIModel,
		"apiAddr", config.APIAddr,
		"broadcastAll", config.BroadcastAll,
		"internalSchedule", config.InternalSchedule,
		"logLevel", config.LogLevel)

	return config, nil
}

// validateConfig reports every missing or malformed setting at once.
func validateConfig(config Config) error {
	err := validator.New().Struct(config)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("configuration invalid: %s", strings.Join(msgs, "; "))
}

// loadLocation resolves the broadcast time zone.
func loadLocation(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return loc, nil
}

// resolveDSN falls back to SQLite in the state directory.
func resolveDSN(config Config) string {
	if config.DatabaseURL != "" {
		return config.DatabaseURL
	}
	dsn := filepath.Join(config.StateDir, DefaultDBFileName)
	slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", dsn)
	return dsn
}

// acquireStateLock locks the SQLite database directory. Postgres deployments
// need no lock and get a nil *Lock, whose Release is a no-op.
func acquireStateLock(config Config) (*lockfile.Lock, error) {
	dsn := resolveDSN(config)
	if store.DetectDSNType(dsn) == "postgres" {
		return nil, nil
	}
	return lockfile.AcquireLock(filepath.Dir(dsn))
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(config Config) []store.Option {
	dsn := resolveDSN(config)
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		return []store.Option{store.WithPostgresDSN(dsn)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", dsn)
	return []store.Option{store.WithSQLiteDSN(dsn)}
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(config Config) []genai.Option {
	genaiOpts := []genai.Option{genai.WithAPIKey(config.OpenAIKey), genai.WithModel(config.OpenAIModel)}
	if config.OpenAIBaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(config.OpenAIBaseURL))
	}
	return genaiOpts
}

// buildTwilioOptions constructs the admin WhatsApp channel options
func buildTwilioOptions(config Config) []twiliowhatsapp.Option {
	if config.AdminChannel != "twilio" {
		return nil
	}
	return []twiliowhatsapp.Option{
		twiliowhatsapp.WithAccountSID(config.TwilioAccountSID),
		twiliowhatsapp.WithAuthToken(config.TwilioAuthToken),
		twiliowhatsapp.WithFromWhats(config.TwilioFromNumber),
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(config Config, loc *time.Location) []api.Option {
	return []api.Option{
		api.WithAddr(config.APIAddr),
		api.WithLINEAccessToken(config.LINEAccessToken),
		api.WithChannelSecret(config.LINEChannelSecret),
		api.WithCronKey(config.CronKey),
		api.WithPaymentSecret(config.PaymentSecret),
		api.WithAdminID(config.AdminID),
		api.WithAdminChannel(config.AdminChannel, config.AdminWhatsAppTo),
		api.WithPremiumURL(config.PremiumURL),
		api.WithBroadcastAll(config.BroadcastAll),
		api.WithInternalSchedule(config.InternalSchedule),
		api.WithKeepAliveURL(config.KeepAliveURL),
		api.WithLocation(loc),
	}
}
