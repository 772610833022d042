package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DispatchDriverSendGrid = "sendgrid"
	DispatchDriverSMTP     = "smtp"
)

// JWTConfig defines issuer/secret pair for auth verification.
type JWTConfig struct {
	Issuer string
	Secret []byte
}

// Config holds runtime configuration shared across the application.
type Config struct {
	Addr                     string
	MongoURI                 string
	MongoDatabase            string
	Timeout                  time.Duration
	AccountCollection        string
	SurveyCollection         string
	ReconciliationCollection string
	PaymentCollection        string
	ServerLog                *log.Logger
	JWTConfigs               []JWTConfig
	JWTAudience              string
	AllowedOrigins           []string
	DispatchDriver           string
	SendGridAPIURL           string
	SendGridAPIKey           string
	MailFrom                 string
	SMTPAddr                 string
	SMTPUsername             string
	SMTPPassword             string
	DispatchTimeout          time.Duration
	RedirectBaseURL          string
	WebhookConcurrency       int
	StoreTimeout             time.Duration
	BillingWebhookSecret     []byte
	DefaultCredits           int
}

// Mongo holds the storage settings shared by the API server and emailyctl.
type Mongo struct {
	URI                      string
	Database                 string
	Timeout                  time.Duration
	AccountCollection        string
	SurveyCollection         string
	ReconciliationCollection string
	PaymentCollection        string
}

// MongoFromEnv reads only the storage keys. It does not require the auth or
// dispatch settings, so operator tools can connect without them.
func MongoFromEnv(getenv func(string) string) (Mongo, error) {
	env := envReader{getenv: getenv}

	var errs []error
	m := Mongo{
		URI:                      env.orDefault("MONGO_URI", "mongodb://mongo:27017"),
		Database:                 env.orDefault("MONGO_DB", "emaily"),
		Timeout:                  env.duration("MONGO_CONNECT_TIMEOUT", 10*time.Second, &errs),
		AccountCollection:        env.orDefault("ACCOUNT_COLLECTION", "accounts"),
		SurveyCollection:         env.orDefault("SURVEY_COLLECTION", "surveys"),
		ReconciliationCollection: env.orDefault("RECONCILIATION_COLLECTION", "reconciliations"),
		PaymentCollection:        env.orDefault("PAYMENT_COLLECTION", "payments"),
	}
	if err := errors.Join(errs...); err != nil {
		return Mongo{}, err
	}
	return m, nil
}

// Load reads an optional .env file and environment variables and returns a
// fully populated Config. Invalid configuration is fatal.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf(".env の読み込みに失敗: %v", err)
	}

	cfg, err := FromEnv(os.Getenv)
	if err != nil {
		log.Fatal(err)
	}

	cfg.ServerLog.Printf("loaded config: addr=%q db=%q dispatchDriver=%q redirectBaseURL=%q", cfg.Addr, cfg.MongoDatabase, cfg.DispatchDriver, cfg.RedirectBaseURL)
	return cfg
}

// FromEnv builds a Config from the given lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	env := envReader{getenv: getenv}

	var jwtConfigs []JWTConfig
	if secret := env.trimmed("AUTH_JWT_SECRET"); secret != "" {
		jwtConfigs = append(jwtConfigs, JWTConfig{
			Issuer: env.orDefault("AUTH_JWT_ISSUER", "emaily-auth"),
			Secret: []byte(secret),
		})
	}
	// ローテーション中は旧シークレットで署名されたトークンも受け付ける
	if secret := env.trimmed("AUTH_JWT_PREVIOUS_SECRET"); secret != "" {
		jwtConfigs = append(jwtConfigs, JWTConfig{
			Issuer: env.orDefault("AUTH_JWT_ISSUER", "emaily-auth"),
			Secret: []byte(secret),
		})
	}
	if len(jwtConfigs) == 0 {
		return Config{}, errors.New("JWT secret not configured: set AUTH_JWT_SECRET")
	}

	driver := strings.ToLower(env.orDefault("DISPATCH_DRIVER", DispatchDriverSendGrid))
	switch driver {
	case DispatchDriverSendGrid:
		if env.trimmed("SENDGRID_API_KEY") == "" {
			return Config{}, errors.New("SENDGRID_API_KEY must be configured for the sendgrid dispatch driver")
		}
	case DispatchDriverSMTP:
		if env.trimmed("SMTP_ADDR") == "" {
			return Config{}, errors.New("SMTP_ADDR must be configured for the smtp dispatch driver")
		}
	default:
		return Config{}, fmt.Errorf("unknown DISPATCH_DRIVER %q", driver)
	}

	storage, err := MongoFromEnv(getenv)
	if err != nil {
		return Config{}, err
	}

	var errs []error
	cfg := Config{
		Addr:                     env.orDefault("HTTP_ADDR", ":8080"),
		MongoURI:                 storage.URI,
		MongoDatabase:            storage.Database,
		Timeout:                  storage.Timeout,
		AccountCollection:        storage.AccountCollection,
		SurveyCollection:         storage.SurveyCollection,
		ReconciliationCollection: storage.ReconciliationCollection,
		PaymentCollection:        storage.PaymentCollection,
		ServerLog:                log.New(os.Stdout, "[emaily-api] ", log.LstdFlags|log.Lshortfile),
		JWTConfigs:               jwtConfigs,
		JWTAudience:              env.trimmed("AUTH_JWT_AUDIENCE"),
		AllowedOrigins:           env.list("API_ALLOWED_ORIGINS", []string{"*"}),
		DispatchDriver:           driver,
		SendGridAPIURL:           env.orDefault("SENDGRID_API_URL", "https://api.sendgrid.com"),
		SendGridAPIKey:           env.trimmed("SENDGRID_API_KEY"),
		MailFrom:                 env.orDefault("MAIL_FROM", "no-reply@emaily.com"),
		SMTPAddr:                 env.trimmed("SMTP_ADDR"),
		SMTPUsername:             env.trimmed("SMTP_USERNAME"),
		SMTPPassword:             getenv("SMTP_PASSWORD"),
		RedirectBaseURL:          strings.TrimRight(env.orDefault("REDIRECT_BASE_URL", "http://localhost:3000"), "/"),
		BillingWebhookSecret:     []byte(env.trimmed("BILLING_WEBHOOK_SECRET")),
	}

	cfg.DispatchTimeout = env.duration("DISPATCH_TIMEOUT", 30*time.Second, &errs)
	cfg.StoreTimeout = env.duration("STORE_TIMEOUT", 5*time.Second, &errs)
	cfg.WebhookConcurrency = env.positiveInt("WEBHOOK_CONCURRENCY", 8, &errs)
	cfg.DefaultCredits = env.nonNegativeInt("DEFAULT_CREDITS", 5, &errs)

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type envReader struct {
	getenv func(string) string
}

func (e envReader) trimmed(key string) string {
	return strings.TrimSpace(e.getenv(key))
}

func (e envReader) orDefault(key, fallback string) string {
	if v := e.trimmed(key); v != "" {
		return v
	}
	return fallback
}

func (e envReader) list(key string, fallback []string) []string {
	raw := e.trimmed(key)
	if raw == "" {
		return fallback
	}

	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			values = append(values, part)
		}
	}

	if len(values) == 0 {
		return fallback
	}
	return values
}

func (e envReader) duration(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := e.trimmed(key)
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		*errs = append(*errs, fmt.Errorf("%s must be a positive duration, got %q", key, raw))
		return fallback
	}
	return parsed
}

func (e envReader) positiveInt(key string, fallback int, errs *[]error) int {
	n := e.nonNegativeInt(key, fallback, errs)
	if n == 0 {
		*errs = append(*errs, fmt.Errorf("%s must be greater than zero", key))
		return fallback
	}
	return n
}

func (e envReader) nonNegativeInt(key string, fallback int, errs *[]error) int {
	raw := e.trimmed(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		*errs = append(*errs, fmt.Errorf("%s must be a non-negative integer, got %q", key, raw))
		return fallback
	}
	return parsed
}
