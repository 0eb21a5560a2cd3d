package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// All values must come from env (or an optional .env file loaded by LoadEnvFile).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	Log      LogConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Platform PlatformConfig
	Gateway  GatewayConfig
	Webhook  WebhookConfig
	Sync     SyncConfig
	Workers  WorkersConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type LogConfig struct {
	// File enables a rotated JSON log file next to stdout when set.
	File string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

// AuthConfig describes the access tokens the identity service signs.
// The API only verifies them.
type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	// Leeway absorbs clock skew against the identity service.
	Leeway time.Duration
}

// PlatformConfig holds process-level defaults for the messaging platform.
// Tenants may override the base URL; credentials are always per tenant.
type PlatformConfig struct {
	BaseURL string
	Timeout time.Duration
}

// GatewayConfig holds process-level defaults for the channel gateway.
type GatewayConfig struct {
	BaseURL    string
	AdminToken string
	Timeout    time.Duration
}

type WebhookConfig struct {
	// Secret protects the inbound webhook and retry endpoints.
	Secret string
	// PublicBaseURL is where the gateway reaches this process for connection events.
	PublicBaseURL string
}

type SyncConfig struct {
	PageSize int
	MaxPages int
	// GateTTL bounds how long a crashed full sync can block the next one.
	GateTTL time.Duration
}

type WorkersConfig struct {
	Enabled             bool
	RetrySpec           string
	StatusPollSpec      string
	PollConcurrency     int
	PendingGrace        time.Duration
	ProcessingTimeout   time.Duration
	DefaultMaxInstances int
}

// LoadEnvFile loads KEY=VALUE pairs from the given files into the process env.
// Missing files are ignored; variables already set are never overwritten.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.Log.File = strings.TrimSpace(os.Getenv("LOG_FILE"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.Leeway = mustDuration("JWT_LEEWAY")

	c.Platform.BaseURL = strings.TrimSpace(os.Getenv("PLATFORM_BASE_URL"))
	c.Platform.Timeout = mustDuration("PLATFORM_TIMEOUT")

	c.Gateway.BaseURL = strings.TrimSpace(os.Getenv("GATEWAY_BASE_URL"))
	c.Gateway.AdminToken = os.Getenv("GATEWAY_ADMIN_TOKEN")
	c.Gateway.Timeout = mustDuration("GATEWAY_TIMEOUT")

	c.Webhook.Secret = os.Getenv("WEBHOOK_SECRET")
	c.Webhook.PublicBaseURL = strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL"))

	c.Sync.PageSize = optionalInt("SYNC_PAGE_SIZE", &parseErrs)
	c.Sync.MaxPages = optionalInt("SYNC_MAX_PAGES", &parseErrs)
	c.Sync.GateTTL = mustDuration("SYNC_GATE_TTL")

	c.Workers.Enabled = strings.TrimSpace(os.Getenv("WORKERS_DISABLED")) == ""
	c.Workers.RetrySpec = strings.TrimSpace(os.Getenv("WEBHOOK_RETRY_SPEC"))
	c.Workers.StatusPollSpec = strings.TrimSpace(os.Getenv("STATUS_POLL_SPEC"))
	c.Workers.PollConcurrency = optionalInt("STATUS_POLL_CONCURRENCY", &parseErrs)
	c.Workers.PendingGrace = mustDuration("WEBHOOK_PENDING_GRACE")
	c.Workers.ProcessingTimeout = mustDuration("WEBHOOK_PROCESSING_TIMEOUT")
	c.Workers.DefaultMaxInstances = optionalInt("DEFAULT_MAX_INSTANCES", &parseErrs)

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.Leeway <= 0 {
		c.Auth.Leeway = 30 * time.Second
	}
	if c.Auth.Leeway > 5*time.Minute {
		errs = append(errs, fmt.Errorf("JWT_LEEWAY must be at most 5m, got %s", c.Auth.Leeway))
	}

	if c.Platform.BaseURL != "" && !isHTTPURL(c.Platform.BaseURL) {
		errs = append(errs, fmt.Errorf("PLATFORM_BASE_URL must be an http(s) URL, got %q", c.Platform.BaseURL))
	}
	if c.Platform.Timeout <= 0 {
		c.Platform.Timeout = 15 * time.Second
	}
	if c.Gateway.BaseURL != "" && !isHTTPURL(c.Gateway.BaseURL) {
		errs = append(errs, fmt.Errorf("GATEWAY_BASE_URL must be an http(s) URL, got %q", c.Gateway.BaseURL))
	}
	if c.Gateway.Timeout <= 0 {
		c.Gateway.Timeout = 15 * time.Second
	}

	if c.Webhook.Secret == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("WEBHOOK_SECRET is required in production"))
		}
	} else if len(c.Webhook.Secret) < 16 {
		errs = append(errs, errors.New("WEBHOOK_SECRET must be at least 16 characters"))
	}
	if c.Webhook.PublicBaseURL != "" && !isHTTPURL(c.Webhook.PublicBaseURL) {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an http(s) URL, got %q", c.Webhook.PublicBaseURL))
	}

	if c.Sync.PageSize <= 0 {
		// Chatwoot-style listings return 25 rows per page.
		c.Sync.PageSize = 25
	}
	if c.Sync.MaxPages <= 0 {
		c.Sync.MaxPages = 200
	}
	if c.Sync.GateTTL <= 0 {
		c.Sync.GateTTL = 10 * time.Minute
	}

	if c.Workers.RetrySpec == "" {
		c.Workers.RetrySpec = "@every 1m"
	}
	if c.Workers.StatusPollSpec == "" {
		c.Workers.StatusPollSpec = "@every 2m"
	}
	if c.Workers.PollConcurrency <= 0 {
		c.Workers.PollConcurrency = 4
	}
	if c.Workers.PendingGrace <= 0 {
		c.Workers.PendingGrace = 2 * time.Minute
	}
	if c.Workers.ProcessingTimeout <= 0 {
		c.Workers.ProcessingTimeout = 10 * time.Minute
	}
	if c.Workers.DefaultMaxInstances <= 0 {
		c.Workers.DefaultMaxInstances = 1
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// optionalInt returns 0 when the key is unset so Validate can apply a default.
func optionalInt(key string, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return 0
	}
	return n
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func isHTTPURL(v string) bool {
	return strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://")
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
