package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the agent process.
// All values must come from env (or env-file loaded by the process runner).
// No session logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	Agent     AgentConfig
	Backend   BackendConfig
	Signaling SignalingConfig
	Softphone SoftphoneConfig
	Session   SessionConfig
	Store     StoreConfig
	DB        DBConfig
	Redis     RedisConfig
}

type AppConfig struct {
	Env      string
	Port     int
	LogLevel string

	// ControlToken protects the local control API. Empty disables the check
	// outside production.
	ControlToken string
}

type AgentConfig struct {
	// ID is the backend agent id used for presence writes.
	ID string
	// Identity is the telephony identity the capability token is minted for.
	Identity string
}

type BackendConfig struct {
	URL            string
	APIKey         string
	RequestTimeout time.Duration
}

type SignalingConfig struct {
	URL                  string
	MaxReconnectAttempts int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
}

type SoftphoneConfig struct {
	URL string
}

type SessionConfig struct {
	OfferTTL time.Duration

	// RejectPolicy decides what happens locally when the agent rejects an offer.
	// Accepts: silent, notice
	RejectPolicy string
}

type StoreConfig struct {
	// Driver selects durable client storage for tokens and call history.
	// Accepts: memory, sqlite, postgres, redis
	Driver     string
	SQLitePath string
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
	Host     string
	Port     int
	Password string
	DB       int
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
	c.App.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	c.App.ControlToken = os.Getenv("CONTROL_TOKEN")

	c.Agent.ID = strings.TrimSpace(os.Getenv("AGENT_ID"))
	c.Agent.Identity = strings.TrimSpace(os.Getenv("AGENT_IDENTITY"))

	c.Backend.URL = strings.TrimSpace(os.Getenv("BACKEND_URL"))
	c.Backend.APIKey = os.Getenv("BACKEND_API_KEY")
	{
		d, err := optionalDuration("BACKEND_TIMEOUT")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Backend.RequestTimeout = d
	}

	c.Signaling.URL = strings.TrimSpace(os.Getenv("SIGNALING_URL"))
	{
		n, err := optionalInt("SIGNALING_MAX_RECONNECTS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Signaling.MaxReconnectAttempts = n
	}
	{
		d, err := optionalDuration("SIGNALING_BACKOFF_BASE")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Signaling.BackoffBase = d
	}
	{
		d, err := optionalDuration("SIGNALING_BACKOFF_MAX")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Signaling.BackoffMax = d
	}

	c.Softphone.URL = strings.TrimSpace(os.Getenv("SOFTPHONE_URL"))

	{
		d, err := optionalDuration("OFFER_TTL")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Session.OfferTTL = d
	}
	c.Session.RejectPolicy = strings.TrimSpace(os.Getenv("REJECT_POLICY"))

	c.Store.Driver = strings.TrimSpace(os.Getenv("STORE_DRIVER"))
	c.Store.SQLitePath = strings.TrimSpace(os.Getenv("SQLITE_PATH"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := optionalInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := optionalInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optionalInt("REDIS_DB")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.DB = n
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills env-dependent defaults in place.
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
	if c.IsProduction() && c.App.ControlToken == "" {
		errs = append(errs, errors.New("CONTROL_TOKEN is required in production"))
	}

	if c.Agent.ID == "" {
		errs = append(errs, errors.New("AGENT_ID is required"))
	}
	if c.Agent.Identity == "" {
		errs = append(errs, errors.New("AGENT_IDENTITY is required"))
	}

	if c.Backend.URL == "" {
		errs = append(errs, errors.New("BACKEND_URL is required"))
	} else if c.IsProduction() && !strings.HasPrefix(c.Backend.URL, "https://") {
		errs = append(errs, fmt.Errorf("BACKEND_URL must use https in production, got %q", c.Backend.URL))
	}
	if c.Backend.RequestTimeout <= 0 {
		c.Backend.RequestTimeout = 10 * time.Second
	}

	if c.Signaling.URL == "" {
		errs = append(errs, errors.New("SIGNALING_URL is required"))
	}
	if c.Signaling.MaxReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("SIGNALING_MAX_RECONNECTS must be >= 0, got %d", c.Signaling.MaxReconnectAttempts))
	} else if c.Signaling.MaxReconnectAttempts == 0 {
		c.Signaling.MaxReconnectAttempts = 6
	}
	if c.Signaling.BackoffBase <= 0 {
		c.Signaling.BackoffBase = time.Second
	}
	if c.Signaling.BackoffMax <= 0 {
		c.Signaling.BackoffMax = 30 * time.Second
	}
	if c.Signaling.BackoffMax < c.Signaling.BackoffBase {
		errs = append(errs, errors.New("SIGNALING_BACKOFF_MAX must be >= SIGNALING_BACKOFF_BASE"))
	}

	if c.Softphone.URL == "" {
		errs = append(errs, errors.New("SOFTPHONE_URL is required"))
	}

	if c.Session.OfferTTL <= 0 {
		c.Session.OfferTTL = 60 * time.Second
	}
	if c.Session.RejectPolicy == "" {
		c.Session.RejectPolicy = "silent"
	} else if !isValidRejectPolicy(c.Session.RejectPolicy) {
		errs = append(errs, fmt.Errorf("REJECT_POLICY must be one of silent, notice, got %q", c.Session.RejectPolicy))
	}

	if c.Store.Driver == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE_DRIVER is required in production"))
		} else {
			c.Store.Driver = "sqlite"
		}
	}
	switch c.Store.Driver {
	case "":
	case "memory":
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE_DRIVER=memory is not allowed in production"))
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			c.Store.SQLitePath = "agent-softphone.db"
		}
	case "postgres":
		errs = append(errs, c.validateDB()...)
	case "redis":
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required for STORE_DRIVER=redis"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be one of memory, sqlite, postgres, redis, got %q", c.Store.Driver))
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
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
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// HTTPAddr binds the control API to loopback; the UI runs on the same machine.
func (c Config) HTTPAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", c.App.Port)
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

func optionalInt(key string) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return 0, nil
	}
	return mustInt(key)
}

// optionalDuration returns 0 when key is unset so Validate can fill the
// default. A value that does not parse is an error, not a silent default.
func optionalDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 30s, got %q", key, v)
	}
	return d, nil
}

func appendParseErr[T any](errs []error, v T, err error) (T, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
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

func isValidRejectPolicy(v string) bool {
	switch v {
	case "silent", "notice":
		return true
	default:
		return false
	}
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
