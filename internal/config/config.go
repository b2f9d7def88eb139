package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration required by the API process.
// All values must come from env (or an env-file loaded by main).
// No business logic should depend on raw environment variables.
type Config struct {
	App   AppConfig
	DB    DBConfig
	Redis RedisConfig
	Voice VoiceConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional. An empty Host keeps the pending-call and
// leg-link stores in process memory; setting it moves them to Redis so
// answer webhooks can be resolved by any instance behind a load balancer.
type RedisConfig struct {
	Host string
	Port int
}

// VoiceConfig carries the telephony provider settings.
// BaseURL points at the provider's call-creation endpoint (e.g.
// https://api.nexmo.com/v1/calls); hangups go to BaseURL/{uuid}.
type VoiceConfig struct {
	Provider      string
	BaseURL       string
	ApplicationID string

	// PrivateKey is either inline PEM or a path to the key file.
	PrivateKey string

	// Token is an optional static bearer token. When empty, an RS256 JWT
	// is generated per request from PrivateKey.
	Token string

	FromNumber string
	TestNumber string

	// EventURL is the base callback URL the provider posts call events to.
	EventURL string

	HoldMusicURL string
}

const defaultHoldMusicURL = "https://nexmo-community.github.io/ncco-examples/assets/voice_api_audio_streaming.mp3"

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

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
	if c.Redis.Host != "" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Voice.Provider = strings.TrimSpace(os.Getenv("VOICE_PROVIDER"))
	c.Voice.BaseURL = strings.TrimSpace(os.Getenv("VOICE_BASE_URL"))
	c.Voice.ApplicationID = strings.TrimSpace(os.Getenv("VOICE_APPLICATION_ID"))
	c.Voice.PrivateKey = os.Getenv("VOICE_PRIVATE_KEY")
	c.Voice.Token = strings.TrimSpace(os.Getenv("VOICE_TOKEN"))
	c.Voice.FromNumber = strings.TrimSpace(os.Getenv("VOICE_FROM_NUMBER"))
	c.Voice.TestNumber = strings.TrimSpace(os.Getenv("VOICE_TEST_NUMBER"))
	c.Voice.EventURL = strings.TrimSpace(os.Getenv("VOICE_EVENT_URL"))
	c.Voice.HoldMusicURL = strings.TrimSpace(os.Getenv("VOICE_HOLD_MUSIC_URL"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

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
	if c.DB.SSLMode == "" {
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

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Voice.Provider == "" {
		c.Voice.Provider = "vonage"
	}
	if c.Voice.BaseURL == "" {
		errs = append(errs, errors.New("VOICE_BASE_URL is required"))
	}
	if c.Voice.ApplicationID == "" {
		errs = append(errs, errors.New("VOICE_APPLICATION_ID is required"))
	}
	// A static token can stand in for the private key for API calls, but
	// client SDK tokens always need the key.
	if c.Voice.PrivateKey == "" {
		errs = append(errs, errors.New("VOICE_PRIVATE_KEY is required"))
	}
	if c.Voice.FromNumber == "" {
		errs = append(errs, errors.New("VOICE_FROM_NUMBER is required"))
	}
	if c.Voice.EventURL == "" {
		errs = append(errs, errors.New("VOICE_EVENT_URL is required"))
	}
	if c.Voice.HoldMusicURL == "" {
		c.Voice.HoldMusicURL = defaultHoldMusicURL
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

func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
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
