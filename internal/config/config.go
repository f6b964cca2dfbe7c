package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Features are the environment driven feature flags.
type Features struct {
	Authentication    bool
	RealTimeMessaging bool
	FileUpload        bool
}

// Config holds backend configuration loaded from environment.
type Config struct {
	Env            string
	HTTPAddr       string
	CORSOrigin     string
	MongoURI       string
	MongoDatabase  string
	RedisAddr      string
	ServerID       string
	JWTSecret      string
	AccessTokenTTL time.Duration
	OTPTTL         time.Duration
	OTPMaxAttempts int
	LoginDomain    string
	DefaultCountry string
	Features       Features
	S3Endpoint     string
	S3PublicURL    string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3UseSSL       bool
}

// Load parses environment variables into a Config struct.
func Load() (Config, error) {
	cfg := Config{
		Env:            getEnv("APP_ENV", "dev"),
		HTTPAddr:       getEnv("HTTP_ADDR", ":"+getEnv("PORT", "3001")),
		CORSOrigin:     getEnv("CORS_ORIGIN", "http://localhost:3000"),
		MongoURI:       getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase:  strings.TrimSpace(getEnv("MONGODB_DATABASE", "wachat")),
		RedisAddr:      strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		ServerID:       getEnv("SERVER_ID", "server-1"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		LoginDomain:    getEnv("LOGIN_DOMAIN", "phone.wachat.app"),
		DefaultCountry: strings.TrimSpace(os.Getenv("DEFAULT_COUNTRY_CODE")),
		S3Endpoint:     getEnv("S3_ENDPOINT", "http://localhost:9000"),
		S3PublicURL:    os.Getenv("S3_PUBLIC_ENDPOINT"),
		S3AccessKey:    getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:    getEnv("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:       getEnv("S3_BUCKET", "wachat-photos"),
	}
	if cfg.MongoDatabase == "" {
		return Config{}, fmt.Errorf("MONGODB_DATABASE is required")
	}

	var err error
	if cfg.AccessTokenTTL, err = parseDuration("ACCESS_TOKEN_TTL", "24h"); err != nil {
		return Config{}, err
	}
	if cfg.OTPTTL, err = parseDuration("OTP_TTL", "5m"); err != nil {
		return Config{}, err
	}
	cfg.OTPMaxAttempts = parseIntWithDefault(strings.TrimSpace(os.Getenv("OTP_MAX_ATTEMPTS")), 5)

	if cfg.Features.Authentication, err = parseBool("FEATURE_AUTHENTICATION", true); err != nil {
		return Config{}, err
	}
	if cfg.Features.RealTimeMessaging, err = parseBool("FEATURE_REALTIME_MESSAGING", true); err != nil {
		return Config{}, err
	}
	if cfg.Features.FileUpload, err = parseBool("FEATURE_FILE_UPLOAD", false); err != nil {
		return Config{}, err
	}
	if cfg.S3UseSSL, err = parseBool("S3_USE_SSL", false); err != nil {
		return Config{}, err
	}
	if cfg.S3PublicURL == "" {
		cfg.S3PublicURL = cfg.S3Endpoint
	}
	return cfg, nil
}

// ClientConfig configures the messaging client core.
type ClientConfig struct {
	Env               string
	APIBaseURL        string
	WebsocketURL      string
	PollInterval      time.Duration
	CallTimeout       time.Duration
	MessageLimit      int
	RequireConnection bool
	LoginDomain       string
	DefaultCountry    string
	Features          Features
	Theme             string
	Language          string
}

// LoadClient parses the client configuration.
func LoadClient() (ClientConfig, error) {
	cfg := ClientConfig{
		Env:            getEnv("APP_ENV", "dev"),
		APIBaseURL:     strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:3001"), "/"),
		WebsocketURL:   strings.TrimSpace(os.Getenv("WS_URL")),
		MessageLimit:   parseIntWithDefault(strings.TrimSpace(os.Getenv("MESSAGE_LIMIT")), 50),
		LoginDomain:    getEnv("LOGIN_DOMAIN", "phone.wachat.app"),
		DefaultCountry: strings.TrimSpace(os.Getenv("DEFAULT_COUNTRY_CODE")),
		Theme:          getEnv("THEME", "light"),
		Language:       getEnv("LANGUAGE", "en"),
	}

	var err error
	if cfg.PollInterval, err = parseDuration("POLL_INTERVAL", "3s"); err != nil {
		return ClientConfig{}, err
	}
	if cfg.CallTimeout, err = parseDuration("CALL_TIMEOUT", "10s"); err != nil {
		return ClientConfig{}, err
	}
	if cfg.RequireConnection, err = parseBool("REQUIRE_CONNECTION", false); err != nil {
		return ClientConfig{}, err
	}
	if cfg.Features.Authentication, err = parseBool("FEATURE_AUTHENTICATION", true); err != nil {
		return ClientConfig{}, err
	}
	if cfg.Features.RealTimeMessaging, err = parseBool("FEATURE_REALTIME_MESSAGING", false); err != nil {
		return ClientConfig{}, err
	}
	if cfg.Features.FileUpload, err = parseBool("FEATURE_FILE_UPLOAD", false); err != nil {
		return ClientConfig{}, err
	}
	if cfg.WebsocketURL == "" && cfg.Features.RealTimeMessaging {
		cfg.WebsocketURL = websocketURL(cfg.APIBaseURL)
	}
	if cfg.PollInterval <= 0 {
		return ClientConfig{}, fmt.Errorf("POLL_INTERVAL must be positive")
	}
	return cfg, nil
}

func websocketURL(apiBase string) string {
	switch {
	case strings.HasPrefix(apiBase, "https://"):
		return "wss://" + strings.TrimPrefix(apiBase, "https://") + "/ws"
	case strings.HasPrefix(apiBase, "http://"):
		return "ws://" + strings.TrimPrefix(apiBase, "http://") + "/ws"
	default:
		return apiBase + "/ws"
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDuration(key, def string) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return dur, nil
}

func parseBool(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func parseIntWithDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
