package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Wallet API
	WalletToken   string
	WalletBaseURL string
	PageLimit     int
	UpstreamRPS   float64

	// HTTP client
	HTTPTimeout time.Duration

	// Refresh cycle
	RefreshInterval             time.Duration
	FetchWindowDays             int
	DisplayWindowDays           int
	SumCurrency                 string
	MaxTransactionsInAttributes int

	// Observability
	OTLPEndpoint string

	// Admin routes; empty disables the JWT check.
	AdminJWTSecret     string
	CredentialCacheTTL time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		WalletToken:   strings.TrimSpace(getEnv("WALLET_TOKEN", "")),
		WalletBaseURL: getEnv("WALLET_BASE_URL", "https://rest.budgetbakers.com/wallet"),
		PageLimit:     getEnvInt("PAGE_LIMIT", 100),
		UpstreamRPS:   getEnvFloat("UPSTREAM_RPS", 0),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 30*time.Second),

		RefreshInterval:             getEnvDuration("REFRESH_INTERVAL", 15*time.Minute),
		FetchWindowDays:             getEnvInt("FETCH_WINDOW_DAYS", 30),
		DisplayWindowDays:           getEnvInt("DISPLAY_WINDOW_DAYS", 7),
		SumCurrency:                 strings.ToUpper(getEnv("SUM_CURRENCY", "PLN")),
		MaxTransactionsInAttributes: getEnvInt("MAX_TRANSACTIONS_IN_ATTRIBUTES", 1000),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CredentialCacheTTL: getEnvDuration("CREDENTIAL_CACHE_TTL", time.Minute),
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.WalletToken == "" {
		errs = append(errs, errors.New("WALLET_TOKEN is required"))
	}
	if u, err := url.Parse(c.WalletBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("WALLET_BASE_URL %q is not an absolute URL", c.WalletBaseURL))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.PageLimit <= 0 {
		errs = append(errs, errors.New("PAGE_LIMIT must be positive"))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("HTTP_TIMEOUT must be positive"))
	}
	if c.RefreshInterval <= 0 {
		errs = append(errs, errors.New("REFRESH_INTERVAL must be positive"))
	}
	if c.FetchWindowDays <= 0 {
		errs = append(errs, errors.New("FETCH_WINDOW_DAYS must be positive"))
	}
	if c.DisplayWindowDays <= 0 || c.DisplayWindowDays > c.FetchWindowDays {
		errs = append(errs, errors.New("DISPLAY_WINDOW_DAYS must be positive and not exceed FETCH_WINDOW_DAYS"))
	}
	if c.SumCurrency == "" {
		errs = append(errs, errors.New("SUM_CURRENCY is required"))
	}
	if c.MaxTransactionsInAttributes <= 0 {
		errs = append(errs, errors.New("MAX_TRANSACTIONS_IN_ATTRIBUTES must be positive"))
	}
	if c.CredentialCacheTTL <= 0 {
		errs = append(errs, errors.New("CREDENTIAL_CACHE_TTL must be positive"))
	}
	if c.UpstreamRPS < 0 {
		errs = append(errs, errors.New("UPSTREAM_RPS must not be negative"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
