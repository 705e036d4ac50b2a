package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/surface-exec/internal/domain"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Observability
	OTLPEndpoint string

	// JWT / Auth
	JWTSecret string

	// HTTP client used by API adapters
	HTTPTimeout time.Duration

	// Query defaults
	QueryTimeout      time.Duration
	MaxRetries        int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration

	// Failover
	Failover domain.FailoverConfig

	// Browser
	WebMaxSessions    int
	BrowserBin        string
	BrowserControlURL string
	BrowserHeadless   bool
	HumanTiming       bool // HUMAN_TIMING=false types instantly, for local debugging
	TypingMinDelay    time.Duration
	TypingMaxDelay    time.Duration

	// Vendor API keys; a surface without a key is not registered.
	OpenAIAPIKey     string
	AnthropicAPIKey  string
	GeminiAPIKey     string
	PerplexityAPIKey string

	// Routing
	ProxyTemplate       string
	HealthCacheTTL      time.Duration
	OutsourcedProviders []OutsourcedProvider

	// SurfacesFile points at an optional YAML catalog of per-surface overrides.
	SurfacesFile string
}

// OutsourcedProvider names a third-party provider and the surfaces it claims.
type OutsourcedProvider struct {
	Name     string
	Surfaces []string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	def := domain.DefaultFailoverConfig()
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		JWTSecret: getEnv("JWT_SECRET", "surface-exec-dev-secret-change-me"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 60*time.Second),

		QueryTimeout:      getEnvDuration("QUERY_TIMEOUT", 60*time.Second),
		MaxRetries:        getEnvInt("MAX_RETRIES", 3),
		InitialBackoff:    getEnvDuration("INITIAL_BACKOFF", time.Second),
		BackoffMultiplier: getEnvFloat("BACKOFF_MULTIPLIER", 2),
		MaxBackoff:        getEnvDuration("MAX_BACKOFF", 2*time.Minute),

		Failover: domain.FailoverConfig{
			Enabled:                     getEnvBool("FAILOVER_ENABLED", def.Enabled),
			SuccessRateThreshold:        getEnvFloat("FAILOVER_SUCCESS_RATE_THRESHOLD", def.SuccessRateThreshold),
			ConsecutiveFailureThreshold: getEnvInt("FAILOVER_CONSECUTIVE_FAILURES", def.ConsecutiveFailureThreshold),
			Window:                      getEnvDuration("FAILOVER_WINDOW", def.Window),
			Cooldown:                    getEnvDuration("FAILOVER_COOLDOWN", def.Cooldown),
			MinWindowSamples:            getEnvInt("FAILOVER_MIN_WINDOW_SAMPLES", def.MinWindowSamples),
		}.Normalized(),

		WebMaxSessions:    getEnvInt("WEB_MAX_SESSIONS", 2),
		BrowserBin:        getEnv("BROWSER_BIN", ""),
		BrowserControlURL: getEnv("BROWSER_CONTROL_URL", ""),
		BrowserHeadless:   getEnvBool("BROWSER_HEADLESS", true),
		HumanTiming:       getEnvBool("HUMAN_TIMING", true),
		TypingMinDelay:    getEnvDuration("TYPING_MIN_DELAY", 40*time.Millisecond),
		TypingMaxDelay:    getEnvDuration("TYPING_MAX_DELAY", 120*time.Millisecond),

		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		PerplexityAPIKey: getEnv("PERPLEXITY_API_KEY", ""),

		ProxyTemplate:       getEnv("PROXY_TEMPLATE", ""),
		HealthCacheTTL:      getEnvDuration("HEALTH_CACHE_TTL", 30*time.Second),
		OutsourcedProviders: parseOutsourced(getEnv("OUTSOURCED_PROVIDERS", "")),

		SurfacesFile: getEnv("SURFACES_FILE", ""),
	}
}

// parseOutsourced reads "name=surface|surface,name2=surface". Entries
// without surfaces are skipped.
func parseOutsourced(v string) []OutsourcedProvider {
	var out []OutsourcedProvider
	for _, entry := range strings.Split(v, ",") {
		name, list, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		var surfaces []string
		for _, s := range strings.Split(list, "|") {
			if s = strings.TrimSpace(s); s != "" {
				surfaces = append(surfaces, s)
			}
		}
		if len(surfaces) > 0 {
			out = append(out, OutsourcedProvider{Name: strings.TrimSpace(name), Surfaces: surfaces})
		}
	}
	return out
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

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
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
