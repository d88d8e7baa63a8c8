package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseJWTSecret  string
	SupabaseJWKSURL    string
	JWTAudience        string

	GoogleServiceAccountB64 string
	PackageName             string
	SubscriptionID          string
	PlayPublisherEndpoint   string
	FreeTrialDreams         int
	VerifyTimeout           time.Duration

	LLMProvider     string
	GeminiAPIKey    string
	GeminiModel     string
	GeminiBaseURL   string
	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
	OpenAIOrg       string
	ImageModel      string
	SpeechModel     string
	SpeechVoice     string
	TranscribeModel string

	StorageDriver  string
	StoragePath    string
	StorageBucket  string
	SignedURLTTL   time.Duration
	StorageBaseURL string

	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	CORSAllowedOrigins []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		SupabaseURL:        strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
		SupabaseJWTSecret:  os.Getenv("SUPABASE_JWT_SECRET"),
		SupabaseJWKSURL:    os.Getenv("SUPABASE_JWKS_URL"),
		JWTAudience:        getEnv("SUPABASE_JWT_AUDIENCE", "authenticated"),

		GoogleServiceAccountB64: os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON_B64"),
		PackageName:             getEnv("PACKAGE_NAME", "com.dreamsenseuser.app"),
		SubscriptionID:          getEnv("SUBSCRIPTION_ID", "dreamsense_pro_1"),
		PlayPublisherEndpoint:   os.Getenv("PLAY_PUBLISHER_ENDPOINT"),
		FreeTrialDreams:         getEnvInt("FREE_TRIAL_DREAMS", 2),
		VerifyTimeout:           time.Second * time.Duration(getEnvInt("SUBSCRIPTION_VERIFY_TIMEOUT_SECONDS", 10)),

		LLMProvider:     strings.ToLower(getEnv("LLM_PROVIDER", "gemini")),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL:   getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrg:       os.Getenv("OPENAI_ORG"),
		ImageModel:      getEnv("IMAGE_MODEL", "dall-e-3"),
		SpeechModel:     getEnv("SPEECH_MODEL", "tts-1"),
		SpeechVoice:     getEnv("SPEECH_VOICE", "alloy"),
		TranscribeModel: getEnv("TRANSCRIBE_MODEL", "whisper-1"),

		StorageDriver: strings.ToLower(getEnv("STORAGE_DRIVER", "supabase")),
		StoragePath:   getEnv("STORAGE_PATH", "./storage"),
		StorageBucket: getEnv("STORAGE_BUCKET", "images"),
		SignedURLTTL:  time.Second * time.Duration(getEnvInt("SIGNED_URL_TTL_SECONDS", 86400)),

		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	if cfg.SupabaseJWKSURL == "" && cfg.SupabaseURL != "" {
		cfg.SupabaseJWKSURL = cfg.SupabaseURL + "/auth/v1/.well-known/jwks.json"
	}
	cfg.StorageBaseURL = getEnv("STORAGE_BASE_URL", fmt.Sprintf("http://localhost:%s/static", cfg.Port))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.SupabaseJWTSecret == "" && c.SupabaseJWKSURL == "" {
		return errors.New("SUPABASE_JWT_SECRET or SUPABASE_URL is required")
	}
	if c.FreeTrialDreams <= 0 {
		return fmt.Errorf("FREE_TRIAL_DREAMS must be positive, got %d", c.FreeTrialDreams)
	}
	switch c.LLMProvider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("LLM_PROVIDER %q is not supported", c.LLMProvider)
	}
	switch c.StorageDriver {
	case "supabase", "filesystem":
	default:
		return fmt.Errorf("STORAGE_DRIVER %q is not supported", c.StorageDriver)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
