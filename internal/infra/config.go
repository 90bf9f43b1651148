package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv            string
	Port              string
	SessionSecret     string
	SessionTTL        time.Duration
	AllowedOrigins    []string
	DefaultLocale     string
	GeoIPDBPath       string
	GoogleClientID    string
	GoogleIssuer      string
	GeminiAPIKey      string
	GeminiModel       string
	GeminiBaseURL     string
	GeminiTransport   string
	GenerationTimeout time.Duration
	EditFailureAppend bool
	StorageDriver     string
	StoragePath       string
	StorageBaseURL    string
	StorageBucket     string
	S3Region          string
	S3Endpoint        string
	S3PublicBaseURL   string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool
	MaxUploadBytes    int64
	HTTPReadTimeout   time.Duration
	HTTPWriteTimeout  time.Duration
	HTTPIdleTimeout   time.Duration
	RateLimitPerMin   int
	SessionIdleTTL    time.Duration
	SessionsPerUser   int
}

const (
	StorageDriverFilesystem = "filesystem"
	StorageDriverS3         = "s3"

	TransportREST = "rest"
	TransportSDK  = "sdk"
)

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              port,
		SessionSecret:     os.Getenv("SESSION_SECRET"),
		SessionTTL:        time.Hour * time.Duration(getEnvInt("SESSION_TTL_HOURS", 24)),
		AllowedOrigins:    splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),
		DefaultLocale:     getEnv("DEFAULT_LOCALE", "en-US"),
		GeoIPDBPath:       os.Getenv("GEOIP_DB_PATH"),
		GoogleClientID:    strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID")),
		GoogleIssuer:      getEnv("GOOGLE_ISSUER", "https://accounts.google.com"),
		GeminiAPIKey:      strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),
		GeminiBaseURL:     getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiTransport:   strings.ToLower(getEnv("GEMINI_TRANSPORT", TransportREST)),
		GenerationTimeout: time.Second * time.Duration(getEnvInt("GENERATION_TIMEOUT_SECONDS", 90)),
		EditFailureAppend: getEnvBool("EDIT_FAILURE_APPENDS_VERSION", false),
		StorageDriver:     strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverFilesystem)),
		StoragePath:       getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:    getEnv("STORAGE_BASE_URL", fmt.Sprintf("http://localhost:%s/static", port)),
		StorageBucket:     getEnv("STORAGE_BUCKET", "interior-designs"),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3PublicBaseURL:   os.Getenv("S3_PUBLIC_BASE_URL"),
		S3AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3UsePathStyle:    getEnvBool("S3_USE_PATH_STYLE", os.Getenv("S3_ENDPOINT") != ""),
		MaxUploadBytes:    int64(getEnvInt("MAX_UPLOAD_MB", 10)) << 20,
		HTTPReadTimeout:   time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:  time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:   time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:   getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		SessionIdleTTL:    time.Minute * time.Duration(getEnvInt("SESSION_IDLE_TTL_MINUTES", 60)),
		SessionsPerUser:   getEnvInt("MAX_SESSIONS_PER_USER", 5),
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	switch cfg.GeminiTransport {
	case TransportREST, TransportSDK:
	default:
		return nil, fmt.Errorf("GEMINI_TRANSPORT must be %q or %q", TransportREST, TransportSDK)
	}

	switch cfg.StorageDriver {
	case StorageDriverFilesystem, StorageDriverS3:
	default:
		return nil, fmt.Errorf("STORAGE_DRIVER must be %q or %q", StorageDriverFilesystem, StorageDriverS3)
	}

	return cfg, nil
}

// RequireSessionSecret is checked by the API server, which signs session
// tokens for browser clients.
func (c *Config) RequireSessionSecret() error {
	if strings.TrimSpace(c.SessionSecret) == "" {
		return fmt.Errorf("SESSION_SECRET is required")
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
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
