package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath string
	ListenAddr   string // Address for the web server (e.g., ":8080")
	// BaseURL is the public URL where the app is hosted, needed for OAuth callbacks.
	BaseURL string

	// Meta app credentials for the Threads API.
	MetaAppID     string
	MetaAppSecret string

	// ThreadsPublishDelay is the wait between container creation and publish.
	// Publishing immediately after creation fails intermittently on the
	// Threads side, so this must stay non-zero in production.
	ThreadsPublishDelay time.Duration

	// Bluesky PDS host (session creation, posting).
	BlueskyHost string

	// Cloudflare R2 object store used to host Threads images. The Threads
	// API only accepts publicly reachable image URLs, never raw bytes.
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2Bucket          string
	R2PublicURL       string

	// CookieSecret signs the cookie session carrying transient OAuth state.
	CookieSecret string

	Debug bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	// Load .env file if it exists (useful for development)
	_ = godotenv.Load()

	delaySecondsStr := getEnv("THREADS_PUBLISH_DELAY_SECONDS", "5")
	delaySeconds, err := strconv.Atoi(delaySecondsStr)
	if err != nil {
		log.Printf("Invalid THREADS_PUBLISH_DELAY_SECONDS '%s', using default 5: %v", delaySecondsStr, err)
		delaySeconds = 5
	}

	debugStr := getEnv("DEBUG", "false")
	debug, err := strconv.ParseBool(debugStr)
	if err != nil {
		log.Printf("Invalid DEBUG value '%s', using default false: %v", debugStr, err)
		debug = false
	}

	return &Config{
		DatabasePath:        getEnv("DATABASE_PATH", "hyperyapper.db"),
		ListenAddr:          getEnv("LISTEN_ADDR", ":8080"),
		BaseURL:             getEnv("BASE_URL", "http://localhost:8080"), // Important for OAuth
		MetaAppID:           getEnv("META_APP_ID", ""),
		MetaAppSecret:       getEnv("META_APP_SECRET", ""),
		ThreadsPublishDelay: time.Duration(delaySeconds) * time.Second,
		BlueskyHost:         getEnv("BLUESKY_HOST", "https://bsky.social"),
		R2AccountID:         getEnv("CLOUDFLARE_R2_ACCOUNT_ID", ""),
		R2AccessKeyID:       getEnv("CLOUDFLARE_R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey:   getEnv("CLOUDFLARE_R2_SECRET_ACCESS_KEY", ""),
		R2Bucket:            getEnv("CLOUDFLARE_R2_BUCKET_NAME", ""),
		R2PublicURL:         getEnv("CLOUDFLARE_R2_PUBLIC_URL", ""),
		CookieSecret:        getEnv("COOKIE_SECRET", ""),
		Debug:               debug,
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
