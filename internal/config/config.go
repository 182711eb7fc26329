package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	TelegramModePolling = "polling"
	TelegramModeWebhook = "webhook"
)

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	BotToken             string
	TelegramMode         string
	MySQLDSN             string
	PublicURL            string
	HTTPListenAddr       string
	LogLevel             string
	DefaultLanguage      string
	SupportChatID        int64
	MaxConcurrentUpdates int
	KIEAPIKey            string
	KIEBaseURL           string
	KIEModel             string
	GenerationTimeout    time.Duration
	PaymentTimeout       time.Duration
	PaymentCurrency      string
	YooKassaShopID       string
	YooKassaSecretKey    string
	YooKassaReturnURL    string
	YooKassaAPIURL       string
	TributeAPIKey        string
	TributeAPIURL        string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	PendingTTL           time.Duration
	AdminUsername        string
	AdminPassword        string
	S3Endpoint           string
	S3Region             string
	S3AccessKey          string
	S3SecretKey          string
	S3Bucket             string
	S3PublicBaseURL      string
	S3UsePathStyle       bool
	S3Prefix             string
}

// Load reads configuration from environment variables, applying sane defaults.
// Only the chat token and the ledger database are mandatory; every other
// integration is switched off when its credentials are absent.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultKIEBaseURL = "https://api.kie.ai"

	listen := getEnv("HTTP_LISTEN_ADDR", "")
	if listen == "" {
		listen = ":" + getEnv("PORT", "8080")
	}

	cfg := Config{
		BotToken:             os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramMode:         strings.ToLower(getEnv("TELEGRAM_MODE", TelegramModePolling)),
		MySQLDSN:             os.Getenv("MYSQL_DSN"),
		PublicURL:            strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_URL")), "/"),
		HTTPListenAddr:       listen,
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", "info")),
		DefaultLanguage:      strings.ToLower(getEnv("DEFAULT_LANGUAGE", "ru")),
		SupportChatID:        getInt64("SUPPORT_CHAT_ID", 0),
		MaxConcurrentUpdates: getInt("MAX_CONCURRENT_UPDATES", 32),
		KIEAPIKey:            os.Getenv("KIE_API_KEY"),
		KIEBaseURL:           normalizeKIEBaseURL(getEnv("KIE_BASE_URL", defaultKIEBaseURL), defaultKIEBaseURL),
		KIEModel:             getEnv("KIE_MODEL", "sora-2-text-to-video"),
		GenerationTimeout:    time.Second * time.Duration(getInt("GENERATION_TIMEOUT_SECONDS", 90)),
		PaymentTimeout:       time.Second * time.Duration(getInt("PAYMENT_TIMEOUT_SECONDS", 30)),
		PaymentCurrency:      getEnv("PAYMENT_CURRENCY", "RUB"),
		YooKassaShopID:       os.Getenv("YOOKASSA_SHOP_ID"),
		YooKassaSecretKey:    os.Getenv("YOOKASSA_SECRET_KEY"),
		YooKassaReturnURL:    getEnv("YOOKASSA_RETURN_URL", ""),
		YooKassaAPIURL:       strings.TrimRight(getEnv("YOOKASSA_API_URL", "https://api.yookassa.ru/v3"), "/"),
		TributeAPIKey:        os.Getenv("TRIBUTE_API_KEY"),
		TributeAPIURL:        strings.TrimRight(getEnv("TRIBUTE_API_URL", "https://tribute.tg/api/v1"), "/"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		PendingTTL:           time.Hour * time.Duration(getInt("PENDING_TTL_HOURS", 24)),
		AdminUsername:        getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:        getEnv("ADMIN_PASSWORD", "change-me"),
		S3Endpoint:           getEnv("S3_ENDPOINT", ""),
		S3Region:             os.Getenv("S3_REGION"),
		S3AccessKey:          os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:          os.Getenv("S3_SECRET_KEY"),
		S3Bucket:             os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:      os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:       getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:             getEnv("S3_PREFIX", "videos"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the mandatory settings that are missing.
func (c Config) Validate() error {
	var missing []string
	if c.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if c.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if c.TelegramMode == TelegramModeWebhook && c.PublicURL == "" {
		missing = append(missing, "PUBLIC_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	switch c.TelegramMode {
	case TelegramModePolling, TelegramModeWebhook:
	default:
		return fmt.Errorf("unsupported TELEGRAM_MODE %q", c.TelegramMode)
	}
	return nil
}

// Disabled lists optional integrations that will run in degraded mode.
func (c Config) Disabled() []string {
	var off []string
	if c.KIEAPIKey == "" {
		off = append(off, "KIE_API_KEY (video generation)")
	}
	if c.PublicURL == "" {
		off = append(off, "PUBLIC_URL (generation callbacks)")
	}
	if !c.YooKassaEnabled() {
		off = append(off, "YOOKASSA_SHOP_ID/YOOKASSA_SECRET_KEY (yookassa payments)")
	}
	if c.TributeAPIKey == "" {
		off = append(off, "TRIBUTE_API_KEY (tribute payments)")
	}
	if !c.S3Enabled() {
		off = append(off, "S3_* (video archive)")
	}
	if c.RedisAddr == "" {
		off = append(off, "REDIS_ADDR (pending tasks kept in memory)")
	}
	return off
}

func (c Config) YooKassaEnabled() bool {
	return c.YooKassaShopID != "" && c.YooKassaSecretKey != ""
}

func (c Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != "" && c.S3AccessKey != "" && c.S3SecretKey != "" && c.S3PublicBaseURL != ""
}

// CallbackURL is where the generation provider posts task results.
func (c Config) CallbackURL() string {
	if c.PublicURL == "" {
		return ""
	}
	return c.PublicURL + "/sora_callback"
}

// MaskSecret hides everything but the edges of a credential for log output.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// normalizeKIEBaseURL ensures we always hit the documented API host. Some docs and UI pages
// use the root kie.ai domain, which returns HTML instead of JSON and causes 404s.
func normalizeKIEBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}

	return strings.TrimRight(parsed.String(), "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// loadEnvFile loads the first env file found. Platform deployments inject
// variables directly, so a missing file is fine.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
