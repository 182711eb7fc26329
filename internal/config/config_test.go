package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_ENV_PATH", t.TempDir()+"/missing.env")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/sora?parseTime=true")
	for _, key := range []string{"TELEGRAM_MODE", "PUBLIC_URL", "HTTP_LISTEN_ADDR", "KIE_API_KEY", "KIE_BASE_URL", "KIE_MODEL",
		"GENERATION_TIMEOUT_SECONDS", "PAYMENT_TIMEOUT_SECONDS", "PAYMENT_CURRENCY"} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, TelegramModePolling, cfg.TelegramMode)
	assert.Equal(t, ":9090", cfg.HTTPListenAddr)
	assert.Equal(t, "https://api.kie.ai", cfg.KIEBaseURL)
	assert.Equal(t, "sora-2-text-to-video", cfg.KIEModel)
	assert.Equal(t, 90.0, cfg.GenerationTimeout.Seconds())
	assert.Equal(t, 30.0, cfg.PaymentTimeout.Seconds())
	assert.Equal(t, "RUB", cfg.PaymentCurrency)
	assert.Empty(t, cfg.CallbackURL())
	assert.Contains(t, cfg.Disabled(), "KIE_API_KEY (video generation)")
}

func TestLoad_MissingMandatory(t *testing.T) {
	t.Setenv("CONFIG_ENV_PATH", t.TempDir()+"/missing.env")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("MYSQL_DSN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
	assert.Contains(t, err.Error(), "MYSQL_DSN")
}

func TestLoad_WebhookModeNeedsPublicURL(t *testing.T) {
	setRequired(t)
	t.Setenv("TELEGRAM_MODE", "webhook")
	t.Setenv("PUBLIC_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PUBLIC_URL")
}

func TestCallbackURL(t *testing.T) {
	setRequired(t)
	t.Setenv("PUBLIC_URL", "https://bot.example.com/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://bot.example.com/sora_callback", cfg.CallbackURL())
}

func TestNormalizeKIEBaseURL(t *testing.T) {
	const fallback = "https://api.kie.ai"
	assert.Equal(t, fallback, normalizeKIEBaseURL("", fallback))
	assert.Equal(t, "https://api.kie.ai", normalizeKIEBaseURL("kie.ai", fallback))
	assert.Equal(t, "https://api.kie.ai", normalizeKIEBaseURL("https://kie.ai/", fallback))
	assert.Equal(t, "http://localhost:8081", normalizeKIEBaseURL("http://localhost:8081", fallback))
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "***", MaskSecret("short"))
	assert.Equal(t, "abcd...wxyz", MaskSecret("abcdefghijklmnopqrstuvwxyz"))
}
