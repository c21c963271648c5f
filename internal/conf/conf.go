package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/draftpilot/wabuffer/internal/biz/usecase"
)

// Config represents application configuration
type Config struct {
	// HTTP server
	HTTPPort int

	// Store DSN: a sqlite file path, or a postgres:// URL
	StoreDSN string

	// Buffer lifecycle
	BufferWindowSeconds  int
	PollIntervalSeconds  int
	SafetyCeilingMinutes int
	MaxCloseAttempts     int
	SessionRetentionDays int
	JobRetentionDays     int

	// Feature flags
	Flags map[string]bool

	// Conversation processor (OpenAI)
	OpenAIAPIKey string
	OpenAIModel  string

	// WhatsApp relay
	WhatsAppBaseURL string
	WhatsAppToken   string

	Debug bool
}

// Load reads configuration from the environment and an optional config file
// (wabuffer.yaml in the working directory). Environment variables win.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("http_port", 8080)
	v.SetDefault("store_dsn", "data/buffer.db")
	v.SetDefault("buffer_window_seconds", 30)
	v.SetDefault("poll_interval_seconds", 10)
	v.SetDefault("safety_ceiling_minutes", 5)
	v.SetDefault("max_close_attempts", 2)
	v.SetDefault("session_retention_days", 30)
	v.SetDefault("job_retention_days", 7)
	v.SetDefault("flags.buffering", true)
	v.SetDefault("flags.typing_indicator", false)
	v.SetDefault("flags.enhanced_processing", false)
	v.SetDefault("flags.response_postprocess", false)
	v.SetDefault("openai_model", "gpt-4o-mini")
	v.SetDefault("debug", false)

	v.SetConfigName("wabuffer")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("WABUFFER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		HTTPPort:             v.GetInt("http_port"),
		StoreDSN:             v.GetString("store_dsn"),
		BufferWindowSeconds:  v.GetInt("buffer_window_seconds"),
		PollIntervalSeconds:  v.GetInt("poll_interval_seconds"),
		SafetyCeilingMinutes: v.GetInt("safety_ceiling_minutes"),
		MaxCloseAttempts:     v.GetInt("max_close_attempts"),
		SessionRetentionDays: v.GetInt("session_retention_days"),
		JobRetentionDays:     v.GetInt("job_retention_days"),
		Flags: map[string]bool{
			usecase.FlagBuffering:           v.GetBool("flags.buffering"),
			usecase.FlagTypingIndicator:     v.GetBool("flags.typing_indicator"),
			usecase.FlagEnhancedProcessing:  v.GetBool("flags.enhanced_processing"),
			usecase.FlagResponsePostprocess: v.GetBool("flags.response_postprocess"),
		},
		OpenAIAPIKey:    v.GetString("openai_api_key"),
		OpenAIModel:     v.GetString("openai_model"),
		WhatsAppBaseURL: v.GetString("whatsapp_base_url"),
		WhatsAppToken:   v.GetString("whatsapp_token"),
		Debug:           v.GetBool("debug"),
	}

	if cfg.BufferWindowSeconds <= 0 {
		return nil, fmt.Errorf("buffer window must be positive, got %d", cfg.BufferWindowSeconds)
	}
	if cfg.PollIntervalSeconds <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %d", cfg.PollIntervalSeconds)
	}

	return cfg, nil
}

// BufferConfig converts the duration knobs into the usecase configuration.
func (c *Config) BufferConfig() usecase.BufferConfig {
	return usecase.BufferConfig{
		Window:           time.Duration(c.BufferWindowSeconds) * time.Second,
		PollInterval:     time.Duration(c.PollIntervalSeconds) * time.Second,
		SafetyCeiling:    time.Duration(c.SafetyCeilingMinutes) * time.Minute,
		MaxAttempts:      c.MaxCloseAttempts,
		SessionRetention: time.Duration(c.SessionRetentionDays) * 24 * time.Hour,
		JobRetention:     time.Duration(c.JobRetentionDays) * 24 * time.Hour,
	}
}
