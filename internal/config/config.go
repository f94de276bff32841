package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the settings for the compressor.
type Config struct {
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`
	TempDir     string `mapstructure:"temp_dir"`
	LogLevel    string `mapstructure:"log_level"`

	// Bitrate budget tuning. The defaults are empirical and intentionally
	// configurable rather than baked in.
	SafetyMargin    float64 `mapstructure:"safety_margin"`
	GOPSeconds      float64 `mapstructure:"gop_seconds"`
	AudioBitrateBps int     `mapstructure:"audio_bitrate_bps"`
	MinVideoBps     int     `mapstructure:"min_video_bps"`

	// Memory pressure thresholds (percent of RAM in use).
	PressureModeratePct float64 `mapstructure:"pressure_moderate_pct"`
	PressureHighPct     float64 `mapstructure:"pressure_high_pct"`
	PressureCriticalPct float64 `mapstructure:"pressure_critical_pct"`

	// Optional progress callback.
	CallbackURL    string `mapstructure:"callback_url"`
	NotifyInterval int    `mapstructure:"notify_interval_seconds"`
}

// Load initializes Viper and merges all config sources.
func Load(path string) (*Config, error) {
	viper.SetDefault("ffmpeg_path", "ffmpeg")
	viper.SetDefault("ffprobe_path", "ffprobe")
	viper.SetDefault("temp_dir", "")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("safety_margin", 0.9)
	viper.SetDefault("gop_seconds", 2.0)
	viper.SetDefault("audio_bitrate_bps", 128_000)
	viper.SetDefault("min_video_bps", 100_000)
	viper.SetDefault("pressure_moderate_pct", 60.0)
	viper.SetDefault("pressure_high_pct", 75.0)
	viper.SetDefault("pressure_critical_pct", 90.0)
	viper.SetDefault("notify_interval_seconds", 2)

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults and env vars still apply.
	}

	viper.SetEnvPrefix("VIDC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	err := viper.Unmarshal(&cfg)
	return &cfg, err
}
