package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	// Secret signs the client JWT, MinutesSecret guards the minutes endpoint.
	Secret        string `mapstructure:"secret"`
	MinutesSecret string `mapstructure:"minutes_secret"`

	// AllowGuestRooms lets non-admins create rooms that do not exist yet.
	AllowGuestRooms bool `mapstructure:"allow_guest_rooms"`

	// RoomCleanupGrace is how long an admin-less room survives before the
	// cleanup timer fires. Empirically tuned, no single correct value.
	RoomCleanupGrace time.Duration `mapstructure:"room_cleanup_grace"`

	// Transcription pipeline. An empty STTEndpoint disables transcription.
	STTEndpoint   string        `mapstructure:"stt_endpoint"`
	STTSampleRate int           `mapstructure:"stt_sample_rate"`
	FFmpegPath    string        `mapstructure:"ffmpeg_path"`
	FFmpegKill    time.Duration `mapstructure:"ffmpeg_kill_timeout"`
	RTPBasePort   int           `mapstructure:"rtp_base_port"`
	DedupWindow   time.Duration `mapstructure:"transcript_dedup_window"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("allow_guest_rooms", true)
	v.SetDefault("room_cleanup_grace", "60s")
	v.SetDefault("stt_endpoint", "")
	v.SetDefault("stt_sample_rate", 16000)
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("ffmpeg_kill_timeout", "3s")
	v.SetDefault("rtp_base_port", 5004)
	v.SetDefault("transcript_dedup_window", "1500ms")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | STT: %s\n", cfg.Mode, cfg.Port, cfg.STTEndpoint)
	return &cfg, nil
}
