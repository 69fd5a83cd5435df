package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config stores runtime configuration shared by the desktop app and the CLI.
type Config struct {
	Channel   ChannelConfig
	Canvas    CanvasConfig
	Recorder  RecorderConfig
	Transcode TranscodeConfig
	Backend   BackendConfig
	History   HistoryConfig
	Notify    NotifyConfig
	Log       LogConfig
}

type ChannelConfig struct {
	URL       string
	ReadLimit int64
}

type CanvasConfig struct {
	Width  int
	Height int

	// MaxFramePixels bounds the dimensions an incoming frame may declare.
	MaxFramePixels int
}

type RecorderConfig struct {
	Command       string
	MIMEType      string
	FrameRate     int
	ChunkInterval time.Duration
}

type TranscodeConfig struct {
	Command string
	WorkDir string
}

type BackendConfig struct {
	BaseURL      string
	PollInterval time.Duration
}

type HistoryConfig struct {
	PostgresDSN string
}

type NotifyConfig struct {
	AMQPURL  string
	Exchange string
}

type LogConfig struct {
	Level       string
	MetricsAddr string
}

// Load resolves configuration from environment variables and sensible defaults.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	cfg := Config{
		Channel: ChannelConfig{
			URL: firstNonEmpty(
				os.Getenv("FRAMEREC_CHANNEL_URL"),
				os.Getenv("FRAMEREC_WS_URL"),
				"ws://localhost:8080/",
			),
			ReadLimit: int64(envOrDefaultInt("FRAMEREC_CHANNEL_READ_LIMIT", 16<<20)),
		},
		Canvas: CanvasConfig{
			Width:  envOrDefaultInt("FRAMEREC_CANVAS_WIDTH", 640),
			Height: envOrDefaultInt("FRAMEREC_CANVAS_HEIGHT", 480),

			MaxFramePixels: envOrDefaultInt("FRAMEREC_MAX_FRAME_PIXELS", 4096*4096),
		},
		Recorder: RecorderConfig{
			Command:       envOrDefault("FRAMEREC_FFMPEG_COMMAND", "ffmpeg"),
			MIMEType:      envOrDefault("FRAMEREC_MIME_TYPE", "video/webm;codecs=vp8"),
			FrameRate:     envOrDefaultInt("FRAMEREC_FRAME_RATE", 30),
			ChunkInterval: time.Duration(envOrDefaultInt("FRAMEREC_CHUNK_INTERVAL_MS", 1000)) * time.Millisecond,
		},
		Transcode: TranscodeConfig{
			Command: firstNonEmpty(os.Getenv("FRAMEREC_TRANSCODE_COMMAND"), os.Getenv("FRAMEREC_FFMPEG_COMMAND"), "ffmpeg"),
			WorkDir: strings.TrimSpace(os.Getenv("FRAMEREC_WORK_DIR")),
		},
		Backend: BackendConfig{
			BaseURL:      envOrDefault("FRAMEREC_BACKEND_URL", "http://localhost:8000"),
			PollInterval: time.Duration(envOrDefaultInt("FRAMEREC_POLL_INTERVAL_MS", 2000)) * time.Millisecond,
		},
		History: HistoryConfig{
			PostgresDSN: strings.TrimSpace(os.Getenv("FRAMEREC_POSTGRES_DSN")),
		},
		Notify: NotifyConfig{
			AMQPURL:  strings.TrimSpace(os.Getenv("FRAMEREC_AMQP_URL")),
			Exchange: envOrDefault("FRAMEREC_AMQP_EXCHANGE", "framerecorder"),
		},
		Log: LogConfig{
			Level:       envOrDefault("FRAMEREC_LOG_LEVEL", "warning"),
			MetricsAddr: strings.TrimSpace(os.Getenv("FRAMEREC_METRICS_ADDR")),
		},
	}

	if cfg.Canvas.Width <= 0 {
		cfg.Canvas.Width = 640
	}
	if cfg.Canvas.Height <= 0 {
		cfg.Canvas.Height = 480
	}
	if cfg.Canvas.MaxFramePixels <= 0 {
		cfg.Canvas.MaxFramePixels = 4096 * 4096
	}
	if cfg.Recorder.FrameRate <= 0 || cfg.Recorder.FrameRate > 120 {
		cfg.Recorder.FrameRate = 30
	}
	if cfg.Recorder.ChunkInterval < 100*time.Millisecond {
		cfg.Recorder.ChunkInterval = time.Second
	}
	if cfg.Backend.PollInterval < 100*time.Millisecond {
		cfg.Backend.PollInterval = 2 * time.Second
	}
	if cfg.Channel.ReadLimit < 1<<16 {
		cfg.Channel.ReadLimit = 16 << 20
	}
	if cfg.Transcode.WorkDir == "" {
		cfg.Transcode.WorkDir = filepath.Join(home, ".cache", "framerecorder", "transcode")
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
