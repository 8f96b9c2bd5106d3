// Package config loads server settings from defaults, an optional TOML file
// and VCLIP_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	PersistenceSQLite = "sqlite"
	PersistenceFiles  = "files"
)

type Server struct {
	Addr                   string  `toml:"addr"`
	RateLimitRPS           float64 `toml:"rate_limit_rps"`
	RateLimitBurst         int     `toml:"rate_limit_burst"`
	ShutdownTimeoutSeconds int     `toml:"shutdown_timeout_seconds"`
}

type Storage struct {
	DataDir     string `toml:"data_dir"`
	Persistence string `toml:"persistence"`
}

type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type Auth struct {
	DownloadSecret     string `toml:"download_secret"`
	DownloadTTLSeconds int    `toml:"download_ttl_seconds"`
	// APIKeyHash is a bcrypt hash; empty leaves POST /process open.
	APIKeyHash string `toml:"api_key_hash"`
}

type Tools struct {
	YTDLP        string `toml:"ytdlp"`
	Whisper      string `toml:"whisper"`
	WhisperModel string `toml:"whisper_model"`
	FFmpeg       string `toml:"ffmpeg"`
}

type LLM struct {
	APIKey         string  `toml:"api_key"`
	BaseURL        string  `toml:"base_url"`
	Model          string  `toml:"model"`
	Temperature    float64 `toml:"temperature"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

type Pipeline struct {
	DownloadTimeoutSeconds   int  `toml:"download_timeout_seconds"`
	TranscribeTimeoutSeconds int  `toml:"transcribe_timeout_seconds"`
	RenderTimeoutSeconds     int  `toml:"render_timeout_seconds"`
	Thumbnails               bool `toml:"thumbnails"`
	// MockProviders swaps every external tool for in-process fakes.
	MockProviders bool `toml:"mock_providers"`
}

type Config struct {
	Server   Server   `toml:"server"`
	Storage  Storage  `toml:"storage"`
	Logging  Logging  `toml:"logging"`
	Auth     Auth     `toml:"auth"`
	Tools    Tools    `toml:"tools"`
	LLM      LLM      `toml:"llm"`
	Pipeline Pipeline `toml:"pipeline"`
}

func Default() Config {
	return Config{
		Server: Server{
			Addr:                   ":8000",
			RateLimitRPS:           1,
			RateLimitBurst:         5,
			ShutdownTimeoutSeconds: 30,
		},
		Storage: Storage{DataDir: "data", Persistence: PersistenceSQLite},
		Logging: Logging{Level: "info", Format: "auto"},
		Auth: Auth{
			DownloadSecret:     "dev-change-me",
			DownloadTTLSeconds: int((24 * time.Hour).Seconds()),
		},
		Tools: Tools{YTDLP: "yt-dlp", Whisper: "whisper", WhisperModel: "medium", FFmpeg: "ffmpeg"},
		LLM: LLM{
			BaseURL:        "https://api.openai.com/v1/chat/completions",
			Model:          "gpt-4o",
			Temperature:    0.7,
			TimeoutSeconds: 120,
		},
		Pipeline: Pipeline{
			DownloadTimeoutSeconds:   1800,
			TranscribeTimeoutSeconds: 3600,
			RenderTimeoutSeconds:     600,
			Thumbnails:               true,
		},
	}
}

// Load builds the configuration. path falls back to $VCLIP_CONFIG; with neither
// set only defaults and environment apply. A named file that does not exist is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("VCLIP_CONFIG")
	}
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := toml.NewDecoder(file).DisallowUnknownFields().Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = env("VCLIP_ADDR", c.Server.Addr)
	c.Server.RateLimitRPS = envFloat("VCLIP_RATE_LIMIT_RPS", c.Server.RateLimitRPS)
	c.Server.RateLimitBurst = envInt("VCLIP_RATE_LIMIT_BURST", c.Server.RateLimitBurst)
	c.Storage.DataDir = env("VCLIP_DATA_DIR", c.Storage.DataDir)
	c.Storage.Persistence = env("VCLIP_PERSISTENCE", c.Storage.Persistence)
	c.Logging.Level = env("VCLIP_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = env("VCLIP_LOG_FORMAT", c.Logging.Format)
	c.Auth.DownloadSecret = env("VCLIP_DOWNLOAD_SECRET", c.Auth.DownloadSecret)
	c.Auth.DownloadTTLSeconds = int(envDuration("VCLIP_DOWNLOAD_TTL", time.Duration(c.Auth.DownloadTTLSeconds)*time.Second).Seconds())
	c.Auth.APIKeyHash = env("VCLIP_API_KEY_HASH", c.Auth.APIKeyHash)
	c.Tools.YTDLP = env("VCLIP_YTDLP", c.Tools.YTDLP)
	c.Tools.Whisper = env("VCLIP_WHISPER", c.Tools.Whisper)
	c.Tools.WhisperModel = env("VCLIP_WHISPER_MODEL", env("WHISPER_MODEL", c.Tools.WhisperModel))
	c.Tools.FFmpeg = env("VCLIP_FFMPEG", c.Tools.FFmpeg)
	c.LLM.APIKey = env("VCLIP_LLM_API_KEY", env("OPENAI_API_KEY", c.LLM.APIKey))
	c.LLM.BaseURL = env("VCLIP_LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.Model = env("VCLIP_LLM_MODEL", c.LLM.Model)
	c.Pipeline.Thumbnails = envBool("VCLIP_THUMBNAILS", c.Pipeline.Thumbnails)
	c.Pipeline.MockProviders = envBool("VCLIP_MOCK_PROVIDERS", c.Pipeline.MockProviders)
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		errs = append(errs, errors.New("storage.data_dir is required"))
	}
	switch c.Storage.Persistence {
	case PersistenceSQLite, PersistenceFiles:
	default:
		errs = append(errs, fmt.Errorf("storage.persistence must be %q or %q, got %q", PersistenceSQLite, PersistenceFiles, c.Storage.Persistence))
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		errs = append(errs, errors.New("server rate limit must not be negative"))
	}
	if c.Auth.DownloadSecret == "" {
		errs = append(errs, errors.New("auth.download_secret is required"))
	}
	for name, v := range map[string]int{
		"auth.download_ttl_seconds":           c.Auth.DownloadTTLSeconds,
		"llm.timeout_seconds":                 c.LLM.TimeoutSeconds,
		"pipeline.download_timeout_seconds":   c.Pipeline.DownloadTimeoutSeconds,
		"pipeline.transcribe_timeout_seconds": c.Pipeline.TranscribeTimeoutSeconds,
		"pipeline.render_timeout_seconds":     c.Pipeline.RenderTimeoutSeconds,
		"server.shutdown_timeout_seconds":     c.Server.ShutdownTimeoutSeconds,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

func (c Config) DownloadsDir() string { return filepath.Join(c.Storage.DataDir, "downloads") }
func (c Config) TranscriptsDir() string { return filepath.Join(c.Storage.DataDir, "transcripts") }
func (c Config) ClipsDir() string { return filepath.Join(c.Storage.DataDir, "clips") }
func (c Config) StatusDir() string { return filepath.Join(c.Storage.DataDir, "status") }
func (c Config) DatabasePath() string { return filepath.Join(c.Storage.DataDir, "jobs.db") }
func (c Config) LockPath() string { return filepath.Join(c.Storage.DataDir, ".vclip.lock") }

func (c Config) DownloadTTL() time.Duration {
	return time.Duration(c.Auth.DownloadTTLSeconds) * time.Second
}

func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (p Pipeline) DownloadTimeout() time.Duration { return seconds(p.DownloadTimeoutSeconds) }
func (p Pipeline) TranscribeTimeout() time.Duration { return seconds(p.TranscribeTimeoutSeconds) }
func (p Pipeline) RenderTimeout() time.Duration { return seconds(p.RenderTimeoutSeconds) }
func (l LLM) Timeout() time.Duration { return seconds(l.TimeoutSeconds) }

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
