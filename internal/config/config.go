// This file defines the configuration structure for the application.
package config

import (
	"errors"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Port     int `mapstructure:"port"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Log    LogConfig    `mapstructure:"log"`
	Auth   struct {
		AllowRegistration bool `mapstructure:"allow_registration"`
	} `mapstructure:"auth"`
	Upload UploadConfig `mapstructure:"upload"`
	Ingest IngestConfig `mapstructure:"ingest"`
	LLM    LLMConfig    `mapstructure:"llm"`
	Jobs   struct {
		ReconcileInterval int `mapstructure:"reconcile_interval"`
	} `mapstructure:"jobs"`
	Progress struct {
		Retention int `mapstructure:"retention"`
		KeepAlive int `mapstructure:"keepalive"`
	} `mapstructure:"progress"`
	Inbox struct {
		Path   string `mapstructure:"path"`
		ExamID int64  `mapstructure:"exam_id"`
	} `mapstructure:"inbox"`
	Client ClientConfig `mapstructure:"client"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"
	File   string `mapstructure:"file"`
}

// UploadConfig limits what users may upload.
type UploadConfig struct {
	MaxSizeMB int `mapstructure:"max_size_mb"`
	MaxDaily  int `mapstructure:"max_daily"`
}

// IngestConfig tunes document splitting and deduplication.
type IngestConfig struct {
	ChunkThreshold int     `mapstructure:"chunk_threshold"`
	ChunkSize      int     `mapstructure:"chunk_size"`
	ChunkOverlap   int     `mapstructure:"chunk_overlap"`
	DedupThreshold float64 `mapstructure:"dedup_threshold"`
	Extractor      string  `mapstructure:"extractor"` // "rules", "openai" or "ollama"
}

// LLMConfig configures the model used by the LLM extractors.
type LLMConfig struct {
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// ClientConfig is used by the command line client.
type ClientConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
	Timeout int    `mapstructure:"timeout"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 8000)
	v.SetDefault("database.path", "./qquiz.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("auth.allow_registration", true)
	v.SetDefault("upload.max_size_mb", 10)
	v.SetDefault("upload.max_daily", 20)
	v.SetDefault("ingest.chunk_threshold", 5000)
	v.SetDefault("ingest.chunk_size", 3000)
	v.SetDefault("ingest.chunk_overlap", 1000)
	v.SetDefault("ingest.dedup_threshold", 0.85)
	v.SetDefault("ingest.extractor", "rules")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("jobs.reconcile_interval", 5)
	v.SetDefault("progress.retention", 30)
	v.SetDefault("progress.keepalive", 15)
	v.SetDefault("inbox.path", "")
	v.SetDefault("inbox.exam_id", 0)
	v.SetDefault("client.base_url", "http://localhost:8000")
	v.SetDefault("client.token", "")
	v.SetDefault("client.timeout", 30)
}

// Load reads configuration from a file named "config.yml" in the
// current directory and unmarshals it into a Config struct.
func Load() (*Config, error) {
	return LoadWithFlags(nil)
}

// LoadWithFlags is like Load but also binds command line flags. A flag
// named "database.path" overrides the key of the same name.
func LoadWithFlags(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")
	v.AddConfigPath(".")

	// e.g., QQUIZ_DATABASE_PATH will override the `database.path` key.
	v.SetEnvPrefix("QQUIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// Config file was found but another error was produced
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default returns a Config populated with the default values only.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var config Config
	// Defaults always decode.
	_ = v.Unmarshal(&config)
	return &config
}
