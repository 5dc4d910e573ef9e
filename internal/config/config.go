package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Aria2   Aria2Config   `mapstructure:"aria2"`
	Storage StorageConfig `mapstructure:"storage"`
	Tasks   TasksConfig   `mapstructure:"tasks"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type Aria2Config struct {
	RPCUrl string `mapstructure:"rpc_url"`
	// WSUrl defaults to RPCUrl with a ws:// scheme.
	WSUrl     string        `mapstructure:"ws_url"`
	Secret    string        `mapstructure:"secret"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"` // calls per second, 0 = unlimited
}

type StorageConfig struct {
	DataDir      string `mapstructure:"data_dir"`
	StagingDir   string `mapstructure:"staging_dir"`
	DocumentsDir string `mapstructure:"documents_dir"`
}

type TasksConfig struct {
	PollInterval     time.Duration     `mapstructure:"poll_interval"`
	ProgressInterval time.Duration     `mapstructure:"progress_interval"`
	Headers          map[string]string `mapstructure:"headers"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8084,
		},
		Aria2: Aria2Config{
			RPCUrl:    "http://localhost:6800/jsonrpc",
			Timeout:   10 * time.Second,
			RateLimit: 50,
		},
		Storage: StorageConfig{
			DataDir:      "./data",
			StagingDir:   "./cache",
			DocumentsDir: "./documents",
		},
		Tasks: TasksConfig{
			PollInterval:     500 * time.Millisecond,
			ProgressInterval: time.Second,
			Headers: map[string]string{
				"User-Agent": defaultUserAgent,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.bgdownloader")
	}

	v.SetEnvPrefix("BGDL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Aria2.WSUrl == "" {
		cfg.Aria2.WSUrl = WebSocketURL(cfg.Aria2.RPCUrl)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)

	v.SetDefault("aria2.rpc_url", d.Aria2.RPCUrl)
	v.SetDefault("aria2.ws_url", "")
	v.SetDefault("aria2.secret", "")
	v.SetDefault("aria2.timeout", d.Aria2.Timeout)
	v.SetDefault("aria2.rate_limit", d.Aria2.RateLimit)

	v.SetDefault("storage.data_dir", d.Storage.DataDir)
	v.SetDefault("storage.staging_dir", d.Storage.StagingDir)
	v.SetDefault("storage.documents_dir", d.Storage.DocumentsDir)

	v.SetDefault("tasks.poll_interval", d.Tasks.PollInterval)
	v.SetDefault("tasks.progress_interval", d.Tasks.ProgressInterval)
	v.SetDefault("tasks.headers", d.Tasks.Headers)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.compress", true)
}

// WebSocketURL derives the aria2 notification endpoint from its RPC endpoint.
func WebSocketURL(rpcURL string) string {
	switch {
	case strings.HasPrefix(rpcURL, "https://"):
		return "wss://" + strings.TrimPrefix(rpcURL, "https://")
	case strings.HasPrefix(rpcURL, "http://"):
		return "ws://" + strings.TrimPrefix(rpcURL, "http://")
	default:
		return rpcURL
	}
}

// Address returns the server listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
