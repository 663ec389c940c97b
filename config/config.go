package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config is the signaling server configuration.
type Config struct {
	Port           string        `mapstructure:"port"`
	Environment    string        `mapstructure:"environment"`
	LogLevel       string        `mapstructure:"log_level"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AgentKey       string        `mapstructure:"agent_key"`
	Store          string        `mapstructure:"store"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
	ScorerURL      string        `mapstructure:"scorer_url"`
	ScorerTimeout  time.Duration `mapstructure:"scorer_timeout"`
	Redis          RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// AgentConfig is shared by the broadcaster and viewer CLIs.
type AgentConfig struct {
	ServerURL    string        `mapstructure:"server_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ICEServers   []string      `mapstructure:"ice_servers"`
	Token        string        `mapstructure:"token"`
	Key          string        `mapstructure:"key"`
	Camera       string        `mapstructure:"camera"`
	Record       string        `mapstructure:"record"`
	LogLevel     string        `mapstructure:"log_level"`
}

// AuthEnabled reports whether the /signal routes are guarded by JWT.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

// Load reads the server configuration from defaults, an optional
// config/config.<CONFIG_ENV>.yaml file and the environment.
func Load() (*Config, error) {
	v := newViper()

	v.SetDefault("port", "8080")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("allowed_origins", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("agent_key", "")
	v.SetDefault("store", StoreMemory)
	v.SetDefault("session_ttl", "24h")
	v.SetDefault("scorer_url", "")
	v.SetDefault("scorer_timeout", "30s")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "signal")

	readFile(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.AllowedOrigins = trimAll(cfg.AllowedOrigins)

	switch cfg.Store {
	case StoreMemory, StoreRedis:
	default:
		return nil, fmt.Errorf("unknown store %q (memory|redis)", cfg.Store)
	}
	if cfg.AuthEnabled() && cfg.AgentKey == "" {
		return nil, errors.New("agent_key is required when jwt_secret is set")
	}
	return &cfg, nil
}

// AgentFlags declares the command line flags understood by LoadAgent.
func AgentFlags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("server", "", "signaling server base URL")
	fs.Duration("poll", 0, "signal poll interval")
	fs.StringSlice("ice", nil, "ICE server URLs")
	fs.String("token", "", "bearer token for the signaling server")
	fs.String("key", "", "agent key used to log in when no token is given")
	fs.String("camera", "", "IVF (VP8) file used as the camera")
	fs.String("record", "", "record the received stream to this IVF file")
	fs.String("log-level", "", "log level")
	return fs
}

// LoadAgent resolves agent settings; flags win over environment, which wins
// over the config file.
func LoadAgent(fs *pflag.FlagSet) (*AgentConfig, error) {
	v := newViper()

	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("poll_interval", "1s")
	v.SetDefault("ice_servers", "stun:stun.l.google.com:19302")
	v.SetDefault("token", "")
	v.SetDefault("key", "")
	v.SetDefault("camera", "camera.ivf")
	v.SetDefault("record", "")
	v.SetDefault("log_level", "info")
	_ = v.BindEnv("token", "AGENT_TOKEN")
	_ = v.BindEnv("key", "AGENT_KEY")

	readFile(v)

	if fs != nil {
		for key, flag := range map[string]string{
			"server_url":    "server",
			"poll_interval": "poll",
			"ice_servers":   "ice",
			"token":         "token",
			"key":           "key",
			"camera":        "camera",
			"record":        "record",
			"log_level":     "log-level",
		} {
			if f := fs.Lookup(flag); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
	}

	var cfg AgentConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse agent config: %w", err)
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	cfg.ICEServers = trimAll(cfg.ICEServers)
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll_interval must be positive, got %s", cfg.PollInterval)
	}
	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func readFile(v *viper.Viper) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		log.Debug().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
		return
	}
	log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
