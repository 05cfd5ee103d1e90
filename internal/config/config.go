package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig
	Redis  RedisConfig
	Relay  RelayConfig
	Log    LogConfig
}

type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Addr returns the host:port the HTTP server listens on.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

type RedisConfig struct {
	URL            string
	MaxRetries     int
	DialTimeout    time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PoolSize       int
	MinIdleConns   int
	ConnectTimeout time.Duration
}

// RelayConfig tunes the WebSocket transport and the upstream bridge.
type RelayConfig struct {
	SendBufferSize       int
	MaxMessageSize       int64
	WriteWait            time.Duration
	PongWait             time.Duration
	SubscribeTimeout     time.Duration
	PublishTimeout       time.Duration
	PublishQueueSize     int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	HealthCheckInterval  time.Duration
	AllowedOrigins       []string
	ConnectRateLimit     int
	ConnectRateWindow    time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

var ErrInvalidPort = errors.New("invalid port")

func setDefaults(v *viper.Viper) {
	v.SetDefault("RELAY_HOST", "")
	v.SetDefault("RELAY_PORT", "8080")
	v.SetDefault("RELAY_READ_TIMEOUT", 30*time.Second)
	v.SetDefault("RELAY_WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("RELAY_IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("RELAY_SHUTDOWN_TIMEOUT", 15*time.Second)

	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("REDIS_MAX_RETRIES", 3)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
	v.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
	v.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)
	v.SetDefault("REDIS_CONNECT_TIMEOUT", 30*time.Second)

	v.SetDefault("RELAY_SEND_BUFFER", 256)
	v.SetDefault("RELAY_MAX_MESSAGE_SIZE", 64*1024)
	v.SetDefault("RELAY_WRITE_WAIT", 10*time.Second)
	v.SetDefault("RELAY_PONG_WAIT", 60*time.Second)
	v.SetDefault("RELAY_SUBSCRIBE_TIMEOUT", 5*time.Second)
	v.SetDefault("RELAY_PUBLISH_TIMEOUT", 3*time.Second)
	v.SetDefault("RELAY_PUBLISH_QUEUE", 1024)
	v.SetDefault("RELAY_RETRY_INITIAL_INTERVAL", 500*time.Millisecond)
	v.SetDefault("RELAY_RETRY_MAX_INTERVAL", 30*time.Second)
	v.SetDefault("RELAY_HEALTH_CHECK_INTERVAL", 10*time.Second)
	v.SetDefault("RELAY_ALLOWED_ORIGINS", "*")
	v.SetDefault("RELAY_CONNECT_RATE_LIMIT", 0)
	v.SetDefault("RELAY_CONNECT_RATE_WINDOW", time.Minute)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// LoadConfig resolves configuration from command-line args, the environment,
// an optional .env file and defaults, in that order of precedence. A bare
// positional argument is taken as the listening port.
func LoadConfig(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	flags := pflag.NewFlagSet("room-relay", pflag.ContinueOnError)
	flags.String("port", "", "listening port (default 8080)")
	flags.String("host", "", "listening host")
	flags.String("redis-url", "", "redis connection URL")
	flags.String("log-level", "", "debug, info, warn or error")
	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	for key, name := range map[string]string{
		"RELAY_PORT": "port",
		"RELAY_HOST": "host",
		"REDIS_URL":  "redis-url",
		"LOG_LEVEL":  "log-level",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	if rest := flags.Args(); len(rest) > 0 {
		v.Set("RELAY_PORT", rest[0])
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            v.GetString("RELAY_HOST"),
			Port:            v.GetString("RELAY_PORT"),
			ReadTimeout:     v.GetDuration("RELAY_READ_TIMEOUT"),
			WriteTimeout:    v.GetDuration("RELAY_WRITE_TIMEOUT"),
			IdleTimeout:     v.GetDuration("RELAY_IDLE_TIMEOUT"),
			ShutdownTimeout: v.GetDuration("RELAY_SHUTDOWN_TIMEOUT"),
		},
		Redis: RedisConfig{
			URL:            v.GetString("REDIS_URL"),
			MaxRetries:     v.GetInt("REDIS_MAX_RETRIES"),
			DialTimeout:    v.GetDuration("REDIS_DIAL_TIMEOUT"),
			ReadTimeout:    v.GetDuration("REDIS_READ_TIMEOUT"),
			WriteTimeout:   v.GetDuration("REDIS_WRITE_TIMEOUT"),
			PoolSize:       v.GetInt("REDIS_POOL_SIZE"),
			MinIdleConns:   v.GetInt("REDIS_MIN_IDLE_CONNS"),
			ConnectTimeout: v.GetDuration("REDIS_CONNECT_TIMEOUT"),
		},
		Relay: RelayConfig{
			SendBufferSize:       v.GetInt("RELAY_SEND_BUFFER"),
			MaxMessageSize:       v.GetInt64("RELAY_MAX_MESSAGE_SIZE"),
			WriteWait:            v.GetDuration("RELAY_WRITE_WAIT"),
			PongWait:             v.GetDuration("RELAY_PONG_WAIT"),
			SubscribeTimeout:     v.GetDuration("RELAY_SUBSCRIBE_TIMEOUT"),
			PublishTimeout:       v.GetDuration("RELAY_PUBLISH_TIMEOUT"),
			PublishQueueSize:     v.GetInt("RELAY_PUBLISH_QUEUE"),
			RetryInitialInterval: v.GetDuration("RELAY_RETRY_INITIAL_INTERVAL"),
			RetryMaxInterval:     v.GetDuration("RELAY_RETRY_MAX_INTERVAL"),
			HealthCheckInterval:  v.GetDuration("RELAY_HEALTH_CHECK_INTERVAL"),
			AllowedOrigins:       splitList(v.GetString("RELAY_ALLOWED_ORIGINS")),
			ConnectRateLimit:     v.GetInt("RELAY_CONNECT_RATE_LIMIT"),
			ConnectRateWindow:    v.GetDuration("RELAY_CONNECT_RATE_WINDOW"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the relay cannot run with.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("%w: %q", ErrInvalidPort, c.Server.Port)
	}
	if c.Relay.SendBufferSize <= 0 {
		return fmt.Errorf("send buffer size must be positive, got %d", c.Relay.SendBufferSize)
	}
	if c.Relay.PublishQueueSize <= 0 {
		return fmt.Errorf("publish queue size must be positive, got %d", c.Relay.PublishQueueSize)
	}
	if c.Relay.MaxMessageSize <= 0 {
		return fmt.Errorf("max message size must be positive, got %d", c.Relay.MaxMessageSize)
	}
	if c.Relay.PongWait <= 0 {
		return fmt.Errorf("pong wait must be positive, got %v", c.Relay.PongWait)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
