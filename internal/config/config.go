package config

import "time"

// Config holds gateway configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"` // console or json

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	// Websocket limits.
	MaxMessageBytes    int64    `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	SendBuffer         int      `mapstructure:"send_buffer" yaml:"send_buffer"`
	RateLimitPerMinute int      `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	OriginPatterns     []string `mapstructure:"origin_patterns" yaml:"origin_patterns"`

	// Identity tokens. When JWTRequired is false the auth frame's userId is trusted.
	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTRequired bool          `mapstructure:"jwt_required" yaml:"jwt_required"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	TypingTTL         time.Duration `mapstructure:"typing_ttl" yaml:"typing_ttl"`

	// Optional presence mirror. Empty RedisAddr disables it.
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		LogFormat:          "console",
		DatabasePath:       "wirechat.db",
		MaxMessageBytes:    1 << 20,
		SendBuffer:         64,
		RateLimitPerMinute: 0,
		JWTIssuer:          "wirechat",
		JWTAudience:        "wirechat-gateway",
		JWTTTL:             24 * time.Hour,
		HeartbeatInterval:  20 * time.Second,
		HeartbeatTimeout:   60 * time.Second,
		TypingTTL:          6 * time.Second,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	if other.SendBuffer != 0 {
		c.SendBuffer = other.SendBuffer
	}
	if other.RateLimitPerMinute != 0 {
		c.RateLimitPerMinute = other.RateLimitPerMinute
	}
	if len(other.OriginPatterns) > 0 {
		c.OriginPatterns = other.OriginPatterns
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.JWTIssuer != "" {
		c.JWTIssuer = other.JWTIssuer
	}
	if other.JWTAudience != "" {
		c.JWTAudience = other.JWTAudience
	}
	if other.JWTRequired {
		c.JWTRequired = true
	}
	if other.JWTTTL != 0 {
		c.JWTTTL = other.JWTTTL
	}
	if other.HeartbeatInterval != 0 {
		c.HeartbeatInterval = other.HeartbeatInterval
	}
	if other.HeartbeatTimeout != 0 {
		c.HeartbeatTimeout = other.HeartbeatTimeout
	}
	if other.TypingTTL != 0 {
		c.TypingTTL = other.TypingTTL
	}
	if other.RedisAddr != "" {
		c.RedisAddr = other.RedisAddr
	}
	if other.RedisPassword != "" {
		c.RedisPassword = other.RedisPassword
	}
	if other.RedisDB != 0 {
		c.RedisDB = other.RedisDB
	}
}

// Validate reports configuration combinations the gateway cannot run with.
func (c Config) Validate() error {
	if c.JWTRequired && c.JWTSecret == "" {
		return errJWTSecretMissing
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return errHeartbeatWindow
	}
	if c.SendBuffer <= 0 {
		return errSendBuffer
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		return errLogFormat
	}
	return nil
}
