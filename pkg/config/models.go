package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Invoke    InvokeConfig
	Registry  RegistryConfig
	LogLevel  string `mapstructure:"logLevel"`
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	// MaxMessageBytes must stay well above invoke.maxInlineBytes.
	MaxMessageBytes int `mapstructure:"maxMessageBytes"`
}

// InvokeConfig is the tuning surface of the invocation core.
type InvokeConfig struct {
	// RequestTimeout bounds how long a pending invocation waits for replies.
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
	// MaxConcurrentRequests caps simultaneously pending invocations; further
	// calls fail fast with Overloaded instead of queueing unbounded.
	MaxConcurrentRequests int `mapstructure:"maxConcurrentRequests"`
	// MaxInlineBytes is the largest reply payload carried on the transport
	// itself; anything bigger is offloaded and answered by reference.
	MaxInlineBytes int `mapstructure:"maxInlineBytes"`
	// SpoolDir is where the client-side payload store writes offloaded replies.
	SpoolDir string `mapstructure:"spoolDir"`
}

type RegistryConfig struct {
	// PurgeInterval is how often the server reconciles registry entries
	// against transport liveness. Zero disables the background pass.
	PurgeInterval time.Duration `mapstructure:"purgeInterval"`
}
