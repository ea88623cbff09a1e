package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Chat     ChatConfig     `mapstructure:"chat" yaml:"chat"`
}

// DatabaseConfig selects and configures the persistence gateway backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver" yaml:"driver"`
	// DSN is the database path for sqlite or the connection string for postgres.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// AuthConfig configures bearer-token verification at the transport boundary.
type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`
}

// ChatConfig tunes the room and connection machinery.
type ChatConfig struct {
	// QueueCapacity bounds each connection's outbound event queue.
	QueueCapacity int `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	// SenderEcho controls whether a sender receives its own messages back.
	SenderEcho bool `mapstructure:"sender_echo" yaml:"sender_echo"`
	// OverflowPolicy is "drop_oldest" or "disconnect".
	OverflowPolicy string `mapstructure:"overflow_policy" yaml:"overflow_policy"`
	// RoomIdleWindow is how long an empty room lingers before retirement.
	RoomIdleWindow time.Duration `mapstructure:"room_idle_window" yaml:"room_idle_window"`
	// AttachTimeout bounds the Connecting state.
	AttachTimeout time.Duration `mapstructure:"attach_timeout" yaml:"attach_timeout"`
	// DrainGrace bounds the outbound flush when a connection is closing.
	DrainGrace time.Duration `mapstructure:"drain_grace" yaml:"drain_grace"`
	// IdleTimeout force-drains a connection with no inbound activity.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	// StorageTimeout bounds roster loads and audit writes to the gateway.
	StorageTimeout time.Duration `mapstructure:"storage_timeout" yaml:"storage_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "roomcast.db",
		},
		Auth: AuthConfig{
			JWTSecret:   "change-me",
			JWTIssuer:   "roomcast",
			JWTAudience: "roomcast-clients",
		},
		Chat: ChatConfig{
			QueueCapacity:  64,
			SenderEcho:     false,
			OverflowPolicy: "drop_oldest",
			RoomIdleWindow: time.Minute,
			AttachTimeout:  10 * time.Second,
			DrainGrace:     3 * time.Second,
			IdleTimeout:    5 * time.Minute,
			StorageTimeout: 5 * time.Second,
		},
	}
}
