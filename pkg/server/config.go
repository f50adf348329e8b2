package server

import "time"

// Config configures the credential cache server.
type Config struct {
	// SocketPath is the Unix socket clients connect to.
	SocketPath string `mapstructure:"socket_path" validate:"required" yaml:"socket_path"`

	// SocketMode is the permission of the socket file.
	// Default: 0600
	SocketMode uint32 `mapstructure:"socket_mode" validate:"lte=511" yaml:"socket_mode"`

	// QueueSize is the number of requests buffered for the arbiter.
	// Default: 256
	QueueSize int `mapstructure:"queue_size" validate:"gte=1" yaml:"queue_size"`

	// OutboxSize is the number of replies buffered per client. A client that
	// falls further behind loses notifications.
	// Default: 64
	OutboxSize int `mapstructure:"outbox_size" validate:"gte=1" yaml:"outbox_size"`

	// WriteTimeout bounds a single reply write.
	// Default: 5s
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0" yaml:"write_timeout"`

	// MaxMessageSize bounds one request, including imported cache data.
	// Default: 1MiB
	MaxMessageSize int `mapstructure:"max_message_size" validate:"gte=1024" yaml:"max_message_size"`
}

// DefaultConfig returns the default server settings for socketPath.
func DefaultConfig(socketPath string) Config {
	return Config{
		SocketPath:     socketPath,
		SocketMode:     0o600,
		QueueSize:      256,
		OutboxSize:     64,
		WriteTimeout:   5 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}
