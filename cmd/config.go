package main

import "time"

type Config struct {
	Host      string `env:"HOST,default=localhost"`
	Port      int    `env:"PORT,default=8080"`
	DebugPort int    `env:"DEBUG_PORT,default=8081"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath  string `env:"BLUGE_FILEPATH,required=true"`

	MediaDir      string `env:"MEDIA_DIR,default=media"`
	MediaBaseURL  string `env:"MEDIA_BASE_URL,default=/media"`
	MaxImageBytes int    `env:"MAX_IMAGE_BYTES,default=5242880"`

	JWTSecret            string        `env:"JWT_SECRET,required=true"`
	SessionDuration      time.Duration `env:"SESSION_DURATION,default=168h"`
	ChannelTokenDuration time.Duration `env:"CHANNEL_TOKEN_DURATION,default=1m"`

	BufferSize  int           `env:"BUFFER_SIZE,default=256"`
	SinkTimeout time.Duration `env:"SINK_TIMEOUT,default=2s"`
	SendTimeout time.Duration `env:"SEND_TIMEOUT,default=5s"`

	PollInterval time.Duration `env:"POLL_INTERVAL,default=1500ms"`
	PollTimeout  time.Duration `env:"POLL_TIMEOUT,default=25s"`

	TelemetryInterval time.Duration `env:"TELEMETRY_INTERVAL,default=30s"`

	// Empty NATSUrl runs the relay as a single standalone instance.
	NATSUrl    string `env:"NATS_URL"`
	InstanceID string `env:"INSTANCE_ID"`

	CensoredWords             string `env:"CENSORED_WORDS"`
	ModerationCharReplacement rune   `env:"MODERATION_CHARACTER_REPLACEMENT,default=*"`

	SearchLimit int `env:"SEARCH_LIMIT,default=20"`

	LogLevel string `env:"LOG_LEVEL,default=info"`
}
