package internal

import (
	"fmt"
	"time"
)

type Config struct {
	Host     string `env:"HOST,default=0.0.0.0"`
	Port     int    `env:"PORT,required=true"`
	LogLevel string `env:"LOG_LEVEL,default=INFO"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	LimitMessages  *int   `env:"LIMIT_MESSAGES"`

	NatsURL   string `env:"NATS_URL,required=true"`
	PushTopic string `env:"PUSH_TOPIC,default=chat.push"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=5s"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT,default=10s"`
	StoreTimeout      time.Duration `env:"STORE_TIMEOUT,default=3s"`
	PublishTimeout    time.Duration `env:"PUBLISH_TIMEOUT,default=2s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT,default=5s"`
	MaxFrameSize      int           `env:"MAX_FRAME_SIZE,default=1048576"`
	RestartInterval   time.Duration `env:"RESTART_INTERVAL,default=1s"`
	StatsInterval     time.Duration `env:"STATS_INTERVAL,default=30s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`

	CensoredWordsFile string `env:"CENSORED_WORDS_FILE"`
	CharReplacement   string `env:"CHARACTER_REPLACEMENT,default=*"`
}

// Validate rejects settings the gateway cannot run with.
func (c Config) Validate() error {
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("HEARTBEAT_TIMEOUT (%s) must exceed HEARTBEAT_INTERVAL (%s)", c.HeartbeatTimeout, c.HeartbeatInterval)
	}
	if c.MaxFrameSize <= 0 {
		return fmt.Errorf("MAX_FRAME_SIZE must be positive, got %d", c.MaxFrameSize)
	}
	if c.LimitMessages != nil && *c.LimitMessages <= 0 {
		return fmt.Errorf("LIMIT_MESSAGES must be positive, got %d", *c.LimitMessages)
	}
	_, err := CharacterRune(c.CharReplacement)
	return err
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
