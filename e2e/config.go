package e2e

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// GATEWAY_ADDR targets a running gateway. Empty boots an in-process stack.
	GatewayAddr string `envconfig:"GATEWAY_ADDR"`
	// E2E_ROOM_ID must already exist on an external gateway
	RoomID  string        `envconfig:"E2E_ROOM_ID" default:"e2e"`
	Timeout time.Duration `envconfig:"E2E_TIMEOUT" default:"5s"`
	// E2E_DEBUG_JSON dumps every frame received by the scenario clients
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
