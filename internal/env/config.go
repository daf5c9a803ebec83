package env

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	URL string `env:"COURIER_URL,default=nats://127.0.0.1:4222"`

	Name  string `env:"COURIER_NAME"`
	User  string `env:"COURIER_USER"`
	Pass  string `env:"COURIER_PASS"`
	Token string `env:"COURIER_TOKEN"`

	Verbose  bool `env:"COURIER_VERBOSE"`
	Pedantic bool `env:"COURIER_PEDANTIC"`

	MaxPayload   int           `env:"COURIER_MAX_PAYLOAD,default=1048576"`
	PingInterval time.Duration `env:"COURIER_PING_INTERVAL,default=2m"`
	MaxPingsOut  int           `env:"COURIER_MAX_PINGS_OUT,default=2"`
	DialTimeout  time.Duration `env:"COURIER_DIAL_TIMEOUT,default=2s"`

	LogLevel  string `env:"COURIER_LOG_LEVEL,default=info"`
	Trace     bool   `env:"COURIER_TRACE"`
	DebugHTTP bool   `env:"COURIER_DEBUG_HTTP"`
}

// LoadConfig reads .env.local, when there is one, and then the environment.
func LoadConfig(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(".env.local"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return loadConfig(ctx, envconfig.OsLookuper())
}

func loadConfig(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	config := Config{}

	if err := envconfig.ProcessWith(ctx, &config, lookuper); err != nil {
		return nil, err
	}

	return &config, nil
}
