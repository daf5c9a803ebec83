package transport

import (
	"crypto/tls"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPort        = "4222"
	DefaultDialTimeout = 2 * time.Second
)

type Options struct {
	// DialTimeout bounds connection establishment, TLS and WebSocket
	// handshakes included
	DialTimeout time.Duration

	// TLSConfig is used for tls:// and wss:// URLs. A nil config uses the
	// system roots and the URL host as server name
	TLSConfig *tls.Config

	// Trace will log every chunk read and written. This is only useful in
	// local debugging
	Trace bool

	Log *zap.Logger
}

func (o Options) dialTimeout() time.Duration {
	if o.DialTimeout <= 0 {
		return DefaultDialTimeout
	}

	return o.DialTimeout
}

func (o Options) tlsConfig(host string) *tls.Config {
	if o.TLSConfig != nil {
		cfg := o.TLSConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}

		return cfg
	}

	return &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}
}
