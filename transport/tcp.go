package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrUnsupportedScheme = errors.New("Unsupported transport URL scheme")
	ErrMissingHost       = errors.New("Transport URL has no host")
)

// Conn is the reliable ordered byte stream a session runs over.
type Conn = io.ReadWriteCloser

// Dial connects to the server at u. The scheme picks the transport:
//
//	nats://, tcp://   plain TCP
//	tls://            TCP with TLS
//	ws://, wss://     WebSocket, binary frames carry the byte stream
func Dial(ctx context.Context, u *url.URL, options Options) (Conn, error) {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	if u.Hostname() == "" {
		return nil, fmt.Errorf("Failed to dial '%s': %w", u.Redacted(), ErrMissingHost)
	}

	ctx, cancel := context.WithTimeout(ctx, options.dialTimeout())
	defer cancel()

	var (
		conn Conn
		err  error
	)

	switch strings.ToLower(u.Scheme) {
	case "nats", "tcp", "":
		conn, err = dialTCP(ctx, u, nil)

	case "tls":
		conn, err = dialTCP(ctx, u, options.tlsConfig(u.Hostname()))

	case "ws", "wss":
		conn, err = dialWebsocket(ctx, u, options)

	default:
		return nil, fmt.Errorf("Failed to dial '%s': %w", u.Redacted(), ErrUnsupportedScheme)
	}

	if err != nil {
		return nil, err
	}

	log.Debug("Transport connected", zap.String("url", u.Redacted()))

	if options.Trace {
		return newTraceConn(conn, log.Named("trace")), nil
	}

	return conn, nil
}

func dialTCP(ctx context.Context, u *url.URL, tlsConfig *tls.Config) (Conn, error) {
	port := u.Port()
	if port == "" {
		port = DefaultPort
	}

	dialer := net.Dialer{KeepAlive: 30 * time.Second}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(u.Hostname(), port))
	if err != nil {
		return nil, err
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		// Frames are written whole, Nagle only adds latency to PONG replies
		if err := tcpConn.SetNoDelay(true); err != nil {
			conn.Close()
			return nil, err
		}
	}

	if tlsConfig == nil {
		return conn, nil
	}

	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}

	return tlsConn, nil
}
