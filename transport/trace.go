package transport

import (
	"go.uber.org/zap"
)

type traceConn struct {
	Conn

	log *zap.Logger
}

func newTraceConn(conn Conn, log *zap.Logger) *traceConn {
	return &traceConn{Conn: conn, log: log}
}

func (t *traceConn) Read(p []byte) (int, error) {
	n, err := t.Conn.Read(p)
	if n > 0 {
		t.log.Debug("<<<", zap.ByteString("data", p[:n]))
	}

	return n, err
}

func (t *traceConn) Write(p []byte) (int, error) {
	t.log.Debug(">>>", zap.ByteString("data", p))
	return t.Conn.Write(p)
}
