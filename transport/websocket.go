package transport

import (
	"context"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// websocketConn presents a WebSocket as a plain byte stream. Message
// boundaries mean nothing to the protocol, a frame may span several messages
// and a message may hold several frames.
type websocketConn struct {
	conn *websocket.Conn

	// current message being read, only touched by the reader
	r io.Reader

	wmu sync.Mutex
}

func dialWebsocket(ctx context.Context, u *url.URL, options Options) (*websocketConn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: options.dialTimeout(),
		TLSClientConfig:  options.tlsConfig(u.Hostname()),
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err != nil {
		return nil, err
	}

	return &websocketConn{conn: conn}, nil
}

func (c *websocketConn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			kind, r, err := c.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}

				return 0, err
			}

			if kind != websocket.BinaryMessage && kind != websocket.TextMessage {
				continue
			}

			c.r = r
		}

		n, err := c.r.Read(p)
		if err == io.EOF {
			c.r = nil

			if n == 0 {
				continue
			}

			return n, nil
		}

		return n, err
	}
}

func (c *websocketConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}

	return len(p), nil
}

// Close says goodbye to the peer and closes the underlying connection. The
// close message is best effort, the peer may already be gone.
func (c *websocketConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))

	return c.conn.Close()
}
