package client

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/courier/internal/meta"
	"github.com/luma/courier/protocol"
	"github.com/luma/courier/registry"
	"github.com/luma/courier/session"
	"github.com/luma/courier/transport"
)

var (
	ErrConnectionClosed = errors.New("Connection is closed")
	ErrStaleConnection  = errors.New("Server stopped answering PINGs")
)

const (
	DefaultPingInterval = 2 * time.Minute
	DefaultMaxPingsOut  = 2

	readBufferSize = 32 * 1024
	inboxPrefix    = "_INBOX."
)

type Options struct {
	URL string

	Name  string
	User  string
	Pass  string
	Token string

	Verbose  bool
	Pedantic bool

	// Secure asks the server for TLS. Connect sets it for tls:// and wss://
	Secure bool

	// MaxPayload caps inbound message payloads
	MaxPayload int

	// PingInterval is how often a PING is sent. Once MaxPingsOut of them
	// are unanswered the connection is considered dead and closed.
	PingInterval time.Duration
	MaxPingsOut  int

	// NonFatalErrors overrides session.DefaultNonFatalErrors
	NonFatalErrors []string

	Transport transport.Options

	Log *zap.Logger
}

// Conn is a client connection: one transport, one session, one reader.
type Conn struct {
	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup

	conn      transport.Conn
	closeOnce sync.Once
	closeErr  error

	sess *session.Session
	opts Options

	respMu    sync.Mutex
	respChans map[string]chan *registry.Message
	respInbox string

	// respSubMu must not be held together with respMu
	respSubMu sync.Mutex
	respSub   *registry.Subscription

	idMu      sync.Mutex
	requestId uint64

	log *zap.Logger
}

// Connect dials opts.URL and waits until the server handshake completes or
// ctx is done.
func Connect(ctx context.Context, opts Options) (*Conn, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, err
	}

	if u.User != nil {
		if pass, ok := u.User.Password(); ok {
			opts.User = u.User.Username()
			opts.Pass = pass
		} else {
			opts.Token = u.User.Username()
		}
	}

	switch u.Scheme {
	case "tls", "wss":
		opts.Secure = true
	}

	if opts.Transport.Log == nil {
		opts.Transport.Log = opts.Log
	}

	conn, err := transport.Dial(ctx, u, opts.Transport)
	if err != nil {
		return nil, err
	}

	return NewConn(ctx, conn, opts)
}

// NewConn runs the protocol over an established transport connection, which
// the returned Conn then owns.
func NewConn(ctx context.Context, conn transport.Conn, opts Options) (*Conn, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	if opts.MaxPingsOut <= 0 {
		opts.MaxPingsOut = DefaultMaxPingsOut
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	c := &Conn{
		ctx:       loopCtx,
		cancel:    cancel,
		conn:      conn,
		opts:      opts,
		respChans: make(map[string]chan *registry.Message),
		respInbox: newInbox(),
		log:       log,
	}

	c.sess = session.New(conn, session.Options{
		Connect: protocol.ConnectOptions{
			Verbose:     opts.Verbose,
			Pedantic:    opts.Pedantic,
			SSLRequired: opts.Secure,
			AuthToken:   opts.Token,
			User:        opts.User,
			Pass:        opts.Pass,
			Name:        opts.Name,
			Lang:        meta.Lang,
			Version:     meta.ClientVersion(),
		},
		MaxPayload:     opts.MaxPayload,
		NonFatalErrors: opts.NonFatalErrors,
		Log:            log.Named("session"),
	})

	c.sess.OnClose(c.failRequests)

	c.loopWaiter.Add(2)

	go func() {
		defer c.loopWaiter.Done()
		c.readLoop()
	}()

	go func() {
		defer c.loopWaiter.Done()
		c.pingLoop()
	}()

	select {
	case <-c.sess.Ready():

	case <-c.sess.Done():
		err := c.sess.Err()
		c.Close()
		return nil, err

	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}

	// The server answers -ERR instead of PONG when it rejects CONNECT
	if err := c.Ping(ctx); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

// Close closes the session and the transport and waits for the reader to
// exit. Pending requests fail with ErrConnectionClosed.
func (c *Conn) Close() error {
	c.cancel()

	err := multierr.Combine(
		c.sess.Close(ErrConnectionClosed),
		c.closeTransport(),
	)

	c.loopWaiter.Wait()

	return err
}

// Done is closed once the connection is no longer usable.
func (c *Conn) Done() <-chan struct{} {
	return c.sess.Done()
}

// Err returns why the connection closed.
func (c *Conn) Err() error {
	return c.sess.Err()
}

func (c *Conn) Info() *protocol.ServerInfo {
	return c.sess.Info()
}

func (c *Conn) Stats() session.Stats {
	return c.sess.Stats()
}

func (c *Conn) Publish(subject string, data []byte) error {
	return c.sess.Publish(subject, "", data)
}

// PublishRequest publishes data asking for replies on reply.
func (c *Conn) PublishRequest(subject, reply string, data []byte) error {
	return c.sess.Publish(subject, reply, data)
}

func (c *Conn) Subscribe(subject string, handler registry.Handler) (*registry.Subscription, error) {
	return c.sess.Subscribe(subject, "", handler)
}

// QueueSubscribe joins queue on subject, the server delivers each message
// to one member of the group.
func (c *Conn) QueueSubscribe(subject, queue string, handler registry.Handler) (*registry.Subscription, error) {
	return c.sess.Subscribe(subject, queue, handler)
}

// ChanSubscribe delivers messages on ch. When ch is full messages are
// dropped and counted as dispatch failures. ch is closed when the connection
// closes and must not be passed to another subscription.
func (c *Conn) ChanSubscribe(subject string, ch chan *registry.Message) (*registry.Subscription, error) {
	return c.sess.Subscribe(subject, "", registry.NewChanHandler(ch))
}

func (c *Conn) Unsubscribe(sub *registry.Subscription) error {
	return c.sess.Unsubscribe(sub.SID, 0)
}

// AutoUnsubscribe removes sub once it has received max messages in total.
func (c *Conn) AutoUnsubscribe(sub *registry.Subscription, max int) error {
	return c.sess.Unsubscribe(sub.SID, max)
}

// Ping round trips a PING to the server. When it returns nil everything
// written before it has been processed by the server.
func (c *Conn) Ping(ctx context.Context) error {
	waiter, err := c.sess.Ping()
	if err != nil {
		return err
	}

	select {
	case err := <-waiter:
		return err

	case <-ctx.Done():
		return ctx.Err()
	}
}

// Request publishes data on subject and waits for the first reply.
func (c *Conn) Request(ctx context.Context, subject string, data []byte) (*registry.Message, error) {
	if err := c.ensureResponseSub(); err != nil {
		return nil, err
	}

	token, respChan := c.createResponseChan()
	defer c.destroyResponseChan(token)

	if err := c.sess.Publish(subject, c.respInbox+token, data); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, c.closedErr()
		}

		return resp, nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) readLoop() {
	log := c.log.Named("readLoop")
	buf := make([]byte, readBufferSize)

	for {
		n, err := c.conn.Read(buf)

		if n > 0 {
			if ferr := c.sess.Feed(buf[:n]); ferr != nil {
				log.Warn("Session failed, closing transport", zap.Error(ferr))
				c.closeTransport()
				return
			}
		}

		if err != nil {
			cause := ErrConnectionClosed

			if c.isRunning() && !errors.Is(err, io.EOF) {
				log.Warn("Failed to read from transport", zap.Error(err))
				cause = fmt.Errorf("%w: %v", ErrConnectionClosed, err)
			}

			c.sess.Close(cause)
			return
		}
	}
}

func (c *Conn) pingLoop() {
	if c.opts.PingInterval <= 0 {
		return
	}

	log := c.log.Named("pingLoop")

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return

		case <-c.sess.Done():
			return

		case <-ticker.C:
			if out := c.sess.OutstandingPings(); out >= c.opts.MaxPingsOut {
				log.Warn("Server stopped answering PINGs, closing",
					zap.Int("outstanding", out))

				c.sess.Close(ErrStaleConnection)
				c.closeTransport()
				return
			}

			if _, err := c.sess.Ping(); err != nil {
				log.Warn("Failed to send PING", zap.Error(err))
			}
		}
	}
}

// ensureResponseSub lazily subscribes to the wildcard inbox all requests
// share.
func (c *Conn) ensureResponseSub() error {
	c.respSubMu.Lock()
	defer c.respSubMu.Unlock()

	if c.respSub != nil {
		return nil
	}

	sub, err := c.sess.Subscribe(c.respInbox+"*", "", registry.HandlerFunc(c.sendToResponseChan))
	if err != nil {
		return err
	}

	c.respSub = sub

	return nil
}

func (c *Conn) createResponseChan() (string, <-chan *registry.Message) {
	token := c.getNextRequestID()
	respChan := make(chan *registry.Message, 1)

	c.respMu.Lock()
	c.respChans[token] = respChan
	c.respMu.Unlock()

	return token, respChan
}

func (c *Conn) sendToResponseChan(msg *registry.Message) error {
	token := strings.TrimPrefix(msg.Subject, c.respInbox)

	c.respMu.Lock()
	defer c.respMu.Unlock()

	respChan, ok := c.respChans[token]
	if !ok {
		// Late reply, the requester has given up
		return nil
	}

	select {
	case respChan <- msg:
	default:
		// Only the first reply is kept
	}

	return nil
}

func (c *Conn) destroyResponseChan(token string) {
	c.respMu.Lock()
	respChan, ok := c.respChans[token]
	if ok {
		close(respChan)
		delete(c.respChans, token)
	}
	c.respMu.Unlock()
}

// failRequests wakes every pending request when the session closes.
func (c *Conn) failRequests(error) {
	c.respMu.Lock()
	defer c.respMu.Unlock()

	for token, respChan := range c.respChans {
		close(respChan)
		delete(c.respChans, token)
	}
}

func (c *Conn) getNextRequestID() string {
	c.idMu.Lock()
	c.requestId++
	requestID := c.requestId
	c.idMu.Unlock()

	return strconv.FormatUint(requestID, 36)
}

func (c *Conn) closeTransport() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})

	return c.closeErr
}

func (c *Conn) closedErr() error {
	if err := c.sess.Err(); err != nil && !errors.Is(err, ErrConnectionClosed) {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}

	return ErrConnectionClosed
}

// isRunning returns true if Close has not been called
func (c *Conn) isRunning() bool {
	select {
	case <-c.ctx.Done():
		return false

	default:
		return true
	}
}

func newInbox() string {
	b := make([]byte, 11)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}

	return inboxPrefix + hex.EncodeToString(b) + "."
}
