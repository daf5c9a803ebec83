package registry

import (
	"io"
	"sync"
	"sync/atomic"
)

// Message is a delivered MSG as seen by a subscription handler.
type Message struct {
	Subject string
	Reply   string
	Data    []byte

	// Sub is nil when the message went to the fallback handler.
	Sub *Subscription
}

type Handler interface {
	HandleMsg(msg *Message) error
}

type HandlerFunc func(msg *Message) error

func (f HandlerFunc) HandleMsg(msg *Message) error {
	return f(msg)
}

// ChanHandler hands messages to a consumer goroutine. It never blocks the
// reader, a full channel drops the message with ErrSlowConsumer. Messages for
// one subscription arrive on the channel in wire order.
//
// The channel is closed when the registry closes, so a consumer ranging over
// it stops with the session. It must not be shared between handlers.
type ChanHandler struct {
	mu     sync.Mutex
	ch     chan *Message
	closed bool
}

func NewChanHandler(ch chan *Message) *ChanHandler {
	return &ChanHandler{ch: ch}
}

func (c *ChanHandler) HandleMsg(msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrRegistryClosed
	}

	select {
	case c.ch <- msg:
		return nil

	default:
		return ErrSlowConsumer
	}
}

// Close closes the channel. Later calls do nothing.
func (c *ChanHandler) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.ch)
	}

	return nil
}

// Subscription is a registered interest in a subject. It is owned by the
// Registry that created it.
type Subscription struct {
	SID     string
	Subject string
	Queue   string

	handler Handler

	// max and delivered are written under the registry lock, delivered is
	// read atomically from anywhere.
	max       uint64
	delivered uint64
}

// Delivered returns how many messages were dispatched to this subscription.
func (s *Subscription) Delivered() uint64 {
	return atomic.LoadUint64(&s.delivered)
}

// Max returns the auto-unsubscribe limit, zero means unlimited.
func (s *Subscription) Max() uint64 {
	return atomic.LoadUint64(&s.max)
}

var _ Handler = HandlerFunc(nil)
var _ Handler = (*ChanHandler)(nil)
var _ io.Closer = (*ChanHandler)(nil)
