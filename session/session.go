package session

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/luma/courier/protocol"
	"github.com/luma/courier/registry"
)

var (
	ErrSessionClosed = errors.New("Session is closed")
	ErrNotConnected  = errors.New("Session has not completed its handshake")
	ErrMaxPayload    = errors.New("Payload is larger than the server allows")
	ErrBadGreeting   = errors.New("Server greeting could not be parsed")
)

// DefaultNonFatalErrors are -ERR messages that leave the session connected.
// They are matched as case-insensitive prefixes.
var DefaultNonFatalErrors = []string{
	"Slow Consumer",
	"Permissions Violation",
}

// Write buffers that grew beyond this for a large publish are not kept.
const maxRetainedWriteBuffer = 64 * 1024

type Phase int32

const (
	AwaitingGreeting Phase = iota
	Connected
	Closed
)

func (p Phase) String() string {
	switch p {
	case AwaitingGreeting:
		return "awaiting_greeting"
	case Connected:
		return "connected"
	default:
		return "closed"
	}
}

type Options struct {
	// Connect is sent in response to the server greeting.
	Connect protocol.ConnectOptions

	// MaxPayload caps inbound MSG payloads, see protocol.NewDecoder.
	MaxPayload int

	// NonFatalErrors replaces DefaultNonFatalErrors when not nil.
	NonFatalErrors []string

	// Registry is created when nil.
	Registry *registry.Registry

	Log *zap.Logger
}

// Session is the protocol state of one transport connection.
//
// Feed must only be called from a single goroutine, the connection's reader.
// Every other method is safe for concurrent use.
type Session struct {
	log *zap.Logger

	dec  *protocol.Decoder
	subs *registry.Registry

	nonFatal []string
	connect  protocol.ConnectOptions

	wmu  sync.Mutex
	w    io.Writer
	wbuf []byte

	mu      sync.Mutex
	phase   Phase
	info    *protocol.ServerInfo
	err     error
	pongs   []chan error
	onClose []func(error)

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	nextSID  uint64
	pingsOut int64

	stats counters
}

// New returns a session awaiting the server greeting. Replies are written to
// w, which is usually the transport connection.
func New(w io.Writer, opts Options) *Session {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	subs := opts.Registry
	if subs == nil {
		subs = registry.New(log.Named("registry"))
	}

	nonFatal := opts.NonFatalErrors
	if nonFatal == nil {
		nonFatal = DefaultNonFatalErrors
	}

	return &Session{
		log:      log,
		dec:      protocol.NewDecoder(opts.MaxPayload),
		subs:     subs,
		nonFatal: nonFatal,
		connect:  opts.Connect,
		w:        w,
		phase:    AwaitingGreeting,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Feed hands bytes read from the transport to the session and reacts to
// every frame they complete.
//
// A non-nil error means the session is now closed: the stream was corrupt,
// the server sent a fatal -ERR, or a reply could not be written.
func (s *Session) Feed(data []byte) error {
	if s.Phase() == Closed {
		return ErrSessionClosed
	}

	atomic.AddUint64(&s.stats.bytesIn, uint64(len(data)))

	frames, err := s.dec.Push(data)

	for _, frame := range frames {
		if ferr := s.handle(frame); ferr != nil {
			s.Close(ferr)
			return ferr
		}
	}

	if err != nil {
		s.log.Error("Closing session, protocol stream is corrupt", zap.Error(err))
		s.Close(err)
		return err
	}

	return nil
}

func (s *Session) handle(frame protocol.Frame) error {
	atomic.AddUint64(&s.stats.framesIn, 1)

	switch f := frame.(type) {
	case *protocol.Info:
		return s.handleInfo(f)

	case *protocol.Msg:
		s.handleMsg(f)
		return nil

	case *protocol.Ping:
		return s.send(false, protocol.AppendPong)

	case *protocol.Pong:
		s.handlePong()
		return nil

	case *protocol.Ok:
		atomic.AddUint64(&s.stats.acks, 1)
		return nil

	case *protocol.ErrorFrame:
		return s.handleErr(f)

	case *protocol.Unrecognized:
		atomic.AddUint64(&s.stats.unrecognized, 1)
		s.log.Warn("Skipping unrecognized frame", zap.ByteString("header", f.Header))
		return nil

	default:
		panic(fmt.Sprintf("session: unhandled frame kind %s", frame.Kind()))
	}
}

func (s *Session) handleInfo(f *protocol.Info) error {
	info, err := protocol.ParseServerInfo(f.Settings)

	s.mu.Lock()
	phase := s.phase
	if err == nil {
		s.info = info
	}
	s.mu.Unlock()

	if err != nil {
		if phase == AwaitingGreeting {
			return fmt.Errorf("%v: %w", err, ErrBadGreeting)
		}

		s.log.Warn("Ignoring unparsable INFO update", zap.Error(err))
		return nil
	}

	if info.MaxPayload > 0 && info.MaxPayload < s.dec.MaxPayload() {
		s.dec.SetMaxPayload(info.MaxPayload)
	}

	if phase != AwaitingGreeting {
		s.log.Debug("Server info updated", zap.String("serverID", info.ServerID))
		return nil
	}

	line, err := protocol.AppendConnect(nil, s.connect)
	if err != nil {
		return err
	}

	err = s.sendIn(AwaitingGreeting, func(b []byte) []byte {
		return append(b, line...)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.phase == AwaitingGreeting {
		s.phase = Connected
	}
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })

	s.log.Info("Session connected",
		zap.String("serverID", info.ServerID),
		zap.String("serverVersion", info.Version),
		zap.Int("maxPayload", info.MaxPayload))

	return nil
}

func (s *Session) handleMsg(f *protocol.Msg) {
	if s.Phase() != Connected {
		s.log.Warn("Dropping MSG received before the handshake completed",
			zap.ByteString("subject", f.Subject))
		return
	}

	atomic.AddUint64(&s.stats.msgsIn, 1)
	s.subs.Dispatch(string(f.SID), string(f.Subject), f.ReplyTo, f.Payload)
}

func (s *Session) handlePong() {
	for {
		n := atomic.LoadInt64(&s.pingsOut)
		if n <= 0 || atomic.CompareAndSwapInt64(&s.pingsOut, n, n-1) {
			break
		}
	}

	s.mu.Lock()
	var waiter chan error
	if len(s.pongs) > 0 {
		waiter = s.pongs[0]
		s.pongs = s.pongs[1:]
	}
	s.mu.Unlock()

	if waiter != nil {
		waiter <- nil
	}
}

func (s *Session) handleErr(f *protocol.ErrorFrame) error {
	atomic.AddUint64(&s.stats.serverErrors, 1)

	msg := string(f.Message)

	for _, allowed := range s.nonFatal {
		if len(msg) >= len(allowed) && strings.EqualFold(msg[:len(allowed)], allowed) {
			s.log.Warn("Server reported a non fatal error", zap.String("error", msg))
			return nil
		}
	}

	s.log.Error("Server reported a fatal error", zap.String("error", msg))

	return &protocol.ServerError{Message: msg}
}

// Publish sends payload on subject. reply may be empty.
func (s *Session) Publish(subject, reply string, payload []byte) error {
	if err := protocol.ValidateSubject(subject); err != nil {
		return err
	}

	if err := protocol.ValidateToken(reply); err != nil {
		return err
	}

	if info := s.Info(); info != nil && info.MaxPayload > 0 && len(payload) > info.MaxPayload {
		return fmt.Errorf("%d > %d bytes: %w", len(payload), info.MaxPayload, ErrMaxPayload)
	}

	err := s.send(true, func(b []byte) []byte {
		return protocol.AppendPub(b, subject, reply, payload)
	})
	if err != nil {
		return err
	}

	atomic.AddUint64(&s.stats.msgsOut, 1)

	return nil
}

// Subscribe registers handler and tells the server about it. The handler is
// registered before SUB is written so no message can slip past it.
func (s *Session) Subscribe(subject, queue string, handler registry.Handler) (*registry.Subscription, error) {
	if err := protocol.ValidateSubject(subject); err != nil {
		return nil, err
	}

	if err := protocol.ValidateToken(queue); err != nil {
		return nil, err
	}

	if err := s.writable(true); err != nil {
		return nil, err
	}

	sid := strconv.FormatUint(atomic.AddUint64(&s.nextSID, 1), 10)

	sub, err := s.subs.Add(sid, subject, queue, 0, handler)
	if err != nil {
		return nil, err
	}

	err = s.send(true, func(b []byte) []byte {
		return protocol.AppendSub(b, subject, queue, sid)
	})
	if err != nil {
		s.subs.Remove(sid)
		return nil, err
	}

	return sub, nil
}

// Unsubscribe removes sid. With maxMsgs > 0 the subscription instead stays
// until it has received maxMsgs messages in total.
//
// Unsubscribing a sid that is already gone, for instance from inside the
// handler of its last auto-unsubscribed message, is a no-op.
func (s *Session) Unsubscribe(sid string, maxMsgs int) error {
	var err error
	if maxMsgs > 0 {
		err = s.subs.SetMax(sid, maxMsgs)
	} else if !s.subs.Remove(sid) {
		err = fmt.Errorf("sid %s: %w", sid, registry.ErrUnknownSID)
	}

	if err != nil {
		if s.issued(sid) {
			return nil
		}

		return err
	}

	return s.send(true, func(b []byte) []byte {
		return protocol.AppendUnsub(b, sid, maxMsgs)
	})
}

// issued reports whether sid was handed out by Subscribe.
func (s *Session) issued(sid string) bool {
	n, err := strconv.ParseUint(sid, 10, 64)
	if err != nil {
		return false
	}

	return n > 0 && n <= atomic.LoadUint64(&s.nextSID)
}

// Ping sends a PING. The returned channel receives nil when the matching
// PONG arrives, or the close cause if the session closes first.
func (s *Session) Ping() (<-chan error, error) {
	waiter := make(chan error, 1)

	s.wmu.Lock()
	defer s.wmu.Unlock()

	if err := s.writable(true); err != nil {
		return nil, err
	}

	// PONGs come back in PING order, the waiter queue follows write order
	s.mu.Lock()
	s.pongs = append(s.pongs, waiter)
	s.mu.Unlock()

	atomic.AddInt64(&s.pingsOut, 1)

	if err := s.flushLocked(protocol.AppendPing); err != nil {
		return nil, err
	}

	return waiter, nil
}

// OutstandingPings returns the number of PINGs not yet answered. A keepalive
// timer uses it to detect a dead connection.
func (s *Session) OutstandingPings() int {
	return int(atomic.LoadInt64(&s.pingsOut))
}

// OnClose registers fn to run once when the session closes. If it is already
// closed fn runs immediately.
func (s *Session) OnClose(fn func(err error)) {
	s.mu.Lock()
	if s.phase != Closed {
		s.onClose = append(s.onClose, fn)
		s.mu.Unlock()
		return
	}
	err := s.err
	s.mu.Unlock()

	fn(err)
}

// Close moves the session to Closed. Subscriptions are destroyed, PING
// waiters and OnClose callbacks receive cause. A nil cause records
// ErrSessionClosed. Only the first call has any effect.
func (s *Session) Close(cause error) error {
	if cause == nil {
		cause = ErrSessionClosed
	}

	s.mu.Lock()
	if s.phase == Closed {
		s.mu.Unlock()
		return nil
	}

	s.phase = Closed
	s.err = cause

	pongs := s.pongs
	s.pongs = nil

	callbacks := s.onClose
	s.onClose = nil
	s.mu.Unlock()

	close(s.done)

	for _, waiter := range pongs {
		waiter <- cause
	}

	for _, fn := range callbacks {
		fn(cause)
	}

	if errors.Is(cause, ErrSessionClosed) {
		s.log.Info("Session closed")
	} else {
		s.log.Warn("Session closed", zap.Error(cause))
	}

	return s.subs.Close()
}

// send writes the bytes built by fn. With requireConnected false it is also
// allowed before the handshake completes, which only PONG needs.
func (s *Session) send(requireConnected bool, fn func([]byte) []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if err := s.writable(requireConnected); err != nil {
		return err
	}

	return s.flushLocked(fn)
}

// sendIn writes only while the session is in phase.
func (s *Session) sendIn(phase Phase, fn func([]byte) []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if current := s.Phase(); current != phase {
		if current == Closed {
			return ErrSessionClosed
		}

		return fmt.Errorf("session is %s, not %s", current, phase)
	}

	return s.flushLocked(fn)
}

// flushLocked must be called with wmu held.
func (s *Session) flushLocked(fn func([]byte) []byte) error {
	s.wbuf = fn(s.wbuf[:0])

	n, err := s.w.Write(s.wbuf)
	atomic.AddUint64(&s.stats.bytesOut, uint64(n))

	if cap(s.wbuf) > maxRetainedWriteBuffer {
		s.wbuf = nil
	}

	if err != nil {
		err = fmt.Errorf("Failed to write to transport: %w", err)
		s.Close(err)
		return err
	}

	return nil
}

func (s *Session) writable(requireConnected bool) error {
	switch s.Phase() {
	case Closed:
		return ErrSessionClosed

	case AwaitingGreeting:
		if requireConnected {
			return ErrNotConnected
		}
	}

	return nil
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.phase
}

// Info returns the latest server INFO, nil before the greeting.
func (s *Session) Info() *protocol.ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.info
}

// Err returns why the session closed, nil while it is open.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Ready is closed once the handshake completes.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Registry() *registry.Registry {
	return s.subs
}
