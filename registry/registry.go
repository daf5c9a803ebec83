package registry

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrDuplicateSID   = errors.New("Subscription ID is already registered")
	ErrUnknownSID     = errors.New("Subscription ID is not registered")
	ErrNilHandler     = errors.New("Subscription handler is nil")
	ErrRegistryClosed = errors.New("Registry is closed")
	ErrSlowConsumer   = errors.New("Slow consumer, message dropped")
)

// Registry maps subscription IDs to handlers.
//
// Every read and write of the map goes through mu, so Dispatch can run on the
// reader goroutine while application code subscribes and unsubscribes.
// Handlers are always invoked outside the lock.
type Registry struct {
	mu       sync.RWMutex
	subs     map[string]*Subscription
	fallback Handler
	closed   bool

	failures uint64
	dropped  uint64

	log *zap.Logger
}

func New(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}

	return &Registry{
		subs: make(map[string]*Subscription),
		log:  log,
	}
}

// Add registers handler for sid. maxMsgs > 0 removes the subscription right
// after its maxMsgs-th dispatch.
func (r *Registry) Add(sid, subject, queue string, maxMsgs int, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}

	sub := &Subscription{
		SID:     sid,
		Subject: subject,
		Queue:   queue,
		handler: handler,
	}

	if maxMsgs > 0 {
		sub.max = uint64(maxMsgs)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	if _, ok := r.subs[sid]; ok {
		return nil, fmt.Errorf("sid %s: %w", sid, ErrDuplicateSID)
	}

	r.subs[sid] = sub

	return sub, nil
}

// Remove drops sid. It reports whether sid was registered. A dispatch already
// running for sid is not affected.
func (r *Registry) Remove(sid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.subs[sid]
	delete(r.subs, sid)

	return ok
}

// SetMax changes the auto-unsubscribe limit of sid. If the subscription has
// already received maxMsgs messages it is removed immediately.
func (r *Registry) SetMax(sid string, maxMsgs int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[sid]
	if !ok {
		return fmt.Errorf("sid %s: %w", sid, ErrUnknownSID)
	}

	if maxMsgs <= 0 {
		atomic.StoreUint64(&sub.max, 0)
		return nil
	}

	atomic.StoreUint64(&sub.max, uint64(maxMsgs))

	if sub.delivered >= uint64(maxMsgs) {
		delete(r.subs, sid)
	}

	return nil
}

func (r *Registry) Lookup(sid string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[sid]
	return sub, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.subs)
}

// Subscriptions returns a snapshot of the registered subscriptions.
func (r *Registry) Subscriptions() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}

	return subs
}

// SetFallback sets the handler for messages whose sid is not registered. With
// no fallback those messages are discarded.
func (r *Registry) SetFallback(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fallback = handler
}

// Dispatch delivers a message to the handler registered for sid and reports
// whether one was found. Handler errors and panics are logged and counted,
// they never escape Dispatch.
func (r *Registry) Dispatch(sid, subject string, reply, payload []byte) bool {
	r.mu.Lock()

	sub, ok := r.subs[sid]
	if ok {
		n := atomic.AddUint64(&sub.delivered, 1)

		if sub.max > 0 && n >= sub.max {
			delete(r.subs, sid)
		}
	}

	fallback := r.fallback

	r.mu.Unlock()

	msg := &Message{
		Subject: subject,
		Reply:   string(reply),
		Data:    payload,
	}

	if !ok {
		if fallback == nil {
			atomic.AddUint64(&r.dropped, 1)
			r.log.Debug("Dropping message for unknown subscription",
				zap.String("sid", sid),
				zap.String("subject", subject))
			return false
		}

		r.invoke(fallback, msg)
		return false
	}

	msg.Sub = sub
	r.invoke(sub.handler, msg)

	return true
}

func (r *Registry) invoke(handler Handler, msg *Message) {
	defer func() {
		if p := recover(); p != nil {
			atomic.AddUint64(&r.failures, 1)
			r.log.Error("Subscription handler panicked",
				zap.String("subject", msg.Subject),
				zap.Any("panic", p),
				zap.Stack("stack"))
		}
	}()

	if err := handler.HandleMsg(msg); err != nil {
		atomic.AddUint64(&r.failures, 1)
		r.log.Warn("Subscription handler failed",
			zap.String("subject", msg.Subject),
			zap.Error(err))
	}
}

// Failures counts handler errors and panics.
func (r *Registry) Failures() uint64 {
	return atomic.LoadUint64(&r.failures)
}

// Dropped counts messages discarded for lack of any handler.
func (r *Registry) Dropped() uint64 {
	return atomic.LoadUint64(&r.dropped)
}

// Close destroys every subscription and refuses new ones. Handlers that
// implement io.Closer are closed.
func (r *Registry) Close() (err error) {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return nil
	}

	r.closed = true
	subs := r.subs
	r.subs = make(map[string]*Subscription)

	r.mu.Unlock()

	for _, sub := range subs {
		if closer, ok := sub.handler.(io.Closer); ok {
			err = multierr.Append(err, closer.Close())
		}
	}

	return err
}
