// Package subscription keeps the registry of live change subscriptions and
// runs every callback on one dispatcher goroutine, in the order the backend
// produced the snapshots.
package subscription

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"gradebook/internal/docstore"
	"gradebook/internal/fifo"
)

// Callback receives the full matching set on every change. A returned error
// or a panic is logged and ends only that delivery.
type Callback func(docstore.Snapshot) error

// ErrorHandler is told when a subscription's stream fails. It runs on the
// dispatcher goroutine.
type ErrorHandler func(target docstore.Target, err error)

type Option func(*Token)

func WithErrorHandler(h ErrorHandler) Option {
	return func(t *Token) {
		t.onError = h
	}
}

type event struct {
	token *Token
	snap  docstore.Snapshot
	err   error
}

type Manager struct {
	backend docstore.Backend
	events  *fifo.Queue[event]
	done    chan struct{}

	mu     sync.Mutex
	subs   map[uint64]*Token
	nextID uint64
	closed bool
}

// NewManager starts the dispatcher. Call Close to stop it.
func NewManager(backend docstore.Backend) *Manager {
	m := &Manager{
		backend: backend,
		events:  fifo.New[event](),
		done:    make(chan struct{}),
		subs:    make(map[uint64]*Token),
	}
	go m.dispatch()
	return m
}

// Subscribe registers onChange for target. The first delivery is the
// snapshot as of registration. Safe to call from inside a callback.
func (m *Manager) Subscribe(ctx context.Context, target docstore.Target, onChange Callback, opts ...Option) (*Token, error) {
	if onChange == nil {
		return nil, docstore.Errorf(docstore.KindInvalidArgument, "subscribe", "callback is required")
	}
	if err := target.Validate(); err != nil {
		return nil, docstore.NewError(docstore.KindInvalidArgument, "subscribe", err)
	}

	t := &Token{
		manager:  m,
		target:   target,
		onChange: onChange,
		onError:  logError,
		ended:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, docstore.Errorf(docstore.KindCanceled, "subscribe", "subscription manager closed")
	}
	m.nextID++
	t.id = m.nextID
	m.subs[t.id] = t
	m.mu.Unlock()

	stop, err := m.backend.Listen(ctx, target, listener{token: t})
	if err != nil {
		m.remove(t.id)
		return nil, err
	}
	t.setStop(stop)
	glog.V(1).Infof("[sub]%d subscribed to %s\n", t.id, target)
	return t, nil
}

// Watch subscribes for as long as ctx lives and always cancels on return.
// It returns nil when ctx ends, or the stream error if the stream fails first.
func (m *Manager) Watch(ctx context.Context, target docstore.Target, onChange Callback, opts ...Option) error {
	t, err := m.Subscribe(ctx, target, onChange, opts...)
	if err != nil {
		return err
	}
	defer t.Cancel()

	select {
	case <-ctx.Done():
		return nil
	case <-t.Done():
		return t.Err()
	}
}

// Active reports the number of registered subscriptions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Close cancels every subscription and waits for the dispatcher to finish
// the delivery in progress. It must not be called from a callback.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		<-m.done
		return
	}
	m.closed = true
	tokens := make([]*Token, 0, len(m.subs))
	for _, t := range m.subs {
		tokens = append(tokens, t)
	}
	m.mu.Unlock()

	for _, t := range tokens {
		t.Cancel()
	}
	m.events.Close()
	<-m.done
}

func (m *Manager) remove(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
}

func (m *Manager) dispatch() {
	defer close(m.done)
	for {
		ev, ok := m.events.Pop(context.Background())
		if !ok {
			return
		}
		m.deliver(ev)
	}
}

func (m *Manager) deliver(ev event) {
	t := ev.token
	if t.cancelled.Load() {
		return
	}
	if ev.err != nil {
		t.fail(ev.err)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			glog.Warningf("[sub]%d callback panicked = %v\n", t.id, r)
		}
	}()
	if err := t.onChange(ev.snap); err != nil {
		glog.Warningf("[sub]%d callback failed on seq=%d = %s\n", t.id, ev.snap.Sequence, err)
	}
}

func logError(target docstore.Target, err error) {
	glog.Warningf("[sub]stream for %s ended = %s\n", target, err)
}

// listener hands backend deliveries to the dispatcher without blocking.
type listener struct {
	token *Token
}

func (l listener) OnSnapshot(s docstore.Snapshot) {
	l.token.manager.events.Push(event{token: l.token, snap: s})
}

func (l listener) OnError(err error) {
	if err == nil {
		err = fmt.Errorf("stream ended")
	}
	l.token.manager.events.Push(event{token: l.token, err: err})
}
