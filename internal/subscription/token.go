package subscription

import (
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"gradebook/internal/docstore"
)

// Token is the handle of one subscription.
type Token struct {
	id       uint64
	manager  *Manager
	target   docstore.Target
	onChange Callback
	onError  ErrorHandler

	cancelled atomic.Bool
	once      sync.Once

	stopLock sync.Mutex
	stop     func()

	ended chan struct{}
	err   error
}

func (t *Token) Target() docstore.Target {
	return t.target
}

// Cancel ends the subscription. After it returns no further callback
// starts; one already running may finish. Cancel is idempotent and may be
// called from inside a callback.
func (t *Token) Cancel() {
	t.end(nil)
}

// Done is closed once the subscription is cancelled or its stream fails.
func (t *Token) Done() <-chan struct{} {
	return t.ended
}

// Err returns the stream error that ended the subscription, if any.
func (t *Token) Err() error {
	select {
	case <-t.ended:
		return t.err
	default:
		return nil
	}
}

func (t *Token) end(err error) bool {
	first := false
	t.once.Do(func() {
		first = true
		t.cancelled.Store(true)
		t.err = err
		t.manager.remove(t.id)

		t.stopLock.Lock()
		stop := t.stop
		t.stop = nil
		t.stopLock.Unlock()
		if stop != nil {
			stop()
		}
		close(t.ended)
		glog.V(1).Infof("[sub]%d ended\n", t.id)
	})
	return first
}

// setStop records the backend stop func. A token cancelled while Listen was
// still running stops the stream right away.
func (t *Token) setStop(stop func()) {
	t.stopLock.Lock()
	if !t.cancelled.Load() {
		t.stop = stop
		t.stopLock.Unlock()
		return
	}
	t.stopLock.Unlock()
	stop()
}

func (t *Token) fail(err error) {
	if t.end(err) && t.onError != nil {
		t.onError(t.target, err)
	}
}
