package docstore

import (
	"context"

	"gradebook/internal/query"
)

// Backend is the remote document store. Implementations: the gorm document
// service (in process) and the remote HTTP client.
//
// Each call is all-or-nothing. Commit applies every write or none. Get
// reports a missing document as (Document{}, false, nil).
type Backend interface {
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)
	Get(ctx context.Context, collection, id string) (Document, bool, error)
	List(ctx context.Context, q query.Query) ([]Document, error)
	Commit(ctx context.Context, writes []Write) (CommitResult, error)

	// Listen registers l for target. The snapshot as of registration is
	// delivered before Listen returns, later snapshots in backend order.
	// After stop returns l receives nothing more. OnError ends the stream.
	Listen(ctx context.Context, target Target, l Listener) (stop func(), err error)
}

// Listener methods are called from the backend's delivery path and must
// not block.
type Listener interface {
	OnSnapshot(Snapshot)
	OnError(error)
}

// ListenerFuncs adapts a pair of functions to Listener. Nil funcs are
// skipped.
type ListenerFuncs struct {
	Snapshot func(Snapshot)
	Error    func(error)
}

func (f ListenerFuncs) OnSnapshot(s Snapshot) {
	if f.Snapshot != nil {
		f.Snapshot(s)
	}
}

func (f ListenerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}
