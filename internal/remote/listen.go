package remote

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"gradebook/internal/docstore"
	"gradebook/internal/handler"
)

// Listen opens a change stream for target. The initial snapshot is read
// and delivered before Listen returns; later frames are delivered from a
// reader goroutine. l must not call stop from its own methods.
func (b *Backend) Listen(ctx context.Context, target docstore.Target, l docstore.Listener) (func(), error) {
	const op = "listen"
	header := http.Header{}
	b.authorize(header)

	ws, resp, err := b.dialer.DialContext(ctx, b.listenURL(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, statusError(op, resp)
		}
		return nil, transportError(ctx, op, err)
	}

	ws.SetWriteDeadline(time.Now().Add(handler.WriteTimeout))
	if err := ws.WriteJSON(target); err != nil {
		ws.Close()
		return nil, transportError(ctx, op, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		ws.SetReadDeadline(deadline)
	}
	first, err := readFrame(ws)
	if err != nil {
		ws.Close()
		return nil, transportError(ctx, op, err)
	}
	if first.Error != nil {
		ws.Close()
		return nil, frameError(first.Error)
	}
	if first.Snapshot == nil {
		ws.Close()
		return nil, docstore.Errorf(docstore.KindDecode, op, "first frame carries no snapshot")
	}
	ws.SetReadDeadline(time.Time{})
	l.OnSnapshot(*first.Snapshot)

	s := &stream{ws: ws, listener: l, done: make(chan struct{})}
	go s.run()
	glog.V(1).Infof("[r]listening on %s\n", target)
	return s.stop, nil
}

type stream struct {
	ws       *websocket.Conn
	listener docstore.Listener
	stopping atomic.Bool
	once     sync.Once
	done     chan struct{}
}

func (s *stream) run() {
	defer close(s.done)
	defer s.ws.Close()

	for {
		frame, err := readFrame(s.ws)
		if s.stopping.Load() {
			return
		}
		switch {
		case err != nil:
			glog.Infof("[r]stream<- error = %s\n", err)
			s.listener.OnError(docstore.NewError(docstore.KindNetworkUnavailable, "listen", err))
			return
		case frame.Error != nil:
			s.listener.OnError(frameError(frame.Error))
			return
		case frame.Snapshot != nil:
			s.listener.OnSnapshot(*frame.Snapshot)
		}
	}
}

// stop closes the connection and waits for the reader, so nothing is
// delivered once it returns.
func (s *stream) stop() {
	s.once.Do(func() {
		s.stopping.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.ws.Close()
		<-s.done
	})
}

func readFrame(ws *websocket.Conn) (handler.ListenFrame, error) {
	var frame handler.ListenFrame
	err := ws.ReadJSON(&frame)
	return frame, err
}

func frameError(body *handler.ErrorBody) error {
	kind := body.Kind
	if kind == "" {
		kind = docstore.KindBackend
	}
	return docstore.NewError(kind, "listen", errors.New(body.Error))
}
