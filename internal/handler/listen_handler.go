package handler

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"gradebook/internal/docstore"
	"gradebook/internal/fifo"
)

const (
	TargetTimeout = 10 * time.Second
	WriteTimeout  = 10 * time.Second
)

// ListenFrame is one server push on the listen stream. Exactly one field is
// set. An error frame is the last frame of the stream.
type ListenFrame struct {
	Snapshot *docstore.Snapshot `json:"snapshot,omitempty"`
	Error    *ErrorBody         `json:"error,omitempty"`
}

// ListenHandler streams snapshots over a websocket. The client sends one
// Target as its first message; the server answers with the initial
// snapshot and then a frame per change.
type ListenHandler struct {
	backend  docstore.Backend
	upgrader websocket.Upgrader
}

func NewListenHandler(backend docstore.Backend, allowedOrigins []string) *ListenHandler {
	return &ListenHandler{
		backend: backend,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r.Header.Get("Origin"), allowedOrigins)
			},
		},
	}
}

func (h *ListenHandler) Listen(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		glog.V(1).Infof("[l]upgrade %s = %s\n", r.RemoteAddr, err)
		return
	}
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(TargetTimeout))
	var target docstore.Target
	if err := ws.ReadJSON(&target); err != nil {
		closeWithError(ws, docstore.Errorf(docstore.KindDecode, "listen", "read target: %v", err))
		return
	}
	ws.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	frames := fifo.New[ListenFrame]()
	stop, err := h.backend.Listen(ctx, target, docstore.ListenerFuncs{
		Snapshot: func(s docstore.Snapshot) {
			frames.Push(ListenFrame{Snapshot: &s})
		},
		Error: func(err error) {
			frames.Push(ListenFrame{Error: NewErrorBody(err)})
			frames.Close()
		},
	})
	if err != nil {
		closeWithError(ws, err)
		return
	}
	defer stop()
	glog.V(1).Infof("[l]%s listening on %s\n", r.RemoteAddr, target)

	// nothing is expected after the target; a failed read means the client left
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				glog.V(2).Infof("[l]%s<- closed = %s\n", r.RemoteAddr, err)
				return
			}
		}
	}()

	for {
		frame, ok := frames.Pop(ctx)
		if !ok {
			return
		}
		ws.SetWriteDeadline(time.Now().Add(WriteTimeout))
		if err := ws.WriteJSON(frame); err != nil {
			// a websocket write deadline cannot be recovered
			glog.Infof("[l]%s-> error = %s\n", r.RemoteAddr, err)
			return
		}
		if frame.Error != nil {
			closeNormal(ws)
			return
		}
		glog.V(2).Infof("[l]%s-> seq=%d\n", r.RemoteAddr, frame.Snapshot.Sequence)
	}
}

func closeWithError(ws *websocket.Conn, err error) {
	ws.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if werr := ws.WriteJSON(ListenFrame{Error: NewErrorBody(err)}); werr != nil {
		return
	}
	closeNormal(ws)
}

func closeNormal(ws *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(WriteTimeout))
}

// originAllowed accepts requests without an Origin header, which come from
// non-browser clients.
func originAllowed(origin string, allowed []string) bool {
	if origin == "" || slices.Contains(allowed, "*") {
		return true
	}
	if u, err := url.Parse(origin); err != nil || u.Host == "" {
		return false
	}
	return slices.Contains(allowed, origin)
}
