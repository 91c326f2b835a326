package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gradebook/internal/auth"
	"gradebook/internal/database"
	"gradebook/internal/docstore"
	"gradebook/internal/handler"
	"gradebook/internal/policy"
	"gradebook/internal/query"
	"gradebook/internal/service"
)

func newServer(t *testing.T, opts handler.RouterOptions, svcOpts ...service.Option) (*httptest.Server, *service.DocumentService) {
	db, err := database.OpenMemory()
	require.NoError(t, err)
	svc := service.NewDocumentService(db, svcOpts...)
	srv := httptest.NewServer(handler.NewRouter(svc, opts))
	t.Cleanup(srv.Close)
	return srv, svc
}

func dial(t *testing.T, srv *httptest.Server, target docstore.Target) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/listen"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	require.NoError(t, ws.WriteJSON(target))
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) handler.ListenFrame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame handler.ListenFrame
	require.NoError(t, ws.ReadJSON(&frame))
	return frame
}

func TestListenStreamsSnapshots(t *testing.T) {
	srv, svc := newServer(t, handler.RouterOptions{})
	ctx := context.Background()

	ws := dial(t, srv, docstore.QueryTarget(query.New("grades").Where("studentId", "S1")))
	first := readFrame(t, ws)
	require.NotNil(t, first.Snapshot)
	assert.Empty(t, first.Snapshot.Documents)

	_, err := svc.Add(ctx, "grades", map[string]any{"studentId": "S1", "assignmentId": "A1", "score": 95})
	require.NoError(t, err)

	second := readFrame(t, ws)
	require.NotNil(t, second.Snapshot)
	require.Len(t, second.Snapshot.Documents, 1)
	assert.Equal(t, 95.0, second.Snapshot.Documents[0].Fields["score"])
	assert.Greater(t, second.Snapshot.Sequence, first.Snapshot.Sequence)
}

func TestListenRejectsBadTarget(t *testing.T) {
	srv, _ := newServer(t, handler.RouterOptions{})

	ws := dial(t, srv, docstore.Target{Collection: "grades"})
	frame := readFrame(t, ws)
	require.NotNil(t, frame.Error)
	assert.Equal(t, docstore.KindInvalidArgument, frame.Error.Kind)
}

func TestListenEndsWithErrorFrame(t *testing.T) {
	srv, svc := newServer(t, handler.RouterOptions{})

	ws := dial(t, srv, docstore.QueryTarget(query.New("grades")))
	readFrame(t, ws)

	svc.Close()
	frame := readFrame(t, ws)
	require.NotNil(t, frame.Error)
	assert.Equal(t, docstore.KindNetworkUnavailable, frame.Error.Kind)
}

func TestListenStopsWhenClientLeaves(t *testing.T) {
	srv, svc := newServer(t, handler.RouterOptions{})

	ws := dial(t, srv, docstore.QueryTarget(query.New("grades")))
	readFrame(t, ws)
	assert.Equal(t, 1, svc.ListenerCount())

	ws.Close()
	assert.Eventually(t, func() bool { return svc.ListenerCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestListenChecksOrigin(t *testing.T) {
	srv, _ := newServer(t, handler.RouterOptions{AllowedOrigins: []string{"http://localhost:3000"}})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/listen"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.test"}})
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://localhost:3000"}})
	require.NoError(t, err)
	ws.Close()
}

func TestAuthenticate(t *testing.T) {
	secret := []byte("test-secret")
	rules, err := policy.Parse([]byte("rules:\n  - collection: grades\n    allow: [create]\n    roles: [teacher]\n"))
	require.NoError(t, err)
	srv, _ := newServer(t, handler.RouterOptions{JWTSecret: secret}, service.WithPolicy(rules))

	teacher, err := auth.Issue(secret, "t1", "teacher", time.Minute)
	require.NoError(t, err)
	student, err := auth.Issue(secret, "s1", "student", time.Minute)
	require.NoError(t, err)
	forged, err := auth.Issue([]byte("other"), "t1", "teacher", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name           string
		token          string
		expectedStatus int
	}{
		{"Teacher", teacher, http.StatusCreated},
		{"Student", student, http.StatusForbidden},
		{"Anonymous", "", http.StatusForbidden},
		{"Forged", forged, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest("POST", srv.URL+"/v1/collections/grades/documents", strings.NewReader(`{"fields":{"studentId":"S1","assignmentId":"A1","score":70}}`))
			require.NoError(t, err)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
		})
	}
}
