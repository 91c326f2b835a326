package remote_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gradebook/internal/auth"
	"gradebook/internal/database"
	"gradebook/internal/docstore"
	"gradebook/internal/gradebook"
	"gradebook/internal/handler"
	"gradebook/internal/model"
	"gradebook/internal/query"
	"gradebook/internal/remote"
	"gradebook/internal/service"
	"gradebook/internal/subscription"
)

func newRemote(t *testing.T, opts handler.RouterOptions, remoteOpts ...remote.Option) (*remote.Backend, *service.DocumentService, *httptest.Server) {
	db, err := database.OpenMemory()
	require.NoError(t, err)
	svc := service.NewDocumentService(db)
	srv := httptest.NewServer(handler.NewRouter(svc, opts))
	t.Cleanup(srv.Close)

	backend, err := remote.New(srv.URL, remoteOpts...)
	require.NoError(t, err)
	return backend, svc, srv
}

type recorder struct {
	mu    sync.Mutex
	snaps []docstore.Snapshot
	errs  []error
}

func (r *recorder) OnSnapshot(s docstore.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps), len(r.errs)
}

func TestCrud(t *testing.T) {
	backend, _, _ := newRemote(t, handler.RouterOptions{})
	ctx := context.Background()

	id, err := backend.Add(ctx, "students", map[string]any{"name": "Jo", "email": "jo@x.com"})
	require.NoError(t, err)

	doc, ok, err := backend.Get(ctx, "students", id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Jo", doc.Fields["name"])

	_, ok, err = backend.Get(ctx, "students", "missing")
	assert.NoError(t, err)
	assert.False(t, ok)

	result, err := backend.Commit(ctx, []docstore.Write{
		docstore.Create("grades", map[string]any{"studentId": id, "assignmentId": "A1", "score": 80}),
		docstore.Update("students", id, map[string]any{"email": "jo@school.test"}),
	})
	require.NoError(t, err)
	assert.Len(t, result.IDs, 1)

	docs, err := backend.List(ctx, query.New("grades").Where("studentId", id))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 80.0, docs[0].Fields["score"])
}

func TestErrorKindsCrossTheWire(t *testing.T) {
	backend, _, _ := newRemote(t, handler.RouterOptions{})
	ctx := context.Background()

	_, err := backend.Add(ctx, "grades", map[string]any{"studentId": "S1", "assignmentId": "A1", "score": 150})
	assert.True(t, errors.Is(err, docstore.ErrPolicyRejected))

	_, err = backend.Add(ctx, "teachers", map[string]any{"name": "Smith"})
	assert.True(t, errors.Is(err, docstore.ErrPermissionDenied))

	_, err = backend.Commit(ctx, []docstore.Write{docstore.Update("grades", "missing", map[string]any{"score": 1})})
	assert.True(t, errors.Is(err, docstore.ErrNotFound))

	writes := make([]docstore.Write, docstore.DefaultMaxBatchWrites+1)
	for i := range writes {
		writes[i] = docstore.Delete("grades", "G")
	}
	_, err = backend.Commit(ctx, writes)
	assert.True(t, errors.Is(err, docstore.ErrBatchTooLarge))
}

func TestTransportErrors(t *testing.T) {
	backend, _, srv := newRemote(t, handler.RouterOptions{})

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, _, err := backend.Get(ctx, "students", "S1")
	assert.Equal(t, docstore.KindTimeout, docstore.KindOf(err))

	srv.Close()
	_, _, err = backend.Get(context.Background(), "students", "S1")
	assert.Equal(t, docstore.KindNetworkUnavailable, docstore.KindOf(err))
	assert.True(t, docstore.KindOf(err).Retryable())

	_, err = backend.Listen(context.Background(), docstore.QueryTarget(query.New("grades")), &recorder{})
	assert.Equal(t, docstore.KindNetworkUnavailable, docstore.KindOf(err))
}

func TestListen(t *testing.T) {
	backend, svc, _ := newRemote(t, handler.RouterOptions{})
	ctx := context.Background()

	rec := &recorder{}
	stop, err := backend.Listen(ctx, docstore.QueryTarget(query.New("grades")), rec)
	require.NoError(t, err)
	snaps, _ := rec.counts()
	assert.Equal(t, 1, snaps, "initial snapshot before Listen returns")

	_, err = svc.Add(ctx, "grades", map[string]any{"studentId": "S1", "assignmentId": "A1", "score": 80})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { n, _ := rec.counts(); return n == 2 }, 2*time.Second, 10*time.Millisecond)

	stop()
	stop()
	_, err = svc.Add(ctx, "grades", map[string]any{"studentId": "S1", "assignmentId": "A2", "score": 90})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	snaps, errs := rec.counts()
	assert.Equal(t, 2, snaps)
	assert.Equal(t, 0, errs)
	assert.Eventually(t, func() bool { return svc.ListenerCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestListenReportsStreamFailure(t *testing.T) {
	backend, svc, _ := newRemote(t, handler.RouterOptions{})

	rec := &recorder{}
	stop, err := backend.Listen(context.Background(), docstore.QueryTarget(query.New("grades")), rec)
	require.NoError(t, err)
	defer stop()

	svc.Close()
	assert.Eventually(t, func() bool { _, n := rec.counts(); return n == 1 }, 2*time.Second, 10*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, docstore.KindNetworkUnavailable, docstore.KindOf(rec.errs[0]))
}

func TestListenRejectsBadTarget(t *testing.T) {
	backend, _, _ := newRemote(t, handler.RouterOptions{})

	_, err := backend.Listen(context.Background(), docstore.Target{Collection: "grades"}, &recorder{})
	assert.True(t, errors.Is(err, docstore.ErrInvalidArgument))
}

func TestBearerToken(t *testing.T) {
	secret := []byte("test-secret")
	forged, err := auth.Issue([]byte("other"), "t1", "teacher", time.Minute)
	require.NoError(t, err)
	backend, _, srv := newRemote(t, handler.RouterOptions{JWTSecret: secret}, remote.WithToken(forged))

	_, err = backend.Add(context.Background(), "students", map[string]any{"name": "Jo", "email": "jo@x.com"})
	assert.True(t, errors.Is(err, docstore.ErrPermissionDenied))
	_, err = backend.Listen(context.Background(), docstore.QueryTarget(query.New("grades")), &recorder{})
	assert.True(t, errors.Is(err, docstore.ErrPermissionDenied))

	token, err := auth.Issue(secret, "t1", "teacher", time.Minute)
	require.NoError(t, err)
	good, err := remote.New(srv.URL, remote.WithToken(token), remote.WithHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	require.NoError(t, err)
	_, err = good.Add(context.Background(), "students", map[string]any{"name": "Jo", "email": "jo@x.com"})
	assert.NoError(t, err)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := remote.New("ftp://example.test")
	assert.Error(t, err)
	_, err = remote.New("://")
	assert.Error(t, err)
}

// The gradebook scenario end to end: typed repository, client validation,
// remote backend and subscriptions over the websocket.
func TestGradebookOverRemote(t *testing.T) {
	backend, _, _ := newRemote(t, handler.RouterOptions{})
	subs := subscription.NewManager(backend)
	defer subs.Close()
	repo := gradebook.New(gradebook.NewClient(backend), subs)
	ctx := context.Background()

	s1, err := repo.AddStudent(ctx, model.Student{Name: "Jo", Email: "jo@x.com"})
	require.NoError(t, err)

	updates := make(chan []model.Grade, 10)
	tok, err := repo.SubscribeStudentGrades(ctx, s1, func(grades []model.Grade, err error) error {
		if err == nil {
			updates <- grades
		}
		return err
	})
	require.NoError(t, err)
	defer tok.Cancel()
	assert.Empty(t, <-updates)

	_, err = repo.AddGrade(ctx, model.Grade{StudentID: s1, AssignmentID: "A1", Score: 150})
	assert.True(t, errors.Is(err, docstore.ErrValidation))

	gid, err := repo.AddGrade(ctx, model.Grade{StudentID: s1, AssignmentID: "A1", Score: 95, SubmittedDate: time.Now()})
	require.NoError(t, err)

	select {
	case grades := <-updates:
		require.Len(t, grades, 1)
		assert.Equal(t, gid, grades[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot for the new grade")
	}

	grades, err := repo.ListGradesForStudent(ctx, s1)
	require.NoError(t, err)
	require.Len(t, grades, 1)
	assert.Equal(t, 95.0, grades[0].Score)
}
