// Package remote implements docstore.Backend against a document server
// over HTTP, with change streams over a websocket.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"gradebook/internal/docstore"
	"gradebook/internal/handler"
	"gradebook/internal/query"
)

type Option func(*Backend)

// WithToken sends token as the bearer credential of every call.
func WithToken(token string) Option {
	return func(b *Backend) {
		b.token = token
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) {
		b.client = c
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(b *Backend) {
		b.dialer = d
	}
}

type Backend struct {
	baseURL string
	token   string
	client  *http.Client
	dialer  *websocket.Dialer
}

var _ docstore.Backend = (*Backend)(nil)

func New(baseURL string, opts ...Option) (*Backend, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("remote: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote: unsupported scheme %q", u.Scheme)
	}
	b := &Backend{
		baseURL: strings.TrimRight(u.String(), "/"),
		client:  http.DefaultClient,
		dialer:  websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Backend) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	var resp handler.AddResponse
	path := "/v1/collections/" + url.PathEscape(collection) + "/documents"
	if err := b.call(ctx, "add", http.MethodPost, path, handler.AddRequest{Fields: fields}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (b *Backend) Get(ctx context.Context, collection, id string) (docstore.Document, bool, error) {
	var doc docstore.Document
	path := "/v1/collections/" + url.PathEscape(collection) + "/documents/" + url.PathEscape(id)
	err := b.call(ctx, "get", http.MethodGet, path, nil, &doc)
	if errors.Is(err, docstore.ErrNotFound) {
		return docstore.Document{}, false, nil
	}
	if err != nil {
		return docstore.Document{}, false, err
	}
	return doc, true, nil
}

func (b *Backend) List(ctx context.Context, q query.Query) ([]docstore.Document, error) {
	var resp handler.QueryResponse
	if err := b.call(ctx, "list", http.MethodPost, "/v1/query", q, &resp); err != nil {
		return nil, err
	}
	return resp.Documents, nil
}

func (b *Backend) Commit(ctx context.Context, writes []docstore.Write) (docstore.CommitResult, error) {
	var result docstore.CommitResult
	if err := b.call(ctx, "commit", http.MethodPost, "/v1/commit", handler.CommitRequest{Writes: writes}, &result); err != nil {
		return docstore.CommitResult{}, err
	}
	return result, nil
}

func (b *Backend) call(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return docstore.NewError(docstore.KindInvalidArgument, op, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return docstore.NewError(docstore.KindInvalidArgument, op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	b.authorize(req.Header)

	resp, err := b.client.Do(req)
	if err != nil {
		return transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return docstore.Errorf(docstore.KindDecode, op, "decode response: %v", err)
	}
	glog.V(2).Infof("[r]%s %s %d\n", method, path, resp.StatusCode)
	return nil
}

func (b *Backend) authorize(h http.Header) {
	if b.token != "" {
		h.Set("Authorization", "Bearer "+b.token)
	}
}

func (b *Backend) listenURL() string {
	return "ws" + strings.TrimPrefix(b.baseURL, "http") + "/v1/listen"
}

// transportError classifies a failure to reach the server.
func transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return docstore.NewError(docstore.KindOf(ctxErr), op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return docstore.NewError(docstore.KindTimeout, op, err)
	}
	return docstore.NewError(docstore.KindNetworkUnavailable, op, err)
}

// statusError turns an error response into a typed error, trusting the
// server's kind when it sent one.
func statusError(op string, resp *http.Response) error {
	var body handler.ErrorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Kind == "" {
		return docstore.Errorf(kindForStatus(resp.StatusCode), op, "server returned %s", resp.Status)
	}
	return docstore.NewError(body.Kind, op, errors.New(body.Error))
}

func kindForStatus(status int) docstore.Kind {
	switch status {
	case http.StatusBadRequest:
		return docstore.KindInvalidArgument
	case http.StatusUnauthorized, http.StatusForbidden:
		return docstore.KindPermissionDenied
	case http.StatusNotFound:
		return docstore.KindNotFound
	case http.StatusRequestEntityTooLarge:
		return docstore.KindBatchTooLarge
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return docstore.KindTimeout
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return docstore.KindNetworkUnavailable
	}
	return docstore.KindBackend
}
