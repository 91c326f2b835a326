// Package docstore is the client side of a document/collection shaped
// remote store: explicitly constructed clients, local validation before any
// write, atomic batches and typed error kinds.
package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"

	"gradebook/internal/query"
)

// DefaultMaxBatchWrites mirrors the backend's bound on writes per commit.
const DefaultMaxBatchWrites = 500

// Validator checks a payload for one collection. partial is set for update
// patches, where absent fields are left unchanged.
type Validator func(fields map[string]any, partial bool) error

type Option func(*Client)

func WithValidator(collection string, v Validator) Option {
	return func(c *Client) {
		c.validators[collection] = v
	}
}

func WithMaxBatchWrites(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBatchWrites = n
		}
	}
}

// Client performs document reads and writes against a Backend. It keeps no
// mutable state, so one Client may be shared by any number of goroutines.
type Client struct {
	backend        Backend
	validators     map[string]Validator
	maxBatchWrites int
}

func NewClient(backend Backend, opts ...Option) *Client {
	c := &Client{
		backend:        backend,
		validators:     make(map[string]Validator),
		maxBatchWrites: DefaultMaxBatchWrites,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Backend() Backend {
	return c.backend
}

func (c *Client) MaxBatchWrites() int {
	return c.maxBatchWrites
}

// AddDocument creates a document and returns the id the backend assigned.
func (c *Client) AddDocument(ctx context.Context, collection string, fields map[string]any) (string, error) {
	const op = "add document"
	w := Create(collection, fields)
	if err := c.check(op, w); err != nil {
		return "", err
	}
	id, err := c.backend.Add(ctx, collection, cloneFields(fields))
	if err != nil {
		return "", wrap(op, err)
	}
	glog.V(2).Infof("[docstore]added %s/%s\n", collection, id)
	return id, nil
}

// GetDocument reads one document. A missing document is not an error: ok
// is false and err is nil.
func (c *Client) GetDocument(ctx context.Context, collection, id string) (Document, bool, error) {
	const op = "get document"
	if collection == "" || id == "" {
		return Document{}, false, Errorf(KindInvalidArgument, op, "collection and id are required")
	}
	doc, ok, err := c.backend.Get(ctx, collection, id)
	if err != nil {
		return Document{}, false, wrap(op, err)
	}
	return doc, ok, nil
}

// ListDocuments runs q once. The result reflects the data as of the read
// and does not follow later writes.
func (c *Client) ListDocuments(ctx context.Context, q query.Query) ([]Document, error) {
	const op = "list documents"
	if err := q.Validate(); err != nil {
		return nil, NewError(KindInvalidArgument, op, err)
	}
	docs, err := c.backend.List(ctx, q)
	if err != nil {
		return nil, wrap(op, err)
	}
	return docs, nil
}

// UpdateDocument merges patch into an existing document.
func (c *Client) UpdateDocument(ctx context.Context, collection, id string, patch map[string]any) error {
	_, err := c.commit(ctx, "update document", []Write{Update(collection, id, patch)})
	return err
}

func (c *Client) DeleteDocument(ctx context.Context, collection, id string) error {
	_, err := c.commit(ctx, "delete document", []Write{Delete(collection, id)})
	return err
}

// CommitBatch applies writes as one atomic unit. Oversized batches and
// invalid writes fail before anything is sent.
func (c *Client) CommitBatch(ctx context.Context, writes []Write) (CommitResult, error) {
	return c.commit(ctx, "commit batch", writes)
}

func (c *Client) commit(ctx context.Context, op string, writes []Write) (CommitResult, error) {
	if len(writes) == 0 {
		return CommitResult{}, nil
	}
	if len(writes) > c.maxBatchWrites {
		return CommitResult{}, Errorf(KindBatchTooLarge, op, "%d writes exceeds the limit of %d", len(writes), c.maxBatchWrites)
	}
	for i, w := range writes {
		if err := c.check(op, w); err != nil {
			if len(writes) == 1 {
				return CommitResult{}, err
			}
			return CommitResult{}, fmt.Errorf("write %d: %w", i, err)
		}
	}
	result, err := c.backend.Commit(ctx, cloneWrites(writes))
	if err != nil {
		return CommitResult{}, wrap(op, err)
	}
	glog.V(2).Infof("[docstore]committed %d writes\n", len(writes))
	return result, nil
}

// check is the last local gate before a write goes to the backend.
func (c *Client) check(op string, w Write) error {
	if err := w.Validate(); err != nil {
		return NewError(KindInvalidArgument, op, err)
	}
	v, ok := c.validators[w.Collection]
	if !ok || w.Op == OpDelete {
		return nil
	}
	if err := v(w.Fields, w.Op == OpUpdate); err != nil {
		return NewError(KindValidation, op, err)
	}
	return nil
}

// Batch collects writes for one CommitBatch call.
type Batch struct {
	client *Client
	writes []Write
}

func (c *Client) Batch() *Batch {
	return &Batch{client: c}
}

func (b *Batch) Create(collection string, fields map[string]any) *Batch {
	b.writes = append(b.writes, Create(collection, fields))
	return b
}

func (b *Batch) Update(collection, id string, fields map[string]any) *Batch {
	b.writes = append(b.writes, Update(collection, id, fields))
	return b
}

func (b *Batch) Delete(collection, id string) *Batch {
	b.writes = append(b.writes, Delete(collection, id))
	return b
}

func (b *Batch) Len() int {
	return len(b.writes)
}

func (b *Batch) Writes() []Write {
	return cloneWrites(b.writes)
}

func (b *Batch) Commit(ctx context.Context) (CommitResult, error) {
	if b.client == nil {
		return CommitResult{}, errors.New("batch has no client")
	}
	return b.client.CommitBatch(ctx, b.writes)
}
