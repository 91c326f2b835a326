package docstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gradebook/internal/query"
)

// Document is one record of a collection as read from the backend. The
// backend is authoritative; a Document is a transient copy.
type Document struct {
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Fields     map[string]any `json:"fields"`
	Version    int64          `json:"version"`
	CreateTime time.Time      `json:"createTime"`
	UpdateTime time.Time      `json:"updateTime"`
}

type WriteOp string

const (
	OpCreate WriteOp = "create"
	OpUpdate WriteOp = "update"
	OpDelete WriteOp = "delete"
)

// Write is one operation of a batch. Create writes carry no id: the
// backend assigns it. Update merges Fields into the existing document.
type Write struct {
	Op         WriteOp        `json:"op"`
	Collection string         `json:"collection"`
	ID         string         `json:"id,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

func Create(collection string, fields map[string]any) Write {
	return Write{Op: OpCreate, Collection: collection, Fields: fields}
}

func Update(collection, id string, fields map[string]any) Write {
	return Write{Op: OpUpdate, Collection: collection, ID: id, Fields: fields}
}

func Delete(collection, id string) Write {
	return Write{Op: OpDelete, Collection: collection, ID: id}
}

// Validate checks the shape of the write, not its content.
func (w Write) Validate() error {
	if w.Collection == "" {
		return errors.New("collection is required")
	}
	switch w.Op {
	case OpCreate:
		if w.ID != "" {
			return errors.New("create writes must not carry an id")
		}
		if w.Fields == nil {
			return errors.New("create writes need fields")
		}
	case OpUpdate:
		if w.ID == "" {
			return errors.New("update writes need an id")
		}
		if len(w.Fields) == 0 {
			return errors.New("update writes need fields")
		}
	case OpDelete:
		if w.ID == "" {
			return errors.New("delete writes need an id")
		}
	default:
		return fmt.Errorf("unknown write op %q", w.Op)
	}
	return nil
}

type CommitResult struct {
	// IDs holds the ids assigned to the batch's create writes, in order.
	IDs []string `json:"ids"`
}

// Target names what a listener watches: one document, or the result set of
// a query.
type Target struct {
	Collection string       `json:"collection,omitempty"`
	DocumentID string       `json:"documentId,omitempty"`
	Query      *query.Query `json:"query,omitempty"`
}

func DocumentTarget(collection, id string) Target {
	return Target{Collection: collection, DocumentID: id}
}

func QueryTarget(q query.Query) Target {
	return Target{Query: &q}
}

func (t Target) CollectionName() string {
	if t.Query != nil {
		return t.Query.Collection
	}
	return t.Collection
}

func (t Target) Validate() error {
	if t.Query != nil {
		if t.DocumentID != "" || t.Collection != "" {
			return errors.New("target must name a query or a document, not both")
		}
		return t.Query.Validate()
	}
	if t.Collection == "" || t.DocumentID == "" {
		return errors.New("document target needs a collection and an id")
	}
	return nil
}

func (t Target) String() string {
	if t.Query != nil {
		return t.Query.String()
	}
	return t.Collection + "/" + t.DocumentID
}

// Snapshot is the full current result of a target. It is never a delta.
type Snapshot struct {
	Target    Target     `json:"target"`
	Documents []Document `json:"documents"`
	// Sequence increases with every change the backend observes.
	Sequence uint64    `json:"sequence"`
	ReadTime time.Time `json:"readTime"`
}

// Document returns the watched document of a document target.
func (s Snapshot) Document() (Document, bool) {
	if len(s.Documents) == 0 {
		return Document{}, false
	}
	return s.Documents[0], true
}

// Signature identifies the contents of the snapshot: two snapshots with the
// same signature hold the same documents at the same versions in the same
// order.
func (s Snapshot) Signature() string {
	var b strings.Builder
	for _, d := range s.Documents {
		fmt.Fprintf(&b, "%s@%d;", d.ID, d.Version)
	}
	return b.String()
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func cloneWrites(writes []Write) []Write {
	out := make([]Write, len(writes))
	for i, w := range writes {
		w.Fields = cloneFields(w.Fields)
		out[i] = w
	}
	return out
}
