package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"gradebook/internal/database"
	"gradebook/internal/docstore"
	"gradebook/internal/policy"
	"gradebook/internal/query"
)

// DocumentService is the reference document store: documents live in one
// gorm table, commits run in a transaction, and every commit fans out fresh
// snapshots to the listeners whose targets it touched.
type DocumentService struct {
	db             *gorm.DB
	policy         *policy.Policy
	maxBatchWrites int

	// writeLock orders commits and listener registration, so every listener
	// sees each change exactly once and in commit order.
	writeLock sync.Mutex
	sequence  uint64

	listeners    map[string]*registration
	listenerLock sync.RWMutex
}

var _ docstore.Backend = (*DocumentService)(nil)

type registration struct {
	id       string
	target   docstore.Target
	listener docstore.Listener
	// signature of the last delivered snapshot
	last string
}

type Option func(*DocumentService)

func WithPolicy(p *policy.Policy) Option {
	return func(s *DocumentService) {
		s.policy = p
	}
}

func WithMaxBatchWrites(n int) Option {
	return func(s *DocumentService) {
		if n > 0 {
			s.maxBatchWrites = n
		}
	}
}

func NewDocumentService(db *gorm.DB, opts ...Option) *DocumentService {
	s := &DocumentService{
		db:             db,
		policy:         policy.Gradebook(),
		maxBatchWrites: docstore.DefaultMaxBatchWrites,
		listeners:      make(map[string]*registration),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *DocumentService) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	result, err := s.Commit(ctx, []docstore.Write{docstore.Create(collection, fields)})
	if err != nil {
		return "", err
	}
	return result.IDs[0], nil
}

func (s *DocumentService) Get(ctx context.Context, collection, id string) (docstore.Document, bool, error) {
	rec, ok, err := find(s.db.WithContext(ctx), collection, id)
	if err != nil {
		return docstore.Document{}, false, classify("get", err)
	}
	if !ok {
		return docstore.Document{}, false, nil
	}
	return toDocument(rec), true, nil
}

func (s *DocumentService) List(ctx context.Context, q query.Query) ([]docstore.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, docstore.NewError(docstore.KindInvalidArgument, "list", err)
	}
	docs, err := list(s.db.WithContext(ctx), q)
	if err != nil {
		return nil, classify("list", err)
	}
	return docs, nil
}

// Commit applies writes in one transaction. Any failing write rolls back
// the whole batch.
func (s *DocumentService) Commit(ctx context.Context, writes []docstore.Write) (docstore.CommitResult, error) {
	const op = "commit"
	if len(writes) == 0 {
		return docstore.CommitResult{}, nil
	}
	if len(writes) > s.maxBatchWrites {
		return docstore.CommitResult{}, docstore.Errorf(docstore.KindBatchTooLarge, op, "%d writes exceeds the limit of %d", len(writes), s.maxBatchWrites)
	}
	for i, w := range writes {
		if err := w.Validate(); err != nil {
			return docstore.CommitResult{}, docstore.Errorf(docstore.KindInvalidArgument, op, "write %d: %v", i, err)
		}
		// NaN and Inf have no JSON form
		if _, err := json.Marshal(w.Fields); err != nil {
			return docstore.CommitResult{}, docstore.Errorf(docstore.KindInvalidArgument, op, "write %d: fields are not encodable: %v", i, err)
		}
	}
	caller := policy.CallerFrom(ctx)

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	var result docstore.CommitResult
	touched := make(map[string]bool)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, w := range writes {
			id, err := s.apply(ctx, tx, caller, w)
			if err != nil {
				return fmt.Errorf("write %d: %w", i, err)
			}
			if w.Op == docstore.OpCreate {
				result.IDs = append(result.IDs, id)
			}
			touched[w.Collection] = true
		}
		return nil
	})
	if err != nil {
		glog.V(1).Infof("[ds]commit of %d writes by %q rejected = %s\n", len(writes), caller.Subject, err)
		return docstore.CommitResult{}, classify(op, err)
	}

	s.sequence++
	glog.V(2).Infof("[ds]commit seq=%d writes=%d\n", s.sequence, len(writes))
	s.broadcastChanges(touched)
	return result, nil
}

func (s *DocumentService) apply(ctx context.Context, tx *gorm.DB, caller policy.Caller, w docstore.Write) (string, error) {
	exists := func(ctx context.Context, collection, id string) (bool, error) {
		_, ok, err := find(tx, collection, id)
		return ok, err
	}

	switch w.Op {
	case docstore.OpCreate:
		if err := s.policy.Check(ctx, caller, w.Op, w.Collection, w.Fields, exists); err != nil {
			return "", err
		}
		rec := database.DocumentRecord{
			Collection: w.Collection,
			ID:         ulid.Make().String(),
			Fields:     datatypes.JSONMap(w.Fields),
			Version:    1,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return "", err
		}
		return rec.ID, nil

	case docstore.OpUpdate:
		rec, ok, err := find(tx, w.Collection, w.ID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", docstore.Errorf(docstore.KindNotFound, "update", "%s/%s does not exist", w.Collection, w.ID)
		}
		merged := make(map[string]any, len(rec.Fields)+len(w.Fields))
		for k, v := range rec.Fields {
			merged[k] = v
		}
		for k, v := range w.Fields {
			merged[k] = v
		}
		if err := s.policy.Check(ctx, caller, w.Op, w.Collection, merged, exists); err != nil {
			return "", err
		}
		err = tx.Model(&database.DocumentRecord{}).
			Where("collection = ? AND id = ?", w.Collection, w.ID).
			Updates(map[string]any{
				"fields":     datatypes.JSONMap(merged),
				"version":    rec.Version + 1,
				"updated_at": time.Now(),
			}).Error
		return w.ID, err

	case docstore.OpDelete:
		rec, ok, err := find(tx, w.Collection, w.ID)
		if err != nil || !ok {
			// deleting a missing document is a no-op
			return w.ID, err
		}
		if err := s.policy.Check(ctx, caller, w.Op, w.Collection, rec.Fields, exists); err != nil {
			return "", err
		}
		err = tx.Where("collection = ? AND id = ?", w.Collection, w.ID).Delete(&database.DocumentRecord{}).Error
		return w.ID, err
	}
	return "", docstore.Errorf(docstore.KindInvalidArgument, "apply", "unknown write op %q", w.Op)
}

// Listen registers l and delivers the current snapshot of target before
// returning.
func (s *DocumentService) Listen(ctx context.Context, target docstore.Target, l docstore.Listener) (func(), error) {
	if err := target.Validate(); err != nil {
		return nil, docstore.NewError(docstore.KindInvalidArgument, "listen", err)
	}

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	snap, err := s.snapshot(ctx, target)
	if err != nil {
		return nil, classify("listen", err)
	}
	reg := &registration{
		id:       uuid.NewString(),
		target:   target,
		listener: l,
		last:     snap.Signature(),
	}
	s.listenerLock.Lock()
	s.listeners[reg.id] = reg
	s.listenerLock.Unlock()

	l.OnSnapshot(snap)
	glog.V(1).Infof("[ds]listen %s on %s\n", reg.id, target)

	var once sync.Once
	return func() {
		once.Do(func() { s.unregister(reg.id) })
	}, nil
}

func (s *DocumentService) unregister(id string) {
	s.listenerLock.Lock()
	defer s.listenerLock.Unlock()
	delete(s.listeners, id)
	glog.V(1).Infof("[ds]unlisten %s\n", id)
}

func (s *DocumentService) ListenerCount() int {
	s.listenerLock.RLock()
	defer s.listenerLock.RUnlock()
	return len(s.listeners)
}

// broadcastChanges sends a new snapshot to every listener on a touched
// collection whose result changed. Called with writeLock held.
func (s *DocumentService) broadcastChanges(touched map[string]bool) {
	var failed []string

	s.listenerLock.RLock()
	for _, reg := range s.listeners {
		if !touched[reg.target.CollectionName()] {
			continue
		}
		snap, err := s.snapshot(context.Background(), reg.target)
		if err != nil {
			glog.Warningf("[ds]snapshot for %s failed = %s\n", reg.id, err)
			reg.listener.OnError(classify("listen", err))
			failed = append(failed, reg.id)
			continue
		}
		if sig := snap.Signature(); sig != reg.last {
			reg.last = sig
			reg.listener.OnSnapshot(snap)
		}
	}
	s.listenerLock.RUnlock()

	for _, id := range failed {
		s.unregister(id)
	}
}

// Close ends every listener's stream.
func (s *DocumentService) Close() {
	s.listenerLock.Lock()
	defer s.listenerLock.Unlock()
	for id, reg := range s.listeners {
		reg.listener.OnError(docstore.Errorf(docstore.KindNetworkUnavailable, "listen", "document service closed"))
		delete(s.listeners, id)
	}
}

func (s *DocumentService) snapshot(ctx context.Context, target docstore.Target) (docstore.Snapshot, error) {
	snap := docstore.Snapshot{
		Target:    target,
		Documents: []docstore.Document{},
		Sequence:  s.sequence,
		ReadTime:  time.Now().UTC(),
	}
	db := s.db.WithContext(ctx)
	if target.Query != nil {
		docs, err := list(db, *target.Query)
		if err != nil {
			return docstore.Snapshot{}, err
		}
		snap.Documents = docs
		return snap, nil
	}
	rec, ok, err := find(db, target.Collection, target.DocumentID)
	if err != nil {
		return docstore.Snapshot{}, err
	}
	if ok {
		snap.Documents = append(snap.Documents, toDocument(rec))
	}
	return snap, nil
}

func find(db *gorm.DB, collection, id string) (database.DocumentRecord, bool, error) {
	var recs []database.DocumentRecord
	err := db.Where("collection = ? AND id = ?", collection, id).Limit(1).Find(&recs).Error
	if err != nil || len(recs) == 0 {
		return database.DocumentRecord{}, false, err
	}
	return recs[0], true, nil
}

var plainField = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// list pushes string equality filters down to the database and applies
// the full query semantics on the rows that come back. Rows are read in id
// order, which is creation order.
func list(db *gorm.DB, q query.Query) ([]docstore.Document, error) {
	tx := db.Model(&database.DocumentRecord{}).Where("collection = ?", q.Collection)
	for _, f := range q.Filters {
		if pushdown(f) {
			tx = tx.Where(datatypes.JSONQuery("fields").Equals(f.Value, f.Field))
		}
	}
	var recs []database.DocumentRecord
	if err := tx.Order("id").Find(&recs).Error; err != nil {
		return nil, err
	}

	docs := make([]docstore.Document, 0, len(recs))
	for _, rec := range recs {
		doc := toDocument(rec)
		if q.Match(doc.Fields) {
			docs = append(docs, doc)
		}
	}
	if len(q.Orders) > 0 {
		sort.SliceStable(docs, func(i, j int) bool {
			return q.Less(docs[i].Fields, docs[j].Fields)
		})
	}
	if q.MaxResults > 0 && len(docs) > q.MaxResults {
		docs = docs[:q.MaxResults]
	}
	return docs, nil
}

func pushdown(f query.Filter) bool {
	if !plainField.MatchString(f.Field) {
		return false
	}
	// postgres extracts json values as text, so only strings compare safely
	_, ok := f.Value.(string)
	return ok
}

func toDocument(rec database.DocumentRecord) docstore.Document {
	fields := make(map[string]any, len(rec.Fields))
	for k, v := range rec.Fields {
		fields[k] = v
	}
	return docstore.Document{
		Collection: rec.Collection,
		ID:         rec.ID,
		Fields:     fields,
		Version:    rec.Version,
		CreateTime: rec.CreatedAt.UTC(),
		UpdateTime: rec.UpdatedAt.UTC(),
	}
}

func classify(op string, err error) error {
	var derr *docstore.Error
	if errors.As(err, &derr) {
		return err
	}
	return docstore.NewError(docstore.KindOf(err), op, err)
}
