package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

type memoryCollections map[string]map[string]map[string]any

// MemoryStore is an in-process DocumentStore. Document IDs are ULIDs, so ID
// order matches insertion order and serves as the tie-break on equal order
// values. Every write is serialized and delivers snapshots to live queries
// before returning.
type MemoryStore struct {
	// deliverMu serializes writes together with their snapshot delivery so
	// subscribers observe commits in order.
	deliverMu sync.Mutex
	mu        sync.RWMutex

	collections memoryCollections
	subs        map[uint64]*memorySubscription
	nextSubID   uint64

	requireIndexes bool
	indexes        map[string]bool
}

type memorySubscription struct {
	collection string
	query      Query
	onSnapshot func([]Document)
	closed     atomic.Bool
}

type MemoryOption func(*MemoryStore)

// WithRequiredIndexes makes filter+order queries fail with
// ErrQueryCapability unless a matching index was declared with EnsureIndex.
func WithRequiredIndexes() MemoryOption {
	return func(s *MemoryStore) { s.requireIndexes = true }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		collections: make(memoryCollections),
		subs:        make(map[uint64]*memorySubscription),
		indexes:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureIndex declares a composite index for equality filters on
// filterFields ordered by orderField.
func (s *MemoryStore) EnsureIndex(collection string, filterFields []string, orderField string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes[indexKey(collection, filterFields, orderField)] = true
}

func indexKey(collection string, filterFields []string, orderField string) string {
	fields := append([]string(nil), filterFields...)
	sort.Strings(fields)
	return collection + "|" + strings.Join(fields, ",") + "|" + orderField
}

func (s *MemoryStore) CreateDocument(ctx context.Context, collection string, data map[string]any) (string, error) {
	var id string
	err := s.write(collection, func(cols memoryCollections) error {
		id = createIn(cols, collection, data)
		return nil
	})
	return id, err
}

func (s *MemoryStore) SetDocument(ctx context.Context, collection, id string, data map[string]any) error {
	return s.write(collection, func(cols memoryCollections) error {
		setIn(cols, collection, id, data)
		return nil
	})
}

func (s *MemoryStore) UpdateFields(ctx context.Context, collection, id string, fields map[string]Mutation) error {
	return s.write(collection, func(cols memoryCollections) error {
		return updateIn(cols, collection, id, fields)
	})
}

func (s *MemoryStore) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return &Document{ID: id, Data: cloneData(data)}, nil
}

func (s *MemoryStore) QueryDocuments(ctx context.Context, collection string, q Query) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evaluate(collection, q)
}

func (s *MemoryStore) SubscribeQuery(ctx context.Context, collection string, q Query, onSnapshot func([]Document)) (Unsubscribe, error) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	docs, err := s.evaluate(collection, q)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.nextSubID++
	subID := s.nextSubID
	sub := &memorySubscription{collection: collection, query: q, onSnapshot: onSnapshot}
	s.subs[subID] = sub
	s.mu.Unlock()

	onSnapshot(docs)

	return func() {
		sub.closed.Store(true)
		s.mu.Lock()
		delete(s.subs, subID)
		s.mu.Unlock()
	}, nil
}

// RunTransaction stages every write on a copy of the data and swaps it in
// only when fn succeeds.
func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, w Writer) error) error {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.RLock()
	staged := make(memoryCollections, len(s.collections))
	for name, docs := range s.collections {
		copied := make(map[string]map[string]any, len(docs))
		for id, data := range docs {
			copied[id] = cloneData(data)
		}
		staged[name] = copied
	}
	s.mu.RUnlock()

	tx := &memoryTx{collections: staged, touched: make(map[string]bool)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	for name := range tx.touched {
		s.collections[name] = staged[name]
	}
	s.mu.Unlock()

	for name := range tx.touched {
		s.notify(name)
	}
	return nil
}

// Subscriptions reports the number of open live queries.
func (s *MemoryStore) Subscriptions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *MemoryStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		sub.closed.Store(true)
		delete(s.subs, id)
	}
	return nil
}

func (s *MemoryStore) write(collection string, op func(memoryCollections) error) error {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	err := op(s.collections)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify(collection)
	return nil
}

// notify re-runs every live query on collection. Callers hold deliverMu.
func (s *MemoryStore) notify(collection string) {
	type delivery struct {
		sub  *memorySubscription
		docs []Document
	}

	s.mu.RLock()
	ids := make([]uint64, 0, len(s.subs))
	for id, sub := range s.subs {
		if sub.collection == collection {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	deliveries := make([]delivery, 0, len(ids))
	for _, id := range ids {
		sub := s.subs[id]
		docs, err := s.evaluate(collection, sub.query)
		if err != nil {
			continue
		}
		deliveries = append(deliveries, delivery{sub: sub, docs: docs})
	}
	s.mu.RUnlock()

	for _, d := range deliveries {
		if !d.sub.closed.Load() {
			d.sub.onSnapshot(d.docs)
		}
	}
}

// evaluate runs q against the current data. Callers hold mu.
func (s *MemoryStore) evaluate(collection string, q Query) ([]Document, error) {
	if s.requireIndexes && len(q.Filters) > 0 && q.OrderBy != nil {
		fields := make([]string, len(q.Filters))
		for i, f := range q.Filters {
			fields[i] = f.Field
		}
		if !s.indexes[indexKey(collection, fields, q.OrderBy.Field)] {
			return nil, fmt.Errorf("%s query on %v ordered by %s: %w", collection, fields, q.OrderBy.Field, ErrQueryCapability)
		}
	}

	var docs []Document
	for id, data := range s.collections[collection] {
		if matches(data, q.Filters) {
			docs = append(docs, Document{ID: id, Data: data})
		}
	}

	// Map iteration is random; ID order gives a stable base.
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	if q.OrderBy != nil {
		field, desc := q.OrderBy.Field, q.OrderBy.Descending
		sort.SliceStable(docs, func(i, j int) bool {
			c := compareValues(docs[i].Data[field], docs[j].Data[field])
			if c == 0 {
				c = strings.Compare(docs[i].ID, docs[j].ID)
			}
			if desc {
				return c > 0
			}
			return c < 0
		})
	}

	if q.StartAfter != "" {
		start := -1
		for i, doc := range docs {
			if doc.ID == q.StartAfter {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return nil, fmt.Errorf("cursor %s: %w", q.StartAfter, ErrNotFound)
		}
		docs = docs[start:]
	}

	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}

	out := make([]Document, len(docs))
	for i, doc := range docs {
		out[i] = Document{ID: doc.ID, Data: cloneData(doc.Data)}
	}
	return out, nil
}

func matches(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if !equalValues(data[f.Field], f.Value) {
			return false
		}
	}
	return true
}

type memoryTx struct {
	collections memoryCollections
	touched     map[string]bool
}

func (tx *memoryTx) CreateDocument(ctx context.Context, collection string, data map[string]any) (string, error) {
	tx.touched[collection] = true
	return createIn(tx.collections, collection, data), nil
}

func (tx *memoryTx) SetDocument(ctx context.Context, collection, id string, data map[string]any) error {
	tx.touched[collection] = true
	setIn(tx.collections, collection, id, data)
	return nil
}

func (tx *memoryTx) UpdateFields(ctx context.Context, collection, id string, fields map[string]Mutation) error {
	tx.touched[collection] = true
	return updateIn(tx.collections, collection, id, fields)
}

func createIn(cols memoryCollections, collection string, data map[string]any) string {
	id := ulid.Make().String()
	setIn(cols, collection, id, data)
	return id
}

func setIn(cols memoryCollections, collection, id string, data map[string]any) {
	if cols[collection] == nil {
		cols[collection] = make(map[string]map[string]any)
	}
	cols[collection][id] = cloneData(data)
}

func updateIn(cols memoryCollections, collection, id string, fields map[string]Mutation) error {
	current, ok := cols[collection][id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	next := cloneData(current)
	if err := applyMutations(next, fields); err != nil {
		return err
	}
	cols[collection][id] = next
	return nil
}
