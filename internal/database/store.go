package database

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a point read or update targets a missing document.
	ErrNotFound = errors.New("document not found")

	// ErrQueryCapability is returned when the store cannot run a combined
	// filter+order query, typically because the index it needs is not
	// provisioned. Callers fall back to an unordered fetch and sort in memory.
	ErrQueryCapability = errors.New("store cannot execute ordered query")

	// ErrTransactionsUnsupported is returned by RunTransaction when the
	// deployment has no multi-document transactions (e.g. standalone mongod).
	ErrTransactionsUnsupported = errors.New("store does not support multi-document transactions")
)

// Document is one stored record. ID is assigned by the store.
type Document struct {
	ID   string
	Data map[string]any
}

// Filter is an equality match on a top-level field.
type Filter struct {
	Field string
	Value any
}

type OrderBy struct {
	Field      string
	Descending bool
}

// Query describes a filtered, ordered, bounded read. Ties on the order
// field are broken by document ID in the same direction. StartAfter is the
// ID of the last document of the previous page.
type Query struct {
	Filters    []Filter
	OrderBy    *OrderBy
	Limit      int
	StartAfter string
}

// Where returns a copy of q with an added equality filter.
func (q Query) Where(field string, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Value: value})
	return q
}

// Unordered returns q without its ordering and limit, which is what the
// capability fallback runs before sorting in memory.
func (q Query) Unordered() Query {
	q.OrderBy = nil
	q.Limit = 0
	q.StartAfter = ""
	return q
}

type MutationKind int

const (
	MutationLiteral MutationKind = iota
	MutationSetAdd
	MutationSetRemove
	MutationIncrement
)

// Mutation is a field-level change applied by UpdateFields.
type Mutation struct {
	Kind  MutationKind
	Value any
}

func SetAdd(v any) Mutation      { return Mutation{Kind: MutationSetAdd, Value: v} }
func SetRemove(v any) Mutation   { return Mutation{Kind: MutationSetRemove, Value: v} }
func Increment(n int64) Mutation { return Mutation{Kind: MutationIncrement, Value: n} }
func Literal(v any) Mutation     { return Mutation{Kind: MutationLiteral, Value: v} }

// Unsubscribe releases a live query. Calling it more than once is safe.
type Unsubscribe func()

// Writer is the write half of the store, also handed to transaction bodies.
type Writer interface {
	CreateDocument(ctx context.Context, collection string, data map[string]any) (string, error)
	SetDocument(ctx context.Context, collection, id string, data map[string]any) error
	// UpdateFields applies every listed mutation atomically: all fields
	// change together or none do.
	UpdateFields(ctx context.Context, collection, id string, fields map[string]Mutation) error
}

// DocumentStore is the remote document database the engine runs against.
type DocumentStore interface {
	Writer
	GetDocument(ctx context.Context, collection, id string) (*Document, error)
	QueryDocuments(ctx context.Context, collection string, q Query) ([]Document, error)
	// SubscribeQuery delivers the full result set once immediately and again
	// after every committed change to the collection, in commit order.
	SubscribeQuery(ctx context.Context, collection string, q Query, onSnapshot func([]Document)) (Unsubscribe, error)
	Close(ctx context.Context) error
}

// Transactor is implemented by stores that can group writes to several
// documents into one atomic unit.
type Transactor interface {
	RunTransaction(ctx context.Context, fn func(ctx context.Context, w Writer) error) error
}
