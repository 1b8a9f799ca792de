// internal/database/database.go
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Server error codes meaning a sorted, filtered query could not run without
// an index: OperationFailed and the QueryExceededMemoryLimit variants.
var mongoCapabilityCodes = []int{96, 291, 292}

const mongoIllegalOperation = 20

type MongoDB struct {
	Client *mongo.Client
	DB     *mongo.Database

	pollInterval time.Duration
	logger       *slog.Logger
}

func NewMongoDB(uri, dbName string, pollInterval time.Duration, logger *slog.Logger) (*MongoDB, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("connected to MongoDB", "database", dbName)

	return &MongoDB{
		Client:       client,
		DB:           client.Database(dbName),
		pollInterval: pollInterval,
		logger:       logger,
	}, nil
}

// EnsureIndexes provisions the indexes the ordered queries rely on. Without
// them large author or comment queries fail and callers fall back to
// in-memory sorting.
func (m *MongoDB) EnsureIndexes(ctx context.Context) error {
	desc := func(fields ...string) bson.D {
		keys := bson.D{}
		for _, f := range fields {
			keys = append(keys, bson.E{Key: f, Value: -1})
		}
		return keys
	}

	indexes := map[string][]mongo.IndexModel{
		PostsCollection: {
			{Keys: desc(FieldCreatedAt, "_id")},
			{Keys: append(bson.D{{Key: FieldAuthorID, Value: 1}}, desc(FieldCreatedAt, "_id")...)},
		},
		CommentsCollection: {
			{Keys: append(bson.D{{Key: FieldPostID, Value: 1}}, desc(FieldCreatedAt, "_id")...)},
		},
		AccountsCollection: {
			{Keys: bson.D{{Key: FieldEmail, Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}

	for collection, models := range indexes {
		if _, err := m.DB.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", collection, err)
		}
	}
	return nil
}

func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

func (m *MongoDB) CreateDocument(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.NewString()
	if err := m.SetDocument(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (m *MongoDB) SetDocument(ctx context.Context, collection, id string, data map[string]any) error {
	doc := bson.M{"_id": id}
	for k, v := range data {
		doc[k] = v
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := m.DB.Collection(collection).ReplaceOne(ctx, bson.M{"_id": id}, doc, opts); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", collection, id, err)
	}
	return nil
}

// UpdateFields translates the mutations into one update document, so the
// server applies them atomically.
func (m *MongoDB) UpdateFields(ctx context.Context, collection, id string, fields map[string]Mutation) error {
	update := bson.M{}
	section := func(op string) bson.M {
		s, ok := update[op].(bson.M)
		if !ok {
			s = bson.M{}
			update[op] = s
		}
		return s
	}

	for field, mut := range fields {
		switch mut.Kind {
		case MutationLiteral:
			section("$set")[field] = mut.Value
		case MutationSetAdd:
			section("$addToSet")[field] = mut.Value
		case MutationSetRemove:
			section("$pull")[field] = mut.Value
		case MutationIncrement:
			section("$inc")[field] = mut.Value
		default:
			return fmt.Errorf("field %s: unknown mutation kind %d", field, mut.Kind)
		}
	}

	result, err := m.DB.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return nil
}

func (m *MongoDB) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	var raw bson.M
	err := m.DB.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", collection, id, err)
	}
	doc := documentFromBSON(raw)
	return &doc, nil
}

func (m *MongoDB) QueryDocuments(ctx context.Context, collection string, q Query) ([]Document, error) {
	filter := bson.D{}
	for _, f := range q.Filters {
		filter = append(filter, bson.E{Key: f.Field, Value: f.Value})
	}

	opts := options.Find()
	if q.OrderBy != nil {
		dir := 1
		if q.OrderBy.Descending {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.OrderBy.Field, Value: dir}, {Key: "_id", Value: dir}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	if q.StartAfter != "" {
		cursorFilter, err := m.cursorFilter(ctx, collection, q)
		if err != nil {
			return nil, err
		}
		filter = append(filter, cursorFilter...)
	}

	cursor, err := m.DB.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, mapQueryError(collection, err)
	}
	defer cursor.Close(ctx)

	var docs []Document
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to decode %s document: %w", collection, err)
		}
		docs = append(docs, documentFromBSON(raw))
	}
	if err := cursor.Err(); err != nil {
		return nil, mapQueryError(collection, err)
	}
	return docs, nil
}

// cursorFilter selects documents strictly after the StartAfter document in
// the query's order.
func (m *MongoDB) cursorFilter(ctx context.Context, collection string, q Query) (bson.D, error) {
	if q.OrderBy == nil {
		return bson.D{{Key: "_id", Value: bson.M{"$gt": q.StartAfter}}}, nil
	}

	last, err := m.GetDocument(ctx, collection, q.StartAfter)
	if err != nil {
		return nil, fmt.Errorf("cursor %s: %w", q.StartAfter, err)
	}

	op := "$gt"
	if q.OrderBy.Descending {
		op = "$lt"
	}
	value := last.Data[q.OrderBy.Field]
	return bson.D{{Key: "$or", Value: bson.A{
		bson.M{q.OrderBy.Field: bson.M{op: value}},
		bson.M{q.OrderBy.Field: value, "_id": bson.M{op: q.StartAfter}},
	}}}, nil
}

func (m *MongoDB) SubscribeQuery(ctx context.Context, collection string, q Query, onSnapshot func([]Document)) (Unsubscribe, error) {
	fetch := func(ctx context.Context) ([]Document, error) {
		return m.QueryDocuments(ctx, collection, q)
	}
	live := newLiveQuery(collection, q, fetch, onSnapshot, m.logger)
	return live.start(ctx, m.watch)
}

// watch follows the collection's change stream. Standalone servers have no
// change streams, so the query falls back to polling.
func (m *MongoDB) watch(l *liveQuery) {
	stream, err := m.DB.Collection(l.collection).Watch(l.ctx, mongo.Pipeline{})
	if err != nil {
		m.logger.Info("change stream unavailable, polling", "collection", l.collection, "error", err)
		l.poll(m.pollInterval)
		return
	}
	defer stream.Close(context.Background())

	// Anything committed between the initial read and Watch is picked up here.
	l.refresh()

	for stream.Next(l.ctx) {
		l.refresh()
	}
	if l.ctx.Err() != nil {
		return
	}
	m.logger.Warn("change stream closed, polling", "collection", l.collection, "error", stream.Err())
	l.poll(m.pollInterval)
}

func (m *MongoDB) RunTransaction(ctx context.Context, fn func(ctx context.Context, w Writer) error) error {
	session, err := m.Client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, m)
	})
	if err != nil {
		var se mongo.ServerError
		if errors.As(err, &se) && se.HasErrorCode(mongoIllegalOperation) {
			return fmt.Errorf("%v: %w", err, ErrTransactionsUnsupported)
		}
		return err
	}
	return nil
}

func mapQueryError(collection string, err error) error {
	var se mongo.ServerError
	if errors.As(err, &se) {
		for _, code := range mongoCapabilityCodes {
			if se.HasErrorCode(code) {
				return fmt.Errorf("%s query: %v: %w", collection, err, ErrQueryCapability)
			}
		}
		if se.HasErrorCodeWithMessage(2, "No query solutions") {
			return fmt.Errorf("%s query: %v: %w", collection, err, ErrQueryCapability)
		}
	}
	if strings.Contains(err.Error(), "Sort exceeded memory limit") {
		return fmt.Errorf("%s query: %v: %w", collection, err, ErrQueryCapability)
	}
	return fmt.Errorf("failed to query %s: %w", collection, err)
}

func documentFromBSON(raw bson.M) Document {
	id, _ := raw["_id"].(string)
	delete(raw, "_id")
	return Document{ID: id, Data: map[string]any(raw)}
}
