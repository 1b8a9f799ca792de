package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPosts(t *testing.T, store *MemoryStore, author string, times ...time.Time) []string {
	t.Helper()
	ids := make([]string, 0, len(times))
	for _, ts := range times {
		id, err := store.CreateDocument(context.Background(), PostsCollection, map[string]any{
			FieldAuthorID:   author,
			FieldCreatedAt:  ts,
			FieldLikes:      []string{},
			FieldLikesCount: 0,
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func docIDs(docs []Document) []string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids
}

func TestMemoryStoreOrdersNewestFirstWithIDTieBreak(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	ids := seedPosts(t, store, "u1", base, base.Add(time.Minute), base, base.Add(-time.Minute))

	docs, err := store.QueryDocuments(context.Background(), PostsCollection, Query{OrderBy: NewestFirst})
	require.NoError(t, err)

	// ids[2] was created after ids[0] with the same timestamp, so it sorts first.
	assert.Equal(t, []string{ids[1], ids[2], ids[0], ids[3]}, docIDs(docs))
}

func TestMemoryStoreLimitAndCursor(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ids := seedPosts(t, store, "u1", base, base.Add(time.Second), base.Add(2*time.Second))

	page, err := store.QueryDocuments(context.Background(), PostsCollection, Query{OrderBy: NewestFirst, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{ids[2], ids[1]}, docIDs(page))

	next, err := store.QueryDocuments(context.Background(), PostsCollection, Query{OrderBy: NewestFirst, Limit: 2, StartAfter: ids[1]})
	require.NoError(t, err)
	assert.Equal(t, []string{ids[0]}, docIDs(next))

	_, err = store.QueryDocuments(context.Background(), PostsCollection, Query{OrderBy: NewestFirst, StartAfter: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreFilters(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	seedPosts(t, store, "alice", now, now.Add(time.Second))
	bob := seedPosts(t, store, "bob", now)

	docs, err := store.QueryDocuments(context.Background(), PostsCollection, Query{}.Where(FieldAuthorID, "bob"))
	require.NoError(t, err)
	assert.Equal(t, bob, docIDs(docs))
}

func TestMemoryStoreRequiredIndexes(t *testing.T) {
	store := NewMemoryStore(WithRequiredIndexes())
	seedPosts(t, store, "alice", time.Now())

	q := Query{OrderBy: NewestFirst}.Where(FieldAuthorID, "alice")
	_, err := store.QueryDocuments(context.Background(), PostsCollection, q)
	assert.ErrorIs(t, err, ErrQueryCapability)

	docs, err := store.QueryDocuments(context.Background(), PostsCollection, q.Unordered())
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	store.EnsureIndex(PostsCollection, []string{FieldAuthorID}, FieldCreatedAt)
	docs, err = store.QueryDocuments(context.Background(), PostsCollection, q)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestMemoryStoreUpdateFields(t *testing.T) {
	store := NewMemoryStore()
	ids := seedPosts(t, store, "alice", time.Now())
	ctx := context.Background()

	like := map[string]Mutation{FieldLikes: SetAdd("u1"), FieldLikesCount: Increment(1)}
	require.NoError(t, store.UpdateFields(ctx, PostsCollection, ids[0], like))

	doc, err := store.GetDocument(ctx, PostsCollection, ids[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, StringSliceField(doc.Data, FieldLikes))
	assert.Equal(t, 1, IntField(doc.Data, FieldLikesCount))

	// A set add is idempotent on membership.
	require.NoError(t, store.UpdateFields(ctx, PostsCollection, ids[0], map[string]Mutation{FieldLikes: SetAdd("u1")}))
	doc, _ = store.GetDocument(ctx, PostsCollection, ids[0])
	assert.Equal(t, []string{"u1"}, StringSliceField(doc.Data, FieldLikes))

	unlike := map[string]Mutation{FieldLikes: SetRemove("u1"), FieldLikesCount: Increment(-1)}
	require.NoError(t, store.UpdateFields(ctx, PostsCollection, ids[0], unlike))
	doc, _ = store.GetDocument(ctx, PostsCollection, ids[0])
	assert.Empty(t, StringSliceField(doc.Data, FieldLikes))
	assert.Equal(t, 0, IntField(doc.Data, FieldLikesCount))

	err = store.UpdateFields(ctx, PostsCollection, "missing", like)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreUpdateFieldsIsAllOrNothing(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	id, err := store.CreateDocument(ctx, PostsCollection, map[string]any{FieldContent: "x", FieldLikesCount: 3})
	require.NoError(t, err)

	err = store.UpdateFields(ctx, PostsCollection, id, map[string]Mutation{
		FieldLikesCount: Increment(1),
		FieldContent:    Increment(1),
	})
	require.Error(t, err)

	doc, err := store.GetDocument(ctx, PostsCollection, id)
	require.NoError(t, err)
	assert.Equal(t, 3, IntField(doc.Data, FieldLikesCount))
	assert.Equal(t, "x", StringField(doc.Data, FieldContent))
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	id, err := store.CreateDocument(ctx, PostsCollection, map[string]any{FieldContent: "original"})
	require.NoError(t, err)

	doc, err := store.GetDocument(ctx, PostsCollection, id)
	require.NoError(t, err)
	doc.Data[FieldContent] = "changed"

	doc, err = store.GetDocument(ctx, PostsCollection, id)
	require.NoError(t, err)
	assert.Equal(t, "original", doc.Data[FieldContent])
}

func TestMemoryStoreSubscribeDeliversInCommitOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var mu sync.Mutex
	var sizes []int
	unsubscribe, err := store.SubscribeQuery(ctx, PostsCollection, Query{OrderBy: NewestFirst, Limit: 2}, func(docs []Document) {
		mu.Lock()
		defer mu.Unlock()
		sizes = append(sizes, len(docs))
	})
	require.NoError(t, err)

	now := time.Now()
	seedPosts(t, store, "alice", now, now.Add(time.Second), now.Add(2*time.Second))

	// Writes to other collections do not wake the query.
	_, err = store.CreateDocument(ctx, CommentsCollection, map[string]any{FieldContent: "hi"})
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, []int{0, 1, 2, 2}, sizes)
	mu.Unlock()

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, store.Subscriptions())

	seedPosts(t, store, "alice", now)
	mu.Lock()
	assert.Len(t, sizes, 4)
	mu.Unlock()
}

func TestMemoryStoreTransactions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	postID, err := store.CreateDocument(ctx, PostsCollection, map[string]any{FieldCommentsCount: 0})
	require.NoError(t, err)

	err = store.RunTransaction(ctx, func(ctx context.Context, w Writer) error {
		if _, err := w.CreateDocument(ctx, CommentsCollection, map[string]any{FieldPostID: postID}); err != nil {
			return err
		}
		return w.UpdateFields(ctx, PostsCollection, postID, map[string]Mutation{FieldCommentsCount: Increment(1)})
	})
	require.NoError(t, err)

	doc, _ := store.GetDocument(ctx, PostsCollection, postID)
	assert.Equal(t, 1, IntField(doc.Data, FieldCommentsCount))

	boom := errors.New("boom")
	err = store.RunTransaction(ctx, func(ctx context.Context, w Writer) error {
		if _, err := w.CreateDocument(ctx, CommentsCollection, map[string]any{FieldPostID: postID}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	comments, err := store.QueryDocuments(ctx, CommentsCollection, Query{}.Where(FieldPostID, postID))
	require.NoError(t, err)
	assert.Len(t, comments, 1, "failed transaction leaves no comment behind")
}
