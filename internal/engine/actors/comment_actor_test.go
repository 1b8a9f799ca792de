package actors

import (
	"context"
	"testing"
	"time"

	"socialsphere/internal/database"
	"socialsphere/internal/models"
	"socialsphere/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spawnComments(t *testing.T, store database.DocumentStore, reconcileInterval time.Duration) (*actor.ActorSystem, *actor.PID) {
	t.Helper()
	system := actor.NewActorSystem()
	pid := system.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewCommentActor(store, utils.NewMetricsCollector(), testLogger(), time.Second, reconcileInterval)
	}))
	t.Cleanup(func() { system.Root.Stop(pid) })
	return system, pid
}

func commentsCount(t *testing.T, store database.DocumentStore, postID string) int {
	t.Helper()
	doc, err := store.GetDocument(context.Background(), database.PostsCollection, postID)
	require.NoError(t, err)
	return database.IntField(doc.Data, database.FieldCommentsCount)
}

var bob = models.Author{ID: "u2", Name: "Bob", Email: "bob@example.com"}

func TestSubmitCommentInTransaction(t *testing.T) {
	store := database.NewMemoryStore()
	postID := seedPost(t, store, "ann", time.Now())
	system, pid := spawnComments(t, store, 0)

	// Listing first so the submit has a local list to prepend to.
	assert.Empty(t, request(t, system, pid, &LoadCommentsMsg{PostID: postID}).([]*models.Comment))

	result := request(t, system, pid, &SubmitCommentMsg{PostID: postID, Content: " nice post ", Author: bob})
	submitted, ok := result.(*SubmitCommentResult)
	require.True(t, ok, "expected a result, got %T", result)
	assert.False(t, submitted.CountStale)
	assert.NotEmpty(t, submitted.Comment.ID)
	assert.Equal(t, "nice post", submitted.Comment.Content)
	assert.Equal(t, "Bob", submitted.Comment.AuthorName)
	assert.Equal(t, 1, commentsCount(t, store, postID))

	request(t, system, pid, &SubmitCommentMsg{PostID: postID, Content: "second", Author: bob})
	comments := request(t, system, pid, &LoadCommentsMsg{PostID: postID}).([]*models.Comment)
	require.Len(t, comments, 2)
	assert.Equal(t, "second", comments[0].Content)
	assert.Equal(t, 2, commentsCount(t, store, postID))
}

func TestSubmitCommentOnMissingPostWritesNothing(t *testing.T) {
	store := database.NewMemoryStore()
	system, pid := spawnComments(t, store, 0)

	result := request(t, system, pid, &SubmitCommentMsg{PostID: "gone", Content: "hello", Author: bob})
	assert.True(t, utils.IsErrorCode(result.(error), utils.ErrNotFound))

	docs, err := store.QueryDocuments(context.Background(), database.CommentsCollection, database.Query{})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

// noTransactions hides the memory store's RunTransaction, forcing the
// two-step write.
type noTransactions struct {
	database.DocumentStore
}

func TestTwoStepCommentOnMissingPostWritesNothing(t *testing.T) {
	store := database.NewMemoryStore()
	system, pid := spawnComments(t, noTransactions{store}, 0)

	result := request(t, system, pid, &SubmitCommentMsg{PostID: "gone", Content: "hello", Author: bob})
	err, ok := result.(error)
	require.True(t, ok, "expected an error, got %T", result)
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))

	docs, err := store.QueryDocuments(context.Background(), database.CommentsCollection, database.Query{})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSubmitCommentValidation(t *testing.T) {
	system, pid := spawnComments(t, database.NewMemoryStore(), 0)

	for _, msg := range []*SubmitCommentMsg{
		{PostID: "p1", Content: "   ", Author: bob},
		{PostID: "", Content: "hi", Author: bob},
		{PostID: "p1", Content: "hi"},
	} {
		result := request(t, system, pid, msg)
		assert.True(t, utils.IsErrorCode(result.(error), utils.ErrInvalidInput))
	}
}

func TestTwoStepCommentMarksCountStaleAndReconciles(t *testing.T) {
	memory := database.NewMemoryStore()
	postID := seedPost(t, memory, "ann", time.Now())
	system, pid := spawnComments(t, failingUpdates{memory}, 0)

	result := request(t, system, pid, &SubmitCommentMsg{PostID: postID, Content: "hello", Author: bob})
	submitted := result.(*SubmitCommentResult)
	assert.True(t, submitted.CountStale)
	assert.Equal(t, 0, commentsCount(t, memory, postID))

	// The comment stands even though the counter did not move.
	comments, err := memory.QueryDocuments(context.Background(), database.CommentsCollection, database.Query{}.Where(database.FieldPostID, postID))
	require.NoError(t, err)
	assert.Len(t, comments, 1)

	// Reconciling through a healthy store repairs the counter.
	system2, pid2 := spawnComments(t, memory, 0)
	repaired := request(t, system2, pid2, &ReconcilePostMsg{PostID: postID}).(*ReconcileResult)
	assert.True(t, repaired.Changed)
	assert.Equal(t, 1, repaired.Count)
	assert.Equal(t, 1, commentsCount(t, memory, postID))

	again := request(t, system2, pid2, &ReconcilePostMsg{PostID: postID}).(*ReconcileResult)
	assert.False(t, again.Changed)
}

// flakyUpdates fails comment counter updates until healed.
type flakyUpdates struct {
	database.DocumentStore
	healed chan struct{}
}

func (s flakyUpdates) UpdateFields(ctx context.Context, collection, id string, fields map[string]database.Mutation) error {
	select {
	case <-s.healed:
		return s.DocumentStore.UpdateFields(ctx, collection, id, fields)
	default:
		return failingUpdates{}.UpdateFields(ctx, collection, id, fields)
	}
}

func TestPeriodicReconciliationRepairsDirtyPosts(t *testing.T) {
	memory := database.NewMemoryStore()
	postID := seedPost(t, memory, "ann", time.Now())
	store := flakyUpdates{DocumentStore: memory, healed: make(chan struct{})}
	system, pid := spawnComments(t, store, 20*time.Millisecond)

	submitted := request(t, system, pid, &SubmitCommentMsg{PostID: postID, Content: "hello", Author: bob}).(*SubmitCommentResult)
	require.True(t, submitted.CountStale)

	close(store.healed)
	assert.Eventually(t, func() bool {
		return commentsCount(t, memory, postID) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
