package actors

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"socialsphere/internal/database"
	"socialsphere/internal/models"
	"socialsphere/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func request(t *testing.T, system *actor.ActorSystem, pid *actor.PID, msg interface{}) interface{} {
	t.Helper()
	result, err := system.Root.RequestFuture(pid, msg, 5*time.Second).Result()
	require.NoError(t, err)
	return result
}

func seedPost(t *testing.T, store database.DocumentStore, author string, createdAt time.Time, likes ...string) string {
	t.Helper()
	post := &models.Post{
		Content:    "hello swamp",
		AuthorID:   author,
		AuthorName: author,
		CreatedAt:  createdAt,
		Likes:      append([]string{}, likes...),
		LikesCount: len(likes),
		Tags:       []string{},
		ReadTime:   1,
	}
	id, err := store.CreateDocument(context.Background(), database.PostsCollection, database.PostToData(post))
	require.NoError(t, err)
	return id
}

// failingUpdates rejects every field update. Embedding the interface hides
// RunTransaction, so it also behaves like a store without transactions.
type failingUpdates struct {
	database.DocumentStore
}

func (failingUpdates) UpdateFields(ctx context.Context, collection, id string, fields map[string]database.Mutation) error {
	return errors.New("network unreachable")
}

// slowLikes holds every set-add for a while, so a later unlike would
// overtake it if mutations were not issued in order.
type slowLikes struct {
	database.DocumentStore
}

func (s slowLikes) UpdateFields(ctx context.Context, collection, id string, fields map[string]database.Mutation) error {
	for _, m := range fields {
		if m.Kind == database.MutationSetAdd {
			time.Sleep(100 * time.Millisecond)
			break
		}
	}
	return s.DocumentStore.UpdateFields(ctx, collection, id, fields)
}

func spawnFeed(t *testing.T, store database.DocumentStore) (*actor.ActorSystem, *actor.PID) {
	t.Helper()
	system := actor.NewActorSystem()
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewFeedActor(store, utils.NewMetricsCollector(), testLogger(), 10, time.Second)
	})
	pid := system.Root.Spawn(props)
	t.Cleanup(func() { system.Root.Stop(pid) })
	return system, pid
}

func waitForPosts(t *testing.T, system *actor.ActorSystem, pid *actor.PID, n int) models.FeedState {
	t.Helper()
	var state models.FeedState
	require.Eventually(t, func() bool {
		state = request(t, system, pid, &GetFeedStateMsg{}).(models.FeedState)
		return len(state.Posts) == n
	}, 2*time.Second, 10*time.Millisecond)
	return state
}

func TestSubscribeFeedIsIdempotent(t *testing.T) {
	store := database.NewMemoryStore()
	system, pid := spawnFeed(t, store)

	first := request(t, system, pid, &SubscribeFeedMsg{}).(*SubscribeResult)
	assert.Equal(t, uint64(1), first.Generation)
	assert.False(t, first.Reused)

	again := request(t, system, pid, &SubscribeFeedMsg{Limit: 10}).(*SubscribeResult)
	assert.True(t, again.Reused)
	assert.Equal(t, first.Generation, again.Generation)
	assert.Equal(t, 1, store.Subscriptions())

	forced := request(t, system, pid, &SubscribeFeedMsg{Force: true}).(*SubscribeResult)
	assert.False(t, forced.Reused)
	assert.Equal(t, uint64(2), forced.Generation)
	assert.Equal(t, 1, store.Subscriptions(), "reconnect replaces the old live query")

	request(t, system, pid, &UnsubscribeFeedMsg{})
	assert.Equal(t, 0, store.Subscriptions())
}

func TestFeedSnapshotsAreNewestFirstWithStats(t *testing.T) {
	store := database.NewMemoryStore()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	oldest := seedPost(t, store, "ann", base)
	middle := seedPost(t, store, "bob", base.Add(time.Minute), "u1", "u2", "u3", "u4", "u5", "u6")

	system, pid := spawnFeed(t, store)
	request(t, system, pid, &SubscribeFeedMsg{})
	waitForPosts(t, system, pid, 2)

	newest := seedPost(t, store, "ann", base.Add(2*time.Minute))
	state := waitForPosts(t, system, pid, 3)

	ids := []string{state.Posts[0].ID, state.Posts[1].ID, state.Posts[2].ID}
	assert.Equal(t, []string{newest, middle, oldest}, ids)
	assert.Equal(t, models.FeedStats{TotalPosts: 3, ActiveUsers: 2, Trending: 1}, state.Stats)
}

func TestFeedObserversReceiveStates(t *testing.T) {
	store := database.NewMemoryStore()
	system, pid := spawnFeed(t, store)
	request(t, system, pid, &SubscribeFeedMsg{})

	states := make(chan models.FeedState, 8)
	request(t, system, pid, &AddFeedObserverMsg{ID: "ws", Fn: func(s models.FeedState) { states <- s }})

	seedPost(t, store, "ann", time.Now())

	require.Eventually(t, func() bool {
		for {
			select {
			case s := <-states:
				if len(s.Posts) == 1 {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 10*time.Millisecond)

	request(t, system, pid, &RemoveFeedObserverMsg{ID: "ws"})
}

func TestToggleLikeConverges(t *testing.T) {
	store := database.NewMemoryStore()
	postID := seedPost(t, store, "ann", time.Now())

	system, pid := spawnFeed(t, store)
	request(t, system, pid, &SubscribeFeedMsg{})
	waitForPosts(t, system, pid, 1)

	liked := request(t, system, pid, &ToggleLikeMsg{PostID: postID, UserID: "u1"}).(*LikeResult)
	assert.True(t, liked.Liked)
	assert.Equal(t, 1, liked.DisplayLikes)

	doc, err := store.GetDocument(context.Background(), database.PostsCollection, postID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, database.StringSliceField(doc.Data, database.FieldLikes))
	assert.Equal(t, 1, database.IntField(doc.Data, database.FieldLikesCount))

	unliked := request(t, system, pid, &ToggleLikeMsg{PostID: postID, UserID: "u1", CurrentlyLiked: true}).(*LikeResult)
	assert.False(t, unliked.Liked)
	assert.Equal(t, 0, unliked.DisplayLikes)

	require.Eventually(t, func() bool {
		view := request(t, system, pid, &GetFeedMsg{UserID: "u1"}).(*models.FeedView)
		entry := view.Entries[0]
		return !entry.Liked && entry.DisplayLikes == 0 && !entry.Pending && entry.Post.LikesCount == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRapidToggleLikeAppliesInOrder(t *testing.T) {
	memory := database.NewMemoryStore()
	postID := seedPost(t, memory, "ann", time.Now(), "u2")

	system, pid := spawnFeed(t, slowLikes{memory})
	request(t, system, pid, &SubscribeFeedMsg{})
	waitForPosts(t, system, pid, 1)

	like := system.Root.RequestFuture(pid, &ToggleLikeMsg{PostID: postID, UserID: "u1"}, 5*time.Second)
	unlike := system.Root.RequestFuture(pid, &ToggleLikeMsg{PostID: postID, UserID: "u1", CurrentlyLiked: true}, 5*time.Second)

	_, err := like.Result()
	require.NoError(t, err)
	result, err := unlike.Result()
	require.NoError(t, err)
	assert.False(t, result.(*LikeResult).Liked)

	doc, err := memory.GetDocument(context.Background(), database.PostsCollection, postID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, database.StringSliceField(doc.Data, database.FieldLikes))
	assert.Equal(t, 1, database.IntField(doc.Data, database.FieldLikesCount))

	require.Eventually(t, func() bool {
		view := request(t, system, pid, &GetFeedMsg{UserID: "u1"}).(*models.FeedView)
		entry := view.Entries[0]
		return !entry.Liked && entry.DisplayLikes == 1 && !entry.Pending && entry.Post.LikesCount == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestToggleLikeRollsBackOnFailure(t *testing.T) {
	memory := database.NewMemoryStore()
	postID := seedPost(t, memory, "ann", time.Now(), "u2")

	system, pid := spawnFeed(t, failingUpdates{memory})
	request(t, system, pid, &SubscribeFeedMsg{})
	waitForPosts(t, system, pid, 1)

	result := request(t, system, pid, &ToggleLikeMsg{PostID: postID, UserID: "u1"})
	appErr, ok := result.(*utils.AppError)
	require.True(t, ok, "expected an AppError, got %T", result)
	assert.Equal(t, utils.ErrMutationFailed, appErr.Code)

	view := request(t, system, pid, &GetFeedMsg{UserID: "u1"}).(*models.FeedView)
	require.Len(t, view.Entries, 1)
	assert.False(t, view.Entries[0].Liked)
	assert.Equal(t, 1, view.Entries[0].DisplayLikes)
	assert.False(t, view.Entries[0].Pending)
}

func TestToggleLikeOutsideWindow(t *testing.T) {
	store := database.NewMemoryStore()
	postID := seedPost(t, store, "ann", time.Now())
	system, pid := spawnFeed(t, store)

	liked := request(t, system, pid, &ToggleLikeMsg{PostID: postID, UserID: "u1"}).(*LikeResult)
	assert.True(t, liked.Liked)
	assert.Equal(t, 1, liked.DisplayLikes)

	result := request(t, system, pid, &ToggleLikeMsg{PostID: "missing", UserID: "u1"})
	assert.True(t, utils.IsErrorCode(result.(error), utils.ErrNotFound))
}
