package actors

import (
	"fmt"
	"log/slog"
	"time"

	"socialsphere/internal/database"
	"socialsphere/internal/feed"
	"socialsphere/internal/models"
	"socialsphere/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
)

// Message types for feed operations
type (
	// SubscribeFeedMsg opens the live query over the newest Limit posts.
	// It is a no-op when the same window is already open, unless Force is
	// set, which reopens it (reconnect).
	SubscribeFeedMsg struct {
		Limit int
		Force bool
	}

	UnsubscribeFeedMsg struct{}

	GetFeedMsg struct {
		UserID string
	}

	GetFeedStateMsg struct{}

	// AddFeedObserverMsg registers Fn to receive every published state.
	// Fn runs on the feed actor and must not block.
	AddFeedObserverMsg struct {
		ID string
		Fn func(models.FeedState)
	}

	RemoveFeedObserverMsg struct {
		ID string
	}

	ToggleLikeMsg struct {
		PostID         string
		UserID         string
		CurrentlyLiked bool
	}

	// SubscribeResult is the reply to SubscribeFeedMsg.
	SubscribeResult struct {
		Generation uint64
		Reused     bool
	}

	// LikeResult is the reply to ToggleLikeMsg once the store answered.
	LikeResult struct {
		PostID       string `json:"postId"`
		Liked        bool   `json:"liked"`
		DisplayLikes int    `json:"displayLikes"`
	}

	snapshotMsg struct {
		Generation uint64
		Docs       []database.Document
	}

	likeSettledMsg struct {
		PostID  string
		UserID  string
		Like    bool
		Err     error
		Post    *models.Post
		ReplyTo *actor.PID
		Started time.Time
	}
)

// FeedActor owns the live feed window. Snapshots, like toggles and reads
// are all serialized through its mailbox, so it is the only writer of the
// post list and statistics.
type FeedActor struct {
	storeDeps
	defaultLimit int

	generation  uint64
	sequence    uint64
	limit       int
	subscribed  bool
	unsubscribe database.Unsubscribe

	state     models.FeedState
	byID      map[string]*models.Post
	ledger    *feed.LikeLedger
	observers map[string]func(models.FeedState)

	// Like mutations per post, in issue order. The head is in flight; the
	// next one starts only after it settles.
	likeQueues map[string][]*likeJob
}

type likeJob struct {
	fields  map[string]database.Mutation
	settled *likeSettledMsg
}

func NewFeedActor(store database.DocumentStore, metrics *utils.MetricsCollector, logger *slog.Logger, defaultLimit int, timeout time.Duration) actor.Actor {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	return &FeedActor{
		storeDeps:    newStoreDeps(store, metrics, logger.With("actor", "feed"), timeout),
		defaultLimit: defaultLimit,
		byID:         make(map[string]*models.Post),
		ledger:       feed.NewLikeLedger(),
		observers:    make(map[string]func(models.FeedState)),
		likeQueues:   make(map[string][]*likeJob),
	}
}

func (a *FeedActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *actor.Started:
		a.logger.Debug("feed actor started")

	case *actor.Stopping:
		a.release()

	case *SubscribeFeedMsg:
		a.handleSubscribe(context, msg)

	case *UnsubscribeFeedMsg:
		a.release()
		a.subscribed = false
		a.generation++
		context.Respond(true)

	case *snapshotMsg:
		a.handleSnapshot(msg)

	case *GetFeedMsg:
		context.Respond(a.view(msg.UserID))

	case *GetFeedStateMsg:
		context.Respond(a.state)

	case *AddFeedObserverMsg:
		a.observers[msg.ID] = msg.Fn
		if a.subscribed {
			msg.Fn(a.state)
		}
		context.Respond(true)

	case *RemoveFeedObserverMsg:
		delete(a.observers, msg.ID)
		context.Respond(true)

	case *ToggleLikeMsg:
		a.handleToggleLike(context, msg)

	case *likeSettledMsg:
		a.handleLikeSettled(context, msg)

	default:
		a.logger.Debug("unhandled message", "type", fmt.Sprintf("%T", msg))
	}
}

func (a *FeedActor) handleSubscribe(context actor.Context, msg *SubscribeFeedMsg) {
	limit := msg.Limit
	if limit <= 0 {
		limit = a.defaultLimit
	}

	if a.subscribed && limit == a.limit && !msg.Force {
		context.Respond(&SubscribeResult{Generation: a.generation, Reused: true})
		return
	}

	// Drop the old live query before opening the new one; its late
	// snapshots carry the old generation and are ignored.
	a.release()
	a.generation++
	gen := a.generation

	root := context.ActorSystem().Root
	self := context.Self()
	q := database.Query{OrderBy: database.NewestFirst, Limit: limit}

	ctx, cancel := a.storeContext()
	defer cancel()
	unsubscribe, err := a.store.SubscribeQuery(ctx, database.PostsCollection, q, func(docs []database.Document) {
		root.Send(self, &snapshotMsg{Generation: gen, Docs: docs})
	})
	if err != nil {
		a.subscribed = false
		a.logger.Error("feed subscription failed", "generation", gen, "error", err)
		context.Respond(storeError("failed to subscribe to feed", err))
		return
	}

	a.unsubscribe = unsubscribe
	a.subscribed = true
	a.limit = limit
	a.logger.Info("feed subscribed", "generation", gen, "limit", limit)
	context.Respond(&SubscribeResult{Generation: gen})
}

func (a *FeedActor) release() {
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
}

func (a *FeedActor) handleSnapshot(msg *snapshotMsg) {
	if msg.Generation != a.generation || !a.subscribed {
		a.logger.Debug("dropping stale snapshot", "generation", msg.Generation, "current", a.generation)
		return
	}

	now := a.now()
	posts := database.PostsFromDocuments(msg.Docs, now)

	byID := make(map[string]*models.Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}
	a.byID = byID
	a.ledger.Observe(posts)
	a.sequence++
	a.state = models.FeedState{
		Generation: msg.Generation,
		Sequence:   a.sequence,
		Posts:      posts,
		Stats:      feed.ComputeStats(posts),
		UpdatedAt:  now,
	}
	a.metrics.IncrementSnapshots()

	for _, fn := range a.observers {
		fn(a.state)
	}
}

func (a *FeedActor) view(userID string) *models.FeedView {
	entries := make([]models.FeedEntry, len(a.state.Posts))
	for i, p := range a.state.Posts {
		entries[i] = a.ledger.Entry(p, userID)
	}
	return &models.FeedView{
		Generation: a.state.Generation,
		Entries:    entries,
		Stats:      a.state.Stats,
		Subscribed: a.subscribed,
	}
}

// handleToggleLike flips the local view at once and queues the remote
// mutation behind any still in flight for the same post, so the store
// applies a post's toggles in issue order. The reply is sent when the store
// answers.
func (a *FeedActor) handleToggleLike(context actor.Context, msg *ToggleLikeMsg) {
	if msg.PostID == "" || msg.UserID == "" {
		context.Respond(utils.NewValidationError("post and user are required"))
		return
	}

	post, ok := a.byID[msg.PostID]
	if !ok {
		// Posts outside the live window can still be liked.
		ctx, cancel := a.storeContext()
		doc, err := a.store.GetDocument(ctx, database.PostsCollection, msg.PostID)
		cancel()
		if err != nil {
			context.Respond(storeError("post not found", err))
			return
		}
		post = database.PostFromDocument(*doc, a.now())
	}

	like := a.ledger.Begin(post, msg.UserID, msg.CurrentlyLiked)

	fields := map[string]database.Mutation{
		database.FieldLikes:      database.SetRemove(msg.UserID),
		database.FieldLikesCount: database.Increment(-1),
	}
	if like {
		fields = map[string]database.Mutation{
			database.FieldLikes:      database.SetAdd(msg.UserID),
			database.FieldLikesCount: database.Increment(1),
		}
	}

	job := &likeJob{
		fields: fields,
		settled: &likeSettledMsg{
			PostID:  msg.PostID,
			UserID:  msg.UserID,
			Like:    like,
			Post:    post,
			ReplyTo: context.Sender(),
			Started: time.Now(),
		},
	}
	queue := append(a.likeQueues[msg.PostID], job)
	a.likeQueues[msg.PostID] = queue
	if len(queue) == 1 {
		a.startLike(context, job)
	}
}

// startLike issues job's mutation in the background and reports back to the
// actor when the store answers.
func (a *FeedActor) startLike(context actor.Context, job *likeJob) {
	root := context.ActorSystem().Root
	self := context.Self()
	deps := a.storeDeps
	settled := job.settled

	go func() {
		ctx, cancel := deps.storeContext()
		defer cancel()
		settled.Err = deps.store.UpdateFields(ctx, database.PostsCollection, settled.PostID, job.fields)
		root.Send(self, settled)
	}()
}

// advanceLikes drops the settled head of postID's queue and starts the next
// mutation, if any.
func (a *FeedActor) advanceLikes(context actor.Context, postID string) {
	queue := a.likeQueues[postID]
	if len(queue) > 0 {
		queue = queue[1:]
	}
	if len(queue) == 0 {
		delete(a.likeQueues, postID)
		return
	}
	a.likeQueues[postID] = queue
	a.startLike(context, queue[0])
}

func (a *FeedActor) handleLikeSettled(context actor.Context, msg *likeSettledMsg) {
	a.advanceLikes(context, msg.PostID)

	latest, inWindow := a.byID[msg.PostID]
	if !inWindow {
		latest = nil
	}
	a.ledger.Settle(msg.PostID, msg.UserID, msg.Like, msg.Err, latest)
	a.metrics.RecordMutation("like", msg.Err)
	a.metrics.AddOperationLatency("toggle_like", time.Since(msg.Started))

	var reply interface{}
	if msg.Err != nil {
		a.logger.Warn("like mutation failed, rolled back", "post_id", msg.PostID, "user_id", msg.UserID, "error", msg.Err)
		reply = utils.NewMutationError("failed to update like", msg.Err)
	} else {
		post := msg.Post
		if inWindow {
			post = a.byID[msg.PostID]
		}
		entry := a.ledger.Entry(post, msg.UserID)
		reply = &LikeResult{PostID: msg.PostID, Liked: entry.Liked, DisplayLikes: entry.DisplayLikes}
	}

	if msg.ReplyTo != nil {
		context.Send(msg.ReplyTo, reply)
	}
}
