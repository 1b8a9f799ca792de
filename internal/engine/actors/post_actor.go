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

const maxPageSize = 50

// Message types for Post operations
type (
	CreatePostMsg struct {
		Content string
		Author  models.Author
		Tags    []string
		Mood    models.Mood
	}

	GetPostMsg struct {
		PostID string
	}

	// FetchAuthorPostsMsg lists one author's posts, newest first.
	FetchAuthorPostsMsg struct {
		AuthorID string
	}

	// GetPostsPageMsg reads one page of the global newest-first listing.
	// Cursor is the NextCursor of the previous page.
	GetPostsPageMsg struct {
		Limit  int
		Cursor string
	}

	PostsPage struct {
		Posts      []*models.Post `json:"posts"`
		NextCursor string         `json:"nextCursor,omitempty"`
	}
)

// PostActor handles post authoring and one-shot post reads
type PostActor struct {
	storeDeps
}

// NewPostActor creates a new PostActor instance
func NewPostActor(store database.DocumentStore, metrics *utils.MetricsCollector, logger *slog.Logger, timeout time.Duration) actor.Actor {
	return &PostActor{storeDeps: newStoreDeps(store, metrics, logger.With("actor", "post"), timeout)}
}

// Receive handles incoming messages
func (a *PostActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *actor.Started:
		a.logger.Debug("post actor started")
	case *CreatePostMsg:
		a.handleCreatePost(context, msg)
	case *GetPostMsg:
		a.handleGetPost(context, msg)
	case *FetchAuthorPostsMsg:
		a.handleFetchAuthorPosts(context, msg)
	case *GetPostsPageMsg:
		a.handleGetPostsPage(context, msg)
	default:
		a.logger.Debug("unhandled message", "type", fmt.Sprintf("%T", msg))
	}
}

func (a *PostActor) handleCreatePost(context actor.Context, msg *CreatePostMsg) {
	startTime := time.Now()

	if msg.Author.ID == "" {
		context.Respond(utils.NewValidationError("author is required"))
		return
	}
	in, err := feed.NewPostInput(msg.Content, msg.Tags, msg.Mood)
	if err != nil {
		context.Respond(err)
		return
	}

	post := feed.NewPost(in, msg.Author, a.now())

	ctx, cancel := a.storeContext()
	defer cancel()
	id, err := a.store.CreateDocument(ctx, database.PostsCollection, database.PostToData(post))
	a.metrics.RecordMutation("create_post", err)
	if err != nil {
		a.logger.Error("failed to create post", "user_id", msg.Author.ID, "error", err)
		context.Respond(utils.NewMutationError("failed to create post", err))
		return
	}
	post.ID = id

	a.logger.Info("post created", "post_id", id, "user_id", msg.Author.ID)
	a.metrics.AddOperationLatency("create_post", time.Since(startTime))
	context.Respond(post)
}

func (a *PostActor) handleGetPost(context actor.Context, msg *GetPostMsg) {
	ctx, cancel := a.storeContext()
	defer cancel()

	doc, err := a.store.GetDocument(ctx, database.PostsCollection, msg.PostID)
	if err != nil {
		context.Respond(storeError("post not found", err))
		return
	}
	context.Respond(database.PostFromDocument(*doc, a.now()))
}

func (a *PostActor) handleFetchAuthorPosts(context actor.Context, msg *FetchAuthorPostsMsg) {
	startTime := time.Now()
	if msg.AuthorID == "" {
		context.Respond(utils.NewValidationError("author is required"))
		return
	}

	ctx, cancel := a.storeContext()
	defer cancel()

	q := database.Query{}.Where(database.FieldAuthorID, msg.AuthorID)
	docs, fellBack, err := a.queryNewestFirst(ctx, database.PostsCollection, q)
	if err != nil {
		context.Respond(storeError("failed to load author posts", err))
		return
	}

	posts := database.PostsFromDocuments(docs, a.now())
	if fellBack {
		feed.SortNewestFirst(posts)
	}

	a.metrics.AddOperationLatency("fetch_author_posts", time.Since(startTime))
	context.Respond(posts)
}

func (a *PostActor) handleGetPostsPage(context actor.Context, msg *GetPostsPageMsg) {
	limit := msg.Limit
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	ctx, cancel := a.storeContext()
	defer cancel()

	docs, err := a.store.QueryDocuments(ctx, database.PostsCollection, database.Query{
		OrderBy:    database.NewestFirst,
		Limit:      limit,
		StartAfter: msg.Cursor,
	})
	if err != nil {
		context.Respond(storeError("failed to load posts", err))
		return
	}

	page := &PostsPage{Posts: database.PostsFromDocuments(docs, a.now())}
	if len(docs) == limit {
		page.NextCursor = docs[len(docs)-1].ID
	}
	context.Respond(page)
}
