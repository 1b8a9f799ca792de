package actors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"socialsphere/internal/database"
	"socialsphere/internal/feed"
	"socialsphere/internal/models"
	"socialsphere/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
)

// Message types for comment operations
type (
	SubmitCommentMsg struct {
		PostID  string
		Content string
		Author  models.Author
	}

	// SubmitCommentResult carries the stored comment. CountStale is set when
	// the comment was written but the post's counter was not; the post is
	// queued for reconciliation.
	SubmitCommentResult struct {
		Comment    *models.Comment `json:"comment"`
		CountStale bool            `json:"countStale,omitempty"`
	}

	LoadCommentsMsg struct {
		PostID string
	}

	// ReconcileCommentCountsMsg recomputes the counter of every post whose
	// increment failed. Sent periodically by the actor to itself.
	ReconcileCommentCountsMsg struct{}

	ReconcilePostMsg struct {
		PostID string
	}

	ReconcileResult struct {
		PostID  string `json:"postId"`
		Count   int    `json:"count"`
		Changed bool   `json:"changed"`
	}
)

// CommentActor handles comment submission, on-demand comment lists and
// comment counter repair.
type CommentActor struct {
	storeDeps
	reconcileInterval time.Duration
	cancelReconcile   scheduler.CancelFunc

	// Comment lists loaded so far, newest first, keyed by post.
	commentsByPost map[string][]*models.Comment
	// Posts whose commentsCount may be behind their comments.
	dirty map[string]bool
}

func NewCommentActor(store database.DocumentStore, metrics *utils.MetricsCollector, logger *slog.Logger, timeout, reconcileInterval time.Duration) actor.Actor {
	return &CommentActor{
		storeDeps:         newStoreDeps(store, metrics, logger.With("actor", "comment"), timeout),
		reconcileInterval: reconcileInterval,
		commentsByPost:    make(map[string][]*models.Comment),
		dirty:             make(map[string]bool),
	}
}

func (a *CommentActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *actor.Started:
		if a.reconcileInterval > 0 {
			timer := scheduler.NewTimerScheduler(context.ActorSystem().Root)
			a.cancelReconcile = timer.SendRepeatedly(a.reconcileInterval, a.reconcileInterval, context.Self(), &ReconcileCommentCountsMsg{})
		}

	case *actor.Stopping:
		if a.cancelReconcile != nil {
			a.cancelReconcile()
		}

	case *SubmitCommentMsg:
		a.handleSubmit(context, msg)

	case *LoadCommentsMsg:
		a.handleLoad(context, msg)

	case *ReconcileCommentCountsMsg:
		for postID := range a.dirty {
			if _, err := a.reconcile(postID); err != nil {
				a.logger.Warn("comment count reconciliation failed", "post_id", postID, "error", err)
			}
		}
		if context.Sender() != nil {
			context.Respond(len(a.dirty))
		}

	case *ReconcilePostMsg:
		result, err := a.reconcile(msg.PostID)
		if err != nil {
			context.Respond(storeError("failed to reconcile comment count", err))
			return
		}
		context.Respond(result)

	default:
		a.logger.Debug("unhandled message", "type", fmt.Sprintf("%T", msg))
	}
}

func (a *CommentActor) handleSubmit(context actor.Context, msg *SubmitCommentMsg) {
	startTime := time.Now()

	if msg.Author.ID == "" {
		context.Respond(utils.NewValidationError("author is required"))
		return
	}
	in, err := feed.NewCommentInput(msg.PostID, msg.Content)
	if err != nil {
		context.Respond(err)
		return
	}
	comment := feed.NewComment(in, msg.Author, a.now())

	ctx, cancel := a.storeContext()
	defer cancel()

	countStale := false
	if tx, ok := a.store.(database.Transactor); ok {
		err = a.submitAtomically(ctx, tx, comment)
		if errors.Is(err, database.ErrTransactionsUnsupported) {
			a.logger.Info("transactions unavailable, writing comment in two steps", "post_id", comment.PostID)
			countStale, err = a.submitInTwoSteps(ctx, comment)
		}
	} else {
		countStale, err = a.submitInTwoSteps(ctx, comment)
	}
	a.metrics.RecordMutation("comment", err)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			context.Respond(utils.NewAppError(utils.ErrNotFound, "post not found", err))
			return
		}
		a.logger.Error("failed to submit comment", "post_id", comment.PostID, "error", err)
		context.Respond(utils.NewMutationError("failed to submit comment", err))
		return
	}

	if list, loaded := a.commentsByPost[comment.PostID]; loaded {
		a.commentsByPost[comment.PostID] = append([]*models.Comment{comment}, list...)
	}

	a.metrics.AddOperationLatency("submit_comment", time.Since(startTime))
	context.Respond(&SubmitCommentResult{Comment: comment, CountStale: countStale})
}

// submitAtomically writes the comment and bumps the post's counter in one
// transaction. A missing post aborts both.
func (a *CommentActor) submitAtomically(ctx context.Context, tx database.Transactor, comment *models.Comment) error {
	return tx.RunTransaction(ctx, func(ctx context.Context, w database.Writer) error {
		id, err := w.CreateDocument(ctx, database.CommentsCollection, database.CommentToData(comment))
		if err != nil {
			return err
		}
		comment.ID = id
		return w.UpdateFields(ctx, database.PostsCollection, comment.PostID, map[string]database.Mutation{
			database.FieldCommentsCount: database.Increment(1),
		})
	})
}

// submitInTwoSteps writes the comment, then bumps the counter. If only the
// first write lands, the comment stands and the post is queued for repair.
// A missing post fails before anything is written.
func (a *CommentActor) submitInTwoSteps(ctx context.Context, comment *models.Comment) (countStale bool, err error) {
	if _, err := a.store.GetDocument(ctx, database.PostsCollection, comment.PostID); err != nil {
		return false, err
	}

	id, err := a.store.CreateDocument(ctx, database.CommentsCollection, database.CommentToData(comment))
	if err != nil {
		return false, err
	}
	comment.ID = id

	err = a.store.UpdateFields(ctx, database.PostsCollection, comment.PostID, map[string]database.Mutation{
		database.FieldCommentsCount: database.Increment(1),
	})
	if err != nil {
		a.metrics.RecordMutation("comment_count", err)
		a.logger.Warn("comment stored but count not updated", "post_id", comment.PostID, "error", err)
		a.dirty[comment.PostID] = true
		return true, nil
	}
	return false, nil
}

func (a *CommentActor) handleLoad(context actor.Context, msg *LoadCommentsMsg) {
	if msg.PostID == "" {
		context.Respond(utils.NewValidationError("post is required"))
		return
	}

	ctx, cancel := a.storeContext()
	defer cancel()

	q := database.Query{}.Where(database.FieldPostID, msg.PostID)
	docs, fellBack, err := a.queryNewestFirst(ctx, database.CommentsCollection, q)
	if err != nil {
		context.Respond(storeError("failed to load comments", err))
		return
	}

	comments := database.CommentsFromDocuments(docs, a.now())
	if fellBack {
		feed.SortCommentsNewestFirst(comments)
	}
	a.commentsByPost[msg.PostID] = comments
	context.Respond(comments)
}

// reconcile sets the post's commentsCount to its actual number of comments.
func (a *CommentActor) reconcile(postID string) (*ReconcileResult, error) {
	ctx, cancel := a.storeContext()
	defer cancel()

	docs, err := a.store.QueryDocuments(ctx, database.CommentsCollection, database.Query{}.Where(database.FieldPostID, postID))
	if err != nil {
		return nil, err
	}
	count := len(docs)

	post, err := a.store.GetDocument(ctx, database.PostsCollection, postID)
	if errors.Is(err, database.ErrNotFound) {
		// Comments on a post that does not exist have no counter to fix.
		delete(a.dirty, postID)
		return &ReconcileResult{PostID: postID, Count: count}, nil
	}
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{PostID: postID, Count: count}
	if database.IntField(post.Data, database.FieldCommentsCount) != count {
		err = a.store.UpdateFields(ctx, database.PostsCollection, postID, map[string]database.Mutation{
			database.FieldCommentsCount: database.Literal(int64(count)),
		})
		if err != nil {
			return nil, err
		}
		result.Changed = true
		a.logger.Info("comment count repaired", "post_id", postID, "count", count)
	}

	delete(a.dirty, postID)
	return result, nil
}
