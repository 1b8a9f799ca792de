package engine

import (
	"log/slog"
	"time"

	"socialsphere/internal/database"
	"socialsphere/internal/engine/actors"
	"socialsphere/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
)

// Options tune the actors the engine spawns.
type Options struct {
	FeedLimit                int
	StoreTimeout             time.Duration
	CommentReconcileInterval time.Duration
}

// Engine coordinates communication between actors
type Engine struct {
	feedActor    *actor.PID
	postActor    *actor.PID
	commentActor *actor.PID
	profileActor *actor.PID
}

func NewEngine(system *actor.ActorSystem, store database.DocumentStore, identities actors.IdentityProvider, metrics *utils.MetricsCollector, logger *slog.Logger, opts Options) *Engine {
	context := system.Root

	// Spawn feed actor
	feedProps := actor.PropsFromProducer(func() actor.Actor {
		return actors.NewFeedActor(store, metrics, logger, opts.FeedLimit, opts.StoreTimeout)
	})
	feedPID := context.Spawn(feedProps)

	// Spawn post actor
	postProps := actor.PropsFromProducer(func() actor.Actor {
		return actors.NewPostActor(store, metrics, logger, opts.StoreTimeout)
	})
	postPID := context.Spawn(postProps)

	// Spawn comment actor
	commentProps := actor.PropsFromProducer(func() actor.Actor {
		return actors.NewCommentActor(store, metrics, logger, opts.StoreTimeout, opts.CommentReconcileInterval)
	})
	commentPID := context.Spawn(commentProps)

	// Spawn profile actor
	profileProps := actor.PropsFromProducer(func() actor.Actor {
		return actors.NewProfileActor(store, identities, metrics, logger, opts.StoreTimeout)
	})
	profilePID := context.Spawn(profileProps)

	return &Engine{
		feedActor:    feedPID,
		postActor:    postPID,
		commentActor: commentPID,
		profileActor: profilePID,
	}
}

// GetFeedActor returns the PID of the feed actor
func (e *Engine) GetFeedActor() *actor.PID {
	return e.feedActor
}

// GetPostActor returns the PID of the post actor
func (e *Engine) GetPostActor() *actor.PID {
	return e.postActor
}

// GetCommentActor returns the PID of the comment actor
func (e *Engine) GetCommentActor() *actor.PID {
	return e.commentActor
}

// GetProfileActor returns the PID of the profile actor
func (e *Engine) GetProfileActor() *actor.PID {
	return e.profileActor
}

// Stop stops every actor, releasing the feed subscription.
func (e *Engine) Stop(system *actor.ActorSystem) {
	for _, pid := range []*actor.PID{e.feedActor, e.postActor, e.commentActor, e.profileActor} {
		system.Root.Stop(pid)
	}
}
