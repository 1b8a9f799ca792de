package actors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"socialsphere/internal/auth"
	"socialsphere/internal/database"
	"socialsphere/internal/feed"
	"socialsphere/internal/models"
	"socialsphere/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
)

// IdentityProvider is the part of the auth provider sign-up needs.
type IdentityProvider interface {
	CreateAccount(ctx context.Context, email, password, displayName string) (auth.Identity, error)
	StartSession(identity auth.Identity) (auth.Session, error)
}

// Message types for profile operations
type (
	SignUpMsg struct {
		Email    string
		Password string
		Name     string
		Bio      string
	}

	SignUpResult struct {
		Session auth.Session        `json:"session"`
		Profile *models.UserProfile `json:"profile"`
	}

	// SessionProfileMsg resolves the profile for a signed-in identity,
	// synthesizing one from the identity when none is stored.
	SessionProfileMsg struct {
		Identity auth.Identity
	}

	GetProfileMsg struct {
		UserID string
	}
)

// ProfileActor handles account creation and profile reads
type ProfileActor struct {
	storeDeps
	identities IdentityProvider
}

func NewProfileActor(store database.DocumentStore, identities IdentityProvider, metrics *utils.MetricsCollector, logger *slog.Logger, timeout time.Duration) actor.Actor {
	return &ProfileActor{
		storeDeps:  newStoreDeps(store, metrics, logger.With("actor", "profile"), timeout),
		identities: identities,
	}
}

func (a *ProfileActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *actor.Started:
		a.logger.Debug("profile actor started")
	case *SignUpMsg:
		a.handleSignUp(context, msg)
	case *SessionProfileMsg:
		a.handleSessionProfile(context, msg)
	case *GetProfileMsg:
		ctx, cancel := a.storeContext()
		defer cancel()
		doc, err := a.store.GetDocument(ctx, database.UsersCollection, msg.UserID)
		if err != nil {
			context.Respond(storeError("profile not found", err))
			return
		}
		context.Respond(database.ProfileFromDocument(*doc, a.now()))
	default:
		a.logger.Debug("unhandled message", "type", fmt.Sprintf("%T", msg))
	}
}

// handleSignUp creates the account, then the profile, then signs the user
// in. A failed profile write does not undo the account; the returned
// profile is marked transient and the session still starts.
func (a *ProfileActor) handleSignUp(context actor.Context, msg *SignUpMsg) {
	startTime := time.Now()

	in, err := feed.NewSignUpInput(msg.Email, msg.Name, msg.Bio)
	if err != nil {
		context.Respond(err)
		return
	}

	ctx, cancel := a.storeContext()
	defer cancel()

	identity, err := a.identities.CreateAccount(ctx, in.Email, msg.Password, in.Name)
	if err != nil {
		a.logger.Info("sign-up rejected", "email", in.Email, "error", err)
		context.Respond(err)
		return
	}

	profile := &models.UserProfile{
		ID:        identity.UserID,
		Email:     identity.Email,
		Name:      in.Name,
		Bio:       in.Bio,
		CreatedAt: a.now(),
	}
	err = a.store.SetDocument(ctx, database.UsersCollection, profile.ID, database.ProfileToData(profile))
	a.metrics.RecordMutation("create_profile", err)
	if err != nil {
		a.logger.Warn("account created without profile", "user_id", profile.ID, "error", err)
		profile.Transient = true
	}

	session, err := a.identities.StartSession(identity)
	if err != nil {
		context.Respond(err)
		return
	}

	a.logger.Info("user signed up", "user_id", profile.ID)
	a.metrics.AddOperationLatency("sign_up", time.Since(startTime))
	context.Respond(&SignUpResult{Session: session, Profile: profile})
}

func (a *ProfileActor) handleSessionProfile(context actor.Context, msg *SessionProfileMsg) {
	ctx, cancel := a.storeContext()
	defer cancel()

	doc, err := a.store.GetDocument(ctx, database.UsersCollection, msg.Identity.UserID)
	if err == nil {
		context.Respond(database.ProfileFromDocument(*doc, a.now()))
		return
	}
	if !errors.Is(err, database.ErrNotFound) {
		a.logger.Warn("profile lookup failed, using identity", "user_id", msg.Identity.UserID, "error", err)
	}
	context.Respond(fallbackProfile(msg.Identity, a.now()))
}

func fallbackProfile(identity auth.Identity, now time.Time) *models.UserProfile {
	name := identity.DisplayName
	if name == "" {
		name = "User"
	}
	return &models.UserProfile{
		ID:        identity.UserID,
		Email:     identity.Email,
		Name:      name,
		CreatedAt: now,
		Transient: true,
	}
}
