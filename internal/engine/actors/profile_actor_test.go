package actors

import (
	"context"
	"errors"
	"testing"
	"time"

	"socialsphere/internal/auth"
	"socialsphere/internal/database"
	"socialsphere/internal/middleware"
	"socialsphere/internal/models"
	"socialsphere/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func spawnProfiles(t *testing.T, store database.DocumentStore, identities IdentityProvider) (*actor.ActorSystem, *actor.PID) {
	t.Helper()
	system := actor.NewActorSystem()
	pid := system.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewProfileActor(store, identities, utils.NewMetricsCollector(), testLogger(), time.Second)
	}))
	t.Cleanup(func() { system.Root.Stop(pid) })
	return system, pid
}

func newProvider(t *testing.T, store database.DocumentStore) *auth.Provider {
	t.Helper()
	p, err := auth.NewProvider(store, middleware.NewTokenIssuer("test-secret", time.Hour), testLogger(), auth.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	return p
}

func TestSignUpCreatesProfileAndSession(t *testing.T) {
	store := database.NewMemoryStore()
	provider := newProvider(t, store)
	system, pid := spawnProfiles(t, store, provider)

	result := request(t, system, pid, &SignUpMsg{Email: "Ann@Example.com", Password: "hunter22", Name: " Ann ", Bio: "hi"})
	signUp, ok := result.(*SignUpResult)
	require.True(t, ok, "expected a sign-up result, got %T", result)

	assert.Equal(t, "ann@example.com", signUp.Profile.Email)
	assert.Equal(t, "Ann", signUp.Profile.Name)
	assert.False(t, signUp.Profile.Transient)
	assert.NotEmpty(t, signUp.Session.Token)

	identity, err := provider.ValidateSession(signUp.Session.Token)
	require.NoError(t, err)
	assert.Equal(t, signUp.Profile.ID, identity.UserID)

	stored := request(t, system, pid, &GetProfileMsg{UserID: identity.UserID}).(*models.UserProfile)
	assert.Equal(t, "hi", stored.Bio)

	again := request(t, system, pid, &SignUpMsg{Email: "ann@example.com", Password: "hunter22", Name: "Ann"})
	assert.True(t, utils.IsErrorCode(again.(error), utils.ErrUserAlreadyExists))
}

func TestSignUpValidation(t *testing.T) {
	store := database.NewMemoryStore()
	system, pid := spawnProfiles(t, store, newProvider(t, store))

	result := request(t, system, pid, &SignUpMsg{Email: "not-an-email", Password: "hunter22", Name: "Ann"})
	assert.True(t, utils.IsErrorCode(result.(error), utils.ErrInvalidInput))

	result = request(t, system, pid, &SignUpMsg{Email: "ann@example.com", Password: "123", Name: "Ann"})
	assert.True(t, utils.IsErrorCode(result.(error), utils.ErrWeakPassword))
}

// profileWritesFail rejects writes to the users collection only.
type profileWritesFail struct {
	database.DocumentStore
}

func (s profileWritesFail) SetDocument(ctx context.Context, collection, id string, data map[string]any) error {
	if collection == database.UsersCollection {
		return errors.New("quota exceeded")
	}
	return s.DocumentStore.SetDocument(ctx, collection, id, data)
}

func TestSignUpSurvivesProfileWriteFailure(t *testing.T) {
	store := profileWritesFail{database.NewMemoryStore()}
	system, pid := spawnProfiles(t, store, newProvider(t, store))

	signUp := request(t, system, pid, &SignUpMsg{Email: "ann@example.com", Password: "hunter22", Name: "Ann"}).(*SignUpResult)
	assert.True(t, signUp.Profile.Transient)
	assert.NotEmpty(t, signUp.Session.Token)
}

func TestSessionProfileFallsBackToIdentity(t *testing.T) {
	store := database.NewMemoryStore()
	system, pid := spawnProfiles(t, store, newProvider(t, store))

	profile := request(t, system, pid, &SessionProfileMsg{Identity: auth.Identity{UserID: "u9", Email: "x@example.com"}}).(*models.UserProfile)
	assert.Equal(t, "User", profile.Name)
	assert.Equal(t, "", profile.Bio)
	assert.True(t, profile.Transient)

	profile = request(t, system, pid, &SessionProfileMsg{Identity: auth.Identity{UserID: "u9", DisplayName: "Xena"}}).(*models.UserProfile)
	assert.Equal(t, "Xena", profile.Name)

	require.NoError(t, store.SetDocument(context.Background(), database.UsersCollection, "u9", database.ProfileToData(&models.UserProfile{
		Email: "x@example.com", Name: "Xena", Bio: "warrior", CreatedAt: time.Now(),
	})))
	profile = request(t, system, pid, &SessionProfileMsg{Identity: auth.Identity{UserID: "u9"}}).(*models.UserProfile)
	assert.Equal(t, "warrior", profile.Bio)
	assert.False(t, profile.Transient)
}
