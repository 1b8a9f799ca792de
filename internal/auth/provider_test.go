package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"socialsphere/internal/database"
	"socialsphere/internal/middleware"
	"socialsphere/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestProvider(t *testing.T, store database.DocumentStore) *Provider {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := NewProvider(store, middleware.NewTokenIssuer("test-secret", time.Hour), logger, WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	return p
}

func TestCreateAccountAndAuthenticate(t *testing.T) {
	p := newTestProvider(t, database.NewMemoryStore())
	ctx := context.Background()

	identity, err := p.CreateAccount(ctx, " Ann@Example.com ", "hunter22", "Ann")
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", identity.Email)
	assert.NotEmpty(t, identity.UserID)

	session, err := p.Authenticate(ctx, "ann@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, identity, session.Identity)
	assert.NotEmpty(t, session.Token)

	got, err := p.ValidateSession(session.Token)
	require.NoError(t, err)
	assert.Equal(t, identity, got)
}

func TestAuthErrorCategories(t *testing.T) {
	p := newTestProvider(t, database.NewMemoryStore())
	ctx := context.Background()

	_, err := p.CreateAccount(ctx, "ann@example.com", "12345", "Ann")
	assert.True(t, utils.IsErrorCode(err, utils.ErrWeakPassword))

	_, err = p.CreateAccount(ctx, "ann@example.com", "123456", "Ann")
	require.NoError(t, err)

	_, err = p.CreateAccount(ctx, "ANN@example.com", "abcdef", "Other")
	assert.True(t, utils.IsErrorCode(err, utils.ErrUserAlreadyExists))

	_, err = p.Authenticate(ctx, "nobody@example.com", "123456")
	assert.True(t, utils.IsErrorCode(err, utils.ErrUserNotFound))

	_, err = p.Authenticate(ctx, "ann@example.com", "wrong!")
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidCredentials))
}

type unavailableStore struct {
	database.DocumentStore
}

func (unavailableStore) QueryDocuments(ctx context.Context, collection string, q database.Query) ([]database.Document, error) {
	return nil, errors.New("connection refused")
}

func TestAuthUnavailable(t *testing.T) {
	p := newTestProvider(t, unavailableStore{database.NewMemoryStore()})

	_, err := p.Authenticate(context.Background(), "ann@example.com", "123456")
	assert.True(t, utils.IsErrorCode(err, utils.ErrAuthUnavailable))
	assert.True(t, utils.IsAuthError(err))
}

func TestEndSessionRevokesTokenAndNotifies(t *testing.T) {
	p := newTestProvider(t, database.NewMemoryStore())
	ctx := context.Background()

	var events []SessionEvent
	cancel := p.OnSessionChange(func(ev SessionEvent) { events = append(events, ev) })
	defer cancel()

	_, err := p.CreateAccount(ctx, "ann@example.com", "123456", "Ann")
	require.NoError(t, err)
	session, err := p.Authenticate(ctx, "ann@example.com", "123456")
	require.NoError(t, err)

	other, err := p.Authenticate(ctx, "ann@example.com", "123456")
	require.NoError(t, err)

	require.NoError(t, p.EndSession(ctx, session.Token))

	_, err = p.ValidateSession(session.Token)
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidToken))

	_, err = p.ValidateSession(other.Token)
	assert.NoError(t, err, "ending one session leaves the others alone")

	require.Len(t, events, 3)
	assert.True(t, events[0].SignedIn)
	assert.False(t, events[2].SignedIn)
	assert.Equal(t, session.Identity.UserID, events[2].Identity.UserID)
}

func TestValidateSessionRejectsForeignTokens(t *testing.T) {
	p := newTestProvider(t, database.NewMemoryStore())

	foreign := middleware.NewTokenIssuer("another-secret", time.Hour)
	token, _, err := foreign.Issue("u1", "x@example.com", "")
	require.NoError(t, err)

	_, err = p.ValidateSession(token)
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidToken))

	_, err = p.ValidateSession("not-a-jwt")
	assert.Error(t, err)
}
