// Package auth is the identity provider: credential accounts, session tokens
// and sign-in/sign-out notifications.
package auth

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"socialsphere/internal/database"
	"socialsphere/internal/middleware"
	"socialsphere/internal/utils"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const MinPasswordLength = 6

// Identity is who a session belongs to.
type Identity struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

type Session struct {
	Token     string    `json:"token"`
	Identity  Identity  `json:"identity"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionEvent reports a sign-in or sign-out. Identity is nil on sign-out
// only when the token could not be attributed to a user.
type SessionEvent struct {
	Identity *Identity
	SignedIn bool
}

type Option func(*Provider)

// WithBcryptCost overrides the hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(p *Provider) { p.cost = cost }
}

// Provider keeps accounts in the accounts collection of the document store
// and issues JWT sessions.
type Provider struct {
	store  database.DocumentStore
	tokens *middleware.TokenIssuer
	logger *slog.Logger
	cost   int

	// dummyHash is compared against when the account is unknown so that
	// lookups of missing accounts cost the same as wrong passwords.
	dummyHash []byte

	mu        sync.Mutex
	revoked   map[string]time.Time
	observers map[uint64]func(SessionEvent)
	nextObs   uint64
}

func NewProvider(store database.DocumentStore, tokens *middleware.TokenIssuer, logger *slog.Logger, opts ...Option) (*Provider, error) {
	p := &Provider{
		store:     store,
		tokens:    tokens,
		logger:    logger,
		cost:      bcrypt.DefaultCost,
		revoked:   make(map[string]time.Time),
		observers: make(map[uint64]func(SessionEvent)),
	}
	for _, opt := range opts {
		opt(p)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), p.cost)
	if err != nil {
		return nil, err
	}
	p.dummyHash = hash
	return p, nil
}

// CreateAccount registers a new credential account. It does not sign the
// user in; call StartSession for that.
func (p *Provider) CreateAccount(ctx context.Context, email, password, displayName string) (Identity, error) {
	email = normalizeEmail(email)
	if len(password) < MinPasswordLength {
		return Identity{}, utils.NewAppError(utils.ErrWeakPassword, "password must be at least 6 characters", nil)
	}

	existing, err := p.findAccount(ctx, email)
	if err != nil {
		return Identity{}, err
	}
	if existing != nil {
		return Identity{}, utils.NewAppError(utils.ErrUserAlreadyExists, "an account with this email already exists", nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return Identity{}, utils.NewAppError(utils.ErrAuthUnavailable, "failed to hash password", err)
	}

	account := &database.AccountDocument{
		UserID:       uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  strings.TrimSpace(displayName),
		CreatedAt:    time.Now(),
	}
	if err := p.store.SetDocument(ctx, database.AccountsCollection, account.UserID, database.AccountToData(account)); err != nil {
		return Identity{}, utils.NewAppError(utils.ErrAuthUnavailable, "failed to save account", err)
	}

	p.logger.Info("account created", "user_id", account.UserID)
	return identityOf(account), nil
}

// Authenticate checks credentials and starts a session.
func (p *Provider) Authenticate(ctx context.Context, email, password string) (Session, error) {
	account, err := p.findAccount(ctx, normalizeEmail(email))
	if err != nil {
		return Session{}, err
	}

	if account == nil {
		_ = bcrypt.CompareHashAndPassword(p.dummyHash, []byte(password))
		return Session{}, utils.NewAppError(utils.ErrUserNotFound, "no account found with this email", nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Session{}, utils.NewAppError(utils.ErrInvalidCredentials, "incorrect password", nil)
	}

	return p.StartSession(identityOf(account))
}

// StartSession issues a token for identity and notifies observers.
func (p *Provider) StartSession(identity Identity) (Session, error) {
	token, claims, err := p.tokens.Issue(identity.UserID, identity.Email, identity.DisplayName)
	if err != nil {
		return Session{}, utils.NewAppError(utils.ErrAuthUnavailable, "failed to issue session token", err)
	}

	p.notify(SessionEvent{Identity: &identity, SignedIn: true})
	return Session{Token: token, Identity: identity, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// ValidateClaims parses token and rejects revoked sessions.
func (p *Provider) ValidateClaims(token string) (*middleware.Claims, error) {
	claims, err := p.tokens.Parse(token)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrInvalidToken, "invalid session token", err)
	}

	p.mu.Lock()
	_, revoked := p.revoked[claims.ID]
	p.mu.Unlock()
	if revoked {
		return nil, utils.NewAppError(utils.ErrInvalidToken, "session has ended", nil)
	}
	return claims, nil
}

func (p *Provider) ValidateSession(token string) (Identity, error) {
	claims, err := p.ValidateClaims(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: claims.UserID, Email: claims.Email, DisplayName: claims.DisplayName}, nil
}

// EndSession revokes token until it would have expired anyway.
func (p *Provider) EndSession(ctx context.Context, token string) error {
	claims, err := p.ValidateClaims(token)
	if err != nil {
		return err
	}

	now := time.Now()
	p.mu.Lock()
	for id, exp := range p.revoked {
		if exp.Before(now) {
			delete(p.revoked, id)
		}
	}
	p.revoked[claims.ID] = claims.ExpiresAt.Time
	p.mu.Unlock()

	identity := Identity{UserID: claims.UserID, Email: claims.Email, DisplayName: claims.DisplayName}
	p.notify(SessionEvent{Identity: &identity, SignedIn: false})
	return nil
}

// OnSessionChange registers fn for sign-in and sign-out events. Events are
// delivered synchronously on the goroutine that caused them.
func (p *Provider) OnSessionChange(fn func(SessionEvent)) (cancel func()) {
	p.mu.Lock()
	p.nextObs++
	id := p.nextObs
	p.observers[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.observers, id)
		p.mu.Unlock()
	}
}

func (p *Provider) notify(ev SessionEvent) {
	p.mu.Lock()
	fns := make([]func(SessionEvent), 0, len(p.observers))
	for _, fn := range p.observers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (p *Provider) findAccount(ctx context.Context, email string) (*database.AccountDocument, error) {
	docs, err := p.store.QueryDocuments(ctx, database.AccountsCollection, database.Query{Limit: 1}.Where(database.FieldEmail, email))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrAuthUnavailable, "identity lookup failed", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return database.AccountFromDocument(docs[0]), nil
}

func identityOf(account *database.AccountDocument) Identity {
	return Identity{UserID: account.UserID, Email: account.Email, DisplayName: account.DisplayName}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
