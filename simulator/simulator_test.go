package simulator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubServer accepts one registration per email and signs in registered
// users.
type stubServer struct {
	mu      sync.Mutex
	users   map[string]string
	logins  int
	lastTok string
}

func (s *stubServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.URL.Path {
	case "/user/register":
		if _, exists := s.users[body["email"]]; exists {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"code": "USER_ALREADY_EXISTS", "message": "taken"})
			return
		}
		s.users[body["email"]] = "id-" + body["name"]
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-register", "userId": s.users[body["email"]]})
	case "/user/login":
		s.logins++
		id, ok := s.users[body["email"]]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"code": "UNAUTHORIZED", "message": "bad credentials"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-login", "userId": id})
	default:
		s.lastTok = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestSimulator(t *testing.T, url string) *EnhancedSimulator {
	t.Helper()
	return NewEnhancedSimulator(SimConfig{
		NumUsers:  3,
		ZipfS:     1.07,
		EngineURL: url,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterFallsBackToLogin(t *testing.T) {
	stub := &stubServer{users: map[string]string{}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	sim := newTestSimulator(t, srv.URL)
	ctx := context.Background()

	first := &SimulatedUser{Name: "ann", Email: "ann@test.com", LikedPosts: map[string]bool{}}
	require.NoError(t, sim.registerUser(ctx, first))
	assert.Equal(t, "tok-register", first.Token)
	assert.Equal(t, "id-ann", first.ID)

	again := &SimulatedUser{Name: "ann", Email: "ann@test.com", LikedPosts: map[string]bool{}}
	require.NoError(t, sim.registerUser(ctx, again))
	assert.Equal(t, "tok-login", again.Token)
	assert.Equal(t, "id-ann", again.ID)
	stub.mu.Lock()
	assert.Equal(t, 1, stub.logins)
	stub.mu.Unlock()

	m := sim.GetMetrics()
	assert.Equal(t, 1, m.ErrorCount, "the conflict counts as a failed request")
}

func TestMakeRequestReturnsAPIError(t *testing.T) {
	stub := &stubServer{users: map[string]string{}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	sim := newTestSimulator(t, srv.URL)
	err := sim.makeRequest(context.Background(), http.MethodPost, "/user/login", "", map[string]string{"email": "nobody@test.com"}, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "UNAUTHORIZED", apiErr.Code)

	sim.makeRequest(context.Background(), http.MethodGet, "/feed", "abc", nil, nil)
	stub.mu.Lock()
	assert.Equal(t, "Bearer abc", stub.lastTok)
	stub.mu.Unlock()
}

func TestCreateInitialUsers(t *testing.T) {
	stub := &stubServer{users: map[string]string{}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	sim := newTestSimulator(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, sim.createInitialUsers(ctx))
	assert.Len(t, sim.users, 3)
	assert.Equal(t, 3, sim.GetMetrics().ActiveUsers)
	for _, u := range sim.users {
		assert.NotEmpty(t, u.Token)
	}
}

func TestGetZipfNumberFavoursLowRanks(t *testing.T) {
	sim := newTestSimulator(t, "http://unused")

	counts := make([]int, 20)
	for i := 0; i < 5000; i++ {
		n := sim.getZipfNumber(len(counts))
		require.GreaterOrEqual(t, n, 0)
		require.Less(t, n, len(counts))
		counts[n]++
	}
	assert.Greater(t, counts[0], counts[19])
	assert.Equal(t, 0, sim.getZipfNumber(1))
}

func TestPickPostPrefersNewest(t *testing.T) {
	sim := newTestSimulator(t, "http://unused")
	assert.Empty(t, sim.pickPost())

	sim.posts = []string{"old", "mid", "new"}
	seen := map[string]int{}
	for i := 0; i < 1000; i++ {
		seen[sim.pickPost()]++
	}
	assert.Greater(t, seen["new"], seen["old"])
}

func TestActivityInterval(t *testing.T) {
	assert.Equal(t, time.Minute, activityInterval(60, 1))
	assert.Equal(t, 30*time.Second, activityInterval(60, 2))
	assert.Equal(t, time.Hour, activityInterval(0, 5))
	assert.Equal(t, 10*time.Millisecond, activityInterval(1e9, 10))
}
