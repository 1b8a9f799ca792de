package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

const simPassword = "testpass123"

type SimConfig struct {
	NumUsers         int
	SimulationTime   time.Duration
	PostFrequency    float64 // posts per user per hour
	CommentFrequency float64 // comments per user per hour
	LikeFrequency    float64 // likes per user per hour
	DisconnectRate   float64
	ReconnectRate    float64
	ZipfS            float64
	EngineURL        string
}

type SimulationStats struct {
	mu              sync.RWMutex
	StartTime       time.Time
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	AverageLatency  time.Duration
	ActiveUsers     int
	TotalPosts      int
	TotalComments   int
	TotalLikes      int
	TotalUnlikes    int
}

// SimulatedUser is one account driving traffic. Token is empty while the
// user is signed out.
type SimulatedUser struct {
	ID          string
	Name        string
	Email       string
	Token       string
	IsConnected bool
	LastActive  time.Time
	Posts       []string
	LikedPosts  map[string]bool
}

// APIError is the error body the server returns.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s %s", e.Status, e.Code, e.Message)
}

type EnhancedSimulator struct {
	config SimConfig
	stats  *SimulationStats
	users  []*SimulatedUser
	client *http.Client
	logger *slog.Logger
	mu     sync.RWMutex

	// Post IDs in creation order; likes and comments pick from the newest
	// with a Zipf bias.
	posts   []string
	postsMu sync.RWMutex
	rng     *rand.Rand
	rngMu   sync.Mutex
}

func NewEnhancedSimulator(config SimConfig, logger *slog.Logger) *EnhancedSimulator {
	return &EnhancedSimulator{
		config: config,
		stats:  &SimulationStats{StartTime: time.Now()},
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.With("component", "simulator"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *EnhancedSimulator) Run(ctx context.Context) error {
	s.logger.Info("starting simulation", "users", s.config.NumUsers, "duration", s.config.SimulationTime)

	if err := s.createInitialUsers(ctx); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	if len(s.users) == 0 {
		return fmt.Errorf("no users could be registered at %s", s.config.EngineURL)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.SimulateActivities(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.simulateConnectivity(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.collectMetrics(ctx)
	}()

	wg.Wait()
	return nil
}

func (s *EnhancedSimulator) createInitialUsers(ctx context.Context) error {
	// Limited workers so sign-up (bcrypt) does not swamp the server.
	numWorkers := 5
	userJobs := make(chan int, numWorkers)
	results := make(chan *SimulatedUser, numWorkers)

	var wg sync.WaitGroup
	rateLimiter := time.NewTicker(100 * time.Millisecond)
	defer rateLimiter.Stop()

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for userNum := range userJobs {
				select {
				case <-ctx.Done():
					return
				case <-rateLimiter.C:
				}

				user := &SimulatedUser{
					Name:        fmt.Sprintf("user_%d", userNum),
					Email:       fmt.Sprintf("user_%d@test.com", userNum),
					IsConnected: true,
					LikedPosts:  make(map[string]bool),
				}

				var err error
				for retries := 0; retries < 3; retries++ {
					if err = s.registerUser(ctx, user); err == nil {
						results <- user
						break
					}
					backoff := time.Duration(math.Pow(2, float64(retries))) * time.Second
					s.logger.Warn("registration retry", "worker", workerID, "user", user.Name, "attempt", retries+1, "backoff", backoff, "error", err)
					time.Sleep(backoff)
				}
				if err != nil {
					s.logger.Error("failed to register user", "user", user.Name, "error", err)
				}
			}
		}(i)
	}

	go func() {
		defer close(userJobs)
		for i := 0; i < s.config.NumUsers; i++ {
			select {
			case userJobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	for user := range results {
		s.users = append(s.users, user)
	}
	s.stats.mu.Lock()
	s.stats.ActiveUsers = len(s.users)
	s.stats.mu.Unlock()

	s.logger.Info("users created", "count", len(s.users))
	return nil
}

type sessionResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

// registerUser signs the user up, or signs in when the account already
// exists from an earlier run.
func (s *EnhancedSimulator) registerUser(ctx context.Context, user *SimulatedUser) error {
	var session sessionResponse
	err := s.makeRequest(ctx, http.MethodPost, "/user/register", "", map[string]string{
		"email":    user.Email,
		"password": simPassword,
		"name":     user.Name,
		"bio":      "simulated",
	}, &session)

	if apiErr, ok := err.(*APIError); ok && apiErr.Code == "USER_ALREADY_EXISTS" {
		return s.login(ctx, user)
	}
	if err != nil {
		return err
	}
	user.ID = session.UserID
	user.Token = session.Token
	user.LastActive = time.Now()
	return nil
}

func (s *EnhancedSimulator) login(ctx context.Context, user *SimulatedUser) error {
	var session sessionResponse
	if err := s.makeRequest(ctx, http.MethodPost, "/user/login", "", map[string]string{
		"email":    user.Email,
		"password": simPassword,
	}, &session); err != nil {
		return err
	}
	user.ID = session.UserID
	user.Token = session.Token
	user.LastActive = time.Now()
	return nil
}

// makeRequest sends data as JSON and decodes the response into out when
// out is non-nil. Error statuses come back as *APIError.
func (s *EnhancedSimulator) makeRequest(ctx context.Context, method, endpoint, token string, data, out interface{}) error {
	var body io.Reader
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.EngineURL+endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.recordRequestMetrics(start, err)
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err == nil && resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		json.Unmarshal(raw, apiErr)
		err = apiErr
	}
	s.recordRequestMetrics(start, err)
	if err != nil {
		return err
	}

	if out != nil && len(raw) > 0 {
		return json.Unmarshal(raw, out)
	}
	return nil
}

// simulateConnectivity signs users out and back in at the configured
// rates, which exercises session revocation.
func (s *EnhancedSimulator) simulateConnectivity(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			for _, user := range s.users {
				if user.IsConnected {
					if s.chance(s.config.DisconnectRate) {
						// Errors are only counted; the user is offline either way.
						s.makeRequest(ctx, http.MethodPost, "/user/logout", user.Token, nil, nil)
						user.IsConnected = false
						user.Token = ""
						s.adjustActive(-1)
					}
				} else if s.chance(s.config.ReconnectRate) {
					if err := s.login(ctx, user); err == nil {
						user.IsConnected = true
						s.adjustActive(1)
					}
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *EnhancedSimulator) adjustActive(delta int) {
	s.stats.mu.Lock()
	s.stats.ActiveUsers += delta
	s.stats.mu.Unlock()
}

func (s *EnhancedSimulator) chance(p float64) bool {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64() < p
}

func (s *EnhancedSimulator) recordRequestMetrics(start time.Time, err error) {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()

	latency := time.Since(start)
	s.stats.TotalRequests++
	if err != nil {
		s.stats.FailedRequests++
	} else {
		s.stats.SuccessRequests++
	}

	totalLatency := s.stats.AverageLatency * time.Duration(s.stats.TotalRequests-1)
	s.stats.AverageLatency = (totalLatency + latency) / time.Duration(s.stats.TotalRequests)
}

func (s *EnhancedSimulator) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := s.GetMetrics()
			s.logger.Info("simulation metrics",
				"requests_per_sec", fmt.Sprintf("%.2f", m.RequestsPerSecond),
				"avg_latency", m.AverageLatency,
				"active_users", m.ActiveUsers,
				"posts", m.TotalPosts,
				"comments", m.TotalComments,
				"likes", m.TotalLikes,
				"errors", m.ErrorCount,
			)
		}
	}
}

// SimulationMetrics holds the metrics of the simulation
type SimulationMetrics struct {
	TotalUsers        int
	ActiveUsers       int
	TotalPosts        int
	TotalComments     int
	TotalLikes        int
	TotalUnlikes      int
	AverageLatency    time.Duration
	ErrorCount        int
	RequestsPerSecond float64
}

// GetMetrics returns the current simulation metrics
func (s *EnhancedSimulator) GetMetrics() SimulationMetrics {
	s.mu.RLock()
	totalUsers := len(s.users)
	s.mu.RUnlock()

	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()

	elapsed := time.Since(s.stats.StartTime)
	return SimulationMetrics{
		TotalUsers:        totalUsers,
		ActiveUsers:       s.stats.ActiveUsers,
		TotalPosts:        s.stats.TotalPosts,
		TotalComments:     s.stats.TotalComments,
		TotalLikes:        s.stats.TotalLikes,
		TotalUnlikes:      s.stats.TotalUnlikes,
		AverageLatency:    s.stats.AverageLatency,
		ErrorCount:        int(s.stats.FailedRequests),
		RequestsPerSecond: float64(s.stats.TotalRequests) / elapsed.Seconds(),
	}
}
