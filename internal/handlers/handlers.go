package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"socialsphere/internal/auth"
	"socialsphere/internal/engine"
	"socialsphere/internal/feed"
	"socialsphere/internal/middleware"
	"socialsphere/internal/models"
	"socialsphere/internal/utils"
	"socialsphere/internal/websocket"

	"github.com/asynkron/protoactor-go/actor"
)

// Server holds all server dependencies, including the actor system and engine
type Server struct {
	System         *actor.ActorSystem
	Context        *actor.RootContext
	Engine         *engine.Engine
	Auth           *auth.Provider
	Hub            *websocket.Hub
	Metrics        *utils.MetricsCollector
	CORS           *middleware.CORSConfig
	Logger         *slog.Logger
	RequestTimeout time.Duration
	FeedLimit      int
}

// NewServer creates a new Server instance with the given components
func NewServer(
	system *actor.ActorSystem,
	engine *engine.Engine,
	provider *auth.Provider,
	hub *websocket.Hub,
	metrics *utils.MetricsCollector,
	cors *middleware.CORSConfig,
	logger *slog.Logger,
) *Server {
	return &Server{
		System:         system,
		Context:        system.Root,
		Engine:         engine,
		Auth:           provider,
		Hub:            hub,
		Metrics:        metrics,
		CORS:           cors,
		Logger:         logger.With("component", "http"),
		RequestTimeout: 5 * time.Second, // Default timeout for actor requests
	}
}

// request asks an actor and unwraps error replies. A timeout becomes an
// ACTOR_TIMEOUT AppError.
func (s *Server) request(pid *actor.PID, msg interface{}, name string) (interface{}, error) {
	s.Metrics.IncrementRequests()
	result, err := s.Context.RequestFuture(pid, msg, s.RequestTimeout).Result()
	if err != nil {
		s.Logger.Warn("actor request failed", "actor", name, "error", err)
		return nil, utils.NewActorTimeoutError(name)
	}
	if err, ok := result.(error); ok {
		return nil, err
	}
	return result, nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.Metrics.IncrementErrors()
	var appErr *utils.AppError
	if !errors.As(err, &appErr) {
		appErr = utils.NewAppError(utils.ErrDatabase, "internal error", err)
	}
	status := utils.AppErrorToHTTPStatus(appErr.Code)
	if status >= http.StatusInternalServerError {
		s.Logger.Error("request failed", "code", appErr.Code, "error", err)
	}
	writeJSON(w, status, map[string]string{
		"code":    appErr.Code,
		"message": appErr.Message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return utils.NewValidationError("invalid request body")
	}
	return nil
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// PostResponse is a post with its display fields.
type PostResponse struct {
	*models.Post
	Preview    string `json:"preview"`
	Truncated  bool   `json:"truncated"`
	CreatedAgo string `json:"createdAgo"`
}

// EntryResponse is a feed entry with its display fields.
type EntryResponse struct {
	Post         PostResponse `json:"post"`
	Liked        bool         `json:"liked"`
	DisplayLikes int          `json:"displayLikes"`
	Pending      bool         `json:"pending"`
}

func newPostResponse(p *models.Post, expand bool, now time.Time) PostResponse {
	preview, truncated := p.Content, false
	if !expand {
		preview, truncated = feed.Preview(p.Content)
	}
	return PostResponse{
		Post:       p,
		Preview:    preview,
		Truncated:  truncated,
		CreatedAgo: feed.FormatAge(p.CreatedAt, p.DateRecovered, now),
	}
}

func newPostResponses(posts []*models.Post, now time.Time) []PostResponse {
	out := make([]PostResponse, len(posts))
	for i, p := range posts {
		out[i] = newPostResponse(p, false, now)
	}
	return out
}

// CommentResponse is a comment with its relative age.
type CommentResponse struct {
	*models.Comment
	CreatedAgo string `json:"createdAgo"`
}

func newCommentResponses(comments []*models.Comment, now time.Time) []CommentResponse {
	out := make([]CommentResponse, len(comments))
	for i, c := range comments {
		out[i] = CommentResponse{Comment: c, CreatedAgo: feed.FormatAge(c.CreatedAt, c.DateRecovered, now)}
	}
	return out
}
