package handlers

import (
	"net/http"
	"strconv"
	"time"

	"socialsphere/internal/auth"
	"socialsphere/internal/engine/actors"
	"socialsphere/internal/middleware"
	"socialsphere/internal/models"
	"socialsphere/internal/utils"
)

// CreatePostRequest represents a request to create a new post
type CreatePostRequest struct {
	Content string      `json:"content"`
	Tags    []string    `json:"tags"`
	Mood    models.Mood `json:"mood"`
}

// LikeRequest toggles the caller's like on a post. CurrentlyLiked is the
// state the client showed when the user tapped.
type LikeRequest struct {
	PostID         string `json:"postId"`
	CurrentlyLiked bool   `json:"currentlyLiked"`
}

// identity returns the authenticated caller.
func identity(r *http.Request) (auth.Identity, error) {
	claims, ok := middleware.GetClaimsFromContext(r.Context())
	if !ok {
		return auth.Identity{}, utils.NewUnauthorizedError("no session")
	}
	return auth.Identity{UserID: claims.UserID, Email: claims.Email, DisplayName: claims.DisplayName}, nil
}

// author resolves the caller's profile into the block posts and comments
// copy.
func (s *Server) author(r *http.Request) (models.Author, error) {
	who, err := identity(r)
	if err != nil {
		return models.Author{}, err
	}
	result, err := s.request(s.Engine.GetProfileActor(), &actors.SessionProfileMsg{Identity: who}, "profile")
	if err != nil {
		return models.Author{}, err
	}
	return models.AuthorFromProfile(result.(*models.UserProfile)), nil
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}

		result, err := s.request(s.Engine.GetFeedActor(), &actors.GetFeedStateMsg{}, "feed")
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}
		state := result.(models.FeedState)

		requests, errs := s.Metrics.Counts()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":          "healthy",
			"feed_generation": state.Generation,
			"feed_posts":      len(state.Posts),
			"connections":     s.Hub.Connections(),
			"requests":        requests,
			"errors":          errs,
			"uptime":          s.Metrics.Uptime().String(),
			"server_time":     time.Now(),
		})
	}
}

// HandleFeed returns the live feed window as seen by the caller
func (s *Server) HandleFeed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		who, err := identity(r)
		if err != nil {
			s.writeError(w, err)
			return
		}

		result, err := s.request(s.Engine.GetFeedActor(), &actors.GetFeedMsg{UserID: who.UserID}, "feed")
		if err != nil {
			s.writeError(w, err)
			return
		}
		view := result.(*models.FeedView)

		now := time.Now()
		entries := make([]EntryResponse, len(view.Entries))
		for i, e := range view.Entries {
			entries[i] = EntryResponse{
				Post:         newPostResponse(e.Post, false, now),
				Liked:        e.Liked,
				DisplayLikes: e.DisplayLikes,
				Pending:      e.Pending,
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"generation": view.Generation,
			"subscribed": view.Subscribed,
			"stats":      view.Stats,
			"entries":    entries,
		})
	}
}

// HandleResubscribe reopens the live feed query
func (s *Server) HandleResubscribe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		result, err := s.request(s.Engine.GetFeedActor(), &actors.SubscribeFeedMsg{Limit: s.FeedLimit, Force: true}, "feed")
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// HandlePostsPage returns one page of all posts, newest first
func (s *Server) HandlePostsPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				s.writeError(w, utils.NewValidationError("limit must be a positive number"))
				return
			}
			limit = n
		}

		result, err := s.request(s.Engine.GetPostActor(), &actors.GetPostsPageMsg{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		}, "post")
		if err != nil {
			s.writeError(w, err)
			return
		}
		page := result.(*actors.PostsPage)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"posts":      newPostResponses(page.Posts, time.Now()),
			"nextCursor": page.NextCursor,
		})
	}
}

// HandlePost handles post-related requests
func (s *Server) HandlePost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req CreatePostRequest
			if err := decodeJSON(r, &req); err != nil {
				s.writeError(w, err)
				return
			}
			author, err := s.author(r)
			if err != nil {
				s.writeError(w, err)
				return
			}

			result, err := s.request(s.Engine.GetPostActor(), &actors.CreatePostMsg{
				Content: req.Content,
				Author:  author,
				Tags:    req.Tags,
				Mood:    req.Mood,
			}, "post")
			if err != nil {
				s.writeError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, newPostResponse(result.(*models.Post), false, time.Now()))

		case http.MethodGet:
			postID := r.URL.Query().Get("id")
			if postID == "" {
				s.writeError(w, utils.NewValidationError("post id is required"))
				return
			}
			expand, _ := strconv.ParseBool(r.URL.Query().Get("expand"))

			result, err := s.request(s.Engine.GetPostActor(), &actors.GetPostMsg{PostID: postID}, "post")
			if err != nil {
				s.writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, newPostResponse(result.(*models.Post), expand, time.Now()))

		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// HandleAuthorPosts lists one author's posts, newest first
func (s *Server) HandleAuthorPosts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		result, err := s.request(s.Engine.GetPostActor(), &actors.FetchAuthorPostsMsg{
			AuthorID: r.URL.Query().Get("authorId"),
		}, "post")
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newPostResponses(result.([]*models.Post), time.Now()))
	}
}

// HandleLike toggles the caller's like on a post
func (s *Server) HandleLike() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		var req LikeRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		who, err := identity(r)
		if err != nil {
			s.writeError(w, err)
			return
		}

		result, err := s.request(s.Engine.GetFeedActor(), &actors.ToggleLikeMsg{
			PostID:         req.PostID,
			UserID:         who.UserID,
			CurrentlyLiked: req.CurrentlyLiked,
		}, "feed")
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
