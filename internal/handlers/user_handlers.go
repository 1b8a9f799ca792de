package handlers

import (
	"net/http"
	"time"

	"socialsphere/internal/auth"
	"socialsphere/internal/engine/actors"
	"socialsphere/internal/middleware"
	"socialsphere/internal/models"
	"socialsphere/internal/utils"
)

// RegisterUserRequest represents a request to register a new user
type RegisterUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Bio      string `json:"bio"`
}

// LoginRequest represents a request to log in a user
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse is returned by register and login.
type SessionResponse struct {
	Token     string              `json:"token"`
	ExpiresAt time.Time           `json:"expiresAt"`
	UserID    string              `json:"userId"`
	Profile   *models.UserProfile `json:"profile"`
}

// HandleUserRegistration handles requests to register a new user
func (s *Server) HandleUserRegistration() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		var req RegisterUserRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, err)
			return
		}

		result, err := s.request(s.Engine.GetProfileActor(), &actors.SignUpMsg{
			Email:    req.Email,
			Password: req.Password,
			Name:     req.Name,
			Bio:      req.Bio,
		}, "profile")
		if err != nil {
			s.writeError(w, err)
			return
		}
		signUp := result.(*actors.SignUpResult)
		writeJSON(w, http.StatusCreated, SessionResponse{
			Token:     signUp.Session.Token,
			ExpiresAt: signUp.Session.ExpiresAt,
			UserID:    signUp.Session.Identity.UserID,
			Profile:   signUp.Profile,
		})
	}
}

// HandleUserLogin handles requests to log in a user
func (s *Server) HandleUserLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		var req LoginRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, err)
			return
		}

		session, err := s.Auth.Authenticate(r.Context(), req.Email, req.Password)
		if err != nil {
			s.writeError(w, err)
			return
		}

		result, err := s.request(s.Engine.GetProfileActor(), &actors.SessionProfileMsg{Identity: session.Identity}, "profile")
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, SessionResponse{
			Token:     session.Token,
			ExpiresAt: session.ExpiresAt,
			UserID:    session.Identity.UserID,
			Profile:   result.(*models.UserProfile),
		})
	}
}

// HandleUserLogout ends the session the request authenticated with
func (s *Server) HandleUserLogout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		token, ok := middleware.GetTokenFromContext(r.Context())
		if !ok {
			s.writeError(w, utils.NewUnauthorizedError("no session"))
			return
		}
		if err := s.Auth.EndSession(r.Context(), token); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// HandleUserProfile returns a profile with the author's posts. Without a
// userId it returns the caller's own profile.
func (s *Server) HandleUserProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		who, err := identity(r)
		if err != nil {
			s.writeError(w, err)
			return
		}

		userID := r.URL.Query().Get("userId")
		var msg interface{} = &actors.GetProfileMsg{UserID: userID}
		if userID == "" || userID == who.UserID {
			userID = who.UserID
			msg = &actors.SessionProfileMsg{Identity: auth.Identity{UserID: who.UserID, Email: who.Email, DisplayName: who.DisplayName}}
		}

		profile, err := s.request(s.Engine.GetProfileActor(), msg, "profile")
		if err != nil {
			s.writeError(w, err)
			return
		}
		posts, err := s.request(s.Engine.GetPostActor(), &actors.FetchAuthorPostsMsg{AuthorID: userID}, "post")
		if err != nil {
			s.writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"profile": profile,
			"posts":   newPostResponses(posts.([]*models.Post), time.Now()),
		})
	}
}
