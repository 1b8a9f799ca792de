package handlers

import (
	"net/http"
	"time"

	"socialsphere/internal/engine/actors"
	"socialsphere/internal/models"
)

// CreateCommentRequest represents a request to comment on a post
type CreateCommentRequest struct {
	PostID  string `json:"postId"`
	Content string `json:"content"`
}

// HandleComment submits a comment as the caller
func (s *Server) HandleComment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		var req CreateCommentRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		author, err := s.author(r)
		if err != nil {
			s.writeError(w, err)
			return
		}

		result, err := s.request(s.Engine.GetCommentActor(), &actors.SubmitCommentMsg{
			PostID:  req.PostID,
			Content: req.Content,
			Author:  author,
		}, "comment")
		if err != nil {
			s.writeError(w, err)
			return
		}
		submitted := result.(*actors.SubmitCommentResult)
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"comment":    newCommentResponses([]*models.Comment{submitted.Comment}, time.Now())[0],
			"countStale": submitted.CountStale,
		})
	}
}

// HandleGetPostComments loads a post's comments, newest first
func (s *Server) HandleGetPostComments() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		result, err := s.request(s.Engine.GetCommentActor(), &actors.LoadCommentsMsg{
			PostID: r.URL.Query().Get("postId"),
		}, "comment")
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newCommentResponses(result.([]*models.Comment), time.Now()))
	}
}
