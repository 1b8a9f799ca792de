package handlers

import (
	"net/http"

	"socialsphere/internal/engine/actors"
	"socialsphere/internal/middleware"
	"socialsphere/internal/models"
	"socialsphere/internal/websocket"

	ws "github.com/gorilla/websocket"
)

// HandleWebSocket upgrades an authenticated request to a live feed stream.
// Browsers cannot set headers on upgrades, so the token may come from the
// query string.
func (s *Server) HandleWebSocket() http.HandlerFunc {
	upgrader := ws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return s.CORS.OriginAllowed(r.Header.Get("Origin"))
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		token, err := middleware.TokenFromRequest(r)
		if err != nil {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}
		claims, err := s.Auth.ValidateClaims(token)
		if err != nil {
			s.Logger.Debug("websocket rejected", "error", err)
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			s.Logger.Warn("websocket upgrade failed", "user_id", claims.UserID, "error", err)
			return
		}

		client := websocket.NewClient(s.Hub, conn, claims.UserID, token)
		if !client.Start() {
			return
		}
		s.Logger.Debug("websocket connected", "user_id", claims.UserID)

		// A newer state already queued by the hub wins over this one.
		if result, err := s.request(s.Engine.GetFeedActor(), &actors.GetFeedStateMsg{}, "feed"); err == nil {
			s.Hub.SendFeed(client, result.(models.FeedState))
		}
	}
}
