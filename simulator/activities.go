package simulator

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"socialsphere/internal/models"
)

var (
	topics = []string{"golang", "design", "music", "running", "coffee", "books", "travel", "startups"}
	words  = []string{
		"today", "finally", "shipped", "learned", "something", "new", "about", "the",
		"weekend", "project", "and", "it", "feels", "great", "to", "share", "with", "everyone",
	}
)

// SimulateActivities drives posts, then comments and likes once enough
// posts exist to pick from.
func (s *EnhancedSimulator) SimulateActivities(ctx context.Context) {
	s.logger.Info("starting activities simulation")

	postsAvailable := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.simulatePosts(ctx)
	}()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.postCount() >= 10 {
					close(postsAvailable)
					return
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-postsAvailable:
			s.logger.Info("starting comments after posts available")
			s.simulateComments(ctx)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-postsAvailable:
			s.logger.Info("starting likes after posts available")
			s.simulateLikes(ctx)
		}
	}()

	wg.Wait()
}

// activityInterval spreads a per-user hourly rate over all users.
func activityInterval(perUserPerHour float64, users int) time.Duration {
	if perUserPerHour <= 0 || users <= 0 {
		return time.Hour
	}
	interval := time.Duration(float64(time.Hour) / (perUserPerHour * float64(users)))
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	return interval
}

func (s *EnhancedSimulator) simulatePosts(ctx context.Context) {
	ticker := time.NewTicker(activityInterval(s.config.PostFrequency, s.config.NumUsers))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			user, token := s.pickActiveUser()
			if user == nil {
				continue
			}

			var post models.Post
			err := s.makeRequest(ctx, http.MethodPost, "/post", token, s.randomDraft(), &post)
			if err != nil {
				s.logger.Debug("post failed", "user", user.Name, "error", err)
				continue
			}

			s.postsMu.Lock()
			s.posts = append(s.posts, post.ID)
			s.postsMu.Unlock()

			s.mu.Lock()
			user.Posts = append(user.Posts, post.ID)
			s.mu.Unlock()

			s.stats.mu.Lock()
			s.stats.TotalPosts++
			s.stats.mu.Unlock()
		}
	}
}

func (s *EnhancedSimulator) simulateComments(ctx context.Context) {
	ticker := time.NewTicker(activityInterval(s.config.CommentFrequency, s.config.NumUsers))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			user, token := s.pickActiveUser()
			postID := s.pickPost()
			if user == nil || postID == "" {
				continue
			}

			err := s.makeRequest(ctx, http.MethodPost, "/comment", token, map[string]string{
				"postId":  postID,
				"content": s.randomSentence(3, 12),
			}, nil)
			if err != nil {
				s.logger.Debug("comment failed", "user", user.Name, "post_id", postID, "error", err)
				continue
			}

			s.stats.mu.Lock()
			s.stats.TotalComments++
			s.stats.mu.Unlock()
		}
	}
}

type likeResponse struct {
	Liked bool `json:"liked"`
}

// simulateLikes toggles likes; a user who already liked a post unlikes it.
func (s *EnhancedSimulator) simulateLikes(ctx context.Context) {
	ticker := time.NewTicker(activityInterval(s.config.LikeFrequency, s.config.NumUsers))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			user, token := s.pickActiveUser()
			postID := s.pickPost()
			if user == nil || postID == "" {
				continue
			}

			s.mu.RLock()
			liked := user.LikedPosts[postID]
			s.mu.RUnlock()

			var result likeResponse
			err := s.makeRequest(ctx, http.MethodPost, "/post/like", token, map[string]interface{}{
				"postId":         postID,
				"currentlyLiked": liked,
			}, &result)
			if err != nil {
				s.logger.Debug("like failed", "user", user.Name, "post_id", postID, "error", err)
				continue
			}

			s.mu.Lock()
			user.LikedPosts[postID] = result.Liked
			s.mu.Unlock()

			s.stats.mu.Lock()
			if result.Liked {
				s.stats.TotalLikes++
			} else {
				s.stats.TotalUnlikes++
			}
			s.stats.mu.Unlock()
		}
	}
}

// pickActiveUser returns a random signed-in user and its token.
func (s *EnhancedSimulator) pickActiveUser() (*SimulatedUser, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*SimulatedUser
	for _, u := range s.users {
		if u.IsConnected && u.Token != "" {
			active = append(active, u)
		}
	}
	if len(active) == 0 {
		return nil, ""
	}
	u := active[s.intn(len(active))]
	return u, u.Token
}

// pickPost favours recent posts with a Zipf distribution.
func (s *EnhancedSimulator) pickPost() string {
	s.postsMu.RLock()
	defer s.postsMu.RUnlock()
	if len(s.posts) == 0 {
		return ""
	}
	rank := s.getZipfNumber(len(s.posts))
	return s.posts[len(s.posts)-1-rank]
}

func (s *EnhancedSimulator) postCount() int {
	s.postsMu.RLock()
	defer s.postsMu.RUnlock()
	return len(s.posts)
}

// getZipfNumber returns a rank in [0, max) where rank 0 is the most likely.
func (s *EnhancedSimulator) getZipfNumber(max int) int {
	if max <= 1 {
		return 0
	}
	sum := 0.0
	for i := 1; i <= max; i++ {
		sum += 1.0 / math.Pow(float64(i), s.config.ZipfS)
	}

	s.rngMu.Lock()
	r := s.rng.Float64() * sum
	s.rngMu.Unlock()

	acc := 0.0
	for i := 1; i <= max; i++ {
		acc += 1.0 / math.Pow(float64(i), s.config.ZipfS)
		if acc >= r {
			return i - 1
		}
	}
	return max - 1
}

func (s *EnhancedSimulator) intn(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Intn(n)
}

func (s *EnhancedSimulator) randomDraft() map[string]interface{} {
	draft := map[string]interface{}{
		"content": s.randomSentence(5, 40),
	}

	numTags := s.intn(4)
	tags := make([]string, 0, numTags)
	for i := 0; i < numTags; i++ {
		tags = append(tags, topics[s.intn(len(topics))])
	}
	if len(tags) > 0 {
		draft["tags"] = tags
	}

	if s.chance(0.5) {
		draft["mood"] = models.Moods[s.intn(len(models.Moods))]
	}
	return draft
}

func (s *EnhancedSimulator) randomSentence(minWords, maxWords int) string {
	n := minWords + s.intn(maxWords-minWords+1)
	parts := make([]string, n)
	for i := range parts {
		parts[i] = words[s.intn(len(words))]
	}
	return fmt.Sprintf("%s.", strings.Join(parts, " "))
}
