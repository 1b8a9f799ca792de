package models

import "time"

// TrendingThreshold is the like count a post must exceed to be trending.
const TrendingThreshold = 5

// FeedStats are recomputed over the visible window on every snapshot.
type FeedStats struct {
	TotalPosts  int `json:"totalPosts"`
	ActiveUsers int `json:"activeUsers"`
	Trending    int `json:"trending"`
}

// FeedState is what the feed publishes to observers after each snapshot.
// Sequence grows with every snapshot across subscriptions, so a consumer can
// tell an older state from a newer one.
type FeedState struct {
	Generation uint64    `json:"generation"`
	Sequence   uint64    `json:"sequence"`
	Posts      []*Post   `json:"posts"`
	Stats      FeedStats `json:"stats"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// FeedEntry is a post as seen by one user, including the optimistic like
// projection.
type FeedEntry struct {
	Post         *Post `json:"post"`
	Liked        bool  `json:"liked"`
	DisplayLikes int   `json:"displayLikes"`
	Pending      bool  `json:"pending"`
}

// FeedView is the per-user rendering of the current feed state.
type FeedView struct {
	Generation uint64      `json:"generation"`
	Entries    []FeedEntry `json:"entries"`
	Stats      FeedStats   `json:"stats"`
	Subscribed bool        `json:"subscribed"`
}
