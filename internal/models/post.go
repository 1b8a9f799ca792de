package models

import "time"

// Mood is the optional mood tag a post can carry.
type Mood string

const (
	MoodExcited     Mood = "excited"
	MoodThoughtful  Mood = "thoughtful"
	MoodCelebrating Mood = "celebrating"
	MoodGrateful    Mood = "grateful"
	MoodMotivated   Mood = "motivated"
)

// Moods lists every accepted mood in display order.
var Moods = []Mood{MoodExcited, MoodThoughtful, MoodCelebrating, MoodGrateful, MoodMotivated}

// Valid reports whether m is empty or one of the known moods.
func (m Mood) Valid() bool {
	if m == "" {
		return true
	}
	for _, known := range Moods {
		if m == known {
			return true
		}
	}
	return false
}

// Post is a feed entry. Author fields are copied at creation time and are
// not refreshed after profile edits.
type Post struct {
	ID            string    `json:"id"`
	Content       string    `json:"content"`
	AuthorID      string    `json:"authorId"`
	AuthorName    string    `json:"authorName"`
	AuthorEmail   string    `json:"authorEmail"`
	CreatedAt     time.Time `json:"createdAt"`
	Likes         []string  `json:"likes"`
	LikesCount    int       `json:"likesCount"`
	CommentsCount int       `json:"commentsCount"`
	Tags          []string  `json:"tags"`
	Mood          Mood      `json:"mood,omitempty"`
	ReadTime      int       `json:"readTime"`

	// DateRecovered is set when the stored timestamp was missing or
	// unparsable and CreatedAt holds the decode-time clock instead.
	DateRecovered bool `json:"-"`
}

// LikedBy reports whether userID is in the liker set.
func (p *Post) LikedBy(userID string) bool {
	for _, id := range p.Likes {
		if id == userID {
			return true
		}
	}
	return false
}
