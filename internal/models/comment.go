package models

import "time"

// Comment is an append-only reply to a post.
type Comment struct {
	ID          string    `json:"id"`
	PostID      string    `json:"postId"`
	Content     string    `json:"content"`
	AuthorID    string    `json:"authorId"`
	AuthorName  string    `json:"authorName"`
	AuthorEmail string    `json:"authorEmail"`
	CreatedAt   time.Time `json:"createdAt"`

	DateRecovered bool `json:"-"`
}
