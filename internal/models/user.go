package models

import "time"

// UserProfile is created once at sign-up and read thereafter.
type UserProfile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Bio       string    `json:"bio"`
	CreatedAt time.Time `json:"createdAt"`

	// Transient marks a profile synthesized from session claims because the
	// stored profile was absent.
	Transient bool `json:"transient,omitempty"`
}

// Author is the denormalized author block copied into posts and comments.
type Author struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AuthorFromProfile copies the fields a post or comment denormalizes.
func AuthorFromProfile(p *UserProfile) Author {
	return Author{ID: p.ID, Name: p.Name, Email: p.Email}
}
