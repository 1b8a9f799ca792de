package feed

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"socialsphere/internal/models"

	"github.com/dustin/go-humanize"
)

const (
	wordsPerMinute = 200
	PreviewLength  = 300
	previewMarker  = "..."
)

// ReadTime estimates minutes to read content at 200 words per minute,
// never less than one.
func ReadTime(content string) int {
	words := len(strings.Fields(content))
	minutes := (words + wordsPerMinute - 1) / wordsPerMinute
	if minutes < 1 {
		return 1
	}
	return minutes
}

// NewPost builds the record written for a validated draft.
func NewPost(in PostInput, author models.Author, now time.Time) *models.Post {
	return &models.Post{
		Content:     in.Content,
		AuthorID:    author.ID,
		AuthorName:  author.Name,
		AuthorEmail: author.Email,
		CreatedAt:   now,
		Likes:       []string{},
		Tags:        in.Tags,
		Mood:        in.Mood,
		ReadTime:    ReadTime(in.Content),
	}
}

func NewComment(in CommentInput, author models.Author, now time.Time) *models.Comment {
	return &models.Comment{
		PostID:      in.PostID,
		Content:     in.Content,
		AuthorID:    author.ID,
		AuthorName:  author.Name,
		AuthorEmail: author.Email,
		CreatedAt:   now,
	}
}

// Preview cuts content to PreviewLength characters plus an ellipsis.
// truncated reports whether anything was cut.
func Preview(content string) (preview string, truncated bool) {
	if utf8.RuneCountInString(content) <= PreviewLength {
		return content, false
	}
	runes := []rune(content)
	return string(runes[:PreviewLength]) + previewMarker, true
}

// FormatAge renders how long ago t was. Recovered or zero timestamps read
// as "recently".
func FormatAge(t time.Time, recovered bool, now time.Time) string {
	if recovered || t.IsZero() {
		return "recently"
	}
	if now.Sub(t) < time.Second {
		return "just now"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// ComputeStats derives the window aggregates from the visible posts.
func ComputeStats(posts []*models.Post) models.FeedStats {
	authors := make(map[string]struct{}, len(posts))
	trending := 0
	for _, p := range posts {
		authors[p.AuthorID] = struct{}{}
		if p.LikesCount > models.TrendingThreshold {
			trending++
		}
	}
	return models.FeedStats{
		TotalPosts:  len(posts),
		ActiveUsers: len(authors),
		Trending:    trending,
	}
}

// SortNewestFirst orders posts by creation time descending, breaking ties by
// ID descending the way the stores do.
func SortNewestFirst(posts []*models.Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		if !posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].CreatedAt.After(posts[j].CreatedAt)
		}
		return posts[i].ID > posts[j].ID
	})
}

func SortCommentsNewestFirst(comments []*models.Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		if !comments[i].CreatedAt.Equal(comments[j].CreatedAt) {
			return comments[i].CreatedAt.After(comments[j].CreatedAt)
		}
		return comments[i].ID > comments[j].ID
	})
}
