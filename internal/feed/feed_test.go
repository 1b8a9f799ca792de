package feed

import (
	"errors"
	"strings"
	"testing"
	"time"

	"socialsphere/internal/models"
	"socialsphere/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadTime(t *testing.T) {
	words := func(n int) string { return strings.TrimSpace(strings.Repeat("word ", n)) }

	assert.Equal(t, 1, ReadTime(""))
	assert.Equal(t, 1, ReadTime("   \n\t "))
	assert.Equal(t, 1, ReadTime("Hello world"))
	assert.Equal(t, 1, ReadTime(words(200)))
	assert.Equal(t, 2, ReadTime(words(201)))
	assert.Equal(t, 3, ReadTime(words(401)))
	assert.Equal(t, 1, ReadTime("tabs\tand\nnewlines  count   once"))
}

func TestNewPostInput(t *testing.T) {
	in, err := NewPostInput("  Hello world  ", []string{" intro ", "intro", "", "go"}, "Excited")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", in.Content)
	assert.Equal(t, []string{"intro", "go"}, in.Tags)
	assert.Equal(t, models.MoodExcited, in.Mood)

	post := NewPost(in, models.Author{ID: "u1", Name: "Ann", Email: "ann@x.io"}, time.Now())
	assert.Equal(t, 1, post.ReadTime)
	assert.Equal(t, 0, post.LikesCount)
	assert.Equal(t, 0, post.CommentsCount)
	assert.Empty(t, post.Likes)
	assert.NotNil(t, post.Likes)
	assert.Equal(t, "Ann", post.AuthorName)
}

func TestNewPostInputRejects(t *testing.T) {
	cases := map[string]struct {
		content string
		tags    []string
		mood    models.Mood
	}{
		"empty content": {content: "   "},
		"too long":      {content: strings.Repeat("a", MaxContentLength+1)},
		"six tags":      {content: "hi", tags: []string{"a", "b", "c", "d", "e", "f"}},
		"unknown mood":  {content: "hi", mood: "grumpy"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewPostInput(tc.content, tc.tags, tc.mood)
			require.Error(t, err)
			assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidInput), "got %v", err)
		})
	}
}

func TestNewPostInputCountsCharactersNotBytes(t *testing.T) {
	_, err := NewPostInput(strings.Repeat("é", MaxContentLength), nil, "")
	assert.NoError(t, err)
}

func TestSixTagsWithDuplicatesFit(t *testing.T) {
	in, err := NewPostInput("hi", []string{"a", "b", "c", "d", "e", "a"}, "")
	require.NoError(t, err)
	assert.Len(t, in.Tags, 5)
}

func TestSignUpAndCommentInput(t *testing.T) {
	in, err := NewSignUpInput(" Ann@Example.com ", "Ann", "")
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", in.Email)

	_, err = NewSignUpInput("ann@example.com", "Ann", strings.Repeat("b", MaxBioLength+1))
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidInput))

	_, err = NewSignUpInput("not-an-email", "Ann", "")
	assert.Error(t, err)

	_, err = NewCommentInput("p1", " \n ")
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidInput))
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("x", 301)
	preview, truncated := Preview(long)
	assert.True(t, truncated)
	assert.Equal(t, strings.Repeat("x", 300)+"...", preview)

	exact := strings.Repeat("y", 300)
	preview, truncated = Preview(exact)
	assert.False(t, truncated)
	assert.Equal(t, exact, preview)

	preview, _ = Preview(strings.Repeat("ü", 301))
	assert.Equal(t, 303, len([]rune(preview)))
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "recently", FormatAge(now.Add(-time.Hour), true, now))
	assert.Equal(t, "recently", FormatAge(time.Time{}, false, now))
	assert.Equal(t, "just now", FormatAge(now, false, now))
	assert.Equal(t, "3 minutes ago", FormatAge(now.Add(-3*time.Minute), false, now))
}

func TestComputeStats(t *testing.T) {
	assert.Equal(t, models.FeedStats{}, ComputeStats(nil))

	posts := []*models.Post{
		{ID: "1", AuthorID: "a", LikesCount: 5},
		{ID: "2", AuthorID: "a", LikesCount: 6},
		{ID: "3", AuthorID: "b", LikesCount: 0},
	}
	assert.Equal(t, models.FeedStats{TotalPosts: 3, ActiveUsers: 2, Trending: 1}, ComputeStats(posts))
}

func TestSortNewestFirst(t *testing.T) {
	base := time.Now()
	posts := []*models.Post{
		{ID: "a", CreatedAt: base},
		{ID: "b", CreatedAt: base.Add(time.Minute)},
		{ID: "c", CreatedAt: base},
	}
	SortNewestFirst(posts)
	assert.Equal(t, "b", posts[0].ID)
	assert.Equal(t, "c", posts[1].ID)
	assert.Equal(t, "a", posts[2].ID)
}

func TestLikeLedgerLikeThenUnlike(t *testing.T) {
	ledger := NewLikeLedger()
	post := &models.Post{ID: "p1", LikesCount: 3, Likes: []string{"x", "y", "z"}}

	like := ledger.Begin(post, "u1", false)
	assert.True(t, like)
	entry := ledger.Entry(post, "u1")
	assert.True(t, entry.Liked)
	assert.Equal(t, 4, entry.DisplayLikes)
	assert.True(t, entry.Pending)

	unlike := ledger.Begin(post, "u1", true)
	assert.False(t, unlike)
	entry = ledger.Entry(post, "u1")
	assert.False(t, entry.Liked)
	assert.Equal(t, 3, entry.DisplayLikes)

	ledger.Settle("p1", "u1", like, nil, nil)
	ledger.Settle("p1", "u1", unlike, nil, post)
	assert.Equal(t, 0, ledger.Pending())

	entry = ledger.Entry(post, "u1")
	assert.False(t, entry.Pending)
	assert.False(t, entry.Liked)
	assert.Equal(t, 3, entry.DisplayLikes)
}

func TestLikeLedgerRollsBackFailure(t *testing.T) {
	ledger := NewLikeLedger()
	post := &models.Post{ID: "p1", LikesCount: 1, Likes: []string{"x"}}

	like := ledger.Begin(post, "u1", false)
	ledger.Settle("p1", "u1", like, errors.New("offline"), nil)

	entry := ledger.Entry(post, "u1")
	assert.False(t, entry.Liked)
	assert.Equal(t, 1, entry.DisplayLikes)
	assert.False(t, entry.Pending)
}

func TestLikeLedgerWaitsForAgreeingSnapshot(t *testing.T) {
	ledger := NewLikeLedger()
	before := &models.Post{ID: "p1", LikesCount: 0}

	like := ledger.Begin(before, "u1", false)
	ledger.Settle("p1", "u1", like, nil, before)

	// The snapshot that predates the write must not undo the flip.
	assert.True(t, ledger.Entry(before, "u1").Liked)

	after := &models.Post{ID: "p1", LikesCount: 1, Likes: []string{"u1"}}
	ledger.Observe([]*models.Post{after})
	entry := ledger.Entry(after, "u1")
	assert.True(t, entry.Liked)
	assert.Equal(t, 1, entry.DisplayLikes)
}

func TestLikeLedgerYieldsToStoreEventually(t *testing.T) {
	ledger := NewLikeLedger()
	post := &models.Post{ID: "p1", LikesCount: 2}

	like := ledger.Begin(post, "u1", false)
	ledger.Settle("p1", "u1", like, nil, post)

	ledger.Observe([]*models.Post{post})
	assert.True(t, ledger.Entry(post, "u1").Liked)
	ledger.Observe([]*models.Post{post})
	assert.False(t, ledger.Entry(post, "u1").Liked)
}
