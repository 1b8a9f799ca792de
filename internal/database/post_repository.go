// internal/database/post_repository.go
package database

import (
	"time"

	"socialsphere/internal/models"
)

// Collection names shared by every adapter.
const (
	PostsCollection    = "posts"
	CommentsCollection = "comments"
	UsersCollection    = "users"
	AccountsCollection = "accounts"
)

// Post document fields.
const (
	FieldContent       = "content"
	FieldAuthorID      = "authorId"
	FieldAuthorName    = "authorName"
	FieldAuthorEmail   = "authorEmail"
	FieldCreatedAt     = "createdAt"
	FieldLikes         = "likes"
	FieldLikesCount    = "likesCount"
	FieldCommentsCount = "commentsCount"
	FieldTags          = "tags"
	FieldMood          = "mood"
	FieldReadTime      = "readTime"
	FieldPostID        = "postId"
)

// NewestFirst orders by creation time, most recent first.
var NewestFirst = &OrderBy{Field: FieldCreatedAt, Descending: true}

// PostToData converts a Post model to its stored fields. The ID is not part
// of the data; stores assign it.
func PostToData(post *models.Post) map[string]any {
	data := map[string]any{
		FieldContent:       post.Content,
		FieldAuthorID:      post.AuthorID,
		FieldAuthorName:    post.AuthorName,
		FieldAuthorEmail:   post.AuthorEmail,
		FieldCreatedAt:     post.CreatedAt,
		FieldLikes:         stringsToAny(post.Likes),
		FieldLikesCount:    int64(post.LikesCount),
		FieldCommentsCount: int64(post.CommentsCount),
		FieldTags:          stringsToAny(post.Tags),
		FieldReadTime:      int64(post.ReadTime),
	}
	if post.Mood != "" {
		data[FieldMood] = string(post.Mood)
	}
	return data
}

// PostFromDocument converts a stored document to a Post. A missing or
// unparsable createdAt is replaced with now and flagged on the model.
func PostFromDocument(doc Document, now time.Time) *models.Post {
	createdAt, ok := TimeField(doc.Data, FieldCreatedAt)
	if !ok {
		createdAt = now
	}
	return &models.Post{
		ID:            doc.ID,
		Content:       StringField(doc.Data, FieldContent),
		AuthorID:      StringField(doc.Data, FieldAuthorID),
		AuthorName:    StringField(doc.Data, FieldAuthorName),
		AuthorEmail:   StringField(doc.Data, FieldAuthorEmail),
		CreatedAt:     createdAt,
		Likes:         StringSliceField(doc.Data, FieldLikes),
		LikesCount:    IntField(doc.Data, FieldLikesCount),
		CommentsCount: IntField(doc.Data, FieldCommentsCount),
		Tags:          StringSliceField(doc.Data, FieldTags),
		Mood:          models.Mood(StringField(doc.Data, FieldMood)),
		ReadTime:      IntField(doc.Data, FieldReadTime),
		DateRecovered: !ok,
	}
}

// PostsFromDocuments keeps the store's order.
func PostsFromDocuments(docs []Document, now time.Time) []*models.Post {
	posts := make([]*models.Post, 0, len(docs))
	for _, doc := range docs {
		posts = append(posts, PostFromDocument(doc, now))
	}
	return posts
}
