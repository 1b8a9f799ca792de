package database

import (
	"time"

	"socialsphere/internal/models"
)

// CommentToData converts a Comment model to its stored fields.
func CommentToData(comment *models.Comment) map[string]any {
	return map[string]any{
		FieldPostID:      comment.PostID,
		FieldContent:     comment.Content,
		FieldAuthorID:    comment.AuthorID,
		FieldAuthorName:  comment.AuthorName,
		FieldAuthorEmail: comment.AuthorEmail,
		FieldCreatedAt:   comment.CreatedAt,
	}
}

// CommentFromDocument converts a stored document to a Comment, recovering a
// bad timestamp the same way posts do.
func CommentFromDocument(doc Document, now time.Time) *models.Comment {
	createdAt, ok := TimeField(doc.Data, FieldCreatedAt)
	if !ok {
		createdAt = now
	}
	return &models.Comment{
		ID:            doc.ID,
		PostID:        StringField(doc.Data, FieldPostID),
		Content:       StringField(doc.Data, FieldContent),
		AuthorID:      StringField(doc.Data, FieldAuthorID),
		AuthorName:    StringField(doc.Data, FieldAuthorName),
		AuthorEmail:   StringField(doc.Data, FieldAuthorEmail),
		CreatedAt:     createdAt,
		DateRecovered: !ok,
	}
}

func CommentsFromDocuments(docs []Document, now time.Time) []*models.Comment {
	comments := make([]*models.Comment, 0, len(docs))
	for _, doc := range docs {
		comments = append(comments, CommentFromDocument(doc, now))
	}
	return comments
}
