// internal/database/user_repository.go
package database

import (
	"time"

	"socialsphere/internal/models"
)

// Profile and account document fields.
const (
	FieldEmail        = "email"
	FieldName         = "name"
	FieldBio          = "bio"
	FieldPasswordHash = "passwordHash"
	FieldDisplayName  = "displayName"
)

// ProfileToData converts a UserProfile to the users document keyed by the
// identity's user ID.
func ProfileToData(profile *models.UserProfile) map[string]any {
	return map[string]any{
		FieldEmail:     profile.Email,
		FieldName:      profile.Name,
		FieldBio:       profile.Bio,
		FieldCreatedAt: profile.CreatedAt,
	}
}

func ProfileFromDocument(doc Document, now time.Time) *models.UserProfile {
	createdAt, ok := TimeField(doc.Data, FieldCreatedAt)
	if !ok {
		createdAt = now
	}
	return &models.UserProfile{
		ID:        doc.ID,
		Email:     StringField(doc.Data, FieldEmail),
		Name:      StringField(doc.Data, FieldName),
		Bio:       StringField(doc.Data, FieldBio),
		CreatedAt: createdAt,
	}
}

// AccountDocument is the credential record the identity provider keeps in
// the accounts collection, separate from the public profile.
type AccountDocument struct {
	UserID       string
	Email        string
	PasswordHash string
	DisplayName  string
	CreatedAt    time.Time
}

func AccountToData(account *AccountDocument) map[string]any {
	return map[string]any{
		FieldEmail:        account.Email,
		FieldPasswordHash: account.PasswordHash,
		FieldDisplayName:  account.DisplayName,
		FieldCreatedAt:    account.CreatedAt,
	}
}

func AccountFromDocument(doc Document) *AccountDocument {
	createdAt, _ := TimeField(doc.Data, FieldCreatedAt)
	return &AccountDocument{
		UserID:       doc.ID,
		Email:        StringField(doc.Data, FieldEmail),
		PasswordHash: StringField(doc.Data, FieldPasswordHash),
		DisplayName:  StringField(doc.Data, FieldDisplayName),
		CreatedAt:    createdAt,
	}
}
