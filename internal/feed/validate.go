// Package feed holds the pure rules behind the feed: input validation,
// derived post fields, window statistics and the optimistic like ledger.
package feed

import (
	"errors"
	"fmt"
	"strings"

	"socialsphere/internal/models"
	"socialsphere/internal/utils"

	"github.com/go-playground/validator/v10"
)

const (
	MaxContentLength = 2000
	MaxTags          = 5
	MaxBioLength     = 160
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("mood", func(fl validator.FieldLevel) bool {
		return models.Mood(fl.Field().String()).Valid()
	}); err != nil {
		panic(err)
	}
	return v
}

// PostInput is a post draft after trimming and tag normalization.
type PostInput struct {
	Content string      `validate:"required,max=2000"`
	Tags    []string    `validate:"max=5,dive,required"`
	Mood    models.Mood `validate:"mood"`
}

type CommentInput struct {
	PostID  string `validate:"required"`
	Content string `validate:"required,max=2000"`
}

type SignUpInput struct {
	Email string `validate:"required,email"`
	Name  string `validate:"required,max=80"`
	Bio   string `validate:"max=160"`
}

// NewPostInput trims the draft, normalizes its tags and validates it.
func NewPostInput(content string, tags []string, mood models.Mood) (PostInput, error) {
	in := PostInput{
		Content: strings.TrimSpace(content),
		Tags:    NormalizeTags(tags),
		Mood:    models.Mood(strings.ToLower(strings.TrimSpace(string(mood)))),
	}
	if err := validate.Struct(in); err != nil {
		return PostInput{}, validationError(err)
	}
	return in, nil
}

func NewCommentInput(postID, content string) (CommentInput, error) {
	in := CommentInput{PostID: strings.TrimSpace(postID), Content: strings.TrimSpace(content)}
	if err := validate.Struct(in); err != nil {
		return CommentInput{}, validationError(err)
	}
	return in, nil
}

func NewSignUpInput(email, name, bio string) (SignUpInput, error) {
	in := SignUpInput{
		Email: strings.ToLower(strings.TrimSpace(email)),
		Name:  strings.TrimSpace(name),
		Bio:   strings.TrimSpace(bio),
	}
	if err := validate.Struct(in); err != nil {
		return SignUpInput{}, validationError(err)
	}
	return in, nil
}

// NormalizeTags trims each tag, drops empty ones and removes duplicates,
// keeping first occurrences in order. The count is not capped here; a
// draft with more than MaxTags tags fails validation.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

func validationError(err error) *utils.AppError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return utils.NewValidationError(err.Error())
	}

	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		if fe.Field() == "Tags" || strings.HasPrefix(fe.Field(), "Tags[") {
			return utils.NewValidationError("tags must not be empty")
		}
		return utils.NewValidationError(field + " must not be empty")
	case "max":
		if fe.Field() == "Tags" {
			return utils.NewValidationError(fmt.Sprintf("at most %d tags are allowed", MaxTags))
		}
		return utils.NewValidationError(fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
	case "email":
		return utils.NewValidationError("email is not a valid address")
	case "mood":
		return utils.NewValidationError(fmt.Sprintf("mood %q is not one of %v", fe.Value(), models.Moods))
	}
	return utils.NewValidationError(fmt.Sprintf("%s is invalid", field))
}
