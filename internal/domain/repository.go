package domain

import "context"

// DreamRepository abstracts persistence of dream interactions.
type DreamRepository interface {
	CountByUser(ctx context.Context, userID string) (int, error)
	History(ctx context.Context, userID string, limit int) ([]Dream, error)
	Insert(ctx context.Context, dream Dream) (string, error)
}

// ProfileRepository returns the questionnaire profile a user filled in at onboarding.
type ProfileRepository interface {
	Profile(ctx context.Context, userID string) (string, error)
}

// PromptRepository reads and writes the system prompts stored by title.
type PromptRepository interface {
	Contents(ctx context.Context, title string) (string, error)
	SetContents(ctx context.Context, title, contents string) error
}
