package domain

import "time"

// Dream is one persisted interpretation exchange.
type Dream struct {
	ID          string
	UserID      string
	Description string
	Response    string
	ImageURL    string
	CreatedAt   time.Time
}

// Prompt row titles in daily_read.
const (
	PromptTitleInterpretation = "PROMPT"
	PromptTitleImage          = "IMAGE"
)
