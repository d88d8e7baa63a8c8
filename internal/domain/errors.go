package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInvalidInput          = errors.New("invalid input")
	ErrCredentialUnavailable = errors.New("credential unavailable")
	ErrVerificationFailed    = errors.New("subscription verification failed")
	ErrProviderFailure       = errors.New("provider failure")
	ErrPromptMissing         = errors.New("prompt missing")
)
