package handlers

import (
	"context"
	"net/http"
	"time"
)

func (a *App) Root(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"message": "Never gonna let you down"})
}

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"message": "Never gonna give you up"})
}

type googleCloudHealth struct {
	Status         string  `json:"status"`
	Message        string  `json:"message"`
	HasAccessToken bool    `json:"has_access_token"`
	TokenType      *string `json:"token_type"`
	Error          *string `json:"error"`
}

// GoogleCloudHealth reports whether a publisher API credential can be issued.
func (a *App) GoogleCloudHealth(w http.ResponseWriter, r *http.Request) {
	if a.credentials == nil {
		msg := "credential provider not configured"
		a.json(w, http.StatusServiceUnavailable, googleCloudHealth{
			Status:  "unhealthy",
			Message: "Google Cloud credentials are not configured",
			Error:   &msg,
		})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	cred, err := a.credentials.Credential(ctx)
	if err != nil {
		msg := err.Error()
		a.requestLogger(r).Warn().Err(err).Msg("google cloud credential check failed")
		a.json(w, http.StatusServiceUnavailable, googleCloudHealth{
			Status:  "unhealthy",
			Message: "Failed to load Google Cloud credentials",
			Error:   &msg,
		})
		return
	}
	tokenType := cred.TokenType
	a.json(w, http.StatusOK, googleCloudHealth{
		Status:         "healthy",
		Message:        "Google Cloud credentials loaded successfully",
		HasAccessToken: cred.AccessToken != "",
		TokenType:      &tokenType,
	})
}
