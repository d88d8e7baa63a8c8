package handlers

import (
	"io"
	"net/http"
	"time"

	"dreamsense/internal/adapter/repo"
	"dreamsense/internal/domain"
	"dreamsense/internal/relay"
)

type streamRequest struct {
	Query         string `json:"query"`
	PurchaseToken string `json:"purchase_token"`
}

// Stream relays the model's interpretation as plain text, flushing each
// chunk as soon as it arrives. Denials are answered as JSON before any
// stream headers go out.
func (a *App) Stream(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
		return
	}
	var req streamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.badRequest(w, err)
		return
	}
	query, err := requireField("query", req.Query)
	if err != nil {
		a.badRequest(w, err)
		return
	}
	ctx := r.Context()
	log := a.requestLogger(r)

	if v := a.entitlementFor(r, userID, cleanText(req.PurchaseToken)); !v.Entitled {
		a.deny(w, log, v)
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	prompt, err := a.prompts.Contents(ctx, domain.PromptTitleInterpretation)
	if err != nil {
		log.Error().Err(err).Msg("load interpretation prompt")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "Error: "+promptMissingDetail)
		return
	}

	var history string
	dreams, err := a.dreams.History(ctx, userID, a.historyLimit)
	if err != nil {
		log.Warn().Err(err).Msg("load dream history")
	} else {
		history = repo.FormatHistory(dreams)
	}

	seq := a.relay.Stream(ctx, relay.Request{
		Query:        query,
		SystemPrompt: prompt,
		UserProfile:  a.profileFor(ctx, log, userID),
		History:      history,
	})

	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	chunks := 0
	for chunk := range seq {
		if _, err := io.WriteString(w, chunk); err != nil {
			log.Debug().Err(err).Msg("stream client gone")
			break
		}
		if err := rc.Flush(); err != nil {
			log.Debug().Err(err).Msg("stream flush failed")
			break
		}
		chunks++
	}
	log.Info().Int("chunks", chunks).Msg("stream finished")
}
