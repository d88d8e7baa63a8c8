package handlers

import "net/http"

type meResponse struct {
	UserID          string `json:"user_id"`
	DreamCount      int    `json:"dream_count"`
	FreeTrialLimit  int    `json:"free_trial_limit"`
	DreamsRemaining int    `json:"dreams_remaining"`
}

// Me reports the caller's usage against the free trial allowance.
func (a *App) Me(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
		return
	}
	count, err := a.dreams.CountByUser(r.Context(), userID)
	if err != nil {
		a.requestLogger(r).Error().Err(err).Msg("count dreams failed")
		a.error(w, http.StatusInternalServerError, "internal", "Failed to load usage")
		return
	}
	limit := a.resolver.FreeTrialLimit()
	a.json(w, http.StatusOK, meResponse{
		UserID:          userID,
		DreamCount:      count,
		FreeTrialLimit:  limit,
		DreamsRemaining: max(0, limit-count),
	})
}
