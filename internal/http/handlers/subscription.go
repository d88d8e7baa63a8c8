package handlers

import (
	"net/http"

	"dreamsense/internal/entitlement"
	"dreamsense/internal/infra"
)

type verifySubscriptionRequest struct {
	PurchaseToken string `json:"purchase_token"`
}

// verdictStatus maps a verdict onto /verify-subscription status codes.
func verdictStatus(v entitlement.Verdict) int {
	switch v.Kind {
	case entitlement.KindPro, entitlement.KindFreeTrial, entitlement.KindNoSubscription:
		return http.StatusOK
	case entitlement.KindVerificationError:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// denialStatus maps a verdict that blocks a metered action.
func denialStatus(v entitlement.Verdict) int {
	switch v.Kind {
	case entitlement.KindNoSubscription, entitlement.KindVerificationError:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// entitlementFor counts the user's usage and resolves the verdict. A failing
// count resolves to a generic error without consulting the publisher.
func (a *App) entitlementFor(r *http.Request, userID, purchaseToken string) entitlement.Verdict {
	count, err := a.dreams.CountByUser(r.Context(), userID)
	if err != nil {
		a.requestLogger(r).Error().Err(err).Msg("count dreams failed")
		return entitlement.Failure(err)
	}
	return a.resolver.Resolve(r.Context(), userID, purchaseToken, count)
}

func (a *App) VerifySubscription(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
		return
	}
	var req verifySubscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.badRequest(w, err)
		return
	}
	token := cleanText(req.PurchaseToken)

	v := a.entitlementFor(r, userID, token)
	a.requestLogger(r).Info().
		Str("kind", v.Kind.String()).
		Str("purchase_token", infra.TokenPrefix(token)).
		Msg("subscription verified")
	a.json(w, verdictStatus(v), entitlement.Present(v))
}
