package entitlement

import (
	"fmt"
	"time"
)

// Response is the wire shape of a verdict.
type Response struct {
	Status          string  `json:"status"`
	Message         string  `json:"message"`
	ExpiryDate      *string `json:"expiry_date"`
	DreamsRemaining *int    `json:"dreams_remaining"`
	IsPro           bool    `json:"is_pro"`
	ErrorType       *string `json:"error_type"`
}

// Status strings expected by the mobile client.
const (
	StatusPro               = "Pro"
	StatusFreeTrial         = "FREE TRIAL"
	StatusNoSubscription    = "NO SUBSCRIPTION"
	StatusVerificationError = "VERIFICATION_ERROR"
	StatusCredentialError   = "CREDENTIAL_ERROR"
	StatusError             = "ERROR"
)

// Present renders v for API responses. is_pro is true for every entitled
// verdict since the mobile client unlocks on it, free trial included.
// Only Pro carries a null dreams_remaining.
func Present(v Verdict) Response {
	res := Response{IsPro: v.Entitled}
	if v.Kind != KindPro && v.Kind != KindFreeTrial {
		zero := 0
		res.DreamsRemaining = &zero
	}
	if v.Expiry != nil {
		s := v.Expiry.UTC().Format(time.RFC3339)
		res.ExpiryDate = &s
	}
	if et := v.Kind.ErrorType(); et != "" {
		res.ErrorType = &et
	}

	switch v.Kind {
	case KindPro:
		res.Status = StatusPro
		res.Message = "User has an active PRO subscription"
	case KindFreeTrial:
		res.Status = StatusFreeTrial
		res.DreamsRemaining = v.RemainingUses
		res.Message = fmt.Sprintf("User has free trial access with %d dreams remaining", deref(v.RemainingUses))
	case KindNoSubscription:
		res.Status = StatusNoSubscription
		res.Message = "User does not have an active subscription"
	case KindVerificationError:
		res.Status = StatusVerificationError
		res.Message = "Failed to verify subscription with Google Play: " + v.ErrorDetail
	case KindCredentialError:
		res.Status = StatusCredentialError
		res.Message = "Failed to load Google Cloud credentials: " + v.ErrorDetail
	default:
		res.Status = StatusError
		res.Message = "Subscription verification error: " + v.ErrorDetail
	}
	return res
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
