// Package entitlement decides whether a user may perform a metered action,
// combining a Play subscription lookup with the free-trial allowance.
package entitlement

import (
	"context"
	"time"
)

// Kind is the closed set of entitlement outcomes.
type Kind int

const (
	KindGenericError Kind = iota
	KindPro
	KindFreeTrial
	KindNoSubscription
	KindVerificationError
	KindCredentialError
)

func (k Kind) String() string {
	switch k {
	case KindPro:
		return "PRO"
	case KindFreeTrial:
		return "FREE_TRIAL"
	case KindNoSubscription:
		return "NO_SUBSCRIPTION"
	case KindVerificationError:
		return "VERIFICATION_ERROR"
	case KindCredentialError:
		return "CREDENTIAL_ERROR"
	default:
		return "GENERIC_ERROR"
	}
}

// IsError reports whether k is one of the error outcomes.
func (k Kind) IsError() bool {
	switch k {
	case KindVerificationError, KindCredentialError, KindGenericError:
		return true
	}
	return false
}

// ErrorType is the machine readable denial reason, empty for entitled kinds.
func (k Kind) ErrorType() string {
	switch k {
	case KindPro, KindFreeTrial:
		return ""
	case KindNoSubscription:
		return "no_subscription"
	case KindVerificationError:
		return "subscription_verification_failed"
	case KindCredentialError:
		return "credential_loading_failed"
	default:
		return "general_error"
	}
}

// Verdict is the outcome of one resolution. Entitled is true exactly when
// Kind is KindPro or KindFreeTrial.
type Verdict struct {
	Entitled bool
	Kind     Kind
	// Expiry is set whenever a paid record was retrieved, active or not.
	Expiry *time.Time
	// RemainingUses is nil for PRO and error kinds.
	RemainingUses *int
	ErrorDetail   string
}

// SubscriptionRecord is the subset of a Play subscription purchase the
// resolver reads.
type SubscriptionRecord struct {
	ExpiryTime   time.Time
	AutoRenewing bool
	// PaymentState is nil when Play omits it (for example on expired purchases).
	PaymentState *int64
}

// Payment states reported by Play.
const (
	PaymentPending         int64 = 0
	PaymentReceived        int64 = 1
	PaymentFreeTrial       int64 = 2
	PaymentPendingDeferred int64 = 3
)

// PaymentOK reports whether the payment state counts as paid.
func (r SubscriptionRecord) PaymentOK() bool {
	if r.PaymentState == nil {
		return false
	}
	return *r.PaymentState == PaymentReceived || *r.PaymentState == PaymentFreeTrial
}

// Verifier fetches the subscription record for a purchase token.
type Verifier interface {
	Lookup(ctx context.Context, purchaseToken string) (*SubscriptionRecord, error)
}

// Recorder receives one observation per verdict.
type Recorder interface {
	ObserveVerdict(kind string)
}
