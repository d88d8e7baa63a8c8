package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dreamsense/internal/domain"
	"dreamsense/internal/infra"
)

const (
	DefaultFreeTrialLimit = 2
	DefaultVerifyTimeout  = 10 * time.Second
)

// Options configures a Resolver.
type Options struct {
	Verifier       Verifier
	FreeTrialLimit int
	VerifyTimeout  time.Duration
	Now            func() time.Time
	Logger         *zerolog.Logger
	Metrics        Recorder
}

// Resolver computes verdicts. It holds no per-user state.
type Resolver struct {
	verifier Verifier
	limit    int
	timeout  time.Duration
	now      func() time.Time
	logger   zerolog.Logger
	metrics  Recorder
}

func NewResolver(opts Options) *Resolver {
	limit := opts.FreeTrialLimit
	if limit <= 0 {
		limit = DefaultFreeTrialLimit
	}
	timeout := opts.VerifyTimeout
	if timeout <= 0 {
		timeout = DefaultVerifyTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Resolver{
		verifier: opts.Verifier,
		limit:    limit,
		timeout:  timeout,
		now:      now,
		logger:   logger.With().Str("component", "entitlement").Logger(),
		metrics:  opts.Metrics,
	}
}

// FreeTrialLimit is the configured number of free metered actions.
func (r *Resolver) FreeTrialLimit() int {
	return r.limit
}

// Resolve classifies the user for one metered action. It never returns an
// error; every failure is folded into an error Kind.
func (r *Resolver) Resolve(ctx context.Context, userID, purchaseToken string, usageCount int) (v Verdict) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Str("user_id", userID).Msg("resolve panicked")
			v = genericError(fmt.Sprintf("unexpected failure: %v", rec))
		}
		r.record(userID, v)
	}()

	if strings.TrimSpace(userID) == "" {
		return genericError("user id is required")
	}
	if usageCount < 0 {
		return genericError(fmt.Sprintf("usage count must not be negative, got %d", usageCount))
	}

	var expiry *time.Time
	if token := strings.TrimSpace(purchaseToken); token != "" {
		if r.verifier == nil {
			return genericError("subscription verifier is not configured")
		}
		record, err := r.lookup(ctx, token)
		if err != nil {
			return r.lookupFailure(userID, token, err)
		}
		if record == nil {
			return genericError("subscription lookup returned no record")
		}
		exp := record.ExpiryTime.UTC()
		expiry = &exp
		if exp.After(r.now()) && record.PaymentOK() {
			return Verdict{Entitled: true, Kind: KindPro, Expiry: expiry}
		}
	}

	remaining := max(0, r.limit-usageCount)
	if remaining > 0 {
		return Verdict{Entitled: true, Kind: KindFreeTrial, Expiry: expiry, RemainingUses: &remaining}
	}
	return Verdict{Kind: KindNoSubscription, Expiry: expiry, RemainingUses: &remaining}
}

func (r *Resolver) lookup(ctx context.Context, token string) (*SubscriptionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.verifier.Lookup(ctx, token)
}

func (r *Resolver) lookupFailure(userID, token string, err error) Verdict {
	event := r.logger.Warn().Err(err).Str("user_id", userID).Str("purchase_token", infra.TokenPrefix(token))
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		event.Msg("subscription lookup timed out")
		return Verdict{Kind: KindVerificationError, ErrorDetail: "verification timed out after " + r.timeout.String()}
	case errors.Is(err, domain.ErrCredentialUnavailable):
		event.Msg("google credentials unavailable")
		return Verdict{Kind: KindCredentialError, ErrorDetail: err.Error()}
	default:
		event.Msg("subscription lookup failed")
		return Verdict{Kind: KindVerificationError, ErrorDetail: err.Error()}
	}
}

func (r *Resolver) record(userID string, v Verdict) {
	if r.metrics != nil {
		r.metrics.ObserveVerdict(v.Kind.String())
	}
	r.logger.Debug().Str("user_id", userID).Str("kind", v.Kind.String()).Bool("entitled", v.Entitled).Msg("verdict")
}

// Failure converts an error raised around resolution, such as a failed usage
// count, into a non-entitled verdict.
func Failure(err error) Verdict {
	if err == nil {
		return genericError("unknown failure")
	}
	if errors.Is(err, domain.ErrCredentialUnavailable) {
		return Verdict{Kind: KindCredentialError, ErrorDetail: err.Error()}
	}
	return genericError(err.Error())
}

func genericError(detail string) Verdict {
	return Verdict{Kind: KindGenericError, ErrorDetail: detail}
}
