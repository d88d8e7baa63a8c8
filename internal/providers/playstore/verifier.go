// Package playstore looks up subscription purchases with the Google Play
// Developer API.
package playstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	androidpublisher "google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"dreamsense/internal/domain"
	"dreamsense/internal/entitlement"
	"dreamsense/internal/infra"
	gcp "dreamsense/internal/infra/google"
)

const defaultTimeout = 10 * time.Second

// CredentialSource yields the bearer credential for each lookup.
type CredentialSource interface {
	Credential(ctx context.Context) (*gcp.Credential, error)
}

// Observer records upstream call latency.
type Observer interface {
	ObserveUpstream(provider, operation string, started time.Time, err error)
}

// VerificationError is a failed or non-2xx publisher API call.
type VerificationError struct {
	Status  int
	Message string
	Err     error
}

func (e *VerificationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("status %d: %s", e.Status, e.Message)
	}
	return e.Message
}

func (e *VerificationError) Unwrap() []error {
	return []error{domain.ErrVerificationFailed, e.Err}
}

type Options struct {
	PackageName    string
	SubscriptionID string
	// Endpoint overrides the publisher API base URL, mainly for tests.
	Endpoint    string
	Credentials CredentialSource
	HTTPClient  *http.Client
	Logger      *zerolog.Logger
	Metrics     Observer
}

type Verifier struct {
	packageName    string
	subscriptionID string
	endpoint       string
	credentials    CredentialSource
	base           http.RoundTripper
	timeout        time.Duration
	logger         zerolog.Logger
	metrics        Observer
}

func NewVerifier(opts Options) (*Verifier, error) {
	if strings.TrimSpace(opts.PackageName) == "" {
		return nil, errors.New("playstore: package name is required")
	}
	if strings.TrimSpace(opts.SubscriptionID) == "" {
		return nil, errors.New("playstore: subscription id is required")
	}
	if opts.Credentials == nil {
		return nil, errors.New("playstore: credential source is required")
	}
	base := http.DefaultTransport
	timeout := defaultTimeout
	if opts.HTTPClient != nil {
		if opts.HTTPClient.Transport != nil {
			base = opts.HTTPClient.Transport
		}
		if opts.HTTPClient.Timeout > 0 {
			timeout = opts.HTTPClient.Timeout
		}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Verifier{
		packageName:    strings.TrimSpace(opts.PackageName),
		subscriptionID: strings.TrimSpace(opts.SubscriptionID),
		endpoint:       strings.TrimSpace(opts.Endpoint),
		credentials:    opts.Credentials,
		base:           base,
		timeout:        timeout,
		logger:         logger.With().Str("component", "playstore").Logger(),
		metrics:        opts.Metrics,
	}, nil
}

// Lookup fetches the subscription purchase for purchaseToken. A fresh
// credential is requested on every call.
func (v *Verifier) Lookup(ctx context.Context, purchaseToken string) (rec *entitlement.SubscriptionRecord, err error) {
	started := time.Now()
	defer func() {
		if v.metrics != nil {
			v.metrics.ObserveUpstream("play", "subscriptions.get", started, err)
		}
	}()

	cred, err := v.credentials.Credential(ctx)
	if err != nil {
		return nil, fmt.Errorf("playstore: %w", err)
	}
	svc, err := v.service(ctx, cred)
	if err != nil {
		return nil, &VerificationError{Message: "build publisher client: " + err.Error(), Err: err}
	}

	purchase, err := svc.Purchases.Subscriptions.Get(v.packageName, v.subscriptionID, purchaseToken).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			msg := apiErr.Message
			if msg == "" {
				msg = http.StatusText(apiErr.Code)
			}
			v.logger.Info().Int("status", apiErr.Code).Str("purchase_token", infra.TokenPrefix(purchaseToken)).Msg("purchase lookup rejected")
			return nil, &VerificationError{Status: apiErr.Code, Message: msg, Err: err}
		}
		return nil, &VerificationError{Message: err.Error(), Err: err}
	}

	return &entitlement.SubscriptionRecord{
		ExpiryTime:   time.UnixMilli(purchase.ExpiryTimeMillis).UTC(),
		AutoRenewing: purchase.AutoRenewing,
		PaymentState: purchase.PaymentState,
	}, nil
}

func (v *Verifier) service(ctx context.Context, cred *gcp.Credential) (*androidpublisher.Service, error) {
	tokenType := cred.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	client := &http.Client{
		Timeout: v.timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.AccessToken, TokenType: tokenType, Expiry: cred.Expiry}),
			Base:   v.base,
		},
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if v.endpoint != "" {
		opts = append(opts, option.WithEndpoint(v.endpoint))
	}
	return androidpublisher.NewService(ctx, opts...)
}

var _ entitlement.Verifier = (*Verifier)(nil)
