package google

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"

	"dreamsense/internal/domain"
)

// AndroidPublisherScope grants read access to Play purchase records.
const AndroidPublisherScope = "https://www.googleapis.com/auth/androidpublisher"

// Credential is a short-lived bearer token for Google APIs.
type Credential struct {
	AccessToken string
	TokenType   string
	Expiry      time.Time
}

// CredentialError describes which step of credential loading failed.
type CredentialError struct {
	Op  string
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("google credentials: %s: %v", e.Op, e.Err)
}

func (e *CredentialError) Unwrap() []error {
	return []error{domain.ErrCredentialUnavailable, e.Err}
}

// CredentialOptions configures a CredentialProvider.
type CredentialOptions struct {
	// SecretB64 is the base64 encoded service-account JSON key.
	SecretB64 string
	Scopes    []string
	// HTTPClient is used for token exchange. Nil uses a client with a 10s timeout.
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// CredentialProvider mints access tokens from a service-account key. The
// parsed key and the last token are kept; a token exchange only happens when
// the cached token is missing or about to expire, and it runs on the
// caller's context.
type CredentialProvider struct {
	secret     string
	scopes     []string
	httpClient *http.Client
	logger     zerolog.Logger

	// sem admits one exchange at a time while letting waiters give up on ctx.
	sem   chan struct{}
	cfg   *jwt.Config
	token *oauth2.Token
}

func NewCredentialProvider(opts CredentialOptions) *CredentialProvider {
	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = []string{AndroidPublisherScope}
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &CredentialProvider{
		secret:     strings.TrimSpace(opts.SecretB64),
		scopes:     scopes,
		httpClient: client,
		logger:     logger.With().Str("component", "google_credentials").Logger(),
		sem:        make(chan struct{}, 1),
	}
}

// Credential returns a valid access token. Each call makes at most one
// token exchange, bounded by ctx; failures are not cached.
func (p *CredentialProvider) Credential(ctx context.Context) (*Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, &CredentialError{Op: "context", Err: err}
	}
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, &CredentialError{Op: "context", Err: ctx.Err()}
	}
	defer func() { <-p.sem }()

	if p.token.Valid() {
		return credentialFrom(p.token), nil
	}
	cfg, err := p.config()
	if err != nil {
		return nil, err
	}
	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	tok, err := cfg.TokenSource(exchangeCtx).Token()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &CredentialError{Op: "context", Err: ctxErr}
		}
		p.logger.Warn().Err(err).Msg("token exchange failed")
		return nil, &CredentialError{Op: "issue token", Err: err}
	}
	if tok.AccessToken == "" {
		return nil, &CredentialError{Op: "issue token", Err: errors.New("empty access token")}
	}
	p.token = tok
	return credentialFrom(tok), nil
}

func credentialFrom(tok *oauth2.Token) *Credential {
	return &Credential{AccessToken: tok.AccessToken, TokenType: tok.Type(), Expiry: tok.Expiry}
}

// config parses the service-account key once. Callers hold sem.
func (p *CredentialProvider) config() (*jwt.Config, error) {
	if p.cfg != nil {
		return p.cfg, nil
	}
	if p.secret == "" {
		return nil, &CredentialError{Op: "load secret", Err: errors.New("GOOGLE_SERVICE_ACCOUNT_JSON_B64 is not set")}
	}
	data, err := decodeSecret(p.secret)
	if err != nil {
		return nil, &CredentialError{Op: "decode secret", Err: err}
	}
	cfg, err := googleoauth.JWTConfigFromJSON(data, p.scopes...)
	if err != nil {
		return nil, &CredentialError{Op: "parse service account", Err: err}
	}
	p.cfg = cfg
	p.logger.Info().Str("client_email", cfg.Email).Msg("service account loaded")
	return cfg, nil
}

func decodeSecret(secret string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(secret)
	if err == nil {
		return data, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(secret, "=")); rawErr == nil {
		return raw, nil
	}
	return nil, err
}
