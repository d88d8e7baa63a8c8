package middleware

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// ErrInvalidToken covers every way a bearer token can be rejected.
var ErrInvalidToken = errors.New("invalid or expired token")

// KeyProvider resolves asymmetric verification keys by kid.
type KeyProvider interface {
	Key(ctx context.Context, kid string) (crypto.PublicKey, error)
}

// JWTOptions configures a JWTVerifier. Secret enables HS256 and Keys enables
// RS256/ES256; at least one is required.
type JWTOptions struct {
	Secret   string
	Keys     KeyProvider
	Audience string
	Now      func() time.Time
}

// JWTVerifier validates Supabase access tokens and extracts the user id.
type JWTVerifier struct {
	secret   []byte
	keys     KeyProvider
	audience string
	now      func() time.Time
}

func NewJWTVerifier(opts JWTOptions) (*JWTVerifier, error) {
	if strings.TrimSpace(opts.Secret) == "" && opts.Keys == nil {
		return nil, errors.New("jwt verifier requires a secret or a key provider")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &JWTVerifier{
		secret:   []byte(opts.Secret),
		keys:     opts.Keys,
		audience: opts.Audience,
		now:      now,
	}, nil
}

// Verify returns the token subject.
func (v *JWTVerifier) Verify(ctx context.Context, raw string) (string, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "RS256", "ES256"}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if len(v.secret) == 0 {
				return nil, errors.New("hmac tokens not accepted")
			}
			return v.secret, nil
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			if v.keys == nil {
				return nil, errors.New("asymmetric tokens not accepted")
			}
			kid, _ := t.Header["kid"].(string)
			return v.keys.Key(ctx, kid)
		default:
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
	}, parserOpts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// SignJWT issues an HS256 token for subject. Used by dreamctl and tests.
func SignJWT(secret, subject, audience string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("secret is required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// AuthJWT rejects requests without a valid bearer token and stores the
// subject in the request context.
func AuthJWT(v *JWTVerifier, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
				writeUnauthorized(w, "Missing bearer token")
				return
			}
			userID, err := v.Verify(r.Context(), strings.TrimSpace(parts[1]))
			if err != nil {
				logger.Debug().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("token rejected")
				writeUnauthorized(w, "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail, "type": "unauthorized"})
}

func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if strings.TrimSpace(userID) == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey, userID)
}
