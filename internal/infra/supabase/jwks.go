package supabase

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

type jwks struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Crv string `json:"crv"`
	N   string `json:"n"`
	E   string `json:"e"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// ErrUnknownKey is returned when the key set has no key with the requested id.
var ErrUnknownKey = errors.New("supabase: unknown signing key")

// KeySet fetches and caches the project's asymmetric JWT signing keys.
type KeySet struct {
	url        string
	ttl        time.Duration
	httpClient *http.Client

	mu      sync.RWMutex
	cache   map[string]crypto.PublicKey
	fetched time.Time
}

func NewKeySet(url string, httpClient *http.Client) *KeySet {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &KeySet{
		url:        url,
		ttl:        time.Hour,
		httpClient: httpClient,
		cache:      make(map[string]crypto.PublicKey),
	}
}

// Key returns the public key for kid, refreshing the set once when the cache
// is stale or does not contain it.
func (k *KeySet) Key(ctx context.Context, kid string) (crypto.PublicKey, error) {
	if k.fresh() {
		if key, ok := k.keyFor(kid); ok {
			return key, nil
		}
	}
	if err := k.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := k.keyFor(kid); ok {
		return key, nil
	}
	return nil, ErrUnknownKey
}

func (k *KeySet) fresh() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return time.Since(k.fetched) < k.ttl && len(k.cache) > 0
}

func (k *KeySet) keyFor(kid string) (crypto.PublicKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	pk, ok := k.cache[kid]
	return pk, ok
}

func (k *KeySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return err
	}
	resp, err := k.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("supabase: fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("supabase: fetch jwks: status %d", resp.StatusCode)
	}
	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("supabase: decode jwks: %w", err)
	}
	keys := make(map[string]crypto.PublicKey)
	for _, key := range set.Keys {
		var (
			pub crypto.PublicKey
			err error
		)
		switch key.Kty {
		case "RSA":
			pub, err = rsaKeyFromJWK(key)
		case "EC":
			pub, err = ecKeyFromJWK(key)
		default:
			continue
		}
		if err != nil {
			continue
		}
		keys[key.Kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("supabase: no usable keys in jwks")
	}
	k.mu.Lock()
	k.cache = keys
	k.fetched = time.Now()
	k.mu.Unlock()
	return nil
}

func rsaKeyFromJWK(j jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, err
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}
	if e == 0 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}

func ecKeyFromJWK(j jwk) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch j.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	default:
		return nil, fmt.Errorf("unsupported curve %q", j.Crv)
	}
	xBytes, err := base64.RawURLEncoding.DecodeString(j.X)
	if err != nil {
		return nil, err
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(j.Y)
	if err != nil {
		return nil, err
	}
	pub := &ecdsa.PublicKey{Curve: curve, X: new(big.Int).SetBytes(xBytes), Y: new(big.Int).SetBytes(yBytes)}
	if !curve.IsOnCurve(pub.X, pub.Y) {
		return nil, errors.New("point not on curve")
	}
	return pub, nil
}
