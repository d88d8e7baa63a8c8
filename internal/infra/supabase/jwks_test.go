package supabase

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func padded(b []byte, size int) []byte {
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

func TestKeySetResolvesRSAAndEC(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate ec key: %v", err)
	}
	enc := base64.RawURLEncoding
	set := map[string]any{"keys": []map[string]string{
		{"kid": "rsa-1", "kty": "RSA", "alg": "RS256", "n": enc.EncodeToString(rsaKey.N.Bytes()), "e": enc.EncodeToString(big.NewInt(int64(rsaKey.E)).Bytes())},
		{"kid": "ec-1", "kty": "EC", "alg": "ES256", "crv": "P-256", "x": enc.EncodeToString(padded(ecKey.X.Bytes(), 32)), "y": enc.EncodeToString(padded(ecKey.Y.Bytes(), 32))},
		{"kid": "oct-1", "kty": "oct"},
	}}
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(set)
	}))
	defer srv.Close()

	keys := NewKeySet(srv.URL, nil)
	ctx := context.Background()

	pub, err := keys.Key(ctx, "rsa-1")
	if err != nil {
		t.Fatalf("Key(rsa-1) error: %v", err)
	}
	if got, ok := pub.(*rsa.PublicKey); !ok || got.N.Cmp(rsaKey.N) != 0 {
		t.Fatalf("Key(rsa-1) = %T, want matching *rsa.PublicKey", pub)
	}
	pub, err = keys.Key(ctx, "ec-1")
	if err != nil {
		t.Fatalf("Key(ec-1) error: %v", err)
	}
	if got, ok := pub.(*ecdsa.PublicKey); !ok || !got.Equal(&ecKey.PublicKey) {
		t.Fatalf("Key(ec-1) = %T, want matching *ecdsa.PublicKey", pub)
	}
	if hits.Load() != 1 {
		t.Fatalf("jwks fetches = %d, want 1", hits.Load())
	}

	if _, err := keys.Key(ctx, "missing"); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("Key(missing) error = %v, want ErrUnknownKey", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("unknown kid should trigger one refresh, fetches = %d", hits.Load())
	}
}

func TestKeySetFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := NewKeySet(srv.URL, nil).Key(context.Background(), "any"); err == nil {
		t.Fatalf("expected error from failing jwks endpoint")
	}
}
