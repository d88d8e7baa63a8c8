package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SupabaseStore talks to the Supabase Storage REST API with the project's
// service key.
type SupabaseStore struct {
	baseURL    string
	serviceKey string
	bucket     string
	client     *http.Client
}

type SupabaseOptions struct {
	URL        string
	ServiceKey string
	Bucket     string
	HTTPClient *http.Client
}

func NewSupabaseStore(opts SupabaseOptions) (*SupabaseStore, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("storage: supabase url is required")
	}
	if strings.TrimSpace(opts.ServiceKey) == "" {
		return nil, errors.New("storage: supabase service key is required")
	}
	bucket := strings.Trim(strings.TrimSpace(opts.Bucket), "/")
	if bucket == "" {
		bucket = "images"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &SupabaseStore{
		baseURL:    strings.TrimRight(opts.URL, "/") + "/storage/v1",
		serviceKey: strings.TrimSpace(opts.ServiceKey),
		bucket:     bucket,
		client:     client,
	}, nil
}

// Put uploads data to the bucket; existing objects are not overwritten.
func (s *SupabaseStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req, err := s.newRequest(ctx, "/object/"+s.bucket+"/"+escapeKey(cleanKey), bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")
	if err := s.do(req, nil); err != nil {
		return "", fmt.Errorf("storage: upload %s: %w", cleanKey, err)
	}
	return cleanKey, nil
}

// SignedURL asks Supabase to sign key for ttl.
func (s *SupabaseStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	seconds := int(ttl / time.Second)
	if seconds <= 0 {
		seconds = 60
	}
	payload, err := json.Marshal(map[string]int{"expiresIn": seconds})
	if err != nil {
		return "", err
	}
	req, err := s.newRequest(ctx, "/object/sign/"+s.bucket+"/"+escapeKey(cleanKey), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	var out struct {
		SignedURL string `json:"signedURL"`
	}
	if err := s.do(req, &out); err != nil {
		return "", fmt.Errorf("storage: sign %s: %w", cleanKey, err)
	}
	if out.SignedURL == "" {
		return "", fmt.Errorf("storage: sign %s: empty signed url", cleanKey)
	}
	if strings.HasPrefix(out.SignedURL, "http://") || strings.HasPrefix(out.SignedURL, "https://") {
		return out.SignedURL, nil
	}
	return s.baseURL + "/" + strings.TrimLeft(out.SignedURL, "/"), nil
}

func (s *SupabaseStore) newRequest(ctx context.Context, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)
	return req, nil
}

func (s *SupabaseStore) do(req *http.Request, out any) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
