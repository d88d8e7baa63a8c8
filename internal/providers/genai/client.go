// Package genai configures the OpenAI-compatible client shared by the
// dream, image and speech providers. Gemini is reached through its
// OpenAI compatibility endpoint.
package genai

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	defaultGeminiModel   = "gemini-2.5-flash"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
)

// Options controls how the client is configured.
type Options struct {
	Provider     string
	APIKey       string
	BaseURL      string
	Model        string
	Organization string
	HTTPClient   *http.Client
	Logger       *zerolog.Logger
}

// Client bundles the go-openai client with the provider and chat model it
// was built for.
type Client struct {
	api      *openai.Client
	provider string
	model    string
	logger   zerolog.Logger
}

// NewClient builds a client with defaults for the chosen provider. A nil
// HTTP client gets one without an overall timeout because streamed
// responses are bounded by the request context; only dialing and response
// headers are time limited.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("genai: api key is required")
	}
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if provider == "" {
		provider = ProviderGemini
	}

	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	model := strings.TrimSpace(opts.Model)
	switch provider {
	case ProviderGemini:
		baseURL = coalesce(baseURL, defaultGeminiBaseURL)
		model = coalesce(model, defaultGeminiModel)
	case ProviderOpenAI:
		baseURL = coalesce(baseURL, defaultOpenAIBaseURL)
		model = coalesce(model, defaultOpenAIModel)
	default:
		return nil, errors.New("genai: unsupported provider " + provider)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 60 * time.Second,
			MaxIdleConnsPerHost:   8,
		}}
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.OrgID = strings.TrimSpace(opts.Organization)
	cfg.HTTPClient = httpClient

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger.Info().Str("provider", provider).Str("model", model).Str("base_url", baseURL).Msg("genai client configured")

	return &Client{
		api:      openai.NewClientWithConfig(cfg),
		provider: provider,
		model:    model,
		logger:   logger,
	}, nil
}

// API exposes the underlying go-openai client.
func (c *Client) API() *openai.Client { return c.api }

// Provider is "gemini" or "openai".
func (c *Client) Provider() string { return c.provider }

// Model returns the configured chat model identifier.
func (c *Client) Model() string { return c.model }

// Logger returns the client's logger.
func (c *Client) Logger() zerolog.Logger { return c.logger }

// Describe unwraps go-openai error types into a short message that includes
// the upstream status when there is one.
func Describe(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode != 0 {
			return http.StatusText(apiErr.HTTPStatusCode) + ": " + apiErr.Message
		}
		return apiErr.Message
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return http.StatusText(reqErr.HTTPStatusCode) + ": " + reqErr.Error()
	}
	return err.Error()
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
