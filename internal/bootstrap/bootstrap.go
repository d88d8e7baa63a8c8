// Package bootstrap builds the collaborators shared by the API server and
// dreamctl from a loaded Config.
package bootstrap

import (
	"fmt"

	"github.com/rs/zerolog"

	"dreamsense/internal/entitlement"
	"dreamsense/internal/infra"
	gcp "dreamsense/internal/infra/google"
	"dreamsense/internal/metrics"
	"dreamsense/internal/providers/genai"
	"dreamsense/internal/providers/playstore"
	"dreamsense/internal/storage"
)

// Entitlement holds the resolver and the credential provider behind it.
type Entitlement struct {
	Credentials *gcp.CredentialProvider
	Verifier    *playstore.Verifier
	Resolver    *entitlement.Resolver
}

// NewEntitlement wires credential provider, publisher verifier and resolver.
// A missing service account still yields a resolver; lookups then resolve
// to CREDENTIAL_ERROR.
func NewEntitlement(cfg *infra.Config, logger zerolog.Logger, m *metrics.Metrics) (*Entitlement, error) {
	creds := gcp.NewCredentialProvider(gcp.CredentialOptions{
		SecretB64: cfg.GoogleServiceAccountB64,
		Logger:    &logger,
	})
	verifier, err := playstore.NewVerifier(playstore.Options{
		PackageName:    cfg.PackageName,
		SubscriptionID: cfg.SubscriptionID,
		Endpoint:       cfg.PlayPublisherEndpoint,
		Credentials:    creds,
		Logger:         &logger,
		Metrics:        m,
	})
	if err != nil {
		return nil, fmt.Errorf("publisher verifier: %w", err)
	}
	resolver := entitlement.NewResolver(entitlement.Options{
		Verifier:       verifier,
		FreeTrialLimit: cfg.FreeTrialDreams,
		VerifyTimeout:  cfg.VerifyTimeout,
		Logger:         &logger,
		Metrics:        m,
	})
	return &Entitlement{Credentials: creds, Verifier: verifier, Resolver: resolver}, nil
}

// NewLLMClient builds the client for the configured chat provider.
func NewLLMClient(cfg *infra.Config, logger zerolog.Logger) (*genai.Client, error) {
	opts := genai.Options{Provider: cfg.LLMProvider, Logger: &logger}
	switch cfg.LLMProvider {
	case genai.ProviderOpenAI:
		opts.APIKey, opts.BaseURL, opts.Model, opts.Organization = cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.OpenAIOrg
	default:
		opts.APIKey, opts.BaseURL, opts.Model = cfg.GeminiAPIKey, cfg.GeminiBaseURL, cfg.GeminiModel
	}
	return genai.NewClient(opts)
}

// NewMediaClient returns an OpenAI client for images and audio when an
// OpenAI key is configured, otherwise the chat client.
func NewMediaClient(cfg *infra.Config, chat *genai.Client, logger zerolog.Logger) *genai.Client {
	if chat != nil && chat.Provider() == genai.ProviderOpenAI {
		return chat
	}
	if cfg.OpenAIAPIKey == "" {
		return chat
	}
	client, err := genai.NewClient(genai.Options{
		Provider:     genai.ProviderOpenAI,
		APIKey:       cfg.OpenAIAPIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		Model:        cfg.OpenAIModel,
		Organization: cfg.OpenAIOrg,
		Logger:       &logger,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("media client unavailable, falling back to chat client")
		return chat
	}
	return client
}

// NewStore opens the configured object store. The second result is the
// directory to serve under /static, empty for remote stores.
func NewStore(cfg *infra.Config) (storage.ObjectStore, string, error) {
	switch cfg.StorageDriver {
	case "filesystem":
		fs, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
		if err != nil {
			return nil, "", err
		}
		return fs, fs.BasePath(), nil
	default:
		s, err := storage.NewSupabaseStore(storage.SupabaseOptions{
			URL:        cfg.SupabaseURL,
			ServiceKey: cfg.SupabaseServiceKey,
			Bucket:     cfg.StorageBucket,
		})
		if err != nil {
			return nil, "", err
		}
		return s, "", nil
	}
}
