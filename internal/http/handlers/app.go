package handlers

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"dreamsense/internal/domain"
	"dreamsense/internal/entitlement"
	gcp "dreamsense/internal/infra/google"
	"dreamsense/internal/middleware"
	"dreamsense/internal/providers/dream"
	"dreamsense/internal/relay"
	"dreamsense/internal/storage"
)

// Resolver decides whether a user may consume a metered action.
type Resolver interface {
	Resolve(ctx context.Context, userID, purchaseToken string, usageCount int) entitlement.Verdict
	FreeTrialLimit() int
}

type Streamer interface {
	Stream(ctx context.Context, req relay.Request) iter.Seq[string]
}

type Interpreter interface {
	Generate(ctx context.Context, req dream.GenerateRequest) (*dream.Interpretation, error)
}

type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

type SpeechService interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

type CredentialSource interface {
	Credential(ctx context.Context) (*gcp.Credential, error)
}

// Options wires the collaborators of App. Images, Speech, Store and
// Credentials may be nil; their endpoints then answer 503.
type Options struct {
	Logger       *zerolog.Logger
	Resolver     Resolver
	Relay        Streamer
	Interpreter  Interpreter
	Images       ImageGenerator
	Speech       SpeechService
	Store        storage.ObjectStore
	Credentials  CredentialSource
	Dreams       domain.DreamRepository
	Profiles     domain.ProfileRepository
	Prompts      domain.PromptRepository
	Gatherer     prometheus.Gatherer
	SignedURLTTL time.Duration
	HistoryLimit int
}

type App struct {
	logger       zerolog.Logger
	resolver     Resolver
	relay        Streamer
	interpreter  Interpreter
	images       ImageGenerator
	speech       SpeechService
	store        storage.ObjectStore
	credentials  CredentialSource
	dreams       domain.DreamRepository
	profiles     domain.ProfileRepository
	prompts      domain.PromptRepository
	gatherer     prometheus.Gatherer
	signedURLTTL time.Duration
	historyLimit int
}

func NewApp(opts Options) *App {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	ttl := opts.SignedURLTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = 20
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &App{
		logger:       logger.With().Str("component", "handlers").Logger(),
		resolver:     opts.Resolver,
		relay:        opts.Relay,
		interpreter:  opts.Interpreter,
		images:       opts.Images,
		speech:       opts.Speech,
		store:        opts.Store,
		credentials:  opts.Credentials,
		dreams:       opts.Dreams,
		profiles:     opts.Profiles,
		prompts:      opts.Prompts,
		gatherer:     gatherer,
		signedURLTTL: ttl,
		historyLimit: limit,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

func (a *App) error(w http.ResponseWriter, code int, kind, detail string) {
	a.json(w, code, errorBody{Detail: detail, Type: kind})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// requestLogger tags log lines with the request and user ids.
func (a *App) requestLogger(r *http.Request) *zerolog.Logger {
	l := a.logger.With().
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Str("user_id", a.currentUserID(r)).
		Logger()
	return &l
}
