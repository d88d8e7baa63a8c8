package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"dreamsense/internal/http/handlers"
	"dreamsense/internal/middleware"
)

type Options struct {
	Logger          zerolog.Logger
	Auth            *middleware.JWTVerifier
	CORSOrigins     []string
	RateLimitPerMin int
	// StaticDir is served under /static when media is kept on local disk.
	StaticDir string
}

// NewRouter mounts every route at the root and again under /api/v1.
func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(opts.Logger),
		chimw.Recoverer,
		middleware.CORS(opts.CORSOrigins),
	)

	if opts.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
	}

	// One limiter shared by both mounts.
	limit := middleware.RateLimit(opts.RateLimitPerMin, time.Minute)
	auth := middleware.AuthJWT(opts.Auth, opts.Logger)

	routes := func(r chi.Router) {
		r.Get("/", app.Root)
		r.Get("/health", app.Health)
		r.Get("/google-cloud-health", app.GoogleCloudHealth)
		r.Method(http.MethodGet, "/metrics", app.Metrics())
		r.Get("/openapi.json", app.OpenAPIJSON)
		r.Get("/docs", app.OpenAPIDocs)

		r.Group(func(r chi.Router) {
			r.Use(auth, limit)
			r.Post("/verify-subscription", app.VerifySubscription)
			r.Post("/send-dream", app.SendDream)
			r.Post("/stream", app.Stream)
			r.Post("/generate-image", app.GenerateImage)
			r.Post("/tts", app.TTS)
			r.Post("/transcribe", app.Transcribe)
			r.Get("/me", app.Me)
		})
	}

	r.Group(routes)
	r.Route("/api/v1", routes)

	return r
}
