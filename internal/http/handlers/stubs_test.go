package handlers

import (
	"context"
	"errors"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"dreamsense/internal/domain"
	"dreamsense/internal/entitlement"
	gcp "dreamsense/internal/infra/google"
	"dreamsense/internal/middleware"
	"dreamsense/internal/providers/dream"
	"dreamsense/internal/relay"
)

type resolveCall struct {
	userID, token string
	count         int
}

type stubResolver struct {
	verdict entitlement.Verdict
	limit   int
	calls   []resolveCall
}

func (s *stubResolver) Resolve(_ context.Context, userID, token string, count int) entitlement.Verdict {
	s.calls = append(s.calls, resolveCall{userID, token, count})
	return s.verdict
}

func (s *stubResolver) FreeTrialLimit() int { return s.limit }

type stubStreamer struct {
	chunks []string
	req    relay.Request
}

func (s *stubStreamer) Stream(_ context.Context, req relay.Request) iter.Seq[string] {
	s.req = req
	return func(yield func(string) bool) {
		for _, c := range s.chunks {
			if !yield(c) {
				return
			}
		}
	}
}

type stubInterpreter struct {
	result *dream.Interpretation
	err    error
	reqs   []dream.GenerateRequest
}

func (s *stubInterpreter) Generate(_ context.Context, req dream.GenerateRequest) (*dream.Interpretation, error) {
	s.reqs = append(s.reqs, req)
	return s.result, s.err
}

type stubImages struct {
	err     error
	prompts []string
}

func (s *stubImages) Generate(_ context.Context, prompt string) ([]byte, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return nil, s.err
	}
	return []byte("\x89PNG"), nil
}

type stubStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *stubStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	s.objects[key] = data
	return key, nil
}

func (s *stubStore) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://cdn.example/" + key + "?token=signed", nil
}

type stubSpeech struct {
	audio      []byte
	transcript string
	err        error
	uploaded   []byte
}

func (s *stubSpeech) Synthesize(context.Context, string) ([]byte, error) { return s.audio, s.err }

func (s *stubSpeech) Transcribe(_ context.Context, _ string, audio io.Reader) (string, error) {
	s.uploaded, _ = io.ReadAll(audio)
	return s.transcript, s.err
}

type stubCredentials struct {
	cred *gcp.Credential
	err  error
}

func (s *stubCredentials) Credential(context.Context) (*gcp.Credential, error) { return s.cred, s.err }

type stubDreams struct {
	count    int
	countErr error
	history  []domain.Dream
	inserted []domain.Dream
}

func (s *stubDreams) CountByUser(context.Context, string) (int, error) { return s.count, s.countErr }

func (s *stubDreams) History(context.Context, string, int) ([]domain.Dream, error) {
	return s.history, nil
}

func (s *stubDreams) Insert(_ context.Context, d domain.Dream) (string, error) {
	s.inserted = append(s.inserted, d)
	return "dream-1", nil
}

type stubProfiles struct{ profile string }

func (s stubProfiles) Profile(context.Context, string) (string, error) { return s.profile, nil }

type stubPrompts map[string]string

func (s stubPrompts) Contents(_ context.Context, title string) (string, error) {
	if v, ok := s[title]; ok {
		return v, nil
	}
	return "", domain.ErrPromptMissing
}

func (s stubPrompts) SetContents(context.Context, string, string) error {
	return errors.New("read only")
}

type fixture struct {
	resolver    *stubResolver
	streamer    *stubStreamer
	interpreter *stubInterpreter
	images      *stubImages
	store       *stubStore
	speech      *stubSpeech
	dreams      *stubDreams
	prompts     stubPrompts
	opts        Options
}

func newFixture() *fixture {
	f := &fixture{
		resolver: &stubResolver{verdict: entitlement.Verdict{Entitled: true, Kind: entitlement.KindPro}, limit: 2},
		streamer: &stubStreamer{chunks: []string{"A", "B", "C"}},
		interpreter: &stubInterpreter{result: &dream.Interpretation{
			Message:      "You feel free.",
			ImageProfile: `{"scene":"sky"}`,
		}},
		images:  &stubImages{},
		store:   &stubStore{},
		speech:  &stubSpeech{audio: []byte("ID3audio"), transcript: "I was flying"},
		dreams:  &stubDreams{},
		prompts: stubPrompts{domain.PromptTitleInterpretation: "Interpret dreams.", domain.PromptTitleImage: "Dreamlike watercolor."},
	}
	return f
}

func (f *fixture) app() *App {
	opts := f.opts
	opts.Resolver = f.resolver
	opts.Relay = f.streamer
	opts.Interpreter = f.interpreter
	opts.Images = f.images
	opts.Store = f.store
	opts.Speech = f.speech
	opts.Dreams = f.dreams
	opts.Prompts = f.prompts
	if opts.Profiles == nil {
		opts.Profiles = stubProfiles{profile: `{"age":30}`}
	}
	return NewApp(opts)
}

func jsonRequest(t *testing.T, method, target, body, userID string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req = req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
	}
	return req
}

func serve(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func bodyString(rec *httptest.ResponseRecorder) string {
	return strings.TrimSpace(rec.Body.String())
}
