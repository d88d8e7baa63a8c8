package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"dreamsense/internal/domain"
	"dreamsense/internal/entitlement"
	gcp "dreamsense/internal/infra/google"
	"dreamsense/internal/middleware"
)

func intPtr(v int) *int { return &v }

func TestRootAndHealth(t *testing.T) {
	app := newFixture().app()
	if rec := serve(app.Root, jsonRequest(t, http.MethodGet, "/", "", "")); bodyString(rec) != `{"message":"Never gonna let you down"}` {
		t.Fatalf("root body = %s", rec.Body.String())
	}
	if rec := serve(app.Health, jsonRequest(t, http.MethodGet, "/health", "", "")); bodyString(rec) != `{"message":"Never gonna give you up"}` {
		t.Fatalf("health body = %s", rec.Body.String())
	}
}

func TestVerifySubscriptionStatusCodes(t *testing.T) {
	expiry := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name    string
		verdict entitlement.Verdict
		code    int
		status  string
	}{
		{"pro", entitlement.Verdict{Entitled: true, Kind: entitlement.KindPro, Expiry: &expiry}, http.StatusOK, "Pro"},
		{"free trial", entitlement.Verdict{Entitled: true, Kind: entitlement.KindFreeTrial, RemainingUses: intPtr(1)}, http.StatusOK, "FREE TRIAL"},
		{"no subscription", entitlement.Verdict{Kind: entitlement.KindNoSubscription, RemainingUses: intPtr(0)}, http.StatusOK, "NO SUBSCRIPTION"},
		{"verification error", entitlement.Verdict{Kind: entitlement.KindVerificationError, ErrorDetail: "404"}, http.StatusForbidden, "VERIFICATION_ERROR"},
		{"credential error", entitlement.Verdict{Kind: entitlement.KindCredentialError, ErrorDetail: "bad key"}, http.StatusInternalServerError, "CREDENTIAL_ERROR"},
		{"generic error", entitlement.Verdict{Kind: entitlement.KindGenericError, ErrorDetail: "boom"}, http.StatusInternalServerError, "ERROR"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.resolver.verdict = tc.verdict
			f.dreams.count = 1
			rec := serve(f.app().VerifySubscription, jsonRequest(t, http.MethodPost, "/verify-subscription", `{"purchase_token":" tok-123 "}`, "user-1"))

			if rec.Code != tc.code {
				t.Fatalf("status code = %d, want %d", rec.Code, tc.code)
			}
			var body entitlement.Response
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tc.status {
				t.Fatalf("status = %q, want %q", body.Status, tc.status)
			}
			if got := f.resolver.calls[0]; got != (resolveCall{"user-1", "tok-123", 1}) {
				t.Fatalf("resolve call = %+v", got)
			}
		})
	}
}

func TestVerifySubscriptionCountFailure(t *testing.T) {
	f := newFixture()
	f.dreams.countErr = errors.New("db down")
	rec := serve(f.app().VerifySubscription, jsonRequest(t, http.MethodPost, "/verify-subscription", `{}`, "user-1"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(f.resolver.calls) != 0 {
		t.Fatalf("resolver should not run when usage is unknown")
	}
	if !strings.Contains(rec.Body.String(), `"status":"ERROR"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestAuthenticatedHandlersRequireUser(t *testing.T) {
	app := newFixture().app()
	for name, h := range map[string]http.HandlerFunc{
		"verify":     app.VerifySubscription,
		"send-dream": app.SendDream,
		"stream":     app.Stream,
		"image":      app.GenerateImage,
		"tts":        app.TTS,
		"transcribe": app.Transcribe,
		"me":         app.Me,
	} {
		rec := serve(h, jsonRequest(t, http.MethodPost, "/", `{"query":"x"}`, ""))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s status = %d, want 401", name, rec.Code)
		}
	}
}

func TestSendDreamSuccess(t *testing.T) {
	f := newFixture()
	f.dreams.count = 5
	rec := serve(f.app().SendDream, jsonRequest(t, http.MethodPost, "/send-dream", "{\"query\":\"  I was flying over the sea\\u0301 \",\"purchase_token\":\"tok\"}", "user-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	var body sendDreamResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.Message != "Dream sent successfully" || body.Data != "You feel free." || body.ID != "dream-1" {
		t.Fatalf("body = %+v", body)
	}
	if body.ImageJSONProfile != `{"scene":"sky"}` || body.Subscription.Status != "Pro" {
		t.Fatalf("body = %+v", body)
	}
	if body.ImageURL == nil || body.ImageFilename == nil || !strings.HasPrefix(*body.ImageFilename, "dreams/user-1/") {
		t.Fatalf("image fields = %v %v", body.ImageURL, body.ImageFilename)
	}

	req := f.interpreter.reqs[0]
	if req.Query != "I was flying over the seá" {
		t.Fatalf("query not trimmed and normalized: %q", req.Query)
	}
	if req.SystemPrompt != "Interpret dreams." || req.Context != `{"age":30}` {
		t.Fatalf("generate request = %+v", req)
	}
	if !strings.Contains(f.images.prompts[0], "Dreamlike watercolor.") || !strings.Contains(f.images.prompts[0], `{"scene":"sky"}`) {
		t.Fatalf("image prompt = %q", f.images.prompts[0])
	}
	if len(f.dreams.inserted) != 1 || f.dreams.inserted[0].ImageURL != *body.ImageURL {
		t.Fatalf("inserted = %+v", f.dreams.inserted)
	}
}

func TestSendDreamImageFailureStillSucceeds(t *testing.T) {
	f := newFixture()
	f.images.err = errors.New("content policy")
	rec := serve(f.app().SendDream, jsonRequest(t, http.MethodPost, "/send-dream", `{"query":"a dream"}`, "user-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"image_url":null`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if f.dreams.inserted[0].ImageURL != "" {
		t.Fatalf("stored image url = %q", f.dreams.inserted[0].ImageURL)
	}
}

func TestSendDreamDenied(t *testing.T) {
	tests := []struct {
		verdict entitlement.Verdict
		code    int
		kind    string
	}{
		{entitlement.Verdict{Kind: entitlement.KindNoSubscription, RemainingUses: intPtr(0)}, http.StatusForbidden, "no_subscription"},
		{entitlement.Verdict{Kind: entitlement.KindVerificationError, ErrorDetail: "expired token"}, http.StatusForbidden, "subscription_verification_failed"},
		{entitlement.Verdict{Kind: entitlement.KindCredentialError, ErrorDetail: "bad key"}, http.StatusInternalServerError, "credential_loading_failed"},
	}
	for _, tc := range tests {
		t.Run(tc.kind, func(t *testing.T) {
			f := newFixture()
			f.resolver.verdict = tc.verdict
			rec := serve(f.app().SendDream, jsonRequest(t, http.MethodPost, "/send-dream", `{"query":"a dream"}`, "user-1"))
			if rec.Code != tc.code {
				t.Fatalf("status = %d, want %d", rec.Code, tc.code)
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["type"] != tc.kind || body["error_type"] != tc.kind || body["detail"] == "" {
				t.Fatalf("body = %v", body)
			}
			if len(f.interpreter.reqs) != 0 || len(f.dreams.inserted) != 0 {
				t.Fatalf("denied request reached generation or persistence")
			}
		})
	}
}

func TestSendDreamValidation(t *testing.T) {
	tests := []struct {
		body   string
		detail string
	}{
		{`{"query":"   "}`, "Missing required field 'query'"},
		{`{}`, "Missing required field 'query'"},
		{`{"query":`, "Invalid JSON in request body"},
		{`["query"]`, "Invalid JSON in request body"},
	}
	for _, tc := range tests {
		f := newFixture()
		rec := serve(f.app().SendDream, jsonRequest(t, http.MethodPost, "/send-dream", tc.body, "user-1"))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", tc.body, rec.Code)
		}
		var body errorBody
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		if body.Detail != tc.detail || body.Type != "bad_request" {
			t.Fatalf("%s: body = %+v", tc.body, body)
		}
	}
}

func TestSendDreamPromptMissing(t *testing.T) {
	f := newFixture()
	f.prompts = stubPrompts{}
	rec := serve(f.app().SendDream, jsonRequest(t, http.MethodPost, "/send-dream", `{"query":"a dream"}`, "user-1"))
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), promptMissingDetail) {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestSendDreamGenerationFailure(t *testing.T) {
	f := newFixture()
	f.interpreter.err = domain.ErrProviderFailure
	rec := serve(f.app().SendDream, jsonRequest(t, http.MethodPost, "/send-dream", `{"query":"a dream"}`, "user-1"))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(f.dreams.inserted) != 0 {
		t.Fatalf("failed generation was persisted")
	}
}

func TestStreamWritesChunks(t *testing.T) {
	f := newFixture()
	f.dreams.history = []domain.Dream{{Description: "falling", CreatedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}}
	rec := serve(f.app().Stream, jsonRequest(t, http.MethodPost, "/stream", `{"query":"a dream"}`, "user-1"))

	if rec.Code != http.StatusOK || rec.Body.String() != "ABC" {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("content type = %q", ct)
	}
	if rec.Header().Get("Cache-Control") != "no-cache" || !rec.Flushed {
		t.Fatalf("stream was not flushed with no-cache")
	}
	got := f.streamer.req
	if got.Query != "a dream" || got.SystemPrompt != "Interpret dreams." || got.UserProfile != `{"age":30}` || got.History != "- 2025-03-01: falling" {
		t.Fatalf("relay request = %+v", got)
	}
	if got := f.resolver.calls; len(got) != 1 || got[0].userID != "user-1" {
		t.Fatalf("resolve calls = %+v", got)
	}
}

func TestStreamDenied(t *testing.T) {
	tests := []struct {
		verdict entitlement.Verdict
		code    int
		kind    string
	}{
		{entitlement.Verdict{Kind: entitlement.KindNoSubscription, RemainingUses: intPtr(0)}, http.StatusForbidden, "no_subscription"},
		{entitlement.Verdict{Kind: entitlement.KindVerificationError, ErrorDetail: "expired token"}, http.StatusForbidden, "subscription_verification_failed"},
		{entitlement.Verdict{Kind: entitlement.KindGenericError, ErrorDetail: "boom"}, http.StatusInternalServerError, "general_error"},
	}
	for _, tc := range tests {
		t.Run(tc.kind, func(t *testing.T) {
			f := newFixture()
			f.resolver.verdict = tc.verdict
			f.dreams.count = 2
			rec := serve(f.app().Stream, jsonRequest(t, http.MethodPost, "/stream", `{"query":"a dream","purchase_token":" tok "}`, "user-1"))
			if rec.Code != tc.code {
				t.Fatalf("status = %d, want %d", rec.Code, tc.code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Fatalf("content type = %q", ct)
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["type"] != tc.kind || body["is_pro"] != false || body["dreams_remaining"] != float64(0) {
				t.Fatalf("body = %v", body)
			}
			if got := f.resolver.calls[0]; got != (resolveCall{"user-1", "tok", 2}) {
				t.Fatalf("resolve call = %+v", got)
			}
			if f.streamer.req.Query != "" {
				t.Fatalf("denied request reached the relay")
			}
		})
	}
}

func TestStreamPromptMissing(t *testing.T) {
	f := newFixture()
	f.prompts = stubPrompts{}
	rec := serve(f.app().Stream, jsonRequest(t, http.MethodPost, "/stream", `{"query":"a dream"}`, "user-1"))
	if rec.Code != http.StatusOK || rec.Body.String() != "Error: Failed to retrieve prompt from database" {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestGenerateImage(t *testing.T) {
	f := newFixture()
	rec := serve(f.app().GenerateImage, jsonRequest(t, http.MethodPost, "/generate-image", `{"prompt":"a lighthouse"}`, "user-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]storedImage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	img := body["image"]
	if !strings.HasPrefix(img.Filename, "dreams/user-1/") || !strings.Contains(img.SignedURL, img.Filename) {
		t.Fatalf("image = %+v", img)
	}
	if f.images.prompts[0] != "a lighthouse" {
		t.Fatalf("prompt = %q", f.images.prompts[0])
	}
}

func TestGenerateImageNotConfigured(t *testing.T) {
	f := newFixture()
	app := f.app()
	app.images = nil
	rec := serve(app.GenerateImage, jsonRequest(t, http.MethodPost, "/generate-image", `{"prompt":"x"}`, "user-1"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTTS(t *testing.T) {
	f := newFixture()
	rec := serve(f.app().TTS, jsonRequest(t, http.MethodPost, "/tts", `{"text":"hello"}`, "user-1"))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "audio/mpeg" || rec.Body.String() != "ID3audio" {
		t.Fatalf("status = %d type = %q body = %q", rec.Code, rec.Header().Get("Content-Type"), rec.Body.String())
	}
}

func multipartAudio(t *testing.T, contentType string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="file"; filename="dream.mp3"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write([]byte("ID3-bytes"))
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestTranscribe(t *testing.T) {
	tests := []struct {
		contentType string
		code        int
	}{
		{"audio/mpeg", http.StatusOK},
		{"audio/mp3", http.StatusOK},
		{"audio/wav", http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.contentType, func(t *testing.T) {
			f := newFixture()
			body, ct := multipartAudio(t, tc.contentType)
			req, _ := http.NewRequest(http.MethodPost, "/transcribe", body)
			req.Header.Set("Content-Type", ct)
			req = req.WithContext(middleware.ContextWithUserID(req.Context(), "user-1"))

			rec := serve(f.app().Transcribe, req)
			if rec.Code != tc.code {
				t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
			}
			if tc.code == http.StatusOK {
				if bodyString(rec) != `{"transcription":"I was flying"}` || string(f.speech.uploaded) != "ID3-bytes" {
					t.Fatalf("body = %s uploaded = %q", rec.Body.String(), f.speech.uploaded)
				}
			}
		})
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	f := newFixture()
	rec := serve(f.app().Transcribe, jsonRequest(t, http.MethodPost, "/transcribe", `{}`, "user-1"))
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "No audio file provided.") {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestMe(t *testing.T) {
	f := newFixture()
	f.dreams.count = 1
	rec := serve(f.app().Me, jsonRequest(t, http.MethodGet, "/me", "", "user-1"))
	if bodyString(rec) != `{"user_id":"user-1","dream_count":1,"free_trial_limit":2,"dreams_remaining":1}` {
		t.Fatalf("body = %s", rec.Body.String())
	}
	f.dreams.count = 7
	rec = serve(f.app().Me, jsonRequest(t, http.MethodGet, "/me", "", "user-1"))
	if !strings.Contains(rec.Body.String(), `"dreams_remaining":0`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestGoogleCloudHealth(t *testing.T) {
	f := newFixture()
	f.opts.Credentials = &stubCredentials{cred: &gcp.Credential{AccessToken: "ya29.token", TokenType: "Bearer"}}
	rec := serve(f.app().GoogleCloudHealth, jsonRequest(t, http.MethodGet, "/google-cloud-health", "", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	want := `{"status":"healthy","message":"Google Cloud credentials loaded successfully","has_access_token":true,"token_type":"Bearer","error":null}`
	if bodyString(rec) != want {
		t.Fatalf("body = %s", rec.Body.String())
	}

	f.opts.Credentials = &stubCredentials{err: errors.New("decode secret: illegal base64")}
	rec = serve(f.app().GoogleCloudHealth, jsonRequest(t, http.MethodGet, "/google-cloud-health", "", ""))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "illegal base64") {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "dreamsense_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	f := newFixture()
	f.opts.Gatherer = reg
	rec := serve(f.app().Metrics().ServeHTTP, jsonRequest(t, http.MethodGet, "/metrics", "", ""))
	if !strings.Contains(rec.Body.String(), "dreamsense_test_total 1") {
		t.Fatalf("metrics body = %s", rec.Body.String())
	}
}

func TestOpenAPIIsValidJSON(t *testing.T) {
	var doc map[string]any
	if err := json.Unmarshal(openAPISpec, &doc); err != nil {
		t.Fatalf("openapi.json: %v", err)
	}
	if _, ok := doc["paths"].(map[string]any)["/send-dream"]; !ok {
		t.Fatalf("openapi.json is missing /send-dream")
	}
}

func TestOpenAPIDocsFollowMount(t *testing.T) {
	app := newFixture().app()
	for path, want := range map[string]string{
		"/docs":         `spec-url="/openapi.json"`,
		"/api/v1/docs":  `spec-url="/api/v1/openapi.json"`,
		"/api/v1/docs/": `spec-url="/api/v1/openapi.json"`,
	} {
		rec := serve(app.OpenAPIDocs, jsonRequest(t, http.MethodGet, path, "", ""))
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), want) {
			t.Fatalf("GET %s: status = %d, want body containing %s", path, rec.Code, want)
		}
	}
}

func TestHandlersLogWithRequestAndUser(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	f := newFixture()
	f.opts.Logger = &logger
	f.opts.Credentials = &stubCredentials{err: errors.New("no key")}
	app := f.app()

	req := jsonRequest(t, http.MethodPost, "/verify-subscription", `{"purchase_token":"tok-abcdefghijkl"}`, "user-7")
	req = req.WithContext(middleware.ContextWithRequestID(req.Context(), "req-7"))
	serve(app.VerifySubscription, req)
	serve(app.GoogleCloudHealth, jsonRequest(t, http.MethodGet, "/google-cloud-health", "", ""))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) < 2 {
		t.Fatalf("log = %s", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode log: %v", err)
	}
	if entry["message"] != "subscription verified" || entry["request_id"] != "req-7" || entry["user_id"] != "user-7" {
		t.Fatalf("log entry = %v", entry)
	}
	if strings.Contains(lines[0], "tok-abcdefghijkl") {
		t.Fatalf("purchase token logged in full: %s", lines[0])
	}
	if !strings.Contains(buf.String(), "google cloud credential check failed") {
		t.Fatalf("missing credential warning: %s", buf.String())
	}
}
