package handlers

import (
	"net/http"
	"strconv"
	"strings"
)

const maxAudioUpload = 25 << 20

type generateImageRequest struct {
	Prompt string `json:"prompt"`
}

type storedImage struct {
	SignedURL string `json:"signed_url"`
	Filename  string `json:"filename"`
}

func (a *App) GenerateImage(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
		return
	}
	if a.images == nil || a.store == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "image generation is not configured")
		return
	}
	var req generateImageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.badRequest(w, err)
		return
	}
	prompt, err := requireField("prompt", req.Prompt)
	if err != nil {
		a.badRequest(w, err)
		return
	}
	filename, url, err := a.storeImage(r.Context(), userID, prompt)
	if err != nil {
		a.requestLogger(r).Error().Err(err).Msg("generate image failed")
		a.error(w, http.StatusBadGateway, "provider_error", "Failed to generate image")
		return
	}
	a.json(w, http.StatusOK, map[string]storedImage{"image": {SignedURL: url, Filename: filename}})
}

type ttsRequest struct {
	Text string `json:"text"`
}

// TTS returns the synthesized speech as MP3.
func (a *App) TTS(w http.ResponseWriter, r *http.Request) {
	if a.currentUserID(r) == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
		return
	}
	if a.speech == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "speech is not configured")
		return
	}
	var req ttsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.badRequest(w, err)
		return
	}
	text, err := requireField("text", req.Text)
	if err != nil {
		a.badRequest(w, err)
		return
	}
	audio, err := a.speech.Synthesize(r.Context(), text)
	if err != nil {
		a.requestLogger(r).Error().Err(err).Msg("tts failed")
		a.error(w, http.StatusBadGateway, "provider_error", "Failed to synthesize speech")
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

// Transcribe accepts a multipart "file" field holding an MP3 clip.
func (a *App) Transcribe(w http.ResponseWriter, r *http.Request) {
	if a.currentUserID(r) == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
		return
	}
	if a.speech == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "speech is not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "No audio file provided.")
		return
	}
	defer file.Close()

	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType != "audio/mpeg" && contentType != "audio/mp3" {
		a.error(w, http.StatusBadRequest, "bad_request", "Invalid audio file type. Only MP3 is supported.")
		return
	}

	text, err := a.speech.Transcribe(r.Context(), header.Filename, file)
	if err != nil {
		a.requestLogger(r).Error().Err(err).Msg("transcription failed")
		a.error(w, http.StatusBadGateway, "provider_error", "Failed to transcribe audio")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"transcription": text})
}
