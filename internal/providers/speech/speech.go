// Package speech converts between audio and text for the narration and
// voice-entry features.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"dreamsense/internal/domain"
	"dreamsense/internal/providers/genai"
)

const transcriptionPrompt = "Generate a super precise and detailed transcription of the following audio clip. Do not include any other text or commentary."

// maxAudioBytes caps synthesized and uploaded audio.
const maxAudioBytes = 25 << 20

// Observer records upstream call latency.
type Observer interface {
	ObserveUpstream(provider, operation string, started time.Time, err error)
}

type Options struct {
	Client          *genai.Client
	SpeechModel     string
	Voice           string
	TranscribeModel string
	Metrics         Observer
}

type Service struct {
	client          *genai.Client
	speechModel     string
	voice           string
	transcribeModel string
	metrics         Observer
}

func NewService(opts Options) (*Service, error) {
	if opts.Client == nil {
		return nil, errors.New("speech: genai client is required")
	}
	return &Service{
		client:          opts.Client,
		speechModel:     coalesce(opts.SpeechModel, string(openai.TTSModel1)),
		voice:           coalesce(opts.Voice, string(openai.VoiceAlloy)),
		transcribeModel: coalesce(opts.TranscribeModel, openai.Whisper1),
		metrics:         opts.Metrics,
	}, nil
}

// Synthesize returns MP3 audio for text.
func (s *Service) Synthesize(ctx context.Context, text string) (audio []byte, err error) {
	started := time.Now()
	defer s.observe("speech", started, &err)

	resp, err := s.client.API().CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.speechModel),
		Input:          text,
		Voice:          openai.SpeechVoice(s.voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate TTS audio: %s", domain.ErrProviderFailure, genai.Describe(err))
	}
	defer resp.Close()

	audio, err = io.ReadAll(io.LimitReader(resp, maxAudioBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read TTS audio: %v", domain.ErrProviderFailure, err)
	}
	if len(audio) > maxAudioBytes {
		return nil, fmt.Errorf("%w: TTS audio exceeds %d bytes", domain.ErrProviderFailure, maxAudioBytes)
	}
	return audio, nil
}

// Transcribe returns the text spoken in the uploaded clip.
func (s *Service) Transcribe(ctx context.Context, filename string, audio io.Reader) (text string, err error) {
	started := time.Now()
	defer s.observe("transcribe", started, &err)

	if filename == "" {
		filename = "audio.mp3"
	}
	resp, err := s.client.API().CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.transcribeModel,
		FilePath: filename,
		Reader:   io.LimitReader(audio, maxAudioBytes),
		Prompt:   transcriptionPrompt,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to transcribe audio: %s", domain.ErrProviderFailure, genai.Describe(err))
	}
	return strings.TrimSpace(resp.Text), nil
}

func (s *Service) observe(op string, started time.Time, err *error) {
	if s.metrics != nil {
		s.metrics.ObserveUpstream(s.client.Provider(), op, started, *err)
	}
}

func coalesce(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}
