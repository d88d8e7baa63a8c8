// Package dream interprets dreams with a chat model, either in one
// structured call or as an incremental stream.
package dream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"dreamsense/internal/domain"
	"dreamsense/internal/providers/genai"
	"dreamsense/internal/relay"
)

const (
	streamTemperature = 0.7
	streamTopP        = 0.8
	streamMaxTokens   = 2048

	explainerDescription = "You are a dream explainer. You are given a dream and you need to explain it to the user in a way that is easy to understand. You need to use the image_output to generate an image of the dream."
	outputInstruction    = `Respond only with a JSON object with two string fields: "message_output", the message to send to the user, and "image_output", an ultra detailed json context profile of the dream that would be used to generate an image.`
)

// Interpretation is the structured result of one generation.
type Interpretation struct {
	Message      string
	ImageProfile string
}

// GenerateRequest carries the inputs for a structured interpretation.
type GenerateRequest struct {
	Query        string
	SystemPrompt string
	// Context is the user's questionnaire profile, possibly empty.
	Context string
}

// Observer records upstream call latency.
type Observer interface {
	ObserveUpstream(provider, operation string, started time.Time, err error)
}

type Options struct {
	Client  *genai.Client
	Metrics Observer
}

type Interpreter struct {
	client  *genai.Client
	logger  zerolog.Logger
	metrics Observer
}

func NewInterpreter(opts Options) (*Interpreter, error) {
	if opts.Client == nil {
		return nil, errors.New("dream: genai client is required")
	}
	logger := opts.Client.Logger().With().Str("component", "dream").Logger()
	return &Interpreter{client: opts.Client, logger: logger, metrics: opts.Metrics}, nil
}

// Generate returns the validated structured interpretation for req.
func (i *Interpreter) Generate(ctx context.Context, req GenerateRequest) (res *Interpretation, err error) {
	started := time.Now()
	defer i.observe("generate", started, &err)

	resp, err := i.client.API().CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       i.client.Model(),
		Temperature: streamTemperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage(req)},
			{Role: openai.ChatMessageRoleUser, Content: req.Query},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderFailure, genai.Describe(err))
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: failed to generate response from model", domain.ErrProviderFailure)
	}
	res, err = parseInterpretation(resp.Choices[0].Message.Content)
	if err != nil {
		i.logger.Warn().Err(err).Msg("model returned unusable output")
		return nil, err
	}
	return res, nil
}

func systemMessage(req GenerateRequest) string {
	var b strings.Builder
	b.WriteString(explainerDescription)
	if s := strings.TrimSpace(req.SystemPrompt); s != "" {
		b.WriteString("\n\n")
		b.WriteString(s)
	}
	if c := strings.TrimSpace(req.Context); c != "" {
		b.WriteString("\n\n<context>\n")
		b.WriteString(c)
		b.WriteString("\n</context>")
	}
	b.WriteString("\n\n")
	b.WriteString(outputInstruction)
	return b.String()
}

// OpenStream starts an incremental generation of prompt.
func (i *Interpreter) OpenStream(ctx context.Context, prompt string) (_ relay.ChunkStream, err error) {
	started := time.Now()
	defer i.observe("stream_open", started, &err)

	stream, err := i.client.API().CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       i.client.Model(),
		Temperature: streamTemperature,
		TopP:        streamTopP,
		MaxTokens:   streamMaxTokens,
		Stream:      true,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, errors.New(genai.Describe(err))
	}
	return &chatStream{stream: stream}, nil
}

func (i *Interpreter) observe(op string, started time.Time, err *error) {
	if i.metrics != nil {
		i.metrics.ObserveUpstream(i.client.Provider(), op, started, *err)
	}
}

type chatStream struct {
	stream *openai.ChatCompletionStream
}

// Recv returns the next content delta; chunks without choices, such as
// usage reports, yield an empty string.
func (s *chatStream) Recv() (string, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Delta.Content, nil
}

func (s *chatStream) Close() error {
	s.stream.Close()
	return nil
}

var _ relay.Model = (*Interpreter)(nil)
