// Package image renders an illustration for an interpreted dream.
package image

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"dreamsense/internal/domain"
	"dreamsense/internal/providers/genai"
)

const profileInstruction = "Generate a very accurate image based on the given json profile."

// Observer records upstream call latency.
type Observer interface {
	ObserveUpstream(provider, operation string, started time.Time, err error)
}

type Options struct {
	Client  *genai.Client
	Model   string
	Size    string
	Metrics Observer
}

// Generator produces PNG bytes through the images endpoint.
type Generator struct {
	client  *genai.Client
	model   string
	size    string
	logger  zerolog.Logger
	metrics Observer
}

func NewGenerator(opts Options) (*Generator, error) {
	if opts.Client == nil {
		return nil, errors.New("image: genai client is required")
	}
	size := opts.Size
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}
	return &Generator{
		client:  opts.Client,
		model:   strings.TrimSpace(opts.Model),
		size:    size,
		logger:  opts.Client.Logger().With().Str("component", "image").Logger(),
		metrics: opts.Metrics,
	}, nil
}

// BuildPrompt joins the stored image prompt with the dream's visual profile.
func BuildPrompt(imagePrompt, profile string) string {
	parts := []string{profileInstruction}
	if s := strings.TrimSpace(imagePrompt); s != "" {
		parts = append(parts, s)
	}
	parts = append(parts, strings.TrimSpace(profile))
	return strings.Join(parts, "\n\n")
}

// Generate renders prompt and returns the decoded image bytes.
func (g *Generator) Generate(ctx context.Context, prompt string) (data []byte, err error) {
	started := time.Now()
	defer func() {
		if g.metrics != nil {
			g.metrics.ObserveUpstream(g.client.Provider(), "image", started, err)
		}
	}()

	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: image prompt is empty", domain.ErrInvalidInput)
	}
	resp, err := g.client.API().CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          g.model,
		N:              1,
		Size:           g.size,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderFailure, genai.Describe(err))
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("%w: no image returned", domain.ErrProviderFailure)
	}
	data, err = base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", domain.ErrProviderFailure, err)
	}
	g.logger.Debug().Int("bytes", len(data)).Msg("image generated")
	return data, nil
}
