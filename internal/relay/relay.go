// Package relay turns an upstream incremental generation into a lazy
// sequence of text chunks for the HTTP layer.
package relay

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// AnalysisInstruction closes every streamed prompt.
const AnalysisInstruction = "Please provide a detailed analysis of this dream, explaining its meaning and symbolism in a clear, accessible way."

// ErrorPrefix starts the single chunk emitted when streaming fails.
const ErrorPrefix = "Error in streaming: "

// ChunkStream is an open upstream generation. Recv returns io.EOF after the
// last fragment.
type ChunkStream interface {
	Recv() (string, error)
	Close() error
}

// Model opens incremental generations.
type Model interface {
	OpenStream(ctx context.Context, prompt string) (ChunkStream, error)
}

// Recorder receives stream observations.
type Recorder interface {
	StreamChunk()
	StreamError()
}

// Request carries the prompt inputs for one stream.
type Request struct {
	Query        string
	SystemPrompt string
	UserProfile  string
	History      string
}

type Options struct {
	Model   Model
	Logger  *zerolog.Logger
	Metrics Recorder
}

// Relay forwards upstream fragments without buffering.
type Relay struct {
	model   Model
	logger  zerolog.Logger
	metrics Recorder
}

func New(opts Options) *Relay {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Relay{model: opts.Model, logger: logger.With().Str("component", "relay").Logger(), metrics: opts.Metrics}
}

// BuildPrompt assembles the labeled prompt sections. Blank profile and
// history sections are left out.
func BuildPrompt(req Request) string {
	sections := []string{"System: " + req.SystemPrompt}
	if strings.TrimSpace(req.UserProfile) != "" {
		sections = append(sections, "User Profile: "+req.UserProfile)
	}
	if strings.TrimSpace(req.History) != "" {
		sections = append(sections, "Previous Dreams Context: "+req.History)
	}
	sections = append(sections, "Current Dream: "+req.Query, AnalysisInstruction)
	return strings.Join(sections, "\n\n")
}

// Stream returns a single-use sequence of chunks; ranging over it a second
// time yields nothing. A failure at any point ends
// the sequence with exactly one ErrorPrefix chunk. Breaking out of the range
// loop, or cancelling ctx, closes the upstream stream.
func (r *Relay) Stream(ctx context.Context, req Request) iter.Seq[string] {
	var started atomic.Bool
	return func(yield func(string) bool) {
		if !started.CompareAndSwap(false, true) {
			return
		}
		if r.model == nil {
			r.fail(yield, errors.New("no model configured"))
			return
		}
		stream, err := r.model.OpenStream(ctx, BuildPrompt(req))
		if err != nil {
			r.fail(yield, err)
			return
		}
		defer func() {
			if err := stream.Close(); err != nil {
				r.logger.Debug().Err(err).Msg("close upstream stream")
			}
		}()

		for {
			if err := ctx.Err(); err != nil {
				r.logger.Debug().Err(err).Msg("stream consumer gone")
				return
			}
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.fail(yield, err)
				return
			}
			if chunk == "" {
				continue
			}
			if r.metrics != nil {
				r.metrics.StreamChunk()
			}
			if !yield(chunk) {
				return
			}
		}
	}
}

func (r *Relay) fail(yield func(string) bool, err error) {
	r.logger.Warn().Err(err).Msg("stream failed")
	if r.metrics != nil {
		r.metrics.StreamError()
	}
	yield(ErrorPrefix + err.Error())
}
