// Package answer drives the model call for a grounded question: streaming
// generation, bounded retry, circuit breaking, and citation extraction.
//
// Failure handling is asymmetric on purpose. Rate limits are retried with
// exponential backoff up to a bound, then the request degrades. Upstream
// timeouts degrade immediately: retrying a saturated provider only adds
// load. Other provider errors are fatal and surface to the caller. A
// cancelled request returns whatever text was already streamed, marked
// cancelled, and is never treated as a failure.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/refdesk/refdesk/internal/prompt"
	"github.com/refdesk/refdesk/internal/session"
)

// InsufficientInfo is the fixed response returned when retrieval found
// nothing relevant. The model is never called in that case, so the
// pipeline cannot fabricate an answer from thin air.
const InsufficientInfo = "I don't have enough information in the documentation to answer that. " +
	"Try rephrasing the question, or ask about payments, refunds, disputes, or payouts."

// DegradedNotice is returned in place of an answer when the model
// provider is unavailable and retries are exhausted.
const DegradedNotice = "The answer service is temporarily unavailable. Please try again in a moment."

// ErrUpstream wraps non-transient model provider failures.
var ErrUpstream = errors.New("model provider error")

// Status describes how a generation concluded.
type Status int

const (
	// StatusSucceeded means a complete answer was generated.
	StatusSucceeded Status = iota
	// StatusDegraded means the provider was unavailable and the result
	// carries the degraded notice instead of an answer.
	StatusDegraded
	// StatusCancelled means the caller cancelled mid-stream; Text holds
	// the partial answer up to the last delivered chunk.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusDegraded:
		return "degraded"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Usage carries observability metadata for one generation.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Attempts     int
	ResponseTime time.Duration
}

// Result is the outcome of one generation request.
type Result struct {
	Text      string
	Citations []session.Citation
	Status    Status
	Usage     Usage
}

// Sink receives streamed answer text as it is generated. Returning an
// error aborts the generation.
type Sink func(ctx context.Context, text string) error

// Config bounds the generator.
type Config struct {
	ModelName      string        // full Genkit model name, e.g. "googleai/gemini-2.0-flash"
	Temperature    float64
	MaxTokens      int
	Timeout        time.Duration // per-attempt generation deadline
	MaxRetries     int           // rate-limit retries after the first attempt
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Generator runs grounded generation requests. Safe for concurrent use.
type Generator struct {
	g       *genkit.Genkit
	cfg     Config
	limiter *rate.Limiter
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// New creates a Generator. limiter and breaker may be nil to disable
// proactive rate limiting or circuit breaking.
func New(g *genkit.Genkit, cfg Config, limiter *rate.Limiter, breaker *CircuitBreaker, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if breaker == nil {
		breaker = NewCircuitBreaker(DefaultCircuitBreakerConfig())
	}
	return &Generator{
		g:       g,
		cfg:     cfg,
		limiter: limiter,
		breaker: breaker,
		logger:  logger,
	}
}

// Generate produces a grounded answer for question using the assembled
// payload and recent conversation history. If sink is non-nil, answer
// text is streamed to it chunk by chunk; the final Result always carries
// the complete text and the citations it actually references.
//
// With no sources in the payload the model is not called and the fixed
// insufficient-information response is returned with zero citations.
func (gen *Generator) Generate(ctx context.Context, payload prompt.Payload, history []session.Turn, question string, sink Sink) (*Result, error) {
	start := time.Now()

	if len(payload.Citations) == 0 {
		if sink != nil {
			if err := sink(ctx, InsufficientInfo); err != nil {
				return nil, fmt.Errorf("streaming response: %w", err)
			}
		}
		return &Result{
			Text:   InsufficientInfo,
			Status: StatusSucceeded,
			Usage:  Usage{ResponseTime: time.Since(start)},
		}, nil
	}

	if err := gen.breaker.Allow(); err != nil {
		gen.logger.Warn("circuit breaker open, rejecting request", "state", gen.breaker.State().String())
		return gen.degraded(ctx, sink, "", 0, start)
	}

	messages := buildMessages(payload, history, question)

	delay := gen.cfg.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= gen.cfg.MaxRetries; attempt++ {
		if gen.limiter != nil {
			if err := gen.limiter.Wait(ctx); err != nil {
				return gen.cancelled("", payload.Citations, attempt+1, start), nil
			}
		}

		var streamed strings.Builder
		text, usage, err := gen.attempt(ctx, messages, payload.System, &streamed, sink)
		if err == nil {
			gen.breaker.Success()
			if text == "" {
				text = streamed.String()
			}
			usage.Attempts = attempt + 1
			usage.ResponseTime = time.Since(start)
			gen.logger.Debug("answer generated",
				"attempts", usage.Attempts,
				"elapsed", usage.ResponseTime,
				"output_length", len(text),
			)
			return &Result{
				Text:      text,
				Citations: extractCitations(text, payload.Citations),
				Status:    StatusSucceeded,
				Usage:     usage,
			}, nil
		}

		lastErr = err
		kind := classify(ctx, err)

		switch kind {
		case kindCancelled:
			return gen.cancelled(streamed.String(), payload.Citations, attempt+1, start), nil

		case kindTimeout:
			gen.breaker.Failure()
			gen.logger.Warn("model provider timed out, degrading", "attempt", attempt+1, "error", err)
			return gen.degraded(ctx, sink, streamed.String(), attempt+1, start)

		case kindUpstream:
			gen.breaker.Failure()
			return nil, fmt.Errorf("%w: %w", ErrUpstream, err)

		case kindRateLimit:
			gen.breaker.Failure()
			// Text already delivered to the sink cannot be unsent, so a
			// retry would duplicate it. Degrade instead.
			if streamed.Len() > 0 || attempt == gen.cfg.MaxRetries {
				gen.logger.Warn("rate limited, retries exhausted, degrading",
					"attempts", attempt+1,
					"elapsed", time.Since(start),
					"error", err,
				)
				return gen.degraded(ctx, sink, streamed.String(), attempt+1, start)
			}

			gen.logger.Debug("rate limited, retrying",
				"attempt", attempt+1,
				"delay", delay,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return gen.cancelled("", payload.Citations, attempt+1, start), nil
			case <-time.After(delay):
				delay = min(delay*2, gen.cfg.MaxBackoff)
			}
		}
	}

	// Unreachable: the loop always returns. Kept for the compiler.
	return nil, fmt.Errorf("%w: %w", ErrUpstream, lastErr)
}

// attempt runs a single model call, streaming parts to sink as they
// arrive and accumulating them in streamed.
func (gen *Generator) attempt(ctx context.Context, messages []*ai.Message, system string, streamed *strings.Builder, sink Sink) (string, Usage, error) {
	attemptCtx := ctx
	if gen.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, gen.cfg.Timeout)
		defer cancel()
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(gen.cfg.ModelName),
		ai.WithSystem(system),
		ai.WithMessages(messages...),
		ai.WithConfig(&ai.GenerationCommonConfig{
			Temperature:     gen.cfg.Temperature,
			MaxOutputTokens: gen.cfg.MaxTokens,
		}),
		ai.WithStreaming(func(cbCtx context.Context, chunk *ai.ModelResponseChunk) error {
			if chunk == nil {
				return nil
			}
			for _, part := range chunk.Content {
				if part.Text == "" {
					continue
				}
				streamed.WriteString(part.Text)
				if sink != nil {
					if err := sink(cbCtx, part.Text); err != nil {
						return err
					}
				}
			}
			return nil
		}),
	}

	resp, err := genkit.Generate(attemptCtx, gen.g, opts...)
	if err != nil {
		return "", Usage{}, err
	}

	text := resp.Text()
	usage := Usage{
		InputTokens:  estimateTokens(system) + estimateMessagesTokens(messages),
		OutputTokens: estimateTokens(text),
	}
	if resp.Usage != nil {
		if resp.Usage.InputTokens > 0 {
			usage.InputTokens = resp.Usage.InputTokens
		}
		if resp.Usage.OutputTokens > 0 {
			usage.OutputTokens = resp.Usage.OutputTokens
		}
	}
	return text, usage, nil
}

// degraded builds the degraded result. The notice is streamed only when
// nothing else has been delivered yet.
func (gen *Generator) degraded(ctx context.Context, sink Sink, partial string, attempts int, start time.Time) (*Result, error) {
	if sink != nil && partial == "" {
		if err := sink(ctx, DegradedNotice); err != nil {
			return nil, fmt.Errorf("streaming degraded notice: %w", err)
		}
	}
	return &Result{
		Text:   DegradedNotice,
		Status: StatusDegraded,
		Usage:  Usage{Attempts: attempts, ResponseTime: time.Since(start)},
	}, nil
}

// cancelled wraps whatever was streamed before the caller gave up. The
// partial text ends at a chunk boundary, never mid-rune.
func (gen *Generator) cancelled(partial string, available []session.Citation, attempts int, start time.Time) *Result {
	return &Result{
		Text:      partial,
		Citations: extractCitations(partial, available),
		Status:    StatusCancelled,
		Usage: Usage{
			OutputTokens: estimateTokens(partial),
			Attempts:     attempts,
			ResponseTime: time.Since(start),
		},
	}
}

// buildMessages assembles conversation history plus the grounded question.
// The numbered sources ride in the final user message so every request is
// self-contained.
func buildMessages(payload prompt.Payload, history []session.Turn, question string) []*ai.Message {
	messages := make([]*ai.Message, 0, len(history)*2+1)
	for _, t := range history {
		if t.Question == "" && t.Answer == "" {
			continue
		}
		messages = append(messages,
			ai.NewUserMessage(ai.NewTextPart(t.Question)),
			ai.NewModelMessage(ai.NewTextPart(t.Answer)),
		)
	}

	var b strings.Builder
	b.WriteString("Sources:\n\n")
	b.WriteString(payload.Context)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(b.String())))
	return messages
}

// estimateTokens provides a rough token count. Rune count divided by 2 is
// a conservative estimate that works for both English (~4 chars/token)
// and CJK (~1.5 chars/token) text.
func estimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 2
}

func estimateMessagesTokens(msgs []*ai.Message) int {
	total := 0
	for _, msg := range msgs {
		for _, part := range msg.Content {
			total += estimateTokens(part.Text)
		}
	}
	return total
}
