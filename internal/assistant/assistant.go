// Package assistant wires the question-answering pipeline: retrieve,
// assemble, generate, then record the turn in the conversation.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/refdesk/refdesk/internal/answer"
	"github.com/refdesk/refdesk/internal/index"
	"github.com/refdesk/refdesk/internal/prompt"
	"github.com/refdesk/refdesk/internal/session"
)

// Retriever finds the corpus chunks relevant to a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string, history []session.Turn) ([]index.Entry, error)
}

// Generator produces the grounded answer.
type Generator interface {
	Generate(ctx context.Context, payload prompt.Payload, history []session.Turn, question string, sink answer.Sink) (*answer.Result, error)
}

// Answer is the complete outcome of one question.
type Answer struct {
	SessionID string
	Text      string
	Citations []session.Citation
	Status    answer.Status
	Truncated bool // context was cut to fit the token budget
	Usage     answer.Usage
}

// Assistant answers questions over the documentation corpus. Safe for
// concurrent use; per-conversation state lives in the session manager.
type Assistant struct {
	retriever Retriever
	assembler *prompt.Assembler
	generator Generator
	sessions  *session.Manager
	logger    *slog.Logger
}

// New creates an Assistant.
func New(retriever Retriever, assembler *prompt.Assembler, generator Generator, sessions *session.Manager, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		retriever: retriever,
		assembler: assembler,
		generator: generator,
		sessions:  sessions,
		logger:    logger,
	}
}

// Sessions exposes the session manager for lifecycle operations.
func (a *Assistant) Sessions() *session.Manager { return a.sessions }

// Ask answers question within the given conversation. An empty sessionID
// starts a fresh conversation; the returned Answer carries the id to use
// for follow-ups.
func (a *Assistant) Ask(ctx context.Context, sessionID, question string) (*Answer, error) {
	return a.AskStream(ctx, sessionID, question, nil)
}

// AskStream is Ask with streaming: answer text is delivered to sink as it
// is generated. The returned Answer always carries the full text.
func (a *Assistant) AskStream(ctx context.Context, sessionID, question string, sink answer.Sink) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question must not be empty")
	}

	conv := a.sessions.GetOrCreate(sessionID)
	history := conv.Recent(0)

	entries, err := a.retriever.Retrieve(ctx, question, history)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	payload := a.assembler.Assemble(entries)

	result, err := a.generator.Generate(ctx, payload, history, question, sink)
	if err != nil {
		return nil, err
	}

	// Only completed answers join the history. Degraded notices and
	// cancelled fragments would poison follow-up condensation.
	if result.Status == answer.StatusSucceeded {
		conv.Append(session.Turn{
			Question:  question,
			Answer:    result.Text,
			Citations: result.Citations,
		})
	}

	a.logger.Info("question answered",
		"session_id", conv.ID(),
		"status", result.Status.String(),
		"sources", len(payload.Citations),
		"cited", len(result.Citations),
		"truncated", payload.Truncated,
		"elapsed", result.Usage.ResponseTime,
	)

	return &Answer{
		SessionID: conv.ID(),
		Text:      result.Text,
		Citations: result.Citations,
		Status:    result.Status,
		Truncated: payload.Truncated,
		Usage:     result.Usage,
	}, nil
}
