// Package agent composes the memory manager and the completion model into a
// single conversational turn: recent history in, context-enriched reply out,
// exchange recorded across the memory tiers.
package agent

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/felixgeelhaar/bolt/v3"

	"github.com/quietriver/mnemo/ai"
	"github.com/quietriver/mnemo/core"
	"github.com/quietriver/mnemo/memory"
)

// DefaultSystemPrompt guides the model toward using retrieved memories.
const DefaultSystemPrompt = `You are a helpful personal AI assistant with access to the user's past conversations and memories.
Use the provided context to give more personalized and relevant responses.
If you reference information from the context, acknowledge it naturally.`

// Agent handles conversational turns.
type Agent struct {
	memory       *memory.Manager
	completer    ai.Completer
	systemPrompt string
	maxTokens    int64
	temperature  float64
	log          *bolt.Logger
}

// Option configures the agent.
type Option func(*Agent)

// WithSystemPrompt overrides the default system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) { a.systemPrompt = prompt }
}

// WithMaxTokens sets the completion token budget.
func WithMaxTokens(n int64) Option {
	return func(a *Agent) { a.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(a *Agent) { a.temperature = t }
}

// New creates an agent. log may be nil to discard.
func New(mgr *memory.Manager, completer ai.Completer, log *bolt.Logger, opts ...Option) *Agent {
	if log == nil {
		log = bolt.New(bolt.NewConsoleHandler(io.Discard))
	}
	a := &Agent{
		memory:       mgr,
		completer:    completer,
		systemPrompt: DefaultSystemPrompt,
		maxTokens:    2048,
		log:          log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Respond handles one turn: read the recent window, retrieve relevant
// long-term context, complete, and record the exchange.
//
// History-read and context-retrieval failures degrade to an empty window
// and are logged, never failing the turn. A completion failure fails the
// turn. A record failure after a successful completion returns the reply
// together with the error, so the caller does not lose the response.
func (a *Agent) Respond(ctx context.Context, conversationID, userMessage string) (string, *memory.RecordReceipt, error) {
	if userMessage == "" {
		return "", nil, &core.ValidationError{Op: "respond", Reason: "message is required"}
	}

	history, err := a.memory.History(ctx, conversationID, 0)
	if err != nil {
		a.log.Warn().Str("conversation_id", conversationID).Err(err).Msg("history read failed, continuing without")
		history = nil
	}

	systemPrompt := a.systemPrompt
	results, err := a.memory.RetrieveContext(ctx, userMessage, 0, "", -1)
	if err != nil {
		a.log.Warn().Err(err).Msg("context retrieval failed, continuing without")
	} else if len(results) > 0 {
		systemPrompt += "\n\n" + formatContext(results)
		a.log.Info().Int("count", len(results)).Msg("retrieved relevant memories")
	}

	messages := append(history, core.Message{
		ID:        core.NewID("msg-"),
		Role:      core.RoleUser,
		Content:   userMessage,
		Timestamp: core.Timestamp(),
	})

	reply, err := a.completer.Complete(ctx, messages, systemPrompt, a.maxTokens, a.temperature)
	if err != nil {
		return "", nil, fmt.Errorf("complete: %w", err)
	}

	receipt, err := a.memory.RecordExchange(ctx, conversationID, userMessage, reply)
	if err != nil {
		return reply, nil, fmt.Errorf("record exchange: %w", err)
	}
	return reply, receipt, nil
}

func formatContext(results []core.SearchResult) string {
	var b strings.Builder
	b.WriteString("Relevant context from your memory:\n")
	for _, r := range results {
		b.WriteString("\n- ")
		b.WriteString(r.Memory.Content)
	}
	return b.String()
}
