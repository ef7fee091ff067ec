// Package ai defines the boundary to the external AI collaborator: text
// embedding and chat completion. The core treats both as black boxes; the
// adapters here normalize each provider's response shape into one canonical
// form so none of it leaks into the data model.
package ai

import (
	"context"

	"github.com/quietriver/mnemo/core"
)

// Embedder converts text to a fixed-dimensionality vector embedding.
// Implementations: HTTPEmbedder (remote model), mock.Embedder (tests).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Completer generates an assistant reply from conversation messages.
type Completer interface {
	Complete(ctx context.Context, messages []core.Message, systemPrompt string, maxTokens int64, temperature float64) (string, error)
}
