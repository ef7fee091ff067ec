package memory

import (
	"context"
	"fmt"
	"io"

	"github.com/felixgeelhaar/bolt/v3"

	"github.com/quietriver/mnemo/core"
)

// Embedder converts text to vector embeddings. The embedding model is an
// external collaborator; implementations live in the ai package.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// RecordReceipt reports per-tier outcomes of a recorded exchange. The
// short-term append is the critical path; long-term durability and vector
// indexing are best-effort enrichment whose failures land here instead of
// failing the call.
type RecordReceipt struct {
	ConversationID     string
	UserMessageID      string
	AssistantMessageID string

	// MemoryID is set when an exchange memory was constructed, whether or
	// not the durable save succeeded.
	MemoryID string

	// Durable is true when the long-term save committed.
	Durable    bool
	DurableErr error

	// Indexed is true when the vector index accepted the document.
	Indexed  bool
	IndexErr error
}

// Manager composes the three storage tiers and the embedder to serve the
// record-exchange and retrieve-context use cases. It owns the consistency
// contract between tiers: each write tier degrades independently.
type Manager struct {
	conversations ConversationStore
	store         Store
	index         Index
	embedder      Embedder
	config        *Config
	log           *bolt.Logger
}

// NewManager creates a Manager. index may be nil when vector retrieval is
// not deployed; config nil means DefaultConfig; log nil discards.
func NewManager(conversations ConversationStore, store Store, index Index, embedder Embedder, config *Config, log *bolt.Logger) *Manager {
	if config == nil {
		config = DefaultConfig
	}
	if log == nil {
		log = bolt.New(bolt.NewConsoleHandler(io.Discard))
	}
	return &Manager{
		conversations: conversations,
		store:         store,
		index:         index,
		embedder:      embedder,
		config:        config,
		log:           log,
	}
}

// RecordExchange appends a user/assistant exchange to the conversation log
// (encrypted), then derives a long-term memory from it: summary text is
// embedded, saved with blob offload, and indexed for vector search.
//
// Only a short-term append failure fails the call. Embed, save, and index
// failures are captured on the receipt and logged; the already-committed
// prefix of steps stands.
func (m *Manager) RecordExchange(ctx context.Context, conversationID, userText, assistantText string) (*RecordReceipt, error) {
	now := core.Timestamp()
	userMsg := core.Message{
		ID:        core.NewID("msg-"),
		Role:      core.RoleUser,
		Content:   userText,
		Timestamp: now,
	}
	assistantMsg := core.Message{
		ID:        core.NewID("msg-"),
		Role:      core.RoleAssistant,
		Content:   assistantText,
		Timestamp: core.Timestamp(),
	}

	if err := m.conversations.Append(ctx, conversationID, userMsg, true); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}
	if err := m.conversations.Append(ctx, conversationID, assistantMsg, true); err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}

	receipt := &RecordReceipt{
		ConversationID:     conversationID,
		UserMessageID:      userMsg.ID,
		AssistantMessageID: assistantMsg.ID,
	}

	summary := fmt.Sprintf("User: %s\nAssistant: %s", userText, assistantText)

	embedding, err := m.embedder.Embed(ctx, summary)
	if err != nil {
		m.log.Warn().Str("conversation_id", conversationID).Err(err).Msg("embed exchange failed, skipping long-term tiers")
		receipt.DurableErr = fmt.Errorf("embed exchange: %w", err)
		receipt.IndexErr = receipt.DurableErr
		return receipt, nil
	}

	mem := &core.Memory{
		ID:        core.NewID("mem-"),
		Content:   summary,
		Embedding: embedding,
		Category:  "conversation",
		CreatedAt: core.Timestamp(),
		Metadata: map[string]string{
			"conversation_id": conversationID,
			"message_ids":     userMsg.ID + "," + assistantMsg.ID,
		},
		TTL: core.ExpiresAt(m.config.LongTermRetention),
	}
	receipt.MemoryID = mem.ID

	if err := m.store.Save(ctx, mem, true); err != nil {
		m.log.Warn().Str("memory_id", mem.ID).Err(err).Msg("long-term save failed")
		receipt.DurableErr = err
	} else {
		receipt.Durable = true
	}

	if m.index != nil {
		indexed, err := m.index.Index(ctx, mem)
		if err != nil {
			m.log.Warn().Str("memory_id", mem.ID).Err(err).Msg("vector index failed")
			receipt.IndexErr = err
		} else {
			receipt.Indexed = indexed
		}
	}

	return receipt, nil
}

// RetrieveContext embeds the query and returns ranked relevant memories.
// Embed and search failures fail the call: they are the query's sole
// purpose. Result content comes from the index's stored fields; no
// hydration is performed here.
//
// A non-positive limit selects the configured default. A negative minScore
// selects the configured floor; zero is an explicit "no floor".
func (m *Manager) RetrieveContext(ctx context.Context, query string, limit int, category string, minScore float64) ([]core.SearchResult, error) {
	if limit <= 0 {
		limit = m.config.RetrieveLimit
	}
	if minScore < 0 {
		minScore = m.config.MinScore
	}
	if m.index == nil {
		return nil, nil
	}

	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := m.index.Search(ctx, embedding, limit, category, minScore)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}

	m.log.Debug().Int("count", len(results)).Msg("retrieved context")
	return results, nil
}

// Hydrate enriches search results in place with the full stored memory,
// fetching offloaded content where present. Results whose memory is no
// longer retrievable are left untouched; a hydration failure on one result
// does not abort the rest.
func (m *Manager) Hydrate(ctx context.Context, results []core.SearchResult) []core.SearchResult {
	for i := range results {
		full, err := m.store.Get(ctx, results[i].Memory.ID)
		if err != nil {
			m.log.Warn().Str("memory_id", results[i].Memory.ID).Err(err).Msg("hydrate failed")
			continue
		}
		if full != nil {
			results[i].Memory = *full
		}
	}
	return results
}

// History returns the most recent messages of a conversation in
// chronological order.
func (m *Manager) History(ctx context.Context, conversationID string, limit int) ([]core.Message, error) {
	if limit <= 0 {
		limit = m.config.HistoryLimit
	}
	return m.conversations.Read(ctx, conversationID, limit)
}

// Reindex rebuilds the vector index's derived copy from the long-term
// store, the index never being the source of truth. Records without an
// embedding are skipped. Returns the number of documents indexed.
func (m *Manager) Reindex(ctx context.Context, category string, limit int) (int, error) {
	if m.index == nil {
		return 0, nil
	}

	records, err := m.store.List(ctx, category, limit)
	if err != nil {
		return 0, fmt.Errorf("list memories: %w", err)
	}

	indexed := 0
	for _, rec := range records {
		mem := rec
		if len(mem.Embedding) == 0 && mem.BlobRef != "" {
			// Index rows do not carry embeddings; hydrate from the blob.
			full, err := m.store.Get(ctx, rec.ID)
			if err != nil || full == nil {
				m.log.Warn().Str("memory_id", rec.ID).Err(err).Msg("reindex hydrate failed, skipping")
				continue
			}
			mem = full
		}
		if len(mem.Embedding) == 0 {
			continue
		}
		ok, err := m.index.Index(ctx, mem)
		if err != nil {
			m.log.Warn().Str("memory_id", mem.ID).Err(err).Msg("reindex failed for record")
			continue
		}
		if ok {
			indexed++
		}
	}

	m.log.Info().Int("indexed", indexed).Int("listed", len(records)).Msg("reindex complete")
	return indexed, nil
}
