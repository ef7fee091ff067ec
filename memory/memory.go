package memory

import (
	"context"
	"time"

	"github.com/quietriver/mnemo/core"
)

// ConversationStore is the short-term tier: an append-only per-conversation
// message log with bounded-recency reads and TTL expiry.
//
// Concurrent appends to the same conversation are independent writes;
// ordering is (timestamp, write sequence), not append call order.
type ConversationStore interface {
	// Append writes one message row. With encrypt set, the content passes
	// through the encryption gateway before the write.
	Append(ctx context.Context, conversationID string, msg core.Message, encrypt bool) error

	// Read returns the most recent limit messages in chronological order.
	// Expired rows are excluded. A decryption failure on one row degrades
	// that message's content to an error marker; it never aborts the read.
	// A non-existent conversation yields an empty slice, not an error.
	Read(ctx context.Context, conversationID string, limit int) ([]core.Message, error)
}

// Store is the long-term tier: durable memory index records with optional
// offload of the full content to blob storage.
type Store interface {
	// Save writes the index record. With offload set, the full memory
	// (JSON, including embedding) is encrypted and written to blob storage,
	// and the index record gains a blob ref only after the blob write
	// succeeds.
	Save(ctx context.Context, mem *core.Memory, offload bool) error

	// Get fetches a memory by id, hydrating from blob storage when the
	// record was offloaded. A missing or expired id returns (nil, nil).
	Get(ctx context.Context, memoryID string) (*core.Memory, error)

	// List returns index records only, with no hydration. When category is
	// non-empty, results are ordered by created_at descending.
	List(ctx context.Context, category string, limit int) ([]*core.Memory, error)
}

// Index is the vector-similarity tier, a derived copy of each indexed
// memory's searchable fields. It is never the source of truth and may be
// rebuilt from Store at any time.
type Index interface {
	// Index writes or overwrites the document keyed by memory id. The
	// memory must carry an embedding of the configured dimensionality.
	// Returns false with no error when the backend is unconfigured.
	Index(ctx context.Context, mem *core.Memory) (bool, error)

	// Search runs nearest-neighbor retrieval over limit candidates,
	// pre-filtered by category when non-empty, then drops results scoring
	// below minScore and assigns ranks 1..N by descending score.
	// An unconfigured backend yields an empty result set, not an error.
	Search(ctx context.Context, queryEmbedding []float32, limit int, category string, minScore float64) ([]core.SearchResult, error)

	// Delete removes the document. Absence of the id is not an error.
	Delete(ctx context.Context, memoryID string) error
}

// BlobStore holds offloaded memory payloads keyed by opaque string refs.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Config holds Manager tuning knobs.
type Config struct {
	// ShortTermRetention bounds conversation row lifetime. Zero disables
	// expiry.
	ShortTermRetention time.Duration

	// LongTermRetention bounds memory record lifetime, typically much
	// longer than the short-term window. Zero disables expiry.
	LongTermRetention time.Duration

	// RetrieveLimit caps results per context retrieval.
	RetrieveLimit int

	// MinScore is the similarity floor for retrieved context [0.0-1.0].
	MinScore float64

	// HistoryLimit bounds the recent-message window read per turn.
	HistoryLimit int
}

// DefaultConfig mirrors the retention defaults of a typical deployment:
// a week of short-term history, a year of long-term memory.
var DefaultConfig = &Config{
	ShortTermRetention: 7 * 24 * time.Hour,
	LongTermRetention:  365 * 24 * time.Hour,
	RetrieveLimit:      5,
	MinScore:           0.7,
	HistoryLimit:       20,
}
