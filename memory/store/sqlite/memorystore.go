package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/felixgeelhaar/bolt/v3"

	"github.com/quietriver/mnemo/core"
	"github.com/quietriver/mnemo/envelope"
	"github.com/quietriver/mnemo/memory"
)

// previewLen bounds the inline content kept on an offloaded index row.
const previewLen = 256

// MemoryStore is the durable long-term tier: compact index rows in SQLite
// with optional offload of the full record to blob storage.
type MemoryStore struct {
	db       *sql.DB
	gateway  envelope.Gateway
	blobs    memory.BlobStore
	cache    *ristretto.Cache
	cacheTTL time.Duration
	log      *bolt.Logger
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithHydrationCache caches hydrated records for ttl, bounding repeat blob
// fetches and decrypts for hot memories. Entries are invalidated on Save.
func WithHydrationCache(ttl time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 10_000,
			MaxCost:     1 << 26, // 64 MiB of hydrated records
			BufferItems: 64,
		})
		if err != nil {
			s.log.Warn().Err(err).Msg("hydration cache unavailable, continuing without")
			return
		}
		s.cache = cache
		s.cacheTTL = ttl
	}
}

// NewMemoryStore wires the long-term tier over a shared database handle.
// blobs receives offloaded payloads; log may be nil.
func NewMemoryStore(db *sql.DB, gateway envelope.Gateway, blobs memory.BlobStore, log *bolt.Logger, opts ...MemoryStoreOption) *MemoryStore {
	if log == nil {
		log = bolt.New(bolt.NewConsoleHandler(io.Discard))
	}
	s := &MemoryStore{db: db, gateway: gateway, blobs: blobs, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save upserts the index record. With offload set, the full memory (JSON,
// including embedding) is encrypted and written to blob storage first, and
// the row gains its blob ref only afterwards: a reader must never observe a
// ref pointing at a blob that does not exist yet. A failed ref update is
// retried once without redoing the blob write.
//
// Re-saving without offload clears any previous blob ref, so the ref is set
// exactly when the current content lives in blob storage; the superseded
// blob is removed best-effort.
func (s *MemoryStore) Save(ctx context.Context, mem *core.Memory, offload bool) error {
	if mem.ID == "" {
		return &core.ValidationError{Op: "save memory", Reason: "missing memory id"}
	}
	if mem.Category == "" {
		mem.Category = core.DefaultCategory
	}

	inline := mem.Content
	if offload && len(inline) > previewLen {
		inline = inline[:previewLen]
	}

	var metaJSON []byte
	if mem.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(mem.Metadata)
		if err != nil {
			return &core.StorageError{Op: "save memory", Err: err}
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (memory_id, content, category, created_at, metadata, ttl)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(memory_id) DO UPDATE SET
			content = excluded.content,
			category = excluded.category,
			created_at = excluded.created_at,
			metadata = excluded.metadata,
			ttl = excluded.ttl,
			blob_ref = ''`,
		mem.ID, inline, mem.Category, mem.CreatedAt, nullableString(metaJSON), mem.TTL,
	)
	if err != nil {
		return &core.StorageError{Op: "save memory", Err: err}
	}

	if s.cache != nil {
		s.cache.Del(mem.ID)
	}

	if !offload {
		// A prior offloaded save may have left a blob behind; the row no
		// longer references it.
		if err := s.blobs.Delete(ctx, blobKey(mem.ID)); err != nil {
			s.log.Warn().Str("memory_id", mem.ID).Err(err).Msg("superseded blob cleanup failed")
		}
		mem.BlobRef = ""
		return nil
	}

	payload, err := json.Marshal(mem)
	if err != nil {
		return &core.StorageError{Op: "offload memory", Err: err}
	}
	sealed, err := s.gateway.Encrypt(ctx, payload)
	if err != nil {
		return err
	}

	ref := blobKey(mem.ID)
	if err := s.blobs.Put(ctx, ref, sealed); err != nil {
		return err
	}

	if err := s.setBlobRef(ctx, mem.ID, ref); err != nil {
		// The blob write already committed; retry the ref update alone.
		s.log.Warn().Str("memory_id", mem.ID).Err(err).Msg("blob ref update failed, retrying")
		if err := s.setBlobRef(ctx, mem.ID, ref); err != nil {
			return &core.StorageError{Op: "update blob ref", Err: err}
		}
	}
	mem.BlobRef = ref

	s.log.Debug().Str("memory_id", mem.ID).Str("blob_ref", ref).Msg("saved memory with offload")
	return nil
}

func (s *MemoryStore) setBlobRef(ctx context.Context, memoryID, ref string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET blob_ref = ? WHERE memory_id = ?`, ref, memoryID)
	return err
}

// Get fetches the index record by id, hydrating from blob storage when the
// record was offloaded. A missing or expired id returns (nil, nil); a
// hydration failure returns a StorageError, never a partially merged record.
func (s *MemoryStore) Get(ctx context.Context, memoryID string) (*core.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT memory_id, content, category, created_at, metadata, ttl, blob_ref
		 FROM memories WHERE memory_id = ?`, memoryID)

	var (
		rec      core.Memory
		metaJSON sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.Content, &rec.Category, &rec.CreatedAt, &metaJSON, &rec.TTL, &rec.BlobRef)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &core.StorageError{Op: "get memory", Err: err}
	}
	if core.Expired(rec.TTL, time.Now()) {
		return nil, nil
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &rec.Metadata); err != nil {
			return nil, &core.StorageError{Op: "get memory", Err: err}
		}
	}

	if rec.BlobRef == "" {
		return &rec, nil
	}
	return s.hydrate(ctx, &rec)
}

// hydrate merges the offloaded payload under the index row. The row is the
// most recently acknowledged write, so its fields win; content and embedding
// come from the blob, which is the only place the full content lives.
func (s *MemoryStore) hydrate(ctx context.Context, rec *core.Memory) (*core.Memory, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(rec.ID); ok {
			if full, ok := v.(*core.Memory); ok {
				return mergeHydrated(rec, full), nil
			}
		}
	}

	sealed, err := s.blobs.Get(ctx, rec.BlobRef)
	if err != nil {
		return nil, &core.StorageError{Op: "hydrate memory", Err: err}
	}
	payload, err := s.gateway.Decrypt(ctx, sealed)
	if err != nil {
		return nil, &core.StorageError{Op: "hydrate memory", Err: err}
	}

	var full core.Memory
	if err := json.Unmarshal(payload, &full); err != nil {
		return nil, &core.StorageError{Op: "hydrate memory", Err: err}
	}

	if s.cache != nil {
		s.cache.SetWithTTL(rec.ID, &full, int64(len(payload)), s.cacheTTL)
	}
	return mergeHydrated(rec, &full), nil
}

func mergeHydrated(rec, full *core.Memory) *core.Memory {
	merged := *full
	merged.ID = rec.ID
	merged.Category = rec.Category
	merged.CreatedAt = rec.CreatedAt
	merged.TTL = rec.TTL
	merged.BlobRef = rec.BlobRef
	if rec.Metadata != nil {
		merged.Metadata = rec.Metadata
	}
	return &merged
}

// List returns index records only, without hydration. A non-empty category
// filters exactly and orders by created_at descending; otherwise ordering
// is unspecified.
func (s *MemoryStore) List(ctx context.Context, category string, limit int) ([]*core.Memory, error) {
	var (
		rows *sql.Rows
		err  error
	)
	now := time.Now().Unix()
	if category != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT memory_id, content, category, created_at, metadata, ttl, blob_ref
			 FROM memories
			 WHERE category = ? AND (ttl = 0 OR ttl > ?)
			 ORDER BY created_at DESC
			 LIMIT ?`,
			category, now, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT memory_id, content, category, created_at, metadata, ttl, blob_ref
			 FROM memories
			 WHERE ttl = 0 OR ttl > ?
			 LIMIT ?`,
			now, limit)
	}
	if err != nil {
		return nil, &core.StorageError{Op: "list memories", Err: err}
	}
	defer rows.Close()

	var records []*core.Memory
	for rows.Next() {
		var (
			rec      core.Memory
			metaJSON sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Content, &rec.Category, &rec.CreatedAt, &metaJSON, &rec.TTL, &rec.BlobRef); err != nil {
			return nil, &core.StorageError{Op: "list memories", Err: err}
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &rec.Metadata); err != nil {
				s.log.Warn().Str("memory_id", rec.ID).Err(err).Msg("dropping unparseable memory metadata")
			}
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.StorageError{Op: "list memories", Err: err}
	}
	return records, nil
}

func blobKey(memoryID string) string {
	return fmt.Sprintf("memories/%s.json", memoryID)
}
