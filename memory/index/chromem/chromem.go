// Package chromem implements the vector-similarity tier on chromem-go, a
// pure Go embedded vector database. The index holds a derived copy of each
// memory's searchable fields; it is never the source of truth.
package chromem

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/felixgeelhaar/bolt/v3"
	chromem "github.com/philippgille/chromem-go"

	"github.com/quietriver/mnemo/core"
)

const collectionName = "memories"

// metaPrefix namespaces caller metadata in the flat document metadata map.
const metaPrefix = "meta."

// Config holds index settings.
type Config struct {
	// Enabled toggles the backend. A disabled index degrades every
	// operation to a no-op: retrieval becomes "no long-term context",
	// never a hard failure of the chat flow.
	Enabled bool

	// Dimensions is the fixed embedding dimensionality for this
	// deployment. Mismatched vectors are rejected at index time.
	Dimensions int
}

// Index is the chromem-go backed vector index.
type Index struct {
	col      *chromem.Collection
	dims     int
	log      *bolt.Logger
	warnOnce sync.Once
}

// New creates the index. With cfg.Enabled false the returned index is a
// valid no-op backend.
func New(cfg Config, log *bolt.Logger) (*Index, error) {
	if log == nil {
		log = bolt.New(bolt.NewConsoleHandler(io.Discard))
	}
	ix := &Index{dims: cfg.Dimensions, log: log}
	if !cfg.Enabled {
		return ix, nil
	}

	col, err := chromem.NewDB().CreateCollection(
		collectionName,
		nil, // no collection metadata
		nil, // embeddings are provided by the caller
	)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	ix.col = col
	return ix, nil
}

// Index writes or overwrites the document keyed by the memory id;
// re-indexing an id replaces the previous document. Returns false with no
// error when the backend is unconfigured.
func (ix *Index) Index(ctx context.Context, mem *core.Memory) (bool, error) {
	if ix.col == nil {
		ix.warnUnconfigured()
		return false, nil
	}
	if len(mem.Embedding) == 0 {
		return false, &core.ValidationError{Op: "index memory", Reason: "memory has no embedding"}
	}
	if ix.dims > 0 && len(mem.Embedding) != ix.dims {
		return false, &core.ValidationError{
			Op:     "index memory",
			Reason: fmt.Sprintf("embedding dimension %d does not match index dimension %d", len(mem.Embedding), ix.dims),
		}
	}

	category := mem.Category
	if category == "" {
		category = core.DefaultCategory
	}
	metadata := map[string]string{
		"memory_id":  mem.ID,
		"category":   category,
		"created_at": strconv.FormatInt(mem.CreatedAt, 10),
	}
	for k, v := range mem.Metadata {
		metadata[metaPrefix+k] = v
	}

	err := ix.col.AddDocument(ctx, chromem.Document{
		ID:        mem.ID,
		Content:   mem.Content,
		Embedding: mem.Embedding,
		Metadata:  metadata,
	})
	if err != nil {
		return false, &core.StorageError{Op: "index memory", Err: err}
	}

	ix.log.Debug().Str("memory_id", mem.ID).Str("category", category).Msg("indexed memory")
	return true, nil
}

// Search runs nearest-neighbor retrieval over limit candidates. A non-empty
// category is applied as an exact-match predicate joined with the vector
// query, not a post-filter, so a rare category cannot under-fill the result
// set. Results scoring below minScore are dropped, then ranks are assigned
// 1..N by descending score.
func (ix *Index) Search(ctx context.Context, queryEmbedding []float32, limit int, category string, minScore float64) ([]core.SearchResult, error) {
	if ix.col == nil {
		ix.warnUnconfigured()
		return nil, nil
	}
	if limit <= 0 {
		return nil, &core.ValidationError{Op: "search memories", Reason: "limit must be positive"}
	}

	var where map[string]string
	if category != "" {
		where = map[string]string{"category": category}
	}

	if n := ix.col.Count(); n < limit {
		if n == 0 {
			return nil, nil
		}
		limit = n
	}

	// chromem requires nResults <= the number of candidate documents,
	// which a where filter can shrink below the collection count.
	var hits []chromem.Result
	for nResults := limit; nResults >= 1; nResults-- {
		var err error
		hits, err = ix.col.QueryEmbedding(ctx, queryEmbedding, nResults, where, nil)
		if err == nil {
			break
		}
		if isInsufficientDocsError(err) {
			if nResults == 1 {
				return nil, nil
			}
			continue
		}
		return nil, &core.StorageError{Op: "search memories", Err: err}
	}

	results := make([]core.SearchResult, 0, len(hits))
	for _, hit := range hits {
		score := float64(hit.Similarity)
		if score < 0 {
			score = 0
		}
		if score < minScore {
			continue
		}
		results = append(results, core.SearchResult{
			Memory: documentMemory(hit),
			Score:  score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	for i := range results {
		results[i].Rank = i + 1
	}

	ix.log.Debug().Int("count", len(results)).Msg("search complete")
	return results, nil
}

// Delete removes the document for the id. A missing id is not an error, and
// an unconfigured backend is a no-op.
func (ix *Index) Delete(ctx context.Context, memoryID string) error {
	if ix.col == nil {
		ix.warnUnconfigured()
		return nil
	}
	if err := ix.col.Delete(ctx, nil, nil, memoryID); err != nil {
		return &core.StorageError{Op: "delete memory", Err: err}
	}
	return nil
}

// documentMemory rebuilds a Memory's searchable fields from the stored
// document. The embedding is intentionally omitted from results.
func documentMemory(hit chromem.Result) core.Memory {
	mem := core.Memory{
		ID:       hit.ID,
		Content:  hit.Content,
		Category: hit.Metadata["category"],
	}
	if raw := hit.Metadata["created_at"]; raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			mem.CreatedAt = v
		}
	}
	for k, v := range hit.Metadata {
		if strings.HasPrefix(k, metaPrefix) {
			if mem.Metadata == nil {
				mem.Metadata = make(map[string]string)
			}
			mem.Metadata[strings.TrimPrefix(k, metaPrefix)] = v
		}
	}
	return mem
}

func (ix *Index) warnUnconfigured() {
	ix.warnOnce.Do(func() {
		ix.log.Warn().Msg("vector index not configured, retrieval degrades to no long-term context")
	})
}

func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
