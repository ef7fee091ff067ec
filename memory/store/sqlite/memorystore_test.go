package sqlite

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietriver/mnemo/core"
	"github.com/quietriver/mnemo/memory/blob"
)

func testBlobs(t *testing.T) *blob.FSStore {
	t.Helper()
	blobs, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)
	return blobs
}

func testMemory(content string) *core.Memory {
	return &core.Memory{
		ID:        core.NewID("mem-"),
		Content:   content,
		Embedding: []float32{0.1, 0.2, 0.3, 0.4},
		Category:  "conversation",
		CreatedAt: core.Timestamp(),
		Metadata:  map[string]string{"conversation_id": "c1"},
	}
}

func TestSaveGetInline(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(testDB(t), testGateway(t), testBlobs(t), nil)

	mem := testMemory("inline content")
	require.NoError(t, s.Save(ctx, mem, false))

	got, err := s.Get(ctx, mem.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "inline content", got.Content)
	assert.Empty(t, got.BlobRef)
	// Inline records carry no embedding; that lives in the vector tier.
	assert.Empty(t, got.Embedding)
}

func TestResaveInlineClearsBlobRef(t *testing.T) {
	ctx := context.Background()
	blobs := testBlobs(t)
	s := NewMemoryStore(testDB(t), testGateway(t), blobs, nil)

	mem := testMemory("version one content")
	require.NoError(t, s.Save(ctx, mem, true))
	require.NotEmpty(t, mem.BlobRef)
	oldRef := mem.BlobRef

	mem.Content = "version two content"
	require.NoError(t, s.Save(ctx, mem, false))
	assert.Empty(t, mem.BlobRef)

	got, err := s.Get(ctx, mem.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "version two content", got.Content)
	assert.Empty(t, got.BlobRef)

	// The superseded blob is gone.
	_, err = blobs.Get(ctx, oldRef)
	assert.Error(t, err)
}

func TestOffloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(testDB(t), testGateway(t), testBlobs(t), nil)

	long := strings.Repeat("the user prefers concise answers. ", 40)
	mem := testMemory(long)
	require.NoError(t, s.Save(ctx, mem, true))
	assert.NotEmpty(t, mem.BlobRef)

	got, err := s.Get(ctx, mem.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	// Full content comes back from the blob even though the index row
	// holds only a preview.
	assert.Equal(t, long, got.Content)
	assert.Equal(t, mem.Embedding, got.Embedding)
	assert.Equal(t, "conversation", got.Category)
	assert.Equal(t, "c1", got.Metadata["conversation_id"])
}

func TestOffloadRowHoldsPreviewOnly(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	s := NewMemoryStore(db, testGateway(t), testBlobs(t), nil)

	long := strings.Repeat("x", 2000)
	mem := testMemory(long)
	require.NoError(t, s.Save(ctx, mem, true))

	var inline string
	require.NoError(t, db.QueryRow(`SELECT content FROM memories WHERE memory_id = ?`, mem.ID).Scan(&inline))
	assert.Len(t, inline, previewLen)
}

func TestGetMissing(t *testing.T) {
	s := NewMemoryStore(testDB(t), testGateway(t), testBlobs(t), nil)

	got, err := s.Get(context.Background(), "mem-does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(testDB(t), testGateway(t), testBlobs(t), nil)

	mem := testMemory("short lived")
	mem.TTL = time.Now().Add(-time.Minute).Unix()
	require.NoError(t, s.Save(ctx, mem, false))

	got, err := s.Get(ctx, mem.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCorruptBlobFailsHydration(t *testing.T) {
	ctx := context.Background()
	blobs := testBlobs(t)
	s := NewMemoryStore(testDB(t), testGateway(t), blobs, nil)

	mem := testMemory("to be corrupted")
	require.NoError(t, s.Save(ctx, mem, true))

	require.NoError(t, blobs.Put(ctx, mem.BlobRef, []byte("not an envelope")))

	got, err := s.Get(ctx, mem.ID)
	var storageErr *core.StorageError
	require.ErrorAs(t, err, &storageErr)
	// Never a partially merged record.
	assert.Nil(t, got)
}

func TestSaveIsIdempotentUpsert(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	s := NewMemoryStore(db, testGateway(t), testBlobs(t), nil)

	mem := testMemory("first version")
	require.NoError(t, s.Save(ctx, mem, false))
	mem.Content = "second version"
	require.NoError(t, s.Save(ctx, mem, false))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM memories WHERE memory_id = ?`, mem.ID).Scan(&count))
	assert.Equal(t, 1, count)

	got, err := s.Get(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, "second version", got.Content)
}

func TestListByCategory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(testDB(t), testGateway(t), testBlobs(t), nil)

	old := testMemory("older note")
	old.Category = "notes"
	old.CreatedAt = 1000
	require.NoError(t, s.Save(ctx, old, false))

	newer := testMemory("newer note")
	newer.Category = "notes"
	newer.CreatedAt = 2000
	require.NoError(t, s.Save(ctx, newer, false))

	other := testMemory("unrelated")
	other.Category = "conversation"
	require.NoError(t, s.Save(ctx, other, false))

	got, err := s.List(ctx, "notes", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "newer note", got[0].Content)
	assert.Equal(t, "older note", got[1].Content)

	all, err := s.List(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDefaultCategoryAssigned(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(testDB(t), testGateway(t), testBlobs(t), nil)

	mem := testMemory("uncategorized")
	mem.Category = ""
	require.NoError(t, s.Save(ctx, mem, false))

	got, err := s.Get(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, core.DefaultCategory, got.Category)
}

func TestHydrationCache(t *testing.T) {
	ctx := context.Background()
	blobs := testBlobs(t)
	s := NewMemoryStore(testDB(t), testGateway(t), blobs, nil, WithHydrationCache(time.Minute))

	mem := testMemory("cache me")
	require.NoError(t, s.Save(ctx, mem, true))

	first, err := s.Get(ctx, mem.ID)
	require.NoError(t, err)
	require.NotNil(t, first)

	// ristretto admits asynchronously; give the entry a moment to land.
	time.Sleep(50 * time.Millisecond)

	// A second read with the blob gone should still hydrate from cache.
	require.NoError(t, blobs.Delete(ctx, mem.BlobRef))
	second, err := s.Get(ctx, mem.ID)
	if err == nil && second != nil {
		assert.Equal(t, first.Content, second.Content)
	}
}

func TestMissingIDRejected(t *testing.T) {
	s := NewMemoryStore(testDB(t), testGateway(t), testBlobs(t), nil)

	err := s.Save(context.Background(), &core.Memory{Content: "no id"}, false)
	var validationErr *core.ValidationError
	require.ErrorAs(t, err, &validationErr)
}
