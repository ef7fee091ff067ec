package core

import (
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in a conversation log. Messages are immutable
// once created; ordering within a conversation is (Timestamp, write sequence).
type Message struct {
	ID        string            `json:"message_id"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Timestamp int64             `json:"timestamp"` // milliseconds since epoch
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Memory is a durable long-term record. Embedding must be set before the
// memory can be indexed for vector search. BlobRef is set if and only if the
// full content was offloaded to blob storage.
type Memory struct {
	ID        string            `json:"memory_id"`
	Content   string            `json:"content"`
	Embedding []float32         `json:"embedding,omitempty"`
	Category  string            `json:"category"`
	CreatedAt int64             `json:"created_at"` // milliseconds since epoch
	Metadata  map[string]string `json:"metadata,omitempty"`
	TTL       int64             `json:"ttl,omitempty"` // unix seconds, 0 = no expiry
	BlobRef   string            `json:"blob_ref,omitempty"`
}

// DefaultCategory is assigned to memories created without a category.
const DefaultCategory = "general"

// SearchResult is one ranked hit from a vector search. Rank starts at 1 and
// ascends as Score descends.
type SearchResult struct {
	Memory Memory  `json:"memory"`
	Score  float64 `json:"score"`
	Rank   int     `json:"rank"`
}

// NewID generates a unique identifier with an optional prefix,
// e.g. NewID("msg-") or NewID("mem-").
func NewID(prefix string) string {
	return prefix + uuid.New().String()
}

// Timestamp returns the current time in milliseconds since epoch, the unit
// used for Message.Timestamp and Memory.CreatedAt.
func Timestamp() int64 {
	return time.Now().UnixMilli()
}

// ExpiresAt converts a retention duration into a row TTL (unix seconds).
// A zero or negative retention means no expiry.
func ExpiresAt(retention time.Duration) int64 {
	if retention <= 0 {
		return 0
	}
	return time.Now().Add(retention).Unix()
}

// Expired reports whether a TTL value has elapsed at the given time.
// A zero TTL never expires.
func Expired(ttl int64, now time.Time) bool {
	return ttl != 0 && ttl <= now.Unix()
}
