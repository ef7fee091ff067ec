package sqlite

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"io"
	"time"

	"github.com/felixgeelhaar/bolt/v3"

	"github.com/quietriver/mnemo/core"
	"github.com/quietriver/mnemo/envelope"
)

// UnreadableContent replaces a message's content when its row was stored
// encrypted but can no longer be decrypted. One corrupt historical row must
// not make the whole conversation unreadable.
const UnreadableContent = "[unreadable: decryption failed]"

// ConversationStore is the append-only short-term message log.
type ConversationStore struct {
	db        *sql.DB
	gateway   envelope.Gateway
	retention time.Duration
	log       *bolt.Logger
}

// NewConversationStore wires the log over a shared database handle.
// retention bounds row lifetime (zero disables expiry); log may be nil.
func NewConversationStore(db *sql.DB, gateway envelope.Gateway, retention time.Duration, log *bolt.Logger) *ConversationStore {
	if log == nil {
		log = bolt.New(bolt.NewConsoleHandler(io.Discard))
	}
	return &ConversationStore{db: db, gateway: gateway, retention: retention, log: log}
}

// Append writes one message row keyed (conversation_id, timestamp, seq).
// No read-modify-write: concurrent appends to the same conversation are
// independent inserts.
func (s *ConversationStore) Append(ctx context.Context, conversationID string, msg core.Message, encrypt bool) error {
	content := msg.Content
	if encrypt {
		sealed, err := s.gateway.Encrypt(ctx, []byte(msg.Content))
		if err != nil {
			return err
		}
		content = base64.StdEncoding.EncodeToString(sealed)
	}

	var metaJSON []byte
	if msg.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(msg.Metadata)
		if err != nil {
			return &core.StorageError{Op: "append message", Err: err}
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, timestamp, message_id, role, content, encrypted, metadata, ttl)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conversationID, msg.Timestamp, msg.ID, msg.Role, content, encrypt, nullableString(metaJSON),
		core.ExpiresAt(s.retention),
	)
	if err != nil {
		return &core.StorageError{Op: "append message", Err: err}
	}

	s.log.Debug().Str("conversation_id", conversationID).Str("message_id", msg.ID).Msg("appended message")
	return nil
}

// Read returns the most recent limit messages in chronological order,
// excluding expired rows. A non-existent conversation yields an empty
// result, not an error.
func (s *ConversationStore) Read(ctx context.Context, conversationID string, limit int) ([]core.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, role, content, timestamp, encrypted, metadata
		 FROM messages
		 WHERE conversation_id = ? AND (ttl = 0 OR ttl > ?)
		 ORDER BY timestamp DESC, seq DESC
		 LIMIT ?`,
		conversationID, time.Now().Unix(), limit,
	)
	if err != nil {
		return nil, &core.StorageError{Op: "read conversation", Err: err}
	}
	defer rows.Close()

	var messages []core.Message
	for rows.Next() {
		var (
			msg       core.Message
			encrypted bool
			metaJSON  sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &msg.Timestamp, &encrypted, &metaJSON); err != nil {
			return nil, &core.StorageError{Op: "read conversation", Err: err}
		}

		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &msg.Metadata); err != nil {
				s.log.Warn().Str("message_id", msg.ID).Err(err).Msg("dropping unparseable message metadata")
			}
		}

		if encrypted {
			msg.Content = s.decryptContent(ctx, msg.ID, msg.Content)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.StorageError{Op: "read conversation", Err: err}
	}

	// Rows arrive most-recent-first; reverse to chronological.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// decryptContent degrades a single row to an error marker on failure
// instead of aborting the read. It never passes raw ciphertext off as
// plaintext.
func (s *ConversationStore) decryptContent(ctx context.Context, messageID, stored string) string {
	sealed, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		s.log.Error().Str("message_id", messageID).Err(err).Msg("corrupt encrypted row")
		return UnreadableContent
	}
	plain, err := s.gateway.Decrypt(ctx, sealed)
	if err != nil {
		s.log.Error().Str("message_id", messageID).Err(err).Msg("failed to decrypt message")
		return UnreadableContent
	}
	return string(plain)
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
