package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quietriver/mnemo/ai/mock"
	"github.com/quietriver/mnemo/core"
	"github.com/quietriver/mnemo/envelope"
	"github.com/quietriver/mnemo/memory"
	"github.com/quietriver/mnemo/memory/blob"
	chromemindex "github.com/quietriver/mnemo/memory/index/chromem"
	"github.com/quietriver/mnemo/memory/store/sqlite"
)

const testDims = 64

// stubCompleter records what it was asked and returns a canned reply.
type stubCompleter struct {
	reply        string
	err          error
	gotMessages  []core.Message
	gotSystem    string
	gotMaxTokens int64
}

func (s *stubCompleter) Complete(ctx context.Context, messages []core.Message, system string, maxTokens int64, temperature float64) (string, error) {
	s.gotMessages = messages
	s.gotSystem = system
	s.gotMaxTokens = maxTokens
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func newTestAgent(t *testing.T, completer *stubCompleter, opts ...Option) *Agent {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	blobs, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create blob store: %v", err)
	}

	gateway := envelope.New(nil, nil)
	index, err := chromemindex.New(chromemindex.Config{Enabled: true, Dimensions: testDims}, nil)
	if err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}

	mgr := memory.NewManager(
		sqlite.NewConversationStore(db, gateway, 0, nil),
		sqlite.NewMemoryStore(db, gateway, blobs, nil),
		index,
		mock.New(testDims),
		&memory.Config{
			RetrieveLimit: 5,
			MinScore:      0, // mock embeddings score low across texts
			HistoryLimit:  20,
		},
		nil,
	)
	return New(mgr, completer, nil, opts...)
}

func TestRespondRecordsExchange(t *testing.T) {
	ctx := context.Background()
	completer := &stubCompleter{reply: "Hello Ana!"}
	a := newTestAgent(t, completer)

	reply, receipt, err := a.Respond(ctx, "c1", "my name is Ana")
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if reply != "Hello Ana!" {
		t.Errorf("Expected the completer's reply, got %q", reply)
	}
	if receipt == nil || !receipt.Durable || !receipt.Indexed {
		t.Fatalf("Expected a fully recorded exchange, got %+v", receipt)
	}

	if len(completer.gotMessages) != 1 {
		t.Fatalf("Expected 1 message on the first turn, got %d", len(completer.gotMessages))
	}
	if completer.gotMessages[0].Content != "my name is Ana" {
		t.Errorf("Unexpected message content: %q", completer.gotMessages[0].Content)
	}
	if !strings.HasPrefix(completer.gotSystem, DefaultSystemPrompt) {
		t.Error("Expected the default system prompt")
	}
}

func TestRespondSecondTurnCarriesHistoryAndContext(t *testing.T) {
	ctx := context.Background()
	completer := &stubCompleter{reply: "Noted."}
	a := newTestAgent(t, completer)

	if _, _, err := a.Respond(ctx, "c1", "I like hiking"); err != nil {
		t.Fatalf("First turn failed: %v", err)
	}

	if _, _, err := a.Respond(ctx, "c1", "what do I like?"); err != nil {
		t.Fatalf("Second turn failed: %v", err)
	}

	// Prior exchange plus the new user message.
	if len(completer.gotMessages) != 3 {
		t.Fatalf("Expected 3 messages on the second turn, got %d", len(completer.gotMessages))
	}
	if completer.gotMessages[0].Content != "I like hiking" {
		t.Errorf("Expected history first, got %q", completer.gotMessages[0].Content)
	}
	if completer.gotMessages[2].Content != "what do I like?" {
		t.Errorf("Expected the new message last, got %q", completer.gotMessages[2].Content)
	}

	// The first exchange was indexed; with the score floor at zero it must
	// surface as retrieved context.
	if !strings.Contains(completer.gotSystem, "Relevant context from your memory:") {
		t.Error("Expected retrieved context in the system prompt")
	}
	if !strings.Contains(completer.gotSystem, "I like hiking") {
		t.Error("Expected the prior exchange in the retrieved context")
	}
}

func TestRespondEmptyMessage(t *testing.T) {
	a := newTestAgent(t, &stubCompleter{reply: "hi"})

	_, _, err := a.Respond(context.Background(), "c1", "")
	var verr *core.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected a ValidationError, got: %v", err)
	}
}

func TestRespondCompletionFailureFailsTurn(t *testing.T) {
	completer := &stubCompleter{err: errors.New("model overloaded")}
	a := newTestAgent(t, completer)

	reply, receipt, err := a.Respond(context.Background(), "c1", "hello")
	if err == nil {
		t.Fatal("Expected an error when completion fails")
	}
	if reply != "" || receipt != nil {
		t.Error("Expected no reply and no receipt on completion failure")
	}
}

func TestOptions(t *testing.T) {
	completer := &stubCompleter{reply: "ok"}
	a := newTestAgent(t, completer,
		WithSystemPrompt("You are terse."),
		WithMaxTokens(512),
	)

	if _, _, err := a.Respond(context.Background(), "c1", "hello"); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if !strings.HasPrefix(completer.gotSystem, "You are terse.") {
		t.Errorf("Expected the custom system prompt, got %q", completer.gotSystem)
	}
	if completer.gotMaxTokens != 512 {
		t.Errorf("Expected max tokens 512, got %d", completer.gotMaxTokens)
	}
}
