package blob

import (
	"context"
	"errors"
	"testing"

	"github.com/quietriver/mnemo/core"
)

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	key := "memories/mem-1.json"
	payload := []byte(`{"content":"offloaded"}`)

	if err := store.Put(ctx, key, payload); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("Expected %q, got %q", payload, got)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, key); err == nil {
		t.Error("Expected an error reading a deleted blob")
	}
}

func TestPutOverwrites(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	key := "memories/mem-1.json"
	if err := store.Put(ctx, key, []byte("v1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, key, []byte("v2")); err != nil {
		t.Fatalf("Second put failed: %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("Expected latest write, got %q", got)
	}
}

func TestGetMissingKey(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	_, err = store.Get(context.Background(), "memories/nope.json")
	var serr *core.StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("Expected a StorageError, got: %v", err)
	}
}

func TestDeleteMissingKeyIsIdempotent(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	if err := store.Delete(context.Background(), "memories/nope.json"); err != nil {
		t.Errorf("Expected nil for a missing key, got: %v", err)
	}
}

func TestInvalidKeys(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	for _, key := range []string{"", "../escape", "a/../../b", "/etc/passwd"} {
		var verr *core.ValidationError
		if err := store.Put(ctx, key, []byte("x")); !errors.As(err, &verr) {
			t.Errorf("Put(%q): expected a ValidationError, got: %v", key, err)
		}
		if _, err := store.Get(ctx, key); !errors.As(err, &verr) {
			t.Errorf("Get(%q): expected a ValidationError, got: %v", key, err)
		}
	}
}
