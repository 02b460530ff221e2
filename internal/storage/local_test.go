package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/imageguard/guardian/internal/models"
)

func TestLocalStore_RoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	ctx := context.Background()

	url, err := store.Put(ctx, "assets/u1/photo.jpg", []byte("image-bytes"), "image/jpeg")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if url == "" {
		t.Error("expected a non-empty URL")
	}

	data, err := store.Get(ctx, "assets/u1/photo.jpg")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != "image-bytes" {
		t.Errorf("got %q, want image-bytes", data)
	}

	if err := store.Delete(ctx, "assets/u1/photo.jpg"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "assets/u1/photo.jpg"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	if _, err := store.Put(context.Background(), "../escape.txt", []byte("x"), "text/plain"); err == nil {
		t.Error("expected traversal key to be rejected")
	}
}

func TestLocalStore_DeleteMissingIsNoop(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	if err := store.Delete(context.Background(), "never/existed.jpg"); err != nil {
		t.Errorf("deleting a missing blob should not error, got %v", err)
	}
}
