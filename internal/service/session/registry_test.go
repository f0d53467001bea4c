package session

import (
	"errors"
	"testing"
)

func TestRegistryCreateAndGet(t *testing.T) {
	r := NewRegistry()

	sess, err := r.Create("s1")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if sess.ID != "s1" {
		t.Fatalf("expected session id s1, got %s", sess.ID)
	}

	got, err := r.Get("s1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != sess {
		t.Fatal("expected the same session instance")
	}
}

func TestRegistryCreateDuplicate(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Create("dup"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := r.Create("dup"); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Create("gone"); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, ok := r.Remove("gone"); !ok {
		t.Fatal("expected removal to report the session")
	}
	if _, ok := r.Remove("gone"); ok {
		t.Fatal("second removal should be a no-op")
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}
