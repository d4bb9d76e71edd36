package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFile(dir, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	var missing []string
	ok, err := store.Get(ctx, "tab_history", &missing)
	if err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := store.Set(ctx, "tab_history", []string{"5", "3"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got []string
	ok, err = store.Get(ctx, "tab_history", &got)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if len(got) != 2 || got[0] != "5" || got[1] != "3" {
		t.Fatalf("unexpected value %v", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "tab_history.json")); err != nil {
		t.Fatalf("expected state file: %v", err)
	}
}

func TestFileRejectsEmptyDir(t *testing.T) {
	if _, err := NewFile("  ", nil); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}

func TestFileCorruptValue(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFile(dir, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tab_history.json"), []byte("{"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	var got []string
	if ok, err := store.Get(context.Background(), "tab_history", &got); err == nil || ok {
		t.Fatalf("expected decode error, got ok=%v err=%v", ok, err)
	}
}

func TestSanitizeKey(t *testing.T) {
	if got := sanitizeKey("../etc/passwd"); got != "___etc_passwd" {
		t.Fatalf("sanitizeKey() = %q", got)
	}
	if got := sanitizeKey(""); got != "default" {
		t.Fatalf("sanitizeKey(\"\") = %q", got)
	}
}

func TestMemoryErrors(t *testing.T) {
	m := NewMemory()
	m.SetErr = errors.New("disk full")
	if err := m.Set(context.Background(), "k", 1); err == nil {
		t.Fatalf("expected set error")
	}
	if m.Sets() != 0 {
		t.Fatalf("failed set must not count")
	}
}
