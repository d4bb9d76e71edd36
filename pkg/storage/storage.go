// Package storage is the small key/value store the switcher persists its
// history to. Values are raw JSON documents keyed by a fixed name.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"pkt.systems/pslog"
)

// Store reads and writes JSON values by key.
type Store interface {
	// Get decodes the value under key into v. ok is false when nothing is stored.
	Get(ctx context.Context, key string, v any) (ok bool, err error)
	// Set encodes v under key.
	Set(ctx context.Context, key string, v any) error
}

// File stores one JSON file per key inside a directory.
type File struct {
	dir string
	log pslog.Logger
}

// NewFile constructs a file store rooted at dir.
func NewFile(dir string, logger pslog.Logger) (*File, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", dir, err)
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &File{dir: dir, log: logger.With("state_dir", dir)}, nil
}

// Get implements Store.
func (f *File) Get(ctx context.Context, key string, v any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	data, err := os.ReadFile(f.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			f.log.Debug("state load miss", "key", key)
			return false, nil
		}
		f.log.Warn("state load failed", "key", key, "err", err)
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		f.log.Warn("state load failed", "key", key, "err", err)
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	f.log.Debug("state load ok", "key", key, "bytes", len(data))
	return true, nil
}

// Set implements Store. The file is replaced atomically.
func (f *File) Set(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	path := f.pathFor(key)
	tmp, err := os.CreateTemp(filepath.Dir(path), "state-*.json")
	if err != nil {
		f.log.Warn("state save failed", "key", key, "err", err)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		f.log.Warn("state save failed", "key", key, "err", err)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		f.log.Warn("state save failed", "key", key, "err", err)
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		f.log.Warn("state save failed", "key", key, "err", err)
		return err
	}
	f.log.Debug("state save ok", "key", key, "bytes", len(data))
	return nil
}

func (f *File) pathFor(key string) string {
	return filepath.Join(f.dir, sanitizeKey(key)+".json")
}

func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r), r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}

// Memory is an in-process Store. Values are kept JSON-encoded so callers get
// the same copy semantics as the file store.
type Memory struct {
	mu     sync.Mutex
	values map[string][]byte
	sets   int

	// GetErr and SetErr, when set, are returned by Get and Set.
	GetErr error
	SetErr error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string, v any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return false, m.GetErr
	}
	data, ok := m.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.values[key] = data
	m.sets++
	return nil
}

// Sets returns the number of successful Set calls.
func (m *Memory) Sets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}
