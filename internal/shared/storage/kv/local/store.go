// Package local provides a filesystem-backed kv.Store: one file per key under
// a base directory, with hex-encoded file names so arbitrary keys stay
// path-safe.
package local

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"quizzer-backend/internal/shared/storage/kv"
)

const fileExt = ".kv"

// Store persists values as files rooted at baseDir.
type Store struct {
	baseDir string
}

// New creates a local store rooted at baseDir. The directory is created on
// first write.
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// Get reads the value file for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, kv.ErrNotFound
		}
		return nil, mapFSError(err)
	}
	return data, nil
}

// Set writes value to a temp file and renames it into place so readers never
// observe a partial write.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return mapFSError(fmt.Errorf("mkdir: %w", err))
	}

	final := s.path(key)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		_ = os.Remove(tmp)
		return mapFSError(fmt.Errorf("write: %w", err))
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return mapFSError(fmt.Errorf("rename: %w", err))
	}
	return nil
}

// Delete removes the value file for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return mapFSError(err)
	}
	return nil
}

// Keys lists every stored key by decoding the file names under baseDir.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, mapFSError(err)
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		raw, err := hex.DecodeString(strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		keys = append(keys, string(raw))
	}
	return keys, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.baseDir, hex.EncodeToString([]byte(key))+fileExt)
}

func mapFSError(err error) error {
	switch {
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT):
		return fmt.Errorf("%w: %v", kv.ErrQuotaExceeded, err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %v", kv.ErrPermission, err)
	default:
		return err
	}
}

var _ kv.Store = (*Store)(nil)
