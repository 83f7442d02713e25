// Package kv defines the origin-scoped key-value store capability that backs
// the document cache, plus an in-process change bus: every cache instance
// sharing a store hears about writes made by the others.
package kv

import (
	"context"
	"errors"
)

// Store is a flat, origin-scoped key-value store. Implementations must be safe
// for concurrent use.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key, replacing any previous value atomically.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists every key currently present in the origin.
	Keys(ctx context.Context) ([]string, error)
}

var (
	// ErrNotFound indicates the key has no value.
	ErrNotFound = errors.New("kv: key not found")

	// ErrQuotaExceeded indicates the store ran out of space for the write.
	ErrQuotaExceeded = errors.New("kv: quota exceeded")

	// ErrPermission indicates the store refused access for security reasons.
	ErrPermission = errors.New("kv: permission denied")
)
