// Package storage persists opaque documents under string keys.
package storage

import (
	"context"
	"errors"
	"regexp"
)

// ErrNotFound is returned when no document exists for a key.
var ErrNotFound = errors.New("document not found")

// ErrInvalidKey is returned for keys that are not safe file names.
var ErrInvalidKey = errors.New("invalid storage key")

// Backend stores whole documents. Save replaces a document atomically: a
// reader sees either the old bytes or the new bytes, never a mix.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

var keyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

func validateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return ErrInvalidKey
	}
	return nil
}
