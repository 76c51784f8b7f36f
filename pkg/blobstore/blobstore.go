// Package blobstore stores raw source documents, write-once, keyed by
// institution, period and content hash.
package blobstore

import (
	"context"
	"errors"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrNotFound      = errors.New("blob not found")
	ErrAlreadyExists = errors.New("blob already exists")
	ErrInvalidKey    = errors.New("invalid blob key")
)

// Store is a write-once blob store.
type Store interface {
	// Put writes data under key. It returns ErrAlreadyExists when key is taken.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// ObjectKey derives the storage path <institution>/<period>/<hash><ext>.
func ObjectKey(institutionID, period, contentHash, fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	return path.Join(institutionID, period, contentHash+ext)
}

// validateKey rejects absolute keys and keys that escape the store root.
func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return ErrInvalidKey
	}
	if path.Clean(key) != key {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return ErrInvalidKey
		}
	}
	return nil
}
