// Package docstore is the shared, replicated document store every client of a
// clinic workspace reads from and writes to. It knows nothing about clinics,
// sessions or templates: it moves whole JSON documents and tells subscribers
// when a collection changed.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound    = errors.New("docstore: document not found")
	ErrExists      = errors.New("docstore: document already exists")
	ErrInvalidPath = errors.New("docstore: invalid path")
	ErrClosed      = errors.New("docstore: store closed")
)

// Document is one member of a collection.
type Document struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// DocSnapshot is the full state of a single document at delivery time.
type DocSnapshot struct {
	Path   string
	Exists bool
	Data   json.RawMessage
}

// CollectionSnapshot is the full state of a collection at delivery time,
// ordered by document ID.
type CollectionSnapshot struct {
	Collection string
	Docs       []Document
}

// Subscription is a live feed of snapshots. Close is idempotent.
type Subscription interface {
	Close()
}

// Store is implemented by every driver. Writes overwrite whole documents and
// deletes are unconditional, so every mutation is safe to retry.
type Store interface {
	Put(ctx context.Context, path string, doc json.RawMessage) error
	// Create writes doc only when nothing exists at path, else ErrExists.
	Create(ctx context.Context, path string, doc json.RawMessage) error
	Get(ctx context.Context, path string) (json.RawMessage, error)
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, collection string) ([]Document, error)
	// SubscribeDoc delivers the current state immediately and again after
	// every change to the document.
	SubscribeDoc(ctx context.Context, path string, fn func(DocSnapshot)) (Subscription, error)
	// SubscribeCollection delivers the current member set immediately and
	// again after every change to any member.
	SubscribeCollection(ctx context.Context, collection string, fn func(CollectionSnapshot)) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// Join builds a store path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Split separates a document path into its collection and document ID.
func Split(path string) (collection, id string, err error) {
	if err := validatePath(path); err != nil {
		return "", "", err
	}
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", "", fmt.Errorf("%w: %q has no collection", ErrInvalidPath, path)
	}
	return path[:idx], path[idx+1:], nil
}

func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, path)
		}
	}
	return nil
}

// PutJSON marshals value and overwrites the document at path.
func PutJSON(ctx context.Context, s Store, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return s.Put(ctx, path, data)
}

// CreateJSON marshals value and writes it only if path is vacant.
func CreateJSON(ctx context.Context, s Store, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return s.Create(ctx, path, data)
}

// GetJSON reads and decodes the document at path.
func GetJSON[T any](ctx context.Context, s Store, path string) (T, error) {
	var out T
	data, err := s.Get(ctx, path)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", path, err)
	}
	return out, nil
}
