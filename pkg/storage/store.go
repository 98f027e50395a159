// Package storage is the object store gateway: a key addressed binary store
// with one implementation per backend ("disk").
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	// ErrObjectNotFound is returned by reads of a key that does not exist.
	ErrObjectNotFound = errors.New("storage: object not found")
	// ErrUnsupported is returned when a backend cannot perform an operation.
	ErrUnsupported = errors.New("storage: operation not supported")
	// ErrUnavailable marks transient backend failures. Writes failing with it may be retried.
	ErrUnavailable = errors.New("storage: backend unavailable")
	// ErrInvalidKey is returned for empty keys or keys escaping the store root.
	ErrInvalidKey = errors.New("storage: invalid key")
)

// ObjectStore is implemented by every storage disk.
type ObjectStore interface {
	// Put stores r under key. Readers never observe a partially written object.
	// size may be -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Size(ctx context.Context, key string) (int64, error)
	// List returns keys starting with prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	Copy(ctx context.Context, srcKey, dstKey string) error
	// Compose concatenates srcKeys, in the given order, into dstKey with a single
	// durable write and returns the resulting size.
	Compose(ctx context.Context, dstKey string, srcKeys []string) (int64, error)
	TemporaryURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", op, key, ErrUnavailable, err)
}

// DeletePrefix removes every object under prefix and returns how many were removed.
func DeletePrefix(ctx context.Context, store ObjectStore, prefix string) (int, error) {
	if prefix == "" {
		return 0, fmt.Errorf("delete prefix: %w", ErrInvalidKey)
	}
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if err := store.Delete(ctx, key); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// sequentialReader streams a list of objects back to back, opening each one
// only when the previous one is exhausted.
type sequentialReader struct {
	ctx     context.Context
	open    func(ctx context.Context, key string) (io.ReadCloser, error)
	keys    []string
	current io.ReadCloser
}

func newSequentialReader(ctx context.Context, open func(context.Context, string) (io.ReadCloser, error), keys []string) *sequentialReader {
	return &sequentialReader{ctx: ctx, open: open, keys: keys}
}

func (r *sequentialReader) Read(p []byte) (int, error) {
	for {
		if err := r.ctx.Err(); err != nil {
			return 0, err
		}
		if r.current == nil {
			if len(r.keys) == 0 {
				return 0, io.EOF
			}
			rc, err := r.open(r.ctx, r.keys[0])
			if err != nil {
				return 0, fmt.Errorf("open %s: %w", r.keys[0], err)
			}
			r.current = rc
			r.keys = r.keys[1:]
		}
		n, err := r.current.Read(p)
		if err == io.EOF {
			_ = r.current.Close()
			r.current = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *sequentialReader) Close() error {
	if r.current != nil {
		err := r.current.Close()
		r.current = nil
		return err
	}
	return nil
}
