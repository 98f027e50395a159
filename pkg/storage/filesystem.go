package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LocalStorage persists objects on disk under a base directory.
type LocalStorage struct {
	baseDir     string
	signer      *SignedURLSigner
	downloadURL string
}

// LocalOption customises a LocalStorage.
type LocalOption func(*LocalStorage)

// WithSignedURLs enables TemporaryURL, producing links of the form downloadURL?token=...
func WithSignedURLs(signer *SignedURLSigner, downloadURL string) LocalOption {
	return func(s *LocalStorage) {
		s.signer = signer
		s.downloadURL = downloadURL
	}
}

// NewLocalStorage ensures the base directory exists and returns a handle.
func NewLocalStorage(baseDir string, opts ...LocalOption) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./storage"
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	s := &LocalStorage{baseDir: abs}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Put writes r to a temporary file next to the target and renames it into place.
func (s *LocalStorage) Put(ctx context.Context, key string, r io.Reader, _ int64) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return unavailable("put", key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return unavailable("put", key, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}
	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: r}); err != nil {
		cleanup()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return unavailable("put", key, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return unavailable("put", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return unavailable("put", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return unavailable("put", key, err)
	}
	return nil
}

// Get opens the stored object for reading.
func (s *LocalStorage) Get(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("get %s: %w", key, ErrObjectNotFound)
		}
		return nil, unavailable("get", key, err)
	}
	return file, nil
}

// Delete removes a stored object if present.
func (s *LocalStorage) Delete(_ context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return unavailable("delete", key, err)
	}
	return nil
}

// Exists reports whether key is present.
func (s *LocalStorage) Exists(_ context.Context, key string) (bool, error) {
	path, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, unavailable("stat", key, err)
	}
	return !info.IsDir(), nil
}

// Size returns the object size in bytes.
func (s *LocalStorage) Size(_ context.Context, key string) (int64, error) {
	path, err := s.resolve(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("size %s: %w", key, ErrObjectNotFound)
		}
		return 0, unavailable("stat", key, err)
	}
	return info.Size(), nil
}

// List walks the base directory and returns keys with the given prefix.
func (s *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	root := s.baseDir
	// narrow the walk to the deepest directory named by the prefix
	if dir := prefix[:strings.LastIndex(prefix, "/")+1]; dir != "" {
		resolved, err := s.resolve(strings.TrimSuffix(dir, "/"))
		if err != nil {
			return nil, err
		}
		root = resolved
	}
	keys := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipDir
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, unavailable("list", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Copy duplicates srcKey into dstKey.
func (s *LocalStorage) Copy(ctx context.Context, srcKey, dstKey string) error {
	src, err := s.Get(ctx, srcKey)
	if err != nil {
		return err
	}
	defer src.Close() //nolint:errcheck
	return s.Put(ctx, dstKey, src, -1)
}

// Compose streams srcKeys in order into dstKey.
func (s *LocalStorage) Compose(ctx context.Context, dstKey string, srcKeys []string) (int64, error) {
	if len(srcKeys) == 0 {
		return 0, fmt.Errorf("compose %s: no sources", dstKey)
	}
	for _, key := range srcKeys {
		ok, err := s.Exists(ctx, key)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("compose source %s: %w", key, ErrObjectNotFound)
		}
	}
	reader := newSequentialReader(ctx, s.Get, srcKeys)
	defer reader.Close() //nolint:errcheck
	if err := s.Put(ctx, dstKey, reader, -1); err != nil {
		return 0, err
	}
	return s.Size(ctx, dstKey)
}

// TemporaryURL returns a signed link served by the application's download route.
func (s *LocalStorage) TemporaryURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if s.signer == nil {
		return "", ErrUnsupported
	}
	if _, err := s.resolve(key); err != nil {
		return "", err
	}
	token, _, err := s.signer.Generate(key, ttl)
	if err != nil {
		return "", err
	}
	return s.downloadURL + "?token=" + url.QueryEscape(token), nil
}

// OpenSigned validates a download token and opens the referenced object.
func (s *LocalStorage) OpenSigned(ctx context.Context, token string) (string, io.ReadCloser, error) {
	if s.signer == nil {
		return "", nil, ErrUnsupported
	}
	key, _, err := s.signer.Parse(token, false)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	rc, err := s.Get(ctx, key)
	if err != nil {
		return "", nil, err
	}
	return key, rc, nil
}

// RemoveStale deletes objects under prefix last written before cutoff and returns their keys.
func (s *LocalStorage) RemoveStale(ctx context.Context, prefix string, cutoff time.Time) ([]string, error) {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	deleted := make([]string, 0)
	for _, key := range keys {
		path, _ := s.resolve(key)
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := s.Delete(ctx, key); err != nil {
			return deleted, err
		}
		deleted = append(deleted, key)
	}
	return deleted, nil
}

// Path returns the absolute file path backing key.
func (s *LocalStorage) Path(key string) string {
	path, _ := s.resolve(key)
	return path
}

func (s *LocalStorage) resolve(key string) (string, error) {
	if key == "" || filepath.IsAbs(key) || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%q: %w", key, ErrInvalidKey)
	}
	path := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if path != s.baseDir && !strings.HasPrefix(path, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", key, ErrInvalidKey)
	}
	return path, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
