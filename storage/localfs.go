package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// LocalStore mirrors a bucket into a directory. Keys map to slash-separated
// relative paths under root. Object metadata (content type, cache control)
// is not retained.
type LocalStore struct {
	root     string
	pageSize int
}

// NewLocalStore constructs a directory-backed store rooted at root. The
// directory will be created if needed.
func NewLocalStore(root string, pageSize int) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("localfs: create root: %w", err)
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &LocalStore{root: root, pageSize: pageSize}, nil
}

func (s *LocalStore) Bucket() string {
	return "file://" + filepath.ToSlash(s.root)
}

func (s *LocalStore) pathFor(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *LocalStore) Head(_ context.Context, key string) error {
	p, err := s.pathFor(key)
	if err != nil {
		return err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("head %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("head %s: %w", key, ErrNotFound)
	}
	return nil
}

// Put writes through a temp file and rename so readers never observe a
// partially written object
func (s *LocalStore) Put(_ context.Context, key string, body []byte, _ PutOptions) error {
	p, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *LocalStore) List(_ context.Context, token string) (ListPage, error) {
	keys, err := s.keys()
	if err != nil {
		return ListPage{}, err
	}

	start := sort.SearchStrings(keys, token)
	if start < len(keys) && keys[start] == token {
		start++
	}
	end := start + s.pageSize
	if end > len(keys) {
		end = len(keys)
	}

	page := ListPage{Objects: make([]Object, 0, end-start)}
	for _, key := range keys[start:end] {
		body, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(key)))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return ListPage{}, err
		}
		page.Objects = append(page.Objects, Object{
			Key:  key,
			Size: int64(len(body)),
			ETag: fmt.Sprintf("%016x", xxhash.Sum64(body)),
		})
	}
	if end < len(keys) {
		page.Truncated = true
		page.NextToken = keys[end-1]
	}
	return page, nil
}

func (s *LocalStore) keys() ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".put-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *LocalStore) BatchDelete(_ context.Context, keys []string) ([]DeleteError, error) {
	if len(keys) > DefaultPageSize {
		return nil, fmt.Errorf("batch of %d keys exceeds ceiling %d", len(keys), DefaultPageSize)
	}

	var failed []DeleteError
	for _, key := range keys {
		p, err := s.pathFor(key)
		if err != nil {
			failed = append(failed, DeleteError{Key: key, Err: err})
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			failed = append(failed, DeleteError{Key: key, Err: err})
			continue
		}
		s.pruneEmpty(filepath.Dir(p))
	}
	return failed, nil
}

// pruneEmpty removes empty directories from dir up to, but excluding, root
func (s *LocalStore) pruneEmpty(dir string) {
	root := filepath.Clean(s.root)
	for dir = filepath.Clean(dir); dir != root && strings.HasPrefix(dir, root); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}
