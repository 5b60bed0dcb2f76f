package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

// DefaultPageSize matches the S3 ListObjectsV2 page ceiling
const DefaultPageSize = 1000

// MemoryObject is an object held by MemoryStore
type MemoryObject struct {
	Body         []byte
	ContentType  string
	CacheControl string
}

// MemoryStore is an in-process Store. It backs the "memory" storage type for
// dry runs and doubles as the test double for every package that talks to
// storage: errors can be injected per operation and calls are counted.
type MemoryStore struct {
	bucket   string
	pageSize int
	objects  *xsync.MapOf[string, MemoryObject]

	// Fault injection. HeadErr and PutErr apply to every call; ListErr is
	// consulted with the 1-based call number so a listing can fail mid-way.
	HeadErr   error
	PutErr    error
	ListErr   func(call int) error
	DeleteErr func(call int, keys []string) error

	heads   atomic.Int64
	puts    atomic.Int64
	lists   atomic.Int64
	deletes atomic.Int64

	mu           sync.Mutex
	deleteSizes  []int
	headRequests []string
}

// NewMemoryStore creates an empty store paging listings at pageSize objects
func NewMemoryStore(bucket string, pageSize int) *MemoryStore {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &MemoryStore{
		bucket:   bucket,
		pageSize: pageSize,
		objects:  xsync.NewMapOf[string, MemoryObject](),
	}
}

func (m *MemoryStore) Bucket() string {
	return m.bucket
}

func (m *MemoryStore) Head(_ context.Context, key string) error {
	m.heads.Add(1)
	m.mu.Lock()
	m.headRequests = append(m.headRequests, key)
	m.mu.Unlock()

	if m.HeadErr != nil {
		return m.HeadErr
	}
	if _, ok := m.objects.Load(key); !ok {
		return fmt.Errorf("head %s: %w", key, ErrNotFound)
	}
	return nil
}

func (m *MemoryStore) Put(_ context.Context, key string, body []byte, opts PutOptions) error {
	m.puts.Add(1)
	if m.PutErr != nil {
		return m.PutErr
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	buf := make([]byte, len(body))
	copy(buf, body)
	m.objects.Store(key, MemoryObject{
		Body:         buf,
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
	})
	return nil
}

// List pages through keys in lexical order. The continuation token is the
// last key of the previous page, so deleting already-listed keys between
// calls does not disturb the listing.
func (m *MemoryStore) List(_ context.Context, token string) (ListPage, error) {
	call := int(m.lists.Add(1))
	if m.ListErr != nil {
		if err := m.ListErr(call); err != nil {
			return ListPage{}, err
		}
	}

	keys := m.Keys()
	start := sort.SearchStrings(keys, token)
	if start < len(keys) && keys[start] == token {
		start++
	}

	end := start + m.pageSize
	if end > len(keys) {
		end = len(keys)
	}

	page := ListPage{Objects: make([]Object, 0, end-start)}
	for _, key := range keys[start:end] {
		obj, ok := m.objects.Load(key)
		if !ok {
			continue
		}
		page.Objects = append(page.Objects, Object{
			Key:  key,
			Size: int64(len(obj.Body)),
			ETag: fmt.Sprintf("%016x", xxhash.Sum64(obj.Body)),
		})
	}
	if end < len(keys) {
		page.Truncated = true
		page.NextToken = keys[end-1]
	}
	return page, nil
}

func (m *MemoryStore) BatchDelete(_ context.Context, keys []string) ([]DeleteError, error) {
	call := int(m.deletes.Add(1))
	m.mu.Lock()
	m.deleteSizes = append(m.deleteSizes, len(keys))
	m.mu.Unlock()

	if len(keys) > DefaultPageSize {
		return nil, fmt.Errorf("batch of %d keys exceeds ceiling %d", len(keys), DefaultPageSize)
	}
	if m.DeleteErr != nil {
		if err := m.DeleteErr(call, keys); err != nil {
			return nil, err
		}
	}

	for _, key := range keys {
		m.objects.Delete(key)
	}
	return nil, nil
}

// Get returns a stored object
func (m *MemoryStore) Get(key string) (MemoryObject, bool) {
	return m.objects.Load(key)
}

// Keys returns all keys in lexical order
func (m *MemoryStore) Keys() []string {
	keys := make([]string, 0, m.objects.Size())
	m.objects.Range(func(key string, _ MemoryObject) bool {
		keys = append(keys, key)
		return true
	})
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored objects
func (m *MemoryStore) Len() int {
	return m.objects.Size()
}

// Calls returns how many times each operation was invoked
func (m *MemoryStore) Calls() (heads, puts, lists, deletes int) {
	return int(m.heads.Load()), int(m.puts.Load()), int(m.lists.Load()), int(m.deletes.Load())
}

// DeleteBatchSizes returns the key count of every BatchDelete call in order
func (m *MemoryStore) DeleteBatchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.deleteSizes))
	copy(out, m.deleteSizes)
	return out
}

// HeadRequests returns every key passed to Head in order
func (m *MemoryStore) HeadRequests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.headRequests))
	copy(out, m.headRequests)
	return out
}
