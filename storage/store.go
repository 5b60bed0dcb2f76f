// Package storage defines the object-store capability used to publish font
// artifacts, with in-memory and directory-backed implementations. The S3
// implementation lives in storage/s3.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Object describes one stored object as returned by a listing
type Object struct {
	Key  string
	Size int64
	ETag string
}

// ListPage is one page of a bucket listing. When Truncated is set, NextToken
// continues the listing.
type ListPage struct {
	Objects   []Object
	NextToken string
	Truncated bool
}

// PutOptions carries HTTP metadata stored with an object
type PutOptions struct {
	ContentType  string
	CacheControl string
}

// DeleteError reports a key the backend refused to delete
type DeleteError struct {
	Key string
	Err error
}

func (e DeleteError) Error() string {
	return fmt.Sprintf("delete %s: %v", e.Key, e.Err)
}

// Store is the object-store capability. Implementations are bound to a
// single bucket.
//
// Contract:
//   - Head returns nil when the object exists and ErrNotFound when it does not.
//     Any other error is a transport or permission failure.
//   - Put overwrites existing objects.
//   - BatchDelete accepts at most the backend's batch ceiling (1000 keys).
//     A non-nil error means the call failed as a whole; per-key refusals are
//     returned as DeleteErrors.
type Store interface {
	Bucket() string
	Head(ctx context.Context, key string) error
	Put(ctx context.Context, key string, body []byte, opts PutOptions) error
	List(ctx context.Context, token string) (ListPage, error)
	BatchDelete(ctx context.Context, keys []string) ([]DeleteError, error)
}

// ListAll walks every page of the listing and calls fn for each object.
// fn is only called once the listing is known to be complete, so a failure
// on any page never yields a partial result.
func ListAll(ctx context.Context, s Store, fn func(Object)) (pages int, err error) {
	var all []Object
	token := ""
	for {
		page, err := s.List(ctx, token)
		if err != nil {
			return pages, fmt.Errorf("list page %d of %s: %w", pages+1, s.Bucket(), err)
		}
		pages++
		all = append(all, page.Objects...)

		if !page.Truncated {
			break
		}
		if page.NextToken == "" || page.NextToken == token {
			return pages, fmt.Errorf("list page %d of %s: truncated listing without continuation token", pages, s.Bucket())
		}
		token = page.NextToken
	}

	for _, obj := range all {
		fn(obj)
	}
	return pages, nil
}

// ValidateKey rejects keys that would escape a bucket prefix when mapped to
// a filesystem or URL path
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
