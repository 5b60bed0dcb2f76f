// Package deploy uploads the generated dist tree to object storage.
package deploy

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jizhuozhi/go-future"
	"github.com/rs/zerolog/log"
	"github.com/sanyyao/fontpub/cfg"
	"github.com/sanyyao/fontpub/identity"
	"github.com/sanyyao/fontpub/storage"
	"github.com/sanyyao/fontpub/telemetry"
)

// Content types for the files the font engine writes
var contentTypes = map[string]string{
	".woff2": "font/woff2",
	".woff":  "font/woff",
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".css":   "text/css; charset=utf-8",
	".json":  "application/json",
	".html":  "text/html; charset=utf-8",
}

// ContentType returns the Content-Type stored with name
func ContentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// FileError is an object that failed to upload
type FileError struct {
	Key string
	Err error
}

// Report summarizes an upload
type Report struct {
	Files    int
	Uploaded int
	Bytes    int64
	Failed   []FileError
}

// Uploader puts every file under a directory into a store
type Uploader struct {
	store              storage.Store
	concurrency        int
	cacheControl       string
	latestCacheControl string
}

// NewUploader creates an uploader from configuration
func NewUploader(store storage.Store, c cfg.UploadConfiguration) *Uploader {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	return &Uploader{
		store:              store,
		concurrency:        c.Concurrency,
		cacheControl:       c.CacheControl,
		latestCacheControl: c.LatestCacheControl,
	}
}

// CacheControl returns the Cache-Control stored with key. Versioned objects
// never change and are cached forever; latest pointers are mutable.
func (u *Uploader) CacheControl(key string) string {
	for _, seg := range strings.Split(path.Dir(key), "/") {
		if seg == identity.LatestSegment {
			return u.latestCacheControl
		}
	}
	return u.cacheControl
}

// Keys lists the object keys for the files under dir, sorted. Dot files
// (temp files of interrupted writes) are left out.
func Keys(dir string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && p != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Upload puts every file under dir. Every file is attempted; the returned
// error is non-nil if any of them failed.
func (u *Uploader) Upload(ctx context.Context, dir string) (Report, error) {
	keys, err := Keys(dir)
	if err != nil {
		return Report{}, err
	}
	report := Report{Files: len(keys)}

	log.Info().Int("files", len(keys)).Str("bucket", u.store.Bucket()).Msg("Uploading")

	futures := make([]*future.Future[int64], len(keys))
	sem := make(chan struct{}, u.concurrency)
	var wg sync.WaitGroup

	for i, key := range keys {
		p := future.NewPromise[int64]()
		futures[i] = p.Future()

		sem <- struct{}{}
		wg.Add(1)
		go func(key string) {
			defer func() {
				<-sem
				wg.Done()
			}()
			p.Set(u.put(ctx, dir, key))
		}(key)
	}

	for i, f := range futures {
		n, err := f.Get()
		if err != nil {
			report.Failed = append(report.Failed, FileError{Key: keys[i], Err: err})
			telemetry.UploadObjectsTotal.With("failed").Inc()
			log.Error().Err(err).Str("key", keys[i]).Msg("Upload failed")
			continue
		}
		report.Uploaded++
		report.Bytes += n
		telemetry.UploadObjectsTotal.With("success").Inc()
		telemetry.UploadBytesTotal.Add(float64(n))
	}
	wg.Wait()

	log.Info().
		Int("uploaded", report.Uploaded).
		Int("failed", len(report.Failed)).
		Int64("bytes", report.Bytes).
		Msg("Upload finished")

	if len(report.Failed) > 0 {
		return report, fmt.Errorf("%d of %d objects failed to upload, first %s: %w",
			len(report.Failed), report.Files, report.Failed[0].Key, report.Failed[0].Err)
	}
	return report, nil
}

func (u *Uploader) put(ctx context.Context, dir, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	body, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(key)))
	if err != nil {
		return 0, err
	}
	err = u.store.Put(ctx, key, body, storage.PutOptions{
		ContentType:  ContentType(key),
		CacheControl: u.CacheControl(key),
	})
	if err != nil {
		return 0, err
	}
	log.Debug().Str("key", key).Int("bytes", len(body)).Msg("Uploaded")
	return int64(len(body)), nil
}
