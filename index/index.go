// Package index builds the aggregate stylesheets that @import every
// published font: a latest-only index uploaded next to the fonts and a
// full-history index written locally for version control.
//
// Both builders read the complete bucket listing before rendering, so a
// listing that fails on any page never produces a partial index.
package index

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sanyyao/fontpub/cfg"
	"github.com/sanyyao/fontpub/identity"
	"github.com/sanyyao/fontpub/storage"
	"github.com/sanyyao/fontpub/telemetry"
)

// Builder renders indexes from a store listing
type Builder struct {
	store        storage.Store
	base         string
	key          string
	cacheControl string
	localPath    string
	title        string

	// Now stamps the generated header
	Now func() time.Time
}

// Report describes one built index
type Report struct {
	Entries int
	Pages   int
	Target  string
	Bytes   int
}

// NewBuilder creates a builder. base is the absolute URL prefix written into
// every directive.
func NewBuilder(store storage.Store, base string, c cfg.IndexConfiguration) *Builder {
	return &Builder{
		store:        store,
		base:         strings.TrimRight(base, "/"),
		key:          c.Key,
		cacheControl: c.CacheControl,
		localPath:    c.LocalPath,
		title:        c.Title,
		Now:          time.Now,
	}
}

// IsArtifact reports whether key names a version or latest stylesheet
func IsArtifact(key string) bool {
	return key == identity.ArtifactName || strings.HasSuffix(key, "/"+identity.ArtifactName)
}

// IsLatest reports whether key is a latest pointer stylesheet
func IsLatest(key string) bool {
	if !IsArtifact(key) {
		return false
	}
	segs := strings.Split(key, "/")
	for _, seg := range segs[:len(segs)-1] {
		if seg == identity.LatestSegment {
			return true
		}
	}
	return false
}

func (b *Builder) collect(ctx context.Context, match func(string) bool) ([]string, int, error) {
	seen := make(map[string]bool)
	var keys []string
	pages, err := storage.ListAll(ctx, b.store, func(o storage.Object) {
		if match(o.Key) && !seen[o.Key] {
			seen[o.Key] = true
			keys = append(keys, o.Key)
		}
	})
	if err != nil {
		return nil, pages, err
	}
	sort.Strings(keys)
	return keys, pages, nil
}

func (b *Builder) header(buf *bytes.Buffer, variant string, extra ...string) {
	fmt.Fprintf(buf, "/* %s - %s */\n", b.title, variant)
	fmt.Fprintf(buf, "/* Generated at: %s */\n", b.Now().UTC().Format(time.RFC3339))
	for _, line := range extra {
		fmt.Fprintf(buf, "/* %s */\n", line)
	}
	buf.WriteByte('\n')
}

func (b *Builder) directive(buf *bytes.Buffer, key string) {
	fmt.Fprintf(buf, "@import url('%s/%s');\n", b.base, key)
}

// RenderLatest renders one directive per latest pointer. keys must be sorted.
func (b *Builder) RenderLatest(keys []string) []byte {
	var buf bytes.Buffer
	b.header(&buf, "Latest")
	for _, key := range keys {
		b.directive(&buf, key)
	}
	return buf.Bytes()
}

// RenderFull renders one directive per stylesheet, with a comment line
// opening each family. keys must be sorted.
func (b *Builder) RenderFull(keys []string) []byte {
	var buf bytes.Buffer
	b.header(&buf, "Full Index", "Hosted in the repository, assets served from the CDN")

	current := ""
	for _, key := range keys {
		family, _, _ := strings.Cut(key, "/")
		if family != current {
			fmt.Fprintf(&buf, "\n/* --- %s --- */\n", family)
			current = family
		}
		b.directive(&buf, key)
	}
	return buf.Bytes()
}

// BuildLatest lists the store and uploads the latest-only index. An empty
// bucket leaves any existing index untouched.
func (b *Builder) BuildLatest(ctx context.Context) (Report, error) {
	keys, pages, err := b.collect(ctx, IsLatest)
	if err != nil {
		return Report{Pages: pages}, fmt.Errorf("latest index: %w", err)
	}
	report := Report{Entries: len(keys), Pages: pages, Target: b.key}
	telemetry.IndexEntries.With("latest").Set(float64(len(keys)))

	if len(keys) == 0 {
		log.Warn().Str("bucket", b.store.Bucket()).Msg("No latest pointers found, index not uploaded")
		return report, nil
	}

	body := b.RenderLatest(keys)
	report.Bytes = len(body)
	err = b.store.Put(ctx, b.key, body, storage.PutOptions{
		ContentType:  "text/css",
		CacheControl: b.cacheControl,
	})
	if err != nil {
		return report, fmt.Errorf("latest index: %w", err)
	}

	log.Info().
		Int("families", len(keys)).
		Int("pages", pages).
		Str("url", b.base+"/"+b.key).
		Msg("Latest index published")
	return report, nil
}

// BuildFull lists the store and writes the full-history index to the local
// path. The file is replaced atomically.
func (b *Builder) BuildFull(ctx context.Context) (Report, error) {
	keys, pages, err := b.collect(ctx, IsArtifact)
	if err != nil {
		return Report{Pages: pages}, fmt.Errorf("full index: %w", err)
	}
	body := b.RenderFull(keys)
	report := Report{Entries: len(keys), Pages: pages, Target: b.localPath, Bytes: len(body)}

	if err := writeFile(b.localPath, body); err != nil {
		return report, fmt.Errorf("full index: %w", err)
	}
	telemetry.IndexEntries.With("full").Set(float64(len(keys)))

	log.Info().
		Int("entries", len(keys)).
		Int("pages", pages).
		Str("path", b.localPath).
		Msg("Full index written")
	return report, nil
}

func writeFile(name string, body []byte) error {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".index-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), name)
}
