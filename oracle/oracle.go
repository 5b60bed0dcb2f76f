// Package oracle answers whether a font version has already been published.
//
// A probe is a metadata-only request for the canonical artifact key. Only a
// confirmed-present response counts as existing: not found, transport
// failures and timeouts are all treated as absent, so an unreachable bucket
// leads to republishing rather than silently dropping new content. Storage
// puts overwrite, which makes the duplicate work safe.
package oracle

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/sanyyao/fontpub/identity"
	"github.com/sanyyao/fontpub/storage"
	"github.com/sanyyao/fontpub/telemetry"
)

// DefaultMemoSize bounds the number of remembered answers per run
const DefaultMemoSize = 4096

// Oracle probes storage for published artifacts. Answers are memoized for
// the lifetime of the Oracle, which is one pipeline run: a key is probed at
// most once and its answer is final for that run.
type Oracle struct {
	store   storage.Store
	timeout time.Duration
	memo    *lru.Cache[string, bool]
}

// New creates an oracle over store. A zero timeout leaves probes bounded
// only by the caller's context.
func New(store storage.Store, timeout time.Duration) *Oracle {
	memo, err := lru.New[string, bool](DefaultMemoSize)
	if err != nil {
		// Only returned for a non-positive size
		panic(err)
	}
	return &Oracle{store: store, timeout: timeout, memo: memo}
}

// Exists reports whether the artifact for id is confirmed present. It never
// returns an error.
func (o *Oracle) Exists(ctx context.Context, id identity.Identity) bool {
	key := id.ArtifactKey()
	if found, ok := o.memo.Get(key); ok {
		return found
	}

	found := o.probe(ctx, key)
	o.memo.Add(key, found)
	return found
}

func (o *Oracle) probe(ctx context.Context, key string) bool {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	start := time.Now()
	err := o.store.Head(ctx, key)
	telemetry.ProbeSeconds.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		return true
	case storage.IsNotFound(err):
		log.Debug().Str("key", key).Msg("Artifact not published")
		return false
	default:
		telemetry.ProbeErrorsTotal.Inc()
		log.Warn().Err(err).Str("key", key).Msg("Existence probe failed, treating as absent")
		return false
	}
}
