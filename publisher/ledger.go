package publisher

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"
	"github.com/sanyyao/fontpub/encoding"
)

// Key prefixes for Pebble storage
const (
	prefixRelease = "/release/" // /release/{16-digit-zero-padded-seq}
	prefixCursor  = "/cursor/"  // /cursor/{sinkName}
	keySeq        = "/seq"      // /seq -> uint64 (last assigned sequence)
)

// Pebble configuration constants. The ledger receives a handful of records
// per run, so tables stay small.
const (
	memTableSize          = 4 << 20 // 4MB
	l0CompactionThreshold = 2
	defaultReadLimit      = 100
)

// Ledger is a Pebble-backed append-only history of releases with per-sink
// delivery cursors. A cursor is the sequence of the last release a sink
// acknowledged; releases after it are still owed to that sink.
type Ledger struct {
	db   *pebble.DB
	path string

	cursors   map[string]uint64
	cursorsMu sync.RWMutex

	appendMu sync.Mutex
	lastSeq  atomic.Uint64

	closed atomic.Bool
}

// OpenLedger creates or opens the ledger stored in dir
func OpenLedger(dir string) (*Ledger, error) {
	opts := &pebble.Options{
		MemTableSize:          memTableSize,
		L0CompactionThreshold: l0CompactionThreshold,
	}

	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger at %s: %w", dir, err)
	}

	l := &Ledger{
		db:      db,
		path:    dir,
		cursors: make(map[string]uint64),
	}

	if err := l.loadSeq(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load sequence number: %w", err)
	}
	if err := l.loadCursors(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load cursors: %w", err)
	}

	return l, nil
}

func (l *Ledger) loadSeq() error {
	val, closer, err := l.db.Get([]byte(keySeq))
	if err == pebble.ErrNotFound {
		l.lastSeq.Store(0)
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	if len(val) != 8 {
		return fmt.Errorf("invalid sequence value length: %d", len(val))
	}
	l.lastSeq.Store(binary.LittleEndian.Uint64(val))
	return nil
}

func (l *Ledger) loadCursors() error {
	prefix := []byte(prefixCursor)
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		sink := string(iter.Key()[len(prefixCursor):])
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if len(val) != 8 {
			return fmt.Errorf("corrupted cursor for sink %s: invalid length %d", sink, len(val))
		}
		l.cursors[sink] = binary.LittleEndian.Uint64(val)
	}
	if err := iter.Error(); err != nil {
		return err
	}

	if len(l.cursors) > 0 {
		log.Debug().Int("cursors", len(l.cursors)).Msg("Loaded ledger cursors")
	}
	return nil
}

// Append records releases and assigns their sequence numbers in place
func (l *Ledger) Append(releases []Release) error {
	if len(releases) == 0 {
		return nil
	}
	if l.closed.Load() {
		return fmt.Errorf("ledger is closed")
	}

	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	seq := l.lastSeq.Load()
	batch := l.db.NewBatch()
	defer batch.Close()

	assigned := make([]uint64, len(releases))
	for i := range releases {
		seq++
		assigned[i] = seq
		rel := releases[i]
		rel.Seq = seq

		val, err := encoding.Marshal(&rel)
		if err != nil {
			return fmt.Errorf("failed to marshal release: %w", err)
		}
		if err := batch.Set([]byte(releaseKey(seq)), val, nil); err != nil {
			return fmt.Errorf("failed to write release: %w", err)
		}
	}

	seqBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(seqBuf, seq)
	if err := batch.Set([]byte(keySeq), seqBuf, nil); err != nil {
		return fmt.Errorf("failed to update sequence: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit releases: %w", err)
	}

	// Sequence numbers become visible only after a successful commit
	for i := range releases {
		releases[i].Seq = assigned[i]
	}
	l.lastSeq.Store(seq)
	return nil
}

// LastSeq returns the sequence of the newest release
func (l *Ledger) LastSeq() uint64 {
	return l.lastSeq.Load()
}

// ReadFrom returns up to limit releases with a sequence greater than cursor
func (l *Ledger) ReadFrom(cursor uint64, limit int) ([]Release, error) {
	if l.closed.Load() {
		return nil, fmt.Errorf("ledger is closed")
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	start := []byte(releaseKey(cursor + 1))
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: prefixUpperBound([]byte(prefixRelease)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	releases := make([]Release, 0, limit)
	for iter.SeekGE(start); iter.Valid() && len(releases) < limit; iter.Next() {
		rel, ok := decodeRelease(iter)
		if !ok {
			continue
		}
		releases = append(releases, rel)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return releases, nil
}

// Recent returns up to n releases, newest first
func (l *Ledger) Recent(n int) ([]Release, error) {
	if l.closed.Load() {
		return nil, fmt.Errorf("ledger is closed")
	}

	prefix := []byte(prefixRelease)
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var releases []Release
	for iter.Last(); iter.Valid() && len(releases) < n; iter.Prev() {
		rel, ok := decodeRelease(iter)
		if !ok {
			continue
		}
		releases = append(releases, rel)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return releases, nil
}

func decodeRelease(iter *pebble.Iterator) (Release, bool) {
	val, err := iter.ValueAndErr()
	if err != nil {
		log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Failed to read release")
		return Release{}, false
	}
	var rel Release
	if err := encoding.Unmarshal(val, &rel); err != nil {
		log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Failed to unmarshal release")
		return Release{}, false
	}
	return rel, true
}

// GetCursor returns the cursor for a sink; 0 for a sink never seen
func (l *Ledger) GetCursor(sinkName string) (uint64, error) {
	if l.closed.Load() {
		return 0, fmt.Errorf("ledger is closed")
	}

	l.cursorsMu.RLock()
	defer l.cursorsMu.RUnlock()
	return l.cursors[sinkName], nil
}

// AdvanceCursor persists the last release a sink acknowledged
func (l *Ledger) AdvanceCursor(sinkName string, seq uint64) error {
	if l.closed.Load() {
		return fmt.Errorf("ledger is closed")
	}

	val := make([]byte, 8)
	binary.LittleEndian.PutUint64(val, seq)
	if err := l.db.Set([]byte(prefixCursor+sinkName), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}

	l.cursorsMu.Lock()
	l.cursors[sinkName] = seq
	l.cursorsMu.Unlock()
	return nil
}

// Close closes the Pebble database
func (l *Ledger) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("ledger already closed")
	}
	return l.db.Close()
}

// releaseKey formats a sequence number as a 16-digit zero-padded key
func releaseKey(seq uint64) string {
	return fmt.Sprintf("%s%016x", prefixRelease, seq)
}

// prefixUpperBound returns the upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil // Prefix is all 0xff
}
