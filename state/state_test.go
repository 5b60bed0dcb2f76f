package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sanyyao/fontpub/encoding"
	"github.com/sanyyao/fontpub/publisher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), ".fontpub", "state.msgpack"))
	require.NoError(t, err)
	return s
}

func TestLoadAbsent(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Load()
	require.NoError(t, err)
	assert.False(t, rec.Pending)

	pending, err := s.Pending()
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestRaiseAndClear(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Raise("run-1", []publisher.Release{{Family: "Dymon", Version: "v2.2", ArtifactKey: "Dymon/v2.2/result.css"}})
	require.NoError(t, err)

	rec, err := s.Load()
	require.NoError(t, err)
	assert.True(t, rec.Pending)
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, SchemaVersion, rec.SchemaVersion)
	require.Len(t, rec.Releases, 1)
	assert.Equal(t, "Dymon", rec.Releases[0].Family)
	assert.False(t, rec.RaisedAt.IsZero())

	require.NoError(t, s.Clear())
	pending, err := s.Pending()
	require.NoError(t, err)
	assert.False(t, pending)

	assert.NoError(t, s.Clear())
}

func TestRaiseKeepsUnconsumedReleases(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Raise("run-1", []publisher.Release{{ArtifactKey: "A/v1.0/result.css"}})
	require.NoError(t, err)
	rec, err := s.Raise("run-2", []publisher.Release{
		{ArtifactKey: "A/v1.0/result.css"},
		{ArtifactKey: "B/v1.0/result.css"},
	})
	require.NoError(t, err)

	assert.Equal(t, "run-2", rec.RunID)
	require.Len(t, rec.Releases, 2)
	assert.Equal(t, "A/v1.0/result.css", rec.Releases[0].ArtifactKey)
	assert.Equal(t, "B/v1.0/result.css", rec.Releases[1].ArtifactKey)
}

func TestRaiseLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Raise("run-1", nil)
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.msgpack", entries[0].Name())
}

func TestLoadRejectsCorruptRecord(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	require.NoError(t, os.WriteFile(s.Path(), []byte{0xc1}, 0o644))

	_, err := s.Load()
	assert.Error(t, err)
}

func TestLoadRejectsUnknownSchema(t *testing.T) {
	s := newTestStore(t)
	data, err := encoding.Marshal(Record{SchemaVersion: 99, Pending: true})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	require.NoError(t, os.WriteFile(s.Path(), data, 0o644))

	_, err = s.Load()
	assert.ErrorContains(t, err, "schema")
}

func TestNewStoreRequiresPath(t *testing.T) {
	_, err := NewStore("")
	assert.Error(t, err)
}
