// Package state persists the publish signal between separate invocations.
//
// A standalone split run raises the signal when it produced new artifacts; a
// later deploy-pending run consumes it and clears it once the upload and
// index rebuilds succeeded. The record is a small msgpack document with an
// explicit schema version, written atomically.
package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sanyyao/fontpub/encoding"
	"github.com/sanyyao/fontpub/publisher"
)

// SchemaVersion of the record written by this build
const SchemaVersion = 1

// Record is the persisted signal
type Record struct {
	SchemaVersion int                 `msgpack:"schema"`
	RunID         string              `msgpack:"run"`
	Pending       bool                `msgpack:"pending"`
	Releases      []publisher.Release `msgpack:"releases"`
	RaisedAt      time.Time           `msgpack:"raised_at"`
}

// Store reads and writes the record at a fixed path
type Store struct {
	path string
}

func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("state path is required")
	}
	return &Store{path: path}, nil
}

func (s *Store) Path() string {
	return s.path
}

// Load returns the record, or an empty one when none was written
func (s *Store) Load() (Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{SchemaVersion: SchemaVersion}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("read state: %w", err)
	}

	var rec Record
	if err := encoding.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode state %s: %w", s.path, err)
	}
	if rec.SchemaVersion != SchemaVersion {
		return Record{}, fmt.Errorf("state %s: unsupported schema version %d", s.path, rec.SchemaVersion)
	}
	return rec, nil
}

// Pending reports whether a raised signal is waiting to be consumed
func (s *Store) Pending() (bool, error) {
	rec, err := s.Load()
	if err != nil {
		return false, err
	}
	return rec.Pending, nil
}

// Raise marks the signal pending. Releases of a pending record that was never
// consumed are kept, so nothing is lost when split runs twice before deploy.
func (s *Store) Raise(runID string, releases []publisher.Release) (Record, error) {
	prev, err := s.Load()
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		SchemaVersion: SchemaVersion,
		RunID:         runID,
		Pending:       true,
		RaisedAt:      time.Now().UTC(),
	}
	seen := make(map[string]bool)
	if prev.Pending {
		for _, r := range prev.Releases {
			seen[r.ArtifactKey] = true
			rec.Releases = append(rec.Releases, r)
		}
	}
	for _, r := range releases {
		if seen[r.ArtifactKey] {
			continue
		}
		seen[r.ArtifactKey] = true
		rec.Releases = append(rec.Releases, r)
	}

	data, err := encoding.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("encode state: %w", err)
	}
	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return Record{}, fmt.Errorf("write state %s: %w", s.path, err)
	}
	return rec, nil
}

// Clear removes the record. Clearing an absent record is not an error.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
