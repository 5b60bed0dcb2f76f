// Package rewrite turns the font engine's stylesheet into a publishable
// artifact: relative chunk URLs become absolute CDN URLs and the result is
// mirrored to the family's latest pointer.
package rewrite

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/sanyyao/fontpub/identity"
)

// ErrLatestPointer is returned when the version stylesheet was rewritten but
// the latest pointer could not be refreshed. The version artifact is valid;
// the latest pointer still holds its previous content (or nothing).
var ErrLatestPointer = errors.New("latest pointer not updated")

// relative URL openings written by the engine, with the opening they become
var markers = [][]byte{
	[]byte(`url("./`),
	[]byte(`url('./`),
	[]byte(`url(./`),
}

// Result describes a rewritten artifact
type Result struct {
	Found        bool   // false when the engine produced no stylesheet
	Replacements int    // relative URLs rewritten
	Digest       string // xxhash of the final stylesheet
	VersionPath  string
	LatestPath   string
}

// Paths returns the version and latest stylesheet locations under dist
func Paths(dist string, id identity.Identity) (version, latest string) {
	version = filepath.Join(dist, filepath.FromSlash(id.ArtifactKey()))
	latest = filepath.Join(dist, filepath.FromSlash(id.LatestKey()))
	return version, latest
}

// CSS rewrites every relative URL in css to start with prefix and reports
// how many were rewritten. prefix must end in a slash.
func CSS(css []byte, prefix string) ([]byte, int) {
	n := 0
	for _, m := range markers {
		c := bytes.Count(css, m)
		if c == 0 {
			continue
		}
		n += c
		// Keep the quote style: `url("` + prefix
		opening := m[:len(m)-2]
		css = bytes.ReplaceAll(css, m, append(append([]byte{}, opening...), prefix...))
	}
	return css, n
}

// HasRelative reports whether css still carries a relative URL
func HasRelative(css []byte) bool {
	for _, m := range markers {
		if bytes.Contains(css, m) {
			return true
		}
	}
	return false
}

// Artifact rewrites dist/{family}/{version}/result.css in place and copies it
// to the latest pointer. A missing stylesheet is not an error: the returned
// Result has Found == false and nothing is written.
func Artifact(dist string, id identity.Identity, prefix string) (Result, error) {
	versionPath, latestPath := Paths(dist, id)
	res := Result{VersionPath: versionPath, LatestPath: latestPath}

	css, err := os.ReadFile(versionPath)
	if errors.Is(err, fs.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("read %s: %w", versionPath, err)
	}
	res.Found = true

	css, res.Replacements = CSS(css, prefix)
	if err := writeAtomic(versionPath, css); err != nil {
		return res, fmt.Errorf("write %s: %w", versionPath, err)
	}
	res.Digest = fmt.Sprintf("%016x", xxhash.Sum64(css))

	if err := os.MkdirAll(filepath.Dir(latestPath), 0o755); err != nil {
		return res, fmt.Errorf("%w: %s: %v", ErrLatestPointer, id.LatestKey(), err)
	}
	if err := writeAtomic(latestPath, css); err != nil {
		return res, fmt.Errorf("%w: %s: %v", ErrLatestPointer, id.LatestKey(), err)
	}
	return res, nil
}

// writeAtomic replaces path through a temp file and rename, so a failed write
// leaves the previous content intact
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".rewrite-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}
