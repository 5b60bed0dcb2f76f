package publisher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGlobFilter(t *testing.T) {
	filter, err := NewGlobFilter([]string{"*.ttf", "*.otf"}, []string{"draft-*"})
	require.NoError(t, err)
	require.NotNil(t, filter)

	assert.Len(t, filter.include, 2)
	assert.Len(t, filter.exclude, 1)
}

func TestGlobFilterEmptyPatterns(t *testing.T) {
	// Empty patterns should match everything
	filter, err := NewGlobFilter(nil, nil)
	require.NoError(t, err)

	assert.True(t, filter.Match("Dymon-v2.2.ttf"))
	assert.True(t, filter.Match("README.md"))
}

func TestGlobFilterExtensions(t *testing.T) {
	filter, err := NewGlobFilter([]string{"*.ttf", "*.otf"}, nil)
	require.NoError(t, err)

	assert.True(t, filter.Match("Dymon-v2.2.ttf"))
	assert.True(t, filter.Match("ZPixel-Standard-v0.4.OTF"), "matching ignores case")
	assert.False(t, filter.Match("Dymon-v2.2.woff2"))
	assert.False(t, filter.Match(".DS_Store"))
}

func TestGlobFilterExcludeWins(t *testing.T) {
	filter, err := NewGlobFilter([]string{"*.ttf"}, []string{"draft-*", "*-wip.ttf"})
	require.NoError(t, err)

	assert.True(t, filter.Match("Dymon-v2.2.ttf"))
	assert.False(t, filter.Match("Draft-v1.ttf"))
	assert.False(t, filter.Match("Dymon-v3-WIP.ttf"))
}

func TestGlobFilterCharacterClass(t *testing.T) {
	filter, err := NewGlobFilter([]string{"[dz]*.ttf"}, nil)
	require.NoError(t, err)

	assert.True(t, filter.Match("Dymon-v2.2.ttf"))
	assert.True(t, filter.Match("ZPixel-v1.ttf"))
	assert.False(t, filter.Match("Tangyuan.ttf"))
}

func TestGlobFilterInvalidPattern(t *testing.T) {
	_, err := NewGlobFilter([]string{"[unclosed"}, nil)
	assert.Error(t, err)

	_, err = NewGlobFilter(nil, []string{"[unclosed"})
	assert.Error(t, err)
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"ZPixel-Standard-v0.4.ttf", "Dymon-v2.2.otf", "notes.txt", "Draft-v1.ttf"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("font"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.ttf"), 0o755))

	filter, err := NewGlobFilter([]string{"*.ttf", "*.otf"}, []string{"draft-*"})
	require.NoError(t, err)

	files, err := Scan(dir, filter)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "Dymon-v2.2.otf"),
		filepath.Join(dir, "ZPixel-Standard-v0.4.ttf"),
	}, files)
}

func TestScanCreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "src")
	filter, err := NewGlobFilter(nil, nil)
	require.NoError(t, err)

	files, err := Scan(dir, filter)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.DirExists(t, dir)
}

func TestCleanDist(t *testing.T) {
	dist := filepath.Join(t.TempDir(), "dist")
	stale := filepath.Join(dist, "Old", "v1.0", "result.css")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))

	require.NoError(t, CleanDist(dist))
	assert.DirExists(t, dist)
	assert.NoFileExists(t, stale)
}
