package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/sanyyao/fontpub/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const assetBase = "https://fonts.example.com/use"

func testConfig(t *testing.T, fonts ...string) *cfg.Configuration {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	root := t.TempDir()

	c := cfg.Default()
	c.Source.Dir = filepath.Join(root, "src")
	c.Source.DistDir = filepath.Join(root, "dist")
	c.CDN.AssetBase = assetBase
	c.Storage.Type = cfg.StorageLocal
	c.Storage.Local.Dir = filepath.Join(root, "bucket")
	c.Engine.Command = []string{"sh", "-c",
		`printf 'src:url("./0001.woff2")' > "$0/result.css" && printf wOF2 > "$0/0001.woff2"`,
		"{out_dir}"}
	c.Index.LocalPath = filepath.Join(root, "index.css")
	c.State.Path = filepath.Join(root, ".fontpub", "state.msgpack")
	c.Ledger.Dir = filepath.Join(root, ".fontpub", "ledger")
	require.NoError(t, c.Validate())

	require.NoError(t, os.MkdirAll(c.Source.Dir, 0o755))
	for _, f := range fonts {
		require.NoError(t, os.WriteFile(filepath.Join(c.Source.Dir, f), []byte("font"), 0o644))
	}
	return c
}

func withApp(t *testing.T, c *cfg.Configuration, fn func(a *app)) {
	t.Helper()
	a, err := newApp(c)
	require.NoError(t, err)
	defer a.close()
	fn(a)
}

func readBucket(t *testing.T, c *cfg.Configuration, key string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(c.Storage.Local.Dir, filepath.FromSlash(key)))
	require.NoError(t, err, key)
	return string(data)
}

func TestFirePublishesAndIndexes(t *testing.T) {
	c := testConfig(t, "Dymon-v2.2.ttf", "ZPixel-Standard-v0.4.otf")

	withApp(t, c, func(a *app) {
		require.NoError(t, a.fire(context.Background()))

		assert.Equal(t, `src:url("`+assetBase+`/Dymon/v2.2/0001.woff2")`, readBucket(t, c, "Dymon/v2.2/result.css"))
		assert.Equal(t, readBucket(t, c, "Dymon/v2.2/result.css"), readBucket(t, c, "Dymon/latest/result.css"))
		assert.Equal(t, "wOF2", readBucket(t, c, "ZPixel/Standard-v0.4/0001.woff2"))

		idx := readBucket(t, c, "index.css")
		assert.Contains(t, idx, "@import url('"+assetBase+"/Dymon/latest/result.css');")
		assert.Contains(t, idx, "@import url('"+assetBase+"/ZPixel/Standard/latest/result.css');")

		full, err := os.ReadFile(c.Index.LocalPath)
		require.NoError(t, err)
		assert.Contains(t, string(full), "/* --- ZPixel --- */")
		assert.Contains(t, string(full), "@import url('"+assetBase+"/Dymon/v2.2/result.css');")

		pending, err := a.state.Pending()
		require.NoError(t, err)
		assert.False(t, pending)
		assert.Equal(t, uint64(2), a.registry.Ledger().LastSeq())
	})
}

func TestFireTwiceShortCircuits(t *testing.T) {
	c := testConfig(t, "Dymon-v2.2.ttf")

	withApp(t, c, func(a *app) {
		require.NoError(t, a.fire(context.Background()))
	})
	require.NoError(t, os.Remove(c.Index.LocalPath))

	withApp(t, c, func(a *app) {
		sig, err := a.split(context.Background())
		require.NoError(t, err)
		assert.False(t, sig.Raised)

		require.NoError(t, a.fire(context.Background()))
		assert.Equal(t, uint64(1), a.registry.Ledger().LastSeq())
	})

	_, err := os.Stat(c.Index.LocalPath)
	assert.True(t, os.IsNotExist(err), "index rebuild must not run without new artifacts")
}

func TestSplitThenDeployPending(t *testing.T) {
	c := testConfig(t, "Dymon-v2.2.ttf")

	withApp(t, c, func(a *app) {
		sig, err := a.split(context.Background())
		require.NoError(t, err)
		assert.True(t, sig.Raised)
		require.Len(t, sig.Releases, 1)
		assert.Equal(t, assetBase+"/Dymon/v2.2/result.css", sig.Releases[0].URL)
	})

	_, err := os.Stat(filepath.Join(c.Storage.Local.Dir, "Dymon"))
	assert.True(t, os.IsNotExist(err), "split alone uploads nothing")

	withApp(t, c, func(a *app) {
		pending, err := a.state.Pending()
		require.NoError(t, err)
		require.True(t, pending)

		require.NoError(t, a.deployPending(context.Background()))
		assert.Contains(t, readBucket(t, c, "index.css"), "Dymon/latest/result.css")

		pending, err = a.state.Pending()
		require.NoError(t, err)
		assert.False(t, pending)

		require.NoError(t, a.deployPending(context.Background()), "nothing pending is not an error")
	})
}

func TestFireAbortsOnUploadFailure(t *testing.T) {
	c := testConfig(t, "Dymon-v2.2.ttf")
	c.Source.CleanDist = false
	require.NoError(t, os.MkdirAll(filepath.Join(c.Source.DistDir, "bad"), 0o755))
	// A key the store rejects fails the upload step
	require.NoError(t, os.WriteFile(filepath.Join(c.Source.DistDir, "bad", "x\\y.css"), []byte("x"), 0o644))

	withApp(t, c, func(a *app) {
		err := a.fire(context.Background())
		require.Error(t, err)

		pending, perr := a.state.Pending()
		require.NoError(t, perr)
		assert.True(t, pending, "signal survives for deploy-pending")
	})
	_, err := os.Stat(c.Index.LocalPath)
	assert.True(t, os.IsNotExist(err))
}

func TestNukeRequiresConfirmation(t *testing.T) {
	c := testConfig(t, "Dymon-v2.2.ttf")

	withApp(t, c, func(a *app) {
		require.NoError(t, a.fire(context.Background()))

		assert.Error(t, a.nuke(context.Background(), nil))
		assert.FileExists(t, filepath.Join(c.Storage.Local.Dir, "index.css"))

		require.NoError(t, a.nuke(context.Background(), []string{"-yes"}))
		_, err := os.Stat(filepath.Join(c.Storage.Local.Dir, "index.css"))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestStatus(t *testing.T) {
	c := testConfig(t, "Dymon-v2.2.ttf")

	withApp(t, c, func(a *app) {
		var buf bytes.Buffer
		require.NoError(t, a.status(&buf, nil))
		assert.Contains(t, buf.String(), "No pending signal")

		require.NoError(t, a.fire(context.Background()))
		buf.Reset()
		require.NoError(t, a.status(&buf, []string{"-n", "5"}))
		assert.Contains(t, buf.String(), "Dymon")
		assert.Contains(t, buf.String(), "v2.2")
	})
}

func TestResolveCommand(t *testing.T) {
	var buf bytes.Buffer
	code := resolveCommand(&buf, []string{"ZPixel-Standard-v0.4.ttf", "Dymon_v2.2.otf", "-bad.ttf"})
	assert.Equal(t, 1, code)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "family=ZPixel version=Standard-v0.4 style=Standard")
	assert.Contains(t, lines[0], "latest=ZPixel/Standard/latest/result.css")
	assert.Contains(t, lines[1], "family=Dymon version=v2.2 style=Regular")
	assert.Contains(t, lines[2], "unparseable")

	buf.Reset()
	assert.Equal(t, 1, resolveCommand(&buf, nil))
}

func TestNewStore(t *testing.T) {
	c := cfg.Default().Storage

	c.Type = cfg.StorageMemory
	s, err := newStore(c)
	require.NoError(t, err)
	assert.Equal(t, "memory", s.Bucket())

	c.Type = cfg.StorageLocal
	c.Local.Dir = t.TempDir()
	_, err = newStore(c)
	require.NoError(t, err)

	c.Type = cfg.StorageS3
	_, err = newStore(c)
	assert.Error(t, err, "bucket and endpoint are required")

	c.Type = "ftp"
	_, err = newStore(c)
	assert.Error(t, err)
}
