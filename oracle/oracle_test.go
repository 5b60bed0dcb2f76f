package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sanyyao/fontpub/identity"
	"github.com/sanyyao/fontpub/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolve(t *testing.T, name string) identity.Identity {
	t.Helper()
	res := identity.Resolve(name)
	require.True(t, res.OK, res.Reason)
	return res.Parsed
}

func TestExistsProbesCanonicalKey(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemoryStore("fonts", 0)
	require.NoError(t, m.Put(ctx, "Dymon/v2.2/result.css", []byte("css"), storage.PutOptions{}))

	o := New(m, time.Second)
	assert.True(t, o.Exists(ctx, resolve(t, "Dymon-v2.2.ttf")))
	assert.False(t, o.Exists(ctx, resolve(t, "ZPixel-Standard-v0.4.ttf")))

	assert.Equal(t, []string{"Dymon/v2.2/result.css", "ZPixel/Standard-v0.4/result.css"}, m.HeadRequests())
}

func TestExistsTreatsErrorsAsAbsent(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemoryStore("fonts", 0)
	require.NoError(t, m.Put(ctx, "Dymon/v2.2/result.css", []byte("css"), storage.PutOptions{}))
	m.HeadErr = errors.New("connection reset by peer")

	o := New(m, 0)
	assert.False(t, o.Exists(ctx, resolve(t, "Dymon-v2.2.ttf")))
}

func TestExistsIsFinalForTheRun(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemoryStore("fonts", 0)
	m.HeadErr = errors.New("timeout")

	o := New(m, 0)
	id := resolve(t, "Dymon-v2.2.ttf")
	assert.False(t, o.Exists(ctx, id))

	// Recovery and a later upload do not change the answer within the run
	m.HeadErr = nil
	require.NoError(t, m.Put(ctx, id.ArtifactKey(), []byte("css"), storage.PutOptions{}))
	assert.False(t, o.Exists(ctx, id))

	heads, _, _, _ := m.Calls()
	assert.Equal(t, 1, heads)

	// A new run probes again
	assert.True(t, New(m, 0).Exists(ctx, id))
}

func TestExistsSameFilenameSameKey(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemoryStore("fonts", 0)

	New(m, 0).Exists(ctx, resolve(t, "ZPixel-Standard-v0.4.ttf"))
	New(m, 0).Exists(ctx, resolve(t, "ZPixel-Standard-v0.4.ttf"))

	reqs := m.HeadRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0], reqs[1])
}

type slowStore struct{ *storage.MemoryStore }

func (s slowStore) Head(ctx context.Context, key string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestExistsTimeout(t *testing.T) {
	o := New(slowStore{storage.NewMemoryStore("fonts", 0)}, 10*time.Millisecond)
	assert.False(t, o.Exists(context.Background(), resolve(t, "Dymon-v2.2.ttf")))
}
