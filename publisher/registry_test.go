package publisher

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sanyyao/fontpub/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var registrySinks = map[string]*mockSink{}

func init() {
	// Registered here to avoid an import cycle with the sink package
	RegisterSink("mock", func(config cfg.SinkConfiguration) (Sink, error) {
		s := &mockSink{}
		registrySinks[config.Name] = s
		return s, nil
	})
	RegisterSink("broken", func(config cfg.SinkConfiguration) (Sink, error) {
		return nil, errors.New("cannot connect")
	})
	RegisterTransformer("json", func() Transformer {
		return &mockTransformer{}
	})
}

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{
		LedgerDir: filepath.Join(t.TempDir(), "ledger"),
		SinkConfigs: []cfg.SinkConfiguration{
			{Name: "a", Type: "mock", Format: "json"},
			{Name: "b", Type: "mock"},
		},
	})
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 2, r.Sinks())
	assert.NotNil(t, r.Ledger())
}

func TestNewRegistryRequiresLedgerDir(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{})
	assert.Error(t, err)
}

func TestNewRegistryUnknownSink(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{
		LedgerDir:   filepath.Join(t.TempDir(), "ledger"),
		SinkConfigs: []cfg.SinkConfiguration{{Name: "x", Type: "carrier-pigeon"}},
	})
	assert.Error(t, err)
}

func TestNewRegistryUnknownFormatClosesSink(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{
		LedgerDir:   filepath.Join(t.TempDir(), "ledger"),
		SinkConfigs: []cfg.SinkConfiguration{{Name: "closing", Type: "mock", Format: "avro"}},
	})
	require.Error(t, err)
	assert.True(t, registrySinks["closing"].closed.Load())
}

func TestNewRegistrySinkFactoryError(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{
		LedgerDir:   filepath.Join(t.TempDir(), "ledger"),
		SinkConfigs: []cfg.SinkConfiguration{{Name: "x", Type: "broken"}},
	})
	assert.Error(t, err)
}

func TestRegistryRecordAndAnnounce(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{LedgerDir: filepath.Join(t.TempDir(), "ledger")})
	require.NoError(t, err)
	defer r.Close()

	good := &mockSink{}
	bad := &mockSink{alwaysErr: errors.New("down")}
	require.NoError(t, r.Attach(cfg.SinkConfiguration{Name: "good"}, good, &mockTransformer{}))
	require.NoError(t, r.Attach(cfg.SinkConfiguration{Name: "bad", MaxRetries: 1}, bad, &mockTransformer{}))

	releases := testReleases(2)
	require.NoError(t, r.Record(releases))
	assert.Equal(t, uint64(2), releases[1].Seq)

	results := r.Announce(context.Background())
	require.Len(t, results, 2)

	assert.Equal(t, "good", results[0].Sink)
	assert.Equal(t, 2, results[0].Delivered)
	assert.NoError(t, results[0].Err)

	assert.Equal(t, "bad", results[1].Sink)
	assert.Equal(t, 0, results[1].Delivered)
	assert.Error(t, results[1].Err)

	assert.Len(t, good.getEvents(), 2)
}

func TestRegistryCloseClosesSinks(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{LedgerDir: filepath.Join(t.TempDir(), "ledger")})
	require.NoError(t, err)

	s := &mockSink{}
	require.NoError(t, r.Attach(cfg.SinkConfiguration{Name: "s"}, s, &mockTransformer{}))
	r.Close()

	assert.True(t, s.closed.Load())
}

func TestCreateTransformer(t *testing.T) {
	trans, err := createTransformer("json")
	require.NoError(t, err)
	assert.NotNil(t, trans)

	_, err = createTransformer("unknown")
	assert.Error(t, err)
}
