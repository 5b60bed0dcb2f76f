package transformer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sanyyao/fontpub/publisher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func release() publisher.Release {
	return publisher.Release{
		Seq:         7,
		RunID:       "20250301T120000.000Z",
		Family:      "ZPixel",
		Version:     "Standard-v0.4",
		Style:       "Standard",
		CSSFamily:   "ZPixel-Standard",
		ArtifactKey: "ZPixel/Standard-v0.4/result.css",
		LatestKey:   "ZPixel/Standard/latest/result.css",
		URL:         "https://fonts.example.com/ZPixel/Standard-v0.4/result.css",
		Digest:      "00000000deadbeef",
		PublishedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestJSONTransformer(t *testing.T) {
	data, err := NewJSONTransformer().Transform(release())
	require.NoError(t, err)

	var ev ReleaseEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "font.release", ev.Type)
	assert.Equal(t, uint64(7), ev.Seq)
	assert.Equal(t, "ZPixel", ev.Family)
	assert.Equal(t, "ZPixel/Standard/latest/result.css", ev.LatestKey)
	assert.Equal(t, int64(1740830400000), ev.PublishedAt)
}

func TestDebeziumTransformer(t *testing.T) {
	data, err := NewDebeziumTransformer().Transform(release())
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))

	schema := msg["schema"].(map[string]interface{})
	assert.Equal(t, "fontpub.release.Envelope", schema["name"])

	payload := msg["payload"].(map[string]interface{})
	assert.Equal(t, "c", payload["op"])
	assert.Nil(t, payload["before"])

	after := payload["after"].(map[string]interface{})
	assert.Equal(t, "Standard-v0.4", after["version"])

	source := payload["source"].(map[string]interface{})
	assert.Equal(t, "fontpub", source["connector"])
	assert.Equal(t, float64(7), source["lsn"])
}
