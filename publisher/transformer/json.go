// Package transformer provides implementations of the publisher.Transformer
// interface for encoding releases as sink payloads.
package transformer

import (
	"encoding/json"
	"fmt"

	"github.com/sanyyao/fontpub/publisher"
)

func init() {
	publisher.RegisterTransformer("json", func() publisher.Transformer {
		return NewJSONTransformer()
	})
}

// ReleaseEvent is the flat JSON document announced for each release
type ReleaseEvent struct {
	Type        string `json:"type"`
	Seq         uint64 `json:"seq"`
	RunID       string `json:"run_id"`
	Family      string `json:"family"`
	Version     string `json:"version"`
	Style       string `json:"style"`
	CSSFamily   string `json:"css_family"`
	Key         string `json:"key"`
	LatestKey   string `json:"latest_key"`
	URL         string `json:"url"`
	Digest      string `json:"digest,omitempty"`
	PublishedAt int64  `json:"published_at_ms"`
}

// JSONTransformer encodes releases as ReleaseEvent documents
type JSONTransformer struct{}

func NewJSONTransformer() *JSONTransformer {
	return &JSONTransformer{}
}

func (j *JSONTransformer) Transform(rel publisher.Release) ([]byte, error) {
	data, err := json.Marshal(eventFor(rel))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

func eventFor(rel publisher.Release) ReleaseEvent {
	return ReleaseEvent{
		Type:        "font.release",
		Seq:         rel.Seq,
		RunID:       rel.RunID,
		Family:      rel.Family,
		Version:     rel.Version,
		Style:       rel.Style,
		CSSFamily:   rel.CSSFamily,
		Key:         rel.ArtifactKey,
		LatestKey:   rel.LatestKey,
		URL:         rel.URL,
		Digest:      rel.Digest,
		PublishedAt: rel.PublishedAt.UnixMilli(),
	}
}
