package publisher

import (
	"time"

	"github.com/sanyyao/fontpub/identity"
)

// Status is the terminal state of one asset in a run
type Status uint8

const (
	StatusSkipped   Status = iota // Artifact already published
	StatusPublished               // Split and rewritten in this run
	StatusFailed                  // Resolve, split or rewrite failed
)

func (s Status) String() string {
	switch s {
	case StatusSkipped:
		return "skipped"
	case StatusPublished:
		return "published"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Stage names the step at which an asset failed
type Stage string

const (
	StageResolve Stage = "resolve" // Filename could not be parsed
	StageSplit   Stage = "split"   // Font engine failed
	StageRewrite Stage = "rewrite" // Version stylesheet could not be rewritten
	StageLatest  Stage = "latest"  // Latest pointer could not be refreshed
)

// Outcome reports what happened to one source file
type Outcome struct {
	Filename string
	Identity identity.Identity // Zero when Stage is StageResolve
	Status   Status
	Stage    Stage // Set when Status is StatusFailed
	Err      error
	Digest   string // xxhash of the published stylesheet
	HasCSS   bool   // The engine produced a stylesheet
	Duration time.Duration
}

// Release is a published family/version as recorded in the ledger and
// announced to sinks
type Release struct {
	Seq         uint64    `msgpack:"seq"`
	RunID       string    `msgpack:"run"`
	Family      string    `msgpack:"family"`
	Version     string    `msgpack:"version"`
	Style       string    `msgpack:"style"`
	CSSFamily   string    `msgpack:"css_family"`
	ArtifactKey string    `msgpack:"key"`
	LatestKey   string    `msgpack:"latest"`
	URL         string    `msgpack:"url"`
	Digest      string    `msgpack:"digest"`
	PublishedAt time.Time `msgpack:"ts"`
}

// Sink represents a destination for release announcements (NATS, Kafka)
type Sink interface {
	// Publish sends a message to the sink
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Transformer converts releases to sink-specific payloads
type Transformer interface {
	Transform(release Release) ([]byte, error)
}

// Filter selects source files by name
type Filter interface {
	Match(filename string) bool
}
