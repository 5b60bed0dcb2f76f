package transformer

import (
	"encoding/json"
	"fmt"

	"github.com/sanyyao/fontpub/publisher"
)

func init() {
	publisher.RegisterTransformer("debezium", func() publisher.Transformer {
		return NewDebeziumTransformer()
	})
}

// DebeziumTransformer wraps releases in a Debezium-style envelope with an
// embedded schema. Use it (format = "debezium") when releases feed a Kafka
// Connect pipeline: a JDBC or Elasticsearch sink connector can then mirror
// the font catalog into a table or search index with no custom consumer,
// since the schema travels with every message. Every release is a create
// ("c"): published versions are immutable and the latest pointer is carried
// as a field.
type DebeziumTransformer struct {
	connectorName string
	schema        *debeziumEnvelopeSchema
}

// NewDebeziumTransformer creates a new Debezium transformer
func NewDebeziumTransformer() *DebeziumTransformer {
	return &DebeziumTransformer{
		connectorName: "fontpub",
		schema:        buildEnvelopeSchema(),
	}
}

type debeziumEnvelopeSchema struct {
	Type   string                `json:"type"`
	Name   string                `json:"name"`
	Fields []debeziumSchemaField `json:"fields"`
}

type debeziumSchemaField struct {
	Field    string                `json:"field"`
	Type     string                `json:"type"`
	Optional bool                  `json:"optional,omitempty"`
	Name     string                `json:"name,omitempty"`
	Fields   []debeziumSchemaField `json:"fields,omitempty"`
}

type debeziumMessage struct {
	Schema  *debeziumEnvelopeSchema `json:"schema"`
	Payload debeziumPayload         `json:"payload"`
}

type debeziumPayload struct {
	Before *ReleaseEvent  `json:"before"`
	After  *ReleaseEvent  `json:"after"`
	Op     string         `json:"op"`
	TsMs   int64          `json:"ts_ms"`
	Source debeziumSource `json:"source"`
}

type debeziumSource struct {
	Connector string `json:"connector"`
	Run       string `json:"run"`
	Family    string `json:"family"`
	LSN       uint64 `json:"lsn"`
}

// Transform converts a release to Debezium JSON with schema
func (d *DebeziumTransformer) Transform(rel publisher.Release) ([]byte, error) {
	after := eventFor(rel)
	message := debeziumMessage{
		Schema: d.schema,
		Payload: debeziumPayload{
			After: &after,
			Op:    "c",
			TsMs:  rel.PublishedAt.UnixMilli(),
			Source: debeziumSource{
				Connector: d.connectorName,
				Run:       rel.RunID,
				Family:    rel.Family,
				LSN:       rel.Seq,
			},
		},
	}

	data, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

func buildEnvelopeSchema() *debeziumEnvelopeSchema {
	valueFields := []debeziumSchemaField{
		{Field: "type", Type: "string"},
		{Field: "seq", Type: "int64"},
		{Field: "run_id", Type: "string"},
		{Field: "family", Type: "string"},
		{Field: "version", Type: "string"},
		{Field: "style", Type: "string"},
		{Field: "css_family", Type: "string"},
		{Field: "key", Type: "string"},
		{Field: "latest_key", Type: "string"},
		{Field: "url", Type: "string"},
		{Field: "digest", Type: "string", Optional: true},
		{Field: "published_at_ms", Type: "int64"},
	}

	return &debeziumEnvelopeSchema{
		Type: "struct",
		Name: "fontpub.release.Envelope",
		Fields: []debeziumSchemaField{
			{Field: "before", Type: "struct", Optional: true, Name: "fontpub.release.Value", Fields: valueFields},
			{Field: "after", Type: "struct", Optional: true, Name: "fontpub.release.Value", Fields: valueFields},
			{Field: "op", Type: "string"},
			{Field: "ts_ms", Type: "int64"},
			{
				Field: "source",
				Type:  "struct",
				Name:  "io.fontpub.Source",
				Fields: []debeziumSchemaField{
					{Field: "connector", Type: "string"},
					{Field: "run", Type: "string"},
					{Field: "family", Type: "string"},
					{Field: "lsn", Type: "int64"},
				},
			},
		},
	}
}
