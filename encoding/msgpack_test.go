package encoding

import (
	"sync"
	"testing"
	"time"
)

type record struct {
	SchemaVersion int       `msgpack:"schema_version"`
	Family        string    `msgpack:"family"`
	Versions      []string  `msgpack:"versions"`
	At            time.Time `msgpack:"at"`
}

func TestStructRoundTrip(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	in := record{SchemaVersion: 1, Family: "Dymon", Versions: []string{"v2.1", "v2.2"}, At: at}

	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out record
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out.Family != in.Family || out.SchemaVersion != 1 || len(out.Versions) != 2 {
		t.Errorf("round trip mismatch: %+v", out)
	}
	if !out.At.Equal(at) {
		t.Errorf("time mismatch: got %v want %v", out.At, at)
	}
}

func TestUnmarshal_UnknownFieldsIgnored(t *testing.T) {
	data, err := Marshal(map[string]interface{}{
		"schema_version": 2,
		"family":         "Tangyuan",
		"added_later":    "ignored",
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out record
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out.Family != "Tangyuan" || out.SchemaVersion != 2 {
		t.Errorf("unexpected decode: %+v", out)
	}
}

func TestUnmarshal_StringNotBytes(t *testing.T) {
	original := "ZPixel/Standard-v0.4/result.css"
	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var result interface{}
	if err := Unmarshal(data, &result); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	str, ok := result.(string)
	if !ok {
		t.Fatalf("Expected string type, got %T", result)
	}
	if str != original {
		t.Errorf("String mismatch: got %q, want %q", str, original)
	}
}

func TestUnmarshal_Corrupt(t *testing.T) {
	var out record
	if err := Unmarshal([]byte{0xc1}, &out); err == nil {
		t.Error("expected error for invalid msgpack")
	}
}

func TestMarshal_Concurrent(t *testing.T) {
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				result, err := Marshal(record{SchemaVersion: id, Family: "Dymon"})
				if err != nil {
					t.Errorf("Marshal failed: %v", err)
					return
				}
				if len(result) == 0 {
					t.Error("Expected non-empty result")
					return
				}
			}
		}(i)
	}

	wg.Wait()
}
