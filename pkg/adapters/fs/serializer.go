package fs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/docsync/pkg/core"
)

// Serializer reads and writes one snapshot file format.
type Serializer interface {
	Decode(r io.Reader) (*core.Snapshot, error)
	Encode(snap *core.Snapshot) ([]byte, error)
}

// DefaultSerializers returns the supported formats keyed by file extension.
func DefaultSerializers(strict bool) map[string]Serializer {
	return map[string]Serializer{
		".json": NewJSONSerializer(strict),
		".yaml": NewYAMLSerializer(),
		".yml":  NewYAMLSerializer(),
		".cbor": NewCBORSerializer(),
	}
}

// --- JSON Serializer ---

// JSONSerializer writes indented JSON.
type JSONSerializer struct {
	// Strict decodes numbers as json.Number to avoid precision loss.
	Strict bool
}

// NewJSONSerializer creates a JSON serializer.
func NewJSONSerializer(strict bool) *JSONSerializer {
	return &JSONSerializer{Strict: strict}
}

func (s *JSONSerializer) Decode(r io.Reader) (*core.Snapshot, error) {
	dec := json.NewDecoder(r)
	if s.Strict {
		dec.UseNumber()
	}
	var snap core.Snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	return &snap, nil
}

func (s *JSONSerializer) Encode(snap *core.Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// --- YAML Serializer ---

// YAMLSerializer writes YAML documents.
type YAMLSerializer struct{}

// NewYAMLSerializer creates a YAML serializer.
func NewYAMLSerializer() *YAMLSerializer {
	return &YAMLSerializer{}
}

func (s *YAMLSerializer) Decode(r io.Reader) (*core.Snapshot, error) {
	var snap core.Snapshot
	if err := yaml.NewDecoder(r).Decode(&snap); err != nil {
		if err == io.EOF {
			return &snap, nil
		}
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	for i := range snap.Records {
		snap.Records[i].Data = normalizeMap(snap.Records[i].Data)
	}
	return &snap, nil
}

func (s *YAMLSerializer) Encode(snap *core.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(snap); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// --- CBOR Serializer ---

// CBORSerializer writes deterministic CBOR (RFC 8949). Struct fields use
// their json tags.
type CBORSerializer struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORSerializer creates a CBOR serializer.
func NewCBORSerializer() *CBORSerializer {
	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	enc, err := encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("invalid cbor encode options: %v", err))
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("invalid cbor decode options: %v", err))
	}
	return &CBORSerializer{enc: enc, dec: dec}
}

func (s *CBORSerializer) Decode(r io.Reader) (*core.Snapshot, error) {
	var snap core.Snapshot
	if err := s.dec.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("invalid cbor: %w", err)
	}
	for i := range snap.Records {
		snap.Records[i].Data = normalizeMap(snap.Records[i].Data)
	}
	return &snap, nil
}

func (s *CBORSerializer) Encode(snap *core.Snapshot) ([]byte, error) {
	return s.enc.Marshal(snap)
}

// normalizeMap maps decoded scalars onto the JSON value model, so every
// format hands the engine float64 numbers and map[string]any objects.
func normalizeMap(m core.Metadata) core.Metadata {
	if m == nil {
		return nil
	}
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
	return m
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case map[string]any:
		return map[string]any(normalizeMap(t))
	// yaml.v3 decodes nested mappings into the parent's named map type.
	case core.Metadata:
		return map[string]any(normalizeMap(t))
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalizeValue(e)
		}
		return out
	case []any:
		for i, e := range t {
			t[i] = normalizeValue(e)
		}
		return t
	default:
		return v
	}
}
