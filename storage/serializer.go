package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// Serializer defines the interface for snapshot serialization. It is
// satisfied by every cache.Marshaller.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONSerializer implements Serializer using JSON.
type JSONSerializer struct{}

// Marshal serializes a value to JSON.
func (js *JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal deserializes a value from JSON.
func (js *JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewJSONSerializer creates a new JSON serializer.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

// StrictJSONSerializer rejects unknown fields and trailing data on decode.
type StrictJSONSerializer struct{}

// Marshal serializes a value to JSON.
func (ss *StrictJSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal deserializes a single JSON value, rejecting unknown fields.
func (ss *StrictJSONSerializer) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

// GetSerializer returns a serializer for the given format.
func GetSerializer(format string) (Serializer, error) {
	switch format {
	case "", "json":
		return NewJSONSerializer(), nil
	case "json-strict":
		return &StrictJSONSerializer{}, nil
	default:
		return nil, errors.New("unsupported serialization format: " + format)
	}
}
