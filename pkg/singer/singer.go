// Package singer implements the line-oriented message protocol the
// extractor emits to its downstream consumer: one JSON object per line,
// with three message kinds (SCHEMA, RECORD, STATE).
package singer

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/parcelworks/shippo-extract/pkg/client"
)

// Message kinds.
const (
	TypeSchema = "SCHEMA"
	TypeRecord = "RECORD"
	TypeState  = "STATE"
)

// Message is one emitted protocol line.
type Message struct {
	Type          string          `json:"type"`
	Stream        string          `json:"stream,omitempty"`
	Schema        json.RawMessage `json:"schema,omitempty"`
	KeyProperties []string        `json:"key_properties,omitempty"`
	Record        client.Record   `json:"record,omitempty"`
	Value         json.RawMessage `json:"value,omitempty"`
}

// Emitter is the downstream boundary the sync engine writes to.
type Emitter interface {
	// EmitSchema declares a stream's schema. Emitted exactly once per
	// stream per run, before the stream's first record.
	EmitSchema(stream string, schema json.RawMessage, keyProperties []string) error

	// EmitRecord emits one record for a stream.
	EmitRecord(stream string, record client.Record) error

	// EmitState emits a checkpoint: the full run-state snapshot.
	EmitState(value json.RawMessage) error
}

// Writer emits messages as JSON lines on an io.Writer, typically stdout.
type Writer struct {
	enc *json.Encoder
}

// NewWriter creates a line-oriented message writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

// EmitSchema implements Emitter.
func (w *Writer) EmitSchema(stream string, schema json.RawMessage, keyProperties []string) error {
	if err := w.enc.Encode(Message{
		Type:          TypeSchema,
		Stream:        stream,
		Schema:        schema,
		KeyProperties: keyProperties,
	}); err != nil {
		return fmt.Errorf("emit schema for %s: %w", stream, err)
	}
	return nil
}

// EmitRecord implements Emitter.
func (w *Writer) EmitRecord(stream string, record client.Record) error {
	if err := w.enc.Encode(Message{
		Type:   TypeRecord,
		Stream: stream,
		Record: record,
	}); err != nil {
		return fmt.Errorf("emit record for %s: %w", stream, err)
	}
	return nil
}

// EmitState implements Emitter.
func (w *Writer) EmitState(value json.RawMessage) error {
	if err := w.enc.Encode(Message{
		Type:  TypeState,
		Value: value,
	}); err != nil {
		return fmt.Errorf("emit state: %w", err)
	}
	return nil
}
