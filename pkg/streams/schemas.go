package streams

import (
	"embed"
	"encoding/json"
	"fmt"
)

// Schema documents are static, externally supplied JSON Schema blobs. The
// extractor treats them as opaque: they are embedded at build time and
// emitted verbatim in schema messages.
//
//go:embed schemas/*.json
var schemaFS embed.FS

// Schema returns the JSON Schema document for the named stream.
func Schema(name string) (json.RawMessage, error) {
	data, err := schemaFS.ReadFile("schemas/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("load schema for stream %q: %w", name, err)
	}
	return json.RawMessage(data), nil
}
