// Package export serializes the full circulation state as a single JSON
// document compatible with the backup files the app has always produced.
package export

import (
	"fmt"
	"time"

	"bibliokeeper/pkg/engine"

	jsoniter "github.com/json-iterator/go"
)

// Version identifies the document layout.
const Version = "1.0"

// Document is the on-disk backup format: the state plus provenance fields.
type Document struct {
	Version    string    `json:"version"`
	ExportDate time.Time `json:"exportDate"`
	engine.State
}

// Marshal wraps a state snapshot into a versioned, indented document.
func Marshal(state engine.State, exportedAt time.Time) ([]byte, error) {
	doc := Document{
		Version:    Version,
		ExportDate: exportedAt.UTC(),
		State:      state,
	}
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal export document: %w", err)
	}
	return data, nil
}

// Unmarshal parses a backup document and returns the embedded state.
// Unknown versions are rejected rather than half-imported.
func Unmarshal(data []byte) (engine.State, error) {
	var doc Document
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &doc); err != nil {
		return engine.State{}, fmt.Errorf("parse export document: %w", err)
	}
	if doc.Version != "" && doc.Version != Version {
		return engine.State{}, fmt.Errorf("unsupported export version %q", doc.Version)
	}
	return doc.State, nil
}
