// Package storage holds the snapshot encoding shared by the snapshot store
// backends (local filesystem, GCS, memory).
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/pcspec-crawler/internal/crawler"
)

// ContentType is the media type of encoded snapshots.
const ContentType = "application/json; charset=utf-8"

// EncodeSnapshot renders records as an indented JSON array. Non-ASCII and
// HTML characters are written literally.
func EncodeSnapshot(records []crawler.Record) ([]byte, error) {
	if records == nil {
		records = []crawler.Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot parses a snapshot written by EncodeSnapshot.
func DecodeSnapshot(data []byte) ([]crawler.Record, error) {
	var records []crawler.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return records, nil
}

// ObjectName returns the snapshot name for source under prefix.
func ObjectName(prefix, source string) (string, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return "", fmt.Errorf("source is required")
	}
	if strings.ContainsAny(source, `/\`) || source == "." || source == ".." {
		return "", fmt.Errorf("invalid source name %q", source)
	}
	return path.Join(prefix, source+".json"), nil
}
