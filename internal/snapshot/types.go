// Package snapshot exports the live content store to timestamped audit files.
package snapshot

import (
	"time"

	"github.com/systemshift/docmigrate/internal/core"
)

// Version is the current snapshot format version
const Version = 1

// File names inside a snapshot directory
const (
	ManifestFile = "manifest.json"
	SummaryFile  = "summary.txt"
)

// TypeFile is the content of one per-type snapshot file
type TypeFile struct {
	Version    int                     `json:"version"`
	Type       string                  `json:"type"`
	ExportedAt time.Time               `json:"exportedAt"`
	Count      int                     `json:"count"`
	Documents  []*core.Document        `json:"documents"`
	References map[string]DocumentRefs `json:"references"`
}

// DocumentRefs lists the ids a document points at and the ids pointing at it
type DocumentRefs struct {
	Outbound []string `json:"outbound"`
	Inbound  []string `json:"inbound"`
}

// Manifest describes a complete snapshot directory
type Manifest struct {
	Version    int            `json:"version"`
	ExportedAt time.Time      `json:"exportedAt"`
	Source     string         `json:"source"`
	Files      []FileEntry    `json:"files"`
	Counts     map[string]int `json:"counts"`
	Total      int            `json:"total"`
	Bytes      int64          `json:"bytes"`
	Errors     []TypeError    `json:"errors"`
}

// FileEntry is one file listed in the manifest
type FileEntry struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Count int    `json:"count"`
	Bytes int64  `json:"bytes"`
}

// TypeError records a document type that could not be exported
type TypeError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
