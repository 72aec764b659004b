// Package storage defines the workspace file-system abstraction.
package storage

import "time"

// FileInfo is lightweight metadata returned by list operations.
type FileInfo struct {
	Path      string
	Checksum  string
	UpdatedAt time.Time
}

// Provider is the interface for workspace file operations. All paths are
// relative to the workspace root.
type Provider interface {
	// List returns metadata for every .md file under dir, sorted by path.
	List(dir string) ([]FileInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path, creating parent directories.
	Write(path string, content []byte) error
	// Exists reports whether a regular file exists at path.
	Exists(path string) (bool, error)
	// Abs resolves path against the workspace root, rejecting escapes.
	Abs(path string) (string, error)
}
