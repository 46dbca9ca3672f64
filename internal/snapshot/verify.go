package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ReadManifest loads the manifest of a snapshot directory
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if m.Version != Version {
		return nil, fmt.Errorf("unsupported snapshot version %d", m.Version)
	}
	return &m, nil
}

// Verify checks that every file listed in the manifest exists with the
// recorded size and document count
func Verify(dir string) (*Manifest, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}

	var errs []error
	total := 0
	for _, f := range m.Files {
		if err := verifyFile(dir, f); err != nil {
			errs = append(errs, err)
		}
		total += f.Count
	}
	if total != m.Total {
		errs = append(errs, fmt.Errorf("manifest total %d does not match file counts %d", m.Total, total))
	}
	return m, errors.Join(errs...)
}

func verifyFile(dir string, f FileEntry) error {
	path := filepath.Join(dir, f.Name)
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", f.Name, err)
	}
	if info.Size() != f.Bytes {
		return fmt.Errorf("%s: size %d, manifest says %d", f.Name, info.Size(), f.Bytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%s: %w", f.Name, err)
	}
	var tf TypeFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return fmt.Errorf("%s: decoding: %w", f.Name, err)
	}
	if tf.Type != f.Type {
		return fmt.Errorf("%s: holds type %q, manifest says %q", f.Name, tf.Type, f.Type)
	}
	if tf.Count != len(tf.Documents) || tf.Count != f.Count {
		return fmt.Errorf("%s: %d documents, header says %d, manifest says %d", f.Name, len(tf.Documents), tf.Count, f.Count)
	}
	return nil
}
