package validate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteReport stores r as <dir>/validation-<timestamp>.json and returns the path
func WriteReport(dir string, r *Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding report: %w", err)
	}
	path := filepath.Join(dir, "validation-"+r.GeneratedAt.Format("20060102T150405.000Z")+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}
