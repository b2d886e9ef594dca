package util

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// DefaultConnectTimeout bounds an mDNS-triggered libp2p connect attempt
// (mirrors goop2's own DefaultConnectTimeout for the same call site).
const DefaultConnectTimeout = 3 * time.Second

// WriteJSONFile writes a JSON object to a file, creating parent directories if needed.
func WriteJSONFile(path string, v any) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
