package store

import (
	"fmt"

	"github.com/roach88/phasetrain/internal/canonical"
)

// MarshalConfig renders a run configuration as canonical JSON TEXT so equal
// configurations store byte-identical rows.
func MarshalConfig(cfg map[string]any) (string, error) {
	if cfg == nil {
		cfg = map[string]any{}
	}
	data, err := canonical.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
