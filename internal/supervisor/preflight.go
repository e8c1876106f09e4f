package supervisor

import (
	"fmt"
	"strings"

	"inferbridge/internal/common/fsutil"
	"inferbridge/internal/registry"
	"inferbridge/pkg/types"
)

// resolveModelPath checks that modelID is in the registry and that its file
// is readable. It does not touch the engine.
func resolveModelPath(reg []types.Model, modelID string) (string, error) {
	mdl, ok := registry.Find(reg, modelID)
	if !ok || strings.TrimSpace(mdl.Path) == "" {
		return "", ErrModelNotFound(modelID)
	}
	if err := fsutil.RegularFile(mdl.Path); err != nil {
		return "", fmt.Errorf("model file: %w", err)
	}
	return mdl.Path, nil
}
