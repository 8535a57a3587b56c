// Package fsutil confines user-supplied paths below a trusted root.
package fsutil

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ConfineRelPath joins relTarget onto root and verifies the result stays
// below root. Traversal sequences and absolute targets are rejected.
func ConfineRelPath(root, relTarget string) (string, error) {
	if filepath.IsAbs(relTarget) {
		return "", fmt.Errorf("fsutil: absolute path not allowed: %s", relTarget)
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(rootAbs, relTarget)
	if joined != rootAbs && !strings.HasPrefix(joined, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("fsutil: path escapes root: %s", relTarget)
	}
	return joined, nil
}
