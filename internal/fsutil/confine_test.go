package fsutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfineRelPathAllowsNestedTargets(t *testing.T) {
	root := t.TempDir()

	got, err := ConfineRelPath(root, filepath.Join("abc", "segments", "00001.ts"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "abc", "segments", "00001.ts"), got)
}

func TestConfineRelPathAllowsRootItself(t *testing.T) {
	root := t.TempDir()

	got, err := ConfineRelPath(root, ".")
	require.NoError(t, err)
	assert.Equal(t, root, got)
}

func TestConfineRelPathRejectsEscapes(t *testing.T) {
	root := t.TempDir()
	tests := []string{
		"../outside",
		"abc/../../outside",
		"..",
		filepath.Join(root, "abs"), // absolute
	}
	for _, target := range tests {
		t.Run(target, func(t *testing.T) {
			_, err := ConfineRelPath(root, target)
			assert.Error(t, err)
		})
	}
}
