package export_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/CZERTAINLY/Exporter/internal/export"

	"github.com/stretchr/testify/require"
)

func TestFindRoot(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	var testCases = []struct {
		scenario string
		given    string
	}{
		{"root itself", root},
		{"nested", nested},
		{"parent reference", filepath.Join(nested, "..")},
	}
	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			got, err := export.FindRoot(tt.given, ".git")
			require.NoError(t, err)
			require.Equal(t, root, got)
		})
	}

	t.Run("inner marker wins", func(t *testing.T) {
		inner := filepath.Join(root, "a")
		require.NoError(t, os.Mkdir(filepath.Join(inner, ".hg"), 0o755))
		got, err := export.FindRoot(nested, ".hg")
		require.NoError(t, err)
		require.Equal(t, inner, got)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := export.FindRoot(nested, ".exporter-no-such-marker")
		require.ErrorIs(t, err, export.ErrNoRoot)
	})
}
