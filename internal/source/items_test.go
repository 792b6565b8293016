package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeItems(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "items.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	return path
}

func TestLoadItems(t *testing.T) {
	t.Parallel()

	path := writeItems(t, "101\n\n# comment\n102\nnot-a-number\n-5\n0\n101\n103\n")

	ids, stats, err := LoadItems(path, nil)
	require.NoError(t, err)
	require.Equal(t, []int64{101, 102, 103}, ids)
	require.Equal(t, 3, stats.Valid)
	require.Equal(t, 3, stats.Invalid)
	require.Equal(t, 1, stats.Duplicates)
}

func TestLoadItemsFailsWhenEmpty(t *testing.T) {
	t.Parallel()

	path := writeItems(t, "# only comments\nabc\n")
	_, stats, err := LoadItems(path, nil)
	require.Error(t, err)
	require.Equal(t, 0, stats.Valid)
	require.Equal(t, 1, stats.Invalid)
}

func TestLoadItemsMissingFile(t *testing.T) {
	t.Parallel()

	_, _, err := LoadItems(filepath.Join(t.TempDir(), "missing.txt"), nil)
	require.Error(t, err)
}
