package clipboard

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddDeduplicatesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".agent-clipboard-a1.md")
	c, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, c.Add("remember the api key rotation"))
	require.NoError(t, c.Add("remember the api key rotation"))
	require.NoError(t, c.Add("second note"))

	require.Equal(t, []string{"remember the api key rotation", "second note"}, c.Read())

	reopened, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, c.Read(), reopened.Read())
}

func TestAddRejectsEmpty(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "cb.md"))
	require.NoError(t, err)
	require.Error(t, c.Add("   "))
}

func TestRemoveByOneBasedIndex(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "cb.md"))
	require.NoError(t, err)
	require.NoError(t, c.Add("a"))
	require.NoError(t, c.Add("b"))
	require.NoError(t, c.Add("c"))

	require.NoError(t, c.Remove([]int{1, 3}))
	require.Equal(t, []string{"b"}, c.Read())
}

func TestClear(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "cb.md"))
	require.NoError(t, err)
	require.NoError(t, c.Add("a"))
	require.NoError(t, c.Clear())
	require.Empty(t, c.Read())
}
