package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenMissingFileYieldsZeroValue(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), ".agent-identity"))
	require.NoError(t, err)
	require.Equal(t, Identity{}, s.Current())
}

func TestRefreshPicksUpFileChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".agent-identity")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"a1","temp":0.7,"top_k":40}`), 0644))

	s, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, "a1", s.Current().Name)

	require.NoError(t, os.WriteFile(path, []byte(`{"name":"a1","persona":"curious","temp":0.9,"top_k":40}`), 0644))
	require.NoError(t, s.Refresh())
	require.Equal(t, "curious", s.Current().Persona)
	require.Equal(t, path, s.Path())
}
