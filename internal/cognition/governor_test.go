package cognition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGovernorAllowsUpToLimit(t *testing.T) {
	g := NewGovernor(3, time.Minute)
	now := time.Now()
	require.True(t, g.Allow(now))
	require.True(t, g.Allow(now))
	require.True(t, g.Allow(now))
	require.False(t, g.Allow(now))
}

func TestGovernorWindowSlides(t *testing.T) {
	g := NewGovernor(1, time.Second)
	now := time.Now()
	require.True(t, g.Allow(now))
	require.False(t, g.Allow(now.Add(500*time.Millisecond)))
	require.True(t, g.Allow(now.Add(2*time.Second)))
}
