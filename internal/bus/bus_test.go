package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsTransientClassification(t *testing.T) {
	require.True(t, IsTransient(errors.New("dial tcp: connection refused")))
	require.True(t, IsTransient(errors.New("read tcp: i/o timeout")))
	require.True(t, IsTransient(errors.New("READONLY You can't write against a read only replica")))
	require.True(t, IsTransient(context.DeadlineExceeded))
	require.False(t, IsTransient(errors.New("WRONGPASS invalid username-password pair")))
	require.False(t, IsTransient(nil))
}

func TestListNamingHelpers(t *testing.T) {
	require.Equal(t, "inbox:a1", InboxList("a1"))
	require.Equal(t, "internal:a1", InternalQueue("a1"))
	require.Equal(t, "status:a1", StatusKey("a1"))
	require.Equal(t, "lock:chat:general", LockKey("chat:general"))
}
