package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreCopiesValues(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	value := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", value))
	value[0] = 'z'

	got, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "abc", string(got))
	require.Equal(t, 1, s.Len())

	_, found, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, found)
}
