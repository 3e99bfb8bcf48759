package partition_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/webitel/sync-engine/internal/domain/partition"
)

func TestNormalize_Sorts(t *testing.T) {
	out, err := partition.Normalize([]string{"b", "a"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, out)
}

func TestNormalize_RejectsEmptyInput(t *testing.T) {
	_, err := partition.Normalize(nil)
	require.Error(t, err)

	_, err = partition.Normalize([]string{})
	require.Error(t, err)
}

func TestNormalize_RejectsEmptyEntry(t *testing.T) {
	_, err := partition.Normalize([]string{"a", ""})
	require.Error(t, err)
}

func TestNormalize_RejectsDuplicates(t *testing.T) {
	_, err := partition.Normalize([]string{"a", "a"})
	require.Error(t, err)
}

func TestIntersects(t *testing.T) {
	a, err := partition.Normalize([]string{"room:2", "room:1"})
	require.NoError(t, err)
	b, err := partition.Normalize([]string{"room:3", "room:2"})
	require.NoError(t, err)
	c, err := partition.Normalize([]string{"room:4"})
	require.NoError(t, err)

	require.True(t, partition.Intersects(a, b))
	require.False(t, partition.Intersects(a, c))
}
