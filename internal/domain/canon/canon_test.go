package canon_test

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/webitel/sync-engine/internal/domain/canon"
)

func TestOf_KeyOrderInsensitive(t *testing.T) {
	a, err := canon.Of([]string{"p2", "p1"}, json.RawMessage(`{"b":1,"a":2}`))
	require.NoError(t, err)

	b, err := canon.Of([]string{"p1", "p2"}, json.RawMessage(`{"a":2,"b":1}`))
	require.NoError(t, err)

	require.True(t, a.Equal(b))
}

func TestOf_DuplicatePartitionsCollapse(t *testing.T) {
	a, err := canon.Of([]string{"p1", "p1", "p2"}, json.RawMessage(`null`))
	require.NoError(t, err)

	b, err := canon.Of([]string{"p2", "p1"}, json.RawMessage(`null`))
	require.NoError(t, err)

	require.True(t, a.Equal(b))
}

func TestOf_DifferentValuesNotEqual(t *testing.T) {
	a, err := canon.Of([]string{"p1"}, json.RawMessage(`{"a":1}`))
	require.NoError(t, err)

	b, err := canon.Of([]string{"p1"}, json.RawMessage(`{"a":2}`))
	require.NoError(t, err)

	require.False(t, a.Equal(b))
}

func TestOf_InvalidEventJSON(t *testing.T) {
	_, err := canon.Of([]string{"p1"}, json.RawMessage(`{not json`))
	require.Error(t, err)
}

func TestOf_NestedStructureGolden(t *testing.T) {
	form, err := canon.Of(
		[]string{"room:2", "room:1"},
		json.RawMessage(`{"z":[3,1,2],"a":{"y":true,"x":null},"n":1.50}`),
	)
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata"))
	g.Assert(t, "nested_canonical_form", []byte(form.String()))
}
