package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewNodeID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewNodeID()
	require.NoError(t, err)
	id2, err := gen.NewNodeID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
	require.Equal(t, goUUID.Version(7), id1.Version())
	// v7 ids embed a millisecond timestamp and must not go backwards.
	require.LessOrEqual(t, id1.Time(), id2.Time())
}

func TestGeneratorNewRunID(t *testing.T) {
	t.Parallel()

	id, err := New().NewRunID()
	require.NoError(t, err)
	parsed, err := goUUID.Parse(id)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(7), parsed.Version())
}
