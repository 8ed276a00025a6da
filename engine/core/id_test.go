package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/ragline/engine/core"
)

func TestNewID(t *testing.T) {
	t.Run("Should generate unique sortable ids", func(t *testing.T) {
		id1, err := core.NewID()
		require.NoError(t, err)
		id2, err := core.NewID()
		require.NoError(t, err)
		assert.NotEqual(t, id1, id2)
		assert.False(t, id1.IsZero())
	})
	t.Run("Should round-trip through ParseID", func(t *testing.T) {
		id := core.MustNewID()
		parsed, err := core.ParseID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	})
	t.Run("Should reject malformed ids", func(t *testing.T) {
		_, err := core.ParseID("not-a-valid-ksuid")
		require.Error(t, err)
	})
}

func TestCloneMap(t *testing.T) {
	t.Run("Should return nil for empty input", func(t *testing.T) {
		assert.Nil(t, core.CloneMap(map[string]int{}))
		assert.Nil(t, core.CloneMap[string, int](nil))
	})
	t.Run("Should not alias the source map", func(t *testing.T) {
		src := map[string]string{"a": "1"}
		dst := core.CloneMap(src)
		dst["a"] = "2"
		assert.Equal(t, "1", src["a"])
	})
}
