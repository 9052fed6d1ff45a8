package memory

import (
	"testing"

	"github.com/adwski/classcast/backend/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreGeneratesOnce(t *testing.T) {
	ms := NewMemStore()

	first, err := ms.Load()
	require.NoError(t, err)
	second, err := ms.Load()
	require.NoError(t, err)

	assert.NotEmpty(t, first.ID)
	assert.Equal(t, first, second)
	assert.Equal(t, model.DefaultName(first.ID), first.DisplayName())
}

func TestMemStoreSetName(t *testing.T) {
	ms := NewMemStoreWith(model.Identity{ID: "s1"})
	require.NoError(t, ms.SetName("Alice"))

	id, err := ms.Load()
	require.NoError(t, err)
	assert.Equal(t, model.Identity{ID: "s1", Name: "Alice"}, id)
}
