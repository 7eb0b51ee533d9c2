package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xyzzy121/Unicopia/internal/slot"
)

func TestMemorySlotsRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.LoadSlots(ctx, "pony")
	require.ErrorIs(t, err, ErrNotFound)

	snaps := []slot.Snapshot{
		{Index: 1, AbilityID: "carry", State: "idle", Version: 2},
		{Index: 0, AbilityID: "kick", State: "cooling_down", TicksRemaining: 12, Seq: 4, Version: 9},
	}
	require.NoError(t, m.SaveSlots(ctx, "pony", snaps))
	snaps[0].AbilityID = "mutated"

	got, err := m.LoadSlots(ctx, "pony")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, uint32(12), got[0].TicksRemaining)
	assert.Equal(t, "carry", got[1].AbilityID)

	require.NoError(t, m.DeleteSlots(ctx, "pony"))
	_, err = m.LoadSlots(ctx, "pony")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryEntities(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.Error(t, m.SaveEntity(ctx, "", "x", nil))
	require.NoError(t, m.SaveEntity(ctx, "spellcast", "cast-1", []byte{1, 2, 3}))

	data, err := m.LoadEntity(ctx, "spellcast", "cast-1")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	require.NoError(t, m.DeleteEntity(ctx, "spellcast", "cast-1"))
	_, err = m.LoadEntity(ctx, "spellcast", "cast-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMemory()
	assert.ErrorIs(t, m.SaveSlots(ctx, "pony", nil), context.Canceled)
}
