package middleware

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDedupeCache_FirstSightIsNotDuplicate(t *testing.T) {
	d := NewDedupeCache()

	require.False(t, d.IsDuplicate("1:100"))
	require.True(t, d.IsDuplicate("1:100"))
	require.False(t, d.IsDuplicate("1:101"))
}

func TestDedupeCache_ExpiresAfterTTL(t *testing.T) {
	d := NewDedupeCacheWith(50*time.Millisecond, 10)

	require.False(t, d.IsDuplicate("1:100"))
	time.Sleep(80 * time.Millisecond)
	require.False(t, d.IsDuplicate("1:100"))
}

func TestDedupeCache_HitRefreshesTTL(t *testing.T) {
	d := NewDedupeCacheWith(100*time.Millisecond, 10)

	require.False(t, d.IsDuplicate("1:100"))
	time.Sleep(60 * time.Millisecond)
	require.True(t, d.IsDuplicate("1:100"))

	// 120ms after insertion but only 60ms after the refresh.
	time.Sleep(60 * time.Millisecond)
	require.True(t, d.IsDuplicate("1:100"))
}

func TestDedupeCache_EvictsOldestWhenFull(t *testing.T) {
	d := NewDedupeCacheWith(time.Minute, 3)

	for i := range 4 {
		require.False(t, d.IsDuplicate(fmt.Sprintf("1:%d", i)))
	}

	require.Equal(t, 3, d.Size())
	require.False(t, d.IsDuplicate("1:0")) // evicted, counts as new
	require.True(t, d.IsDuplicate("1:3"))
}

func TestDedupeCache_Clear(t *testing.T) {
	d := NewDedupeCache()

	require.False(t, d.IsDuplicate("1:100"))
	d.Clear()
	require.Equal(t, 0, d.Size())
	require.False(t, d.IsDuplicate("1:100"))
}

func TestDedupKey(t *testing.T) {
	require.Equal(t, "42:7", DedupKey(42, 7))
}
