package index

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindUpdateRemove(t *testing.T) {
	idx := New(8, 4)

	_, ok := idx.Find([]byte("cfg"))
	assert.False(t, ok)

	require.NoError(t, idx.Update([]byte("cfg"), 20))
	require.NoError(t, idx.Update([]byte("wifi"), 40))
	require.NoError(t, idx.Update([]byte("cfg"), 60))

	off, ok := idx.Find([]byte("cfg"))
	require.True(t, ok)
	assert.Equal(t, uint32(60), off)
	assert.Equal(t, 2, idx.Len())

	assert.True(t, idx.Remove([]byte("cfg")))
	assert.False(t, idx.Remove([]byte("cfg")))
	assert.False(t, idx.Has([]byte("cfg")))
	assert.True(t, idx.Has([]byte("wifi")))
	assert.Equal(t, 1, idx.Len())
}

func TestCapacityBound(t *testing.T) {
	idx := New(3, 2)
	for i := 0; i < 3; i++ {
		require.NoError(t, idx.Update([]byte(fmt.Sprintf("k%d", i)), uint32(i)))
	}
	assert.True(t, idx.Full())
	assert.ErrorIs(t, idx.Update([]byte("k3"), 3), ErrIndexFull)

	// overwriting an existing key needs no slot
	require.NoError(t, idx.Update([]byte("k1"), 100))

	// a removed slot is reused
	require.True(t, idx.Remove([]byte("k0")))
	require.NoError(t, idx.Update([]byte("k3"), 3))
	assert.Equal(t, 3, idx.Len())
}

func TestSingleBucketChains(t *testing.T) {
	// one bucket forces every key into the same chain
	idx := New(16, 1)
	for i := 0; i < 16; i++ {
		require.NoError(t, idx.Update([]byte(fmt.Sprintf("key-%02d", i)), uint32(i*4)))
	}
	for i := 0; i < 16; i += 3 {
		require.True(t, idx.Remove([]byte(fmt.Sprintf("key-%02d", i))))
	}
	for i := 0; i < 16; i++ {
		off, ok := idx.Find([]byte(fmt.Sprintf("key-%02d", i)))
		if i%3 == 0 {
			assert.False(t, ok, "key-%02d", i)
			continue
		}
		assert.True(t, ok, "key-%02d", i)
		assert.Equal(t, uint32(i*4), off)
	}
}

func TestKeysAreCopied(t *testing.T) {
	idx := New(4, 4)
	key := []byte("abc")
	require.NoError(t, idx.Update(key, 1))
	key[0] = 'x'

	assert.True(t, idx.Has([]byte("abc")))
	assert.False(t, idx.Has([]byte("xbc")))
}

func TestEntriesInLogOrder(t *testing.T) {
	idx := New(8, 3)
	require.NoError(t, idx.Update([]byte("c"), 60))
	require.NoError(t, idx.Update([]byte("a"), 20))
	require.NoError(t, idx.Update([]byte("b"), 40))

	want := []Entry{
		{Key: []byte("a"), Offset: 20},
		{Key: []byte("b"), Offset: 40},
		{Key: []byte("c"), Offset: 60},
	}
	if diff := cmp.Diff(want, idx.Entries()); diff != "" {
		t.Errorf("Entries() mismatch (-want +got):\n%s", diff)
	}
}

func TestClear(t *testing.T) {
	idx := New(2, 2)
	require.NoError(t, idx.Update([]byte("a"), 1))
	require.NoError(t, idx.Update([]byte("b"), 2))
	idx.Clear()

	assert.Zero(t, idx.Len())
	assert.False(t, idx.Has([]byte("a")))
	require.NoError(t, idx.Update([]byte("c"), 3))
	require.NoError(t, idx.Update([]byte("d"), 4))
}

func TestRangeStopsEarly(t *testing.T) {
	idx := New(8, 2)
	for i := 0; i < 5; i++ {
		require.NoError(t, idx.Update([]byte(fmt.Sprintf("k%d", i)), uint32(20+i*16)))
	}

	seen := map[string]uint32{}
	idx.Range(func(key []byte, offset uint32) bool {
		seen[string(key)] = offset
		return true
	})
	assert.Len(t, seen, 5)
	assert.Equal(t, uint32(52), seen["k2"])

	visited := 0
	idx.Range(func([]byte, uint32) bool {
		visited++
		return visited < 2
	})
	assert.Equal(t, 2, visited)
}
