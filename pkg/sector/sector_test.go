package sector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevoDB/tinynvs/pkg/flash"
)

func TestTransitionsOnlyClearBits(t *testing.T) {
	chain := [][2]State{
		{StateEmpty, StateCopying},
		{StateEmpty, StateUsed},
		{StateCopying, StateUsed},
		{StateUsed, StateFull},
		{StateFull, StateGarbage},
		{StateCopying, StateGarbage},
	}
	for _, step := range chain {
		from, err := EncodeState(step[0])
		require.NoError(t, err)
		to, err := EncodeState(step[1])
		require.NoError(t, err)
		assert.Equal(t, to, from&to, "%s -> %s must only clear bits", step[0], step[1])
	}
}

func TestStateRoundTrip(t *testing.T) {
	for _, s := range []State{StateEmpty, StateCopying, StateUsed, StateFull, StateGarbage} {
		v, err := EncodeState(s)
		require.NoError(t, err)
		assert.Equal(t, s, DecodeState(v))
	}
	assert.Equal(t, StateUnknown, DecodeState(0xFFFF00FF))

	_, err := EncodeState(StateErased)
	assert.ErrorIs(t, err, ErrNoWire)
}

func TestHeaderLayout(t *testing.T) {
	buf, err := Header{Magic: Magic, EraseCount: 7, State: StateUsed, SeqID: 42}.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x54, 0x4B, 0x56, 0x31,
		0x07, 0x00, 0x00, 0x00,
		0x00, 0x00, 0xFF, 0xFF,
		0x2A, 0x00, 0x00, 0x00,
		0xFF, 0xFF, 0xFF, 0xFF,
	}, buf)

	h := Decode(buf)
	assert.True(t, h.Valid())
	assert.Equal(t, Header{Magic: Magic, EraseCount: 7, State: StateUsed, SeqID: 42}, h)
}

func TestDecodeBlank(t *testing.T) {
	blank := make([]byte, HeaderSize)
	for i := range blank {
		blank[i] = 0xFF
	}
	h := Decode(blank)
	assert.False(t, h.Valid())
	assert.Equal(t, StateErased, h.State)
}

func TestFormatAndSetState(t *testing.T) {
	dev := flash.NewMemDevice(512, 2)
	require.NoError(t, dev.Write(512+100, []byte{0x00}))

	require.NoError(t, Format(dev, 512, 4, 9))
	h, err := ReadHeader(dev, 512)
	require.NoError(t, err)
	assert.Equal(t, StateEmpty, h.State)
	assert.Equal(t, uint32(5), h.EraseCount)
	assert.Equal(t, uint32(9), h.SeqID)
	assert.Equal(t, []byte{0xFF}, dev.Peek(512+100, 1))

	for _, s := range []State{StateCopying, StateUsed, StateFull} {
		require.NoError(t, SetState(dev, 512, s))
		h, err = ReadHeader(dev, 512)
		require.NoError(t, err)
		assert.Equal(t, s, h.State)
	}
	assert.Zero(t, dev.Violations())
}

func TestTornStateSettles(t *testing.T) {
	tests := []struct {
		raw  uint32
		want State
	}{
		{0xFFFFFF0F, StateEmpty},   // Empty -> Copying
		{0xFFFF0F00, StateCopying}, // Copying -> Used
		{0x0FFF0000, StateUsed},    // Used -> Full
		{0x00F00000, StateFull},    // Full -> Garbage
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Settle(tt.raw), "raw %#08x", tt.raw)
	}

	buf, err := Header{Magic: Magic, EraseCount: 1, State: StateUsed, SeqID: 3}.Encode()
	require.NoError(t, err)
	buf[11] = 0x0F
	h := Decode(buf)
	assert.True(t, h.Torn)
	assert.Equal(t, StateUsed, h.State)
}
