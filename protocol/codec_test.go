package protocol

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movesync/transport"
)

func TestEncodeAssignsChannels(t *testing.T) {
	ch, _, err := Encode(Join())
	require.NoError(t, err)
	assert.Equal(t, ChannelClient, ch)

	ch, _, err = Encode(Joined(7))
	require.NoError(t, err)
	assert.Equal(t, ChannelServer, ch)

	ch, _, err = Encode(GameState{Frame: 1})
	require.NoError(t, err)
	assert.Equal(t, ChannelGameState, ch)
}

func TestDirectionIsNotNormalized(t *testing.T) {
	_, payload, err := Encode(Direction(mgl32.Vec2{1, -1}))
	require.NoError(t, err)

	msg, err := DecodeClientMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, KindDirection, msg.Kind)
	assert.Equal(t, mgl32.Vec2{1, -1}, msg.Direction)
}

func TestLargeSnapshotIsCompressed(t *testing.T) {
	state := GameState{Frame: 42, NewPlayers: []uint32{3}}
	for i := uint32(0); i < 200; i++ {
		state.Players = append(state.Players, PlayerState{
			ID:       i,
			Movement: mgl32.Vec2{1, 0},
			Position: mgl32.Vec3{float32(i), 0, 0},
		})
	}

	_, payload, err := Encode(state)
	require.NoError(t, err)
	require.Equal(t, flagLZ4, payload[0])

	got, err := DecodeGameState(payload)
	require.NoError(t, err)
	assert.Equal(t, state.Frame, got.Frame)
	assert.Equal(t, state.NewPlayers, got.NewPlayers)
	require.Len(t, got.Players, 200)
	assert.Equal(t, mgl32.Vec3{199, 0, 0}, got.Players[199].Position)
}

func TestSmallSnapshotIsPlain(t *testing.T) {
	_, payload, err := Encode(GameState{Frame: 2, NewPlayers: []uint32{9}, Players: []PlayerState{{ID: 9}}})
	require.NoError(t, err)
	assert.Equal(t, flagPlain, payload[0])

	got, err := DecodeGameState(payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), got.Frame)
	assert.Equal(t, []uint32{9}, got.NewPlayers)
	require.Len(t, got.Players, 1)
	assert.Equal(t, uint32(9), got.Players[0].ID)
}

func TestDecodeRejectsBadInput(t *testing.T) {
	_, err := DecodeGameState(nil)
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = DecodeGameState([]byte{0x7f, 0x01})
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = DecodeGameState([]byte{flagPlain, 0xc1})
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = DecodeGameState([]byte{flagLZ4, 0x00, 0x01, 0x02})
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestDecodeRejectsWrongKind(t *testing.T) {
	_, payload, err := Encode(Joined(1))
	require.NoError(t, err)

	// Joined 的编码放到客户端通道上解码
	_, err = DecodeClientMessage(payload)
	assert.True(t, errors.Is(err, ErrUnknownKind))

	_, payload, err = Encode(Join())
	require.NoError(t, err)
	_, err = DecodeServerMessage(payload)
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestDecodeByChannel(t *testing.T) {
	ch, payload, err := Encode(Joined(11))
	require.NoError(t, err)

	msg, err := Decode(ch, payload)
	require.NoError(t, err)
	assert.Equal(t, Joined(11), msg)

	_, err = Decode(9, payload)
	assert.True(t, errors.Is(err, ErrUnknownChannel))
}

func TestChannelsAreUnreliableAndDistinct(t *testing.T) {
	seen := map[uint8]bool{}
	for _, cs := range Channels() {
		assert.Equal(t, transport.Unreliable, cs.Mode)
		assert.Equal(t, 8, cs.MessageBufferSize)
		assert.Equal(t, 8, cs.PacketBufferSize)
		assert.False(t, seen[cs.Channel])
		seen[cs.Channel] = true
	}
	assert.Len(t, seen, 3)
}
