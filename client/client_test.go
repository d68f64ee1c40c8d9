package client

import (
	"context"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movesync/input"
	"movesync/protocol"
	"movesync/server"
	"movesync/transport"
)

type world struct {
	network *transport.MemoryNetwork
	srv     *server.Server
	st      *transport.Memory
}

func newWorld(t *testing.T) *world {
	t.Helper()
	network := transport.NewMemoryNetwork()
	st := network.Endpoint()
	srv, err := server.New(st, server.WithTickInterval(100*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, srv.Listen("arena"))
	return &world{network: network, srv: srv, st: st}
}

func (w *world) join(t *testing.T, src input.Source, opts ...Option) (*Client, *transport.Memory) {
	t.Helper()
	ct := w.network.Endpoint()
	c, err := New(ct, src, opts...)
	require.NoError(t, err)
	require.NoError(t, c.Connect("arena"))
	return c, ct
}

// step 模拟一次完整往返：客户端处理事件 → 服务端处理并积分、广播 → 客户端合并
func (w *world) step(t *testing.T, clients ...*Client) {
	t.Helper()
	for _, c := range clients {
		require.NoError(t, c.Poll())
		require.NoError(t, c.SampleInput())
	}
	w.srv.Poll()
	w.srv.Integrate()
	require.NoError(t, w.srv.BroadcastState())
	for _, c := range clients {
		require.NoError(t, c.Poll())
	}
}

func TestClientJoinRoundTrip(t *testing.T) {
	w := newWorld(t)
	c, _ := w.join(t, input.Static{Right: true})

	w.step(t, c)
	s := c.Session()
	require.True(t, s.HasJoined)
	assert.Equal(t, uint32(1), s.Handle)

	// 自己出现在 new_players 中，但不会生成第二个实体
	ents := c.Entities()
	require.Len(t, ents, 1)
	assert.True(t, ents[0].Local)
	assert.Equal(t, uint32(0), ents[0].Frame)

	w.step(t, c)
	ents = c.Entities()
	require.Len(t, ents, 1)
	assert.Equal(t, uint32(1), ents[0].Frame)
	// 每个积分 Tick 移动 300 * 0.1 = 30，已经过两个 Tick
	assert.InDelta(t, 60, ents[0].Position.X(), 1e-3)
	assert.Equal(t, mgl32.Vec2{1, 0}, ents[0].Movement)
}

func TestClientsSeeEachOther(t *testing.T) {
	w := newWorld(t)
	a, _ := w.join(t, input.Static{Up: true})
	w.step(t, a)

	b, bt := w.join(t, input.Static{Left: true, Down: true})
	w.step(t, a, b)
	w.step(t, a, b)

	for _, c := range []*Client{a, b} {
		ents := c.Entities()
		require.Len(t, ents, 2)
		assert.Equal(t, uint32(1), ents[0].ID)
		assert.Equal(t, uint32(2), ents[1].ID)
	}
	bSeenByA, ok := a.Reconciler().Entity(2)
	require.True(t, ok)
	assert.Equal(t, mgl32.Vec2{-1, -1}, bSeenByA.Movement)
	assert.InDelta(t, 60, bSeenByA.Position.Len(), 1e-3)
	assert.InDelta(t, bSeenByA.Position.X(), bSeenByA.Position.Y(), 1e-4)

	// b 断开后，a 在下一帧快照中清除它
	require.NoError(t, bt.Disconnect(1))
	w.step(t, a)
	_, ok = a.Reconciler().Entity(2)
	assert.False(t, ok)
	assert.Equal(t, 1, w.srv.Simulation().Len())
}

func TestClientRetriesJoin(t *testing.T) {
	now := time.Unix(0, 0)
	w := newWorld(t)
	c, ct := w.join(t, nil, WithClock(func() time.Time { return now }), WithJoinRetryInterval(time.Second))

	// 第一次 Join 丢失
	ct.SetDropFunc(func(channel uint8, _ []byte) bool { return channel == protocol.ChannelClient })
	require.NoError(t, c.Poll())
	ct.SetDropFunc(nil)
	w.srv.Poll()
	assert.Equal(t, 0, w.srv.Simulation().Len())

	now = now.Add(500 * time.Millisecond)
	require.NoError(t, c.Poll())
	assert.Equal(t, int64(1), c.Metrics().JoinsSent)

	now = now.Add(time.Second)
	require.NoError(t, c.Poll())
	assert.Equal(t, int64(2), c.Metrics().JoinsSent)

	w.srv.Poll()
	require.NoError(t, c.Poll())
	assert.True(t, c.Session().HasJoined)

	now = now.Add(5 * time.Second)
	require.NoError(t, c.Poll())
	assert.Equal(t, int64(2), c.Metrics().JoinsSent)
}

func TestClientIgnoresLateSnapshot(t *testing.T) {
	w := newWorld(t)
	c, _ := w.join(t, input.Static{Right: true})
	w.step(t, c)

	// 手工保存一帧，稍后乱序投递
	w.srv.Poll()
	w.srv.Integrate()
	old := w.srv.Simulation().Snapshot()
	w.step(t, c)

	self := c.Entities()[0]
	_, payload, err := protocol.Encode(old)
	require.NoError(t, err)
	require.NoError(t, w.st.Send(1, protocol.ChannelGameState, payload))
	require.NoError(t, c.Poll())

	after := c.Entities()[0]
	assert.Equal(t, self, after)
	assert.Equal(t, int64(1), c.Metrics().Stale)
}

func TestClientDisconnect(t *testing.T) {
	w := newWorld(t)
	c, _ := w.join(t, nil)
	w.step(t, c)
	require.True(t, c.Session().HasJoined)

	require.NoError(t, w.st.Close())
	err := c.Poll()
	assert.True(t, errors.Is(err, ErrDisconnected))
	assert.Empty(t, c.Entities())
	assert.NoError(t, c.SampleInput())
}

func TestClientRun(t *testing.T) {
	w := newWorld(t)
	c, _ := w.join(t, input.Static{Up: true}, WithTickInterval(2*time.Millisecond), WithStatusInterval(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.srv.Run(ctx) }()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(300 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Positive(t, c.Metrics().DirectionsSent)
	assert.Positive(t, c.Metrics().Snapshots)
}

func TestNewRejectsBadTick(t *testing.T) {
	_, err := New(transport.NewMemoryNetwork().Endpoint(), nil, WithTickInterval(0))
	assert.Error(t, err)
}
