package client

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movesync/protocol"
)

func player(id uint32, x float32) protocol.PlayerState {
	return protocol.PlayerState{ID: id, Movement: mgl32.Vec2{1, 0}, Position: mgl32.Vec3{x, 0, 0}}
}

func permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := append(append(append([]int{}, p[:i]...), n-1), p[i:]...)
			out = append(out, q)
		}
	}
	return out
}

func TestMonotonicFrameAnyOrder(t *testing.T) {
	frames := []uint32{3, 8, 1, 5, 6}
	for _, adopt := range []bool{true, false} {
		for _, order := range permutations(len(frames)) {
			r := NewReconciler(adopt)
			r.OnJoined(1)
			for _, i := range order {
				f := frames[i]
				r.OnGameState(protocol.GameState{
					Frame:      f,
					Players:    []protocol.PlayerState{player(1, float32(f)*2), player(3, float32(f))},
					NewPlayers: []uint32{3},
				})
			}
			e, ok := r.Entity(3)
			require.True(t, ok, "order %v", order)
			assert.Equal(t, uint32(8), e.Frame, "order %v", order)
			assert.Equal(t, mgl32.Vec3{8, 0, 0}, e.Position, "order %v", order)

			self, ok := r.Entity(1)
			require.True(t, ok)
			assert.Equal(t, uint32(8), self.Frame)
			assert.Equal(t, mgl32.Vec3{16, 0, 0}, self.Position)
			assert.Len(t, r.Entities(), 2)
		}
	}
}

func TestSelfExclusion(t *testing.T) {
	r := NewReconciler(true)
	require.True(t, r.OnJoined(7))
	assert.False(t, r.OnJoined(7))

	res := r.OnGameState(protocol.GameState{
		Frame:      0,
		Players:    []protocol.PlayerState{player(7, 4)},
		NewPlayers: []uint32{7},
	})
	assert.Equal(t, 0, res.Spawned)
	assert.Equal(t, 1, res.Updated)

	ents := r.Entities()
	require.Len(t, ents, 1)
	assert.Equal(t, uint32(7), ents[0].ID)
	assert.True(t, ents[0].Local)
	assert.Equal(t, mgl32.Vec3{4, 0, 0}, ents[0].Position)
	assert.Equal(t, Session{HasJoined: true, Handle: 7}, r.Session())
}

func TestOutOfOrderSnapshotIsIgnored(t *testing.T) {
	r := NewReconciler(false)
	r.OnJoined(1)
	r.OnGameState(protocol.GameState{Frame: 5, Players: []protocol.PlayerState{player(3, 10)}, NewPlayers: []uint32{3}})

	res := r.OnGameState(protocol.GameState{Frame: 4, Players: []protocol.PlayerState{{ID: 3}}})
	assert.Equal(t, 1, res.Stale)

	e, ok := r.Entity(3)
	require.True(t, ok)
	assert.Equal(t, uint32(5), e.Frame)
	assert.Equal(t, mgl32.Vec3{10, 0, 0}, e.Position)
	assert.Equal(t, mgl32.Vec2{1, 0}, e.Movement)
}

func TestNewPlayerSpawn(t *testing.T) {
	r := NewReconciler(false)
	r.OnJoined(1)
	res := r.OnGameState(protocol.GameState{
		Frame:      2,
		Players:    []protocol.PlayerState{{ID: 9}},
		NewPlayers: []uint32{9},
	})
	assert.Equal(t, 1, res.Spawned)

	count := 0
	for _, e := range r.Entities() {
		if e.ID == 9 {
			count++
			assert.Equal(t, uint32(2), e.Frame)
			assert.False(t, e.Local)
		}
	}
	assert.Equal(t, 1, count)
}

func TestUnknownEntryIgnoredWithoutAdoption(t *testing.T) {
	r := NewReconciler(false)
	r.OnJoined(1)
	res := r.OnGameState(protocol.GameState{Frame: 3, Players: []protocol.PlayerState{player(1, 0), player(4, 1)}})
	assert.Equal(t, 0, res.Spawned)
	_, ok := r.Entity(4)
	assert.False(t, ok)
}

func TestAdoptionRecoversLostAnnouncement(t *testing.T) {
	r := NewReconciler(true)
	r.OnJoined(1)
	// 宣布 4 加入的那一帧丢失了
	res := r.OnGameState(protocol.GameState{Frame: 3, Players: []protocol.PlayerState{player(1, 0), player(4, 1)}})
	assert.Equal(t, 1, res.Spawned)
	e, ok := r.Entity(4)
	require.True(t, ok)
	assert.Equal(t, uint32(3), e.Frame)
	assert.Equal(t, mgl32.Vec3{1, 0, 0}, e.Position)
}

func TestSweepRemovesDepartedPlayer(t *testing.T) {
	r := NewReconciler(true)
	r.OnJoined(1)
	r.OnGameState(protocol.GameState{Frame: 1, Players: []protocol.PlayerState{player(1, 0), player(2, 0)}, NewPlayers: []uint32{2}})
	require.Len(t, r.Entities(), 2)

	res := r.OnGameState(protocol.GameState{Frame: 2, Players: []protocol.PlayerState{player(1, 1)}})
	assert.Equal(t, 1, res.Removed)
	_, ok := r.Entity(2)
	assert.False(t, ok)

	// 迟到的旧快照不会让已离开的玩家复活
	r.OnGameState(protocol.GameState{Frame: 1, Players: []protocol.PlayerState{player(1, 0), player(2, 0)}, NewPlayers: []uint32{2}})
	_, ok = r.Entity(2)
	assert.False(t, ok)
	assert.Equal(t, uint32(2), r.Session().LatestFrame)
}

func TestSweepKeepsLocalEntityBeforeItAppears(t *testing.T) {
	r := NewReconciler(true)
	r.OnJoined(5)
	// 加入前构建的快照在 Joined 之后才到达
	r.OnGameState(protocol.GameState{Frame: 3, Players: []protocol.PlayerState{player(2, 0)}})
	e, ok := r.Entity(5)
	require.True(t, ok)
	assert.True(t, e.Local)
	assert.Equal(t, uint32(0), e.Frame)
}

func TestStaleSnapshotDoesNotSweep(t *testing.T) {
	r := NewReconciler(false)
	r.OnJoined(1)
	r.OnGameState(protocol.GameState{Frame: 6, Players: []protocol.PlayerState{player(2, 0)}, NewPlayers: []uint32{2}})
	r.OnGameState(protocol.GameState{Frame: 4, Players: nil})
	_, ok := r.Entity(2)
	assert.True(t, ok)
}

func TestRejoinWithNewHandle(t *testing.T) {
	r := NewReconciler(true)
	r.OnJoined(2)
	require.True(t, r.OnJoined(3))
	ents := r.Entities()
	require.Len(t, ents, 1)
	assert.Equal(t, uint32(3), ents[0].ID)
}

func TestSnapshotBeforeJoinedKeepsFrame(t *testing.T) {
	r := NewReconciler(true)
	r.OnGameState(protocol.GameState{
		Frame:      5,
		Players:    []protocol.PlayerState{player(7, 40)},
		NewPlayers: []uint32{7},
	})
	require.True(t, r.OnJoined(7))

	e, ok := r.Entity(7)
	require.True(t, ok)
	assert.True(t, e.Local)
	assert.Equal(t, uint32(5), e.Frame)
	assert.Equal(t, mgl32.Vec3{40, 0, 0}, e.Position)
	assert.Equal(t, mgl32.Vec2{1, 0}, e.Movement)
	assert.Len(t, r.Entities(), 1)

	// 更旧的快照不能再回退本地实体
	res := r.OnGameState(protocol.GameState{Frame: 3, Players: []protocol.PlayerState{player(7, 10)}})
	assert.Equal(t, 1, res.Stale)
	e, _ = r.Entity(7)
	assert.Equal(t, uint32(5), e.Frame)
	assert.Equal(t, mgl32.Vec3{40, 0, 0}, e.Position)
}

func TestReset(t *testing.T) {
	r := NewReconciler(true)
	r.OnJoined(2)
	r.OnGameState(protocol.GameState{Frame: 1, Players: []protocol.PlayerState{player(4, 0)}})
	r.Reset()
	assert.Empty(t, r.Entities())
	assert.Equal(t, Session{}, r.Session())
}
