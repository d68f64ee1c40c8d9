package server

import (
	"github.com/go-gl/mathgl/mgl32"

	"movesync/protocol"
	"movesync/transport"
)

// Player 服务端权威的玩家实体，由唯一的连接句柄驱动
type Player struct {
	Handle   transport.Handle
	Movement mgl32.Vec2 // 最近一次收到的移动意图（按轴裁剪到 [-1,1]）
	Position mgl32.Vec3
}

// State 转换为快照条目；实体 id 即控制它的句柄
func (p *Player) State() protocol.PlayerState {
	return protocol.PlayerState{
		ID:       uint32(p.Handle),
		Movement: p.Movement,
		Position: p.Position,
	}
}

// ConnState 连接在模拟中的生命周期
type ConnState int

const (
	StateUnknown ConnState = iota
	StateConnected
	StateJoined
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	default:
		return "unknown"
	}
}
