// Package protocol 定义客户端与服务端之间交换的消息及其通道分配。
//
// 三类消息各占一个独立的不可靠通道，互不造成队头阻塞：
//
//	通道 0  ClientMessage  客户端 -> 服务端  Join / Direction
//	通道 1  ServerMessage  服务端 -> 客户端  Joined
//	通道 2  GameState      服务端 -> 客户端  周期性全量快照
//
// Direction 携带的是原始按键轴向和（每轴取值 {-1,0,1}），不做归一化；
// 归一化与移动速度属于服务端模拟步骤的职责，不进入线上格式。
package protocol

import (
	"github.com/go-gl/mathgl/mgl32"
)

// MessageKind 区分同一通道内的消息种类
type MessageKind uint8

const (
	KindJoin MessageKind = iota + 1
	KindDirection
	KindJoined
)

func (k MessageKind) String() string {
	switch k {
	case KindJoin:
		return "join"
	case KindDirection:
		return "direction"
	case KindJoined:
		return "joined"
	default:
		return "unknown"
	}
}

// Message 所有可编码消息都知道自己所属的通道
type Message interface {
	Channel() uint8
}

// ClientMessage 客户端发往服务端的消息（加入请求或移动意图）
type ClientMessage struct {
	Kind      MessageKind `msgpack:"k"`
	Direction mgl32.Vec2  `msgpack:"d"`
}

// Join 请求加入会话
func Join() ClientMessage {
	return ClientMessage{Kind: KindJoin}
}

// Direction 当前移动意图（原始轴向和）
func Direction(v mgl32.Vec2) ClientMessage {
	return ClientMessage{Kind: KindDirection, Direction: v}
}

func (ClientMessage) Channel() uint8 { return ChannelClient }

// ServerMessage 服务端发往单个客户端的定向消息
type ServerMessage struct {
	Kind   MessageKind `msgpack:"k"`
	Handle uint32      `msgpack:"h"`
}

// Joined 确认加入，并告知客户端被分配的连接句柄
func Joined(handle uint32) ServerMessage {
	return ServerMessage{Kind: KindJoined, Handle: handle}
}

func (ServerMessage) Channel() uint8 { return ChannelServer }

// PlayerState 快照中的单个玩家条目 (id, movement, position)
type PlayerState struct {
	_msgpack struct{} `msgpack:",as_array"`

	ID       uint32
	Movement mgl32.Vec2
	Position mgl32.Vec3
}

// GameState 权威全量快照；丢失一帧无妨，下一帧会重发全部实体
type GameState struct {
	Frame      uint32        `msgpack:"f"`
	Players    []PlayerState `msgpack:"p"`
	NewPlayers []uint32      `msgpack:"n,omitempty"`
}

func (GameState) Channel() uint8 { return ChannelGameState }
