// Package transport 提供不可靠、面向消息、多通道的网络抽象。
//
// 每条连接由传输层分配的 Handle 标识。入站数据按通道进入每连接的有界队列，
// 由上层在各自的 Tick 中非阻塞地取出；连接生命周期以 Event 的形式推送。
// 不提供可靠或有序投递保证：消息可能丢失、重复或乱序到达。
package transport

import "fmt"

// Handle 传输层分配的连接句柄，断开后失效且不会复用
type Handle uint32

// DeliveryMode 通道投递模式
type DeliveryMode int

const (
	// Unreliable 不保证送达与顺序
	Unreliable DeliveryMode = iota
)

// ChannelSettings 通道注册参数
type ChannelSettings struct {
	Channel           uint8
	Mode              DeliveryMode
	MessageBufferSize int // 每连接每通道的入站队列深度，满时丢弃最旧
	PacketBufferSize  int // 每连接出站队列深度，满时丢弃新包并返回 ErrBufferFull
}

// EventKind 连接事件类型
type EventKind int

const (
	Connected EventKind = iota
	Disconnected
	Packet // 未注册通道上的原始数据
	Error
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Packet:
		return "packet"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event 连接事件
type Event struct {
	Kind    EventKind
	Handle  Handle
	Payload []byte
	Err     error
}

// Transport 上层依赖的网络接口
type Transport interface {
	// Register 注册通道，须在 Listen/Connect 之前调用
	Register(ChannelSettings) error
	Listen(addr string) error
	Connect(addr string) error
	// Send 向单个连接发送；失败不重试
	Send(h Handle, channel uint8, payload []byte) error
	// Broadcast 向所有连接发送，返回聚合后的发送错误
	Broadcast(channel uint8, payload []byte) error
	// PollEvents 取出自上次调用以来的全部事件
	PollEvents() []Event
	// Recv 非阻塞地取出某连接某通道的下一条消息
	Recv(h Handle, channel uint8) ([]byte, bool)
	Connections() []Handle
	Close() error
}
