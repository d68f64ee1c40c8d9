package transport

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// MemoryNetwork 进程内的虚拟网络，按地址连接多个 Memory 端点
type MemoryNetwork struct {
	mu        sync.Mutex
	listeners map[string]*Memory
}

// NewMemoryNetwork 创建空的虚拟网络
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{listeners: make(map[string]*Memory)}
}

// DropFunc 返回 true 时该消息被丢弃，用于模拟丢包
type DropFunc func(channel uint8, payload []byte) bool

type link struct {
	peer   *Memory
	remote Handle
}

// Memory 内存传输端点；发送同步投递到对端入站队列
type Memory struct {
	state

	network    *MemoryNetwork
	nextHandle atomic.Uint32
	addr       string

	linksMu sync.RWMutex
	links   map[Handle]link
	drop    DropFunc
}

var _ Transport = (*Memory)(nil)

// Endpoint 在该网络上创建一个新端点
func (n *MemoryNetwork) Endpoint() *Memory {
	m := &Memory{network: n, links: make(map[Handle]link)}
	m.state.init()
	return m
}

// SetDropFunc 设置丢包钩子（nil 表示不丢包）
func (m *Memory) SetDropFunc(f DropFunc) {
	m.linksMu.Lock()
	defer m.linksMu.Unlock()
	m.drop = f
}

// Listen 在虚拟地址上监听
func (m *Memory) Listen(addr string) error {
	if m.isClosed() {
		return ErrClosed
	}
	m.network.mu.Lock()
	defer m.network.mu.Unlock()
	if _, ok := m.network.listeners[addr]; ok {
		return errors.Wrap(ErrAddrInUse, addr)
	}
	m.network.listeners[addr] = m
	m.addr = addr
	return nil
}

// Connect 连接到虚拟地址上的监听端点，双方各自分配句柄并收到 Connected
func (m *Memory) Connect(addr string) error {
	if m.isClosed() {
		return ErrClosed
	}
	m.network.mu.Lock()
	srv, ok := m.network.listeners[addr]
	m.network.mu.Unlock()
	if !ok || srv.isClosed() {
		return errors.Wrap(ErrNoListener, addr)
	}
	local := Handle(m.nextHandle.Add(1))
	remote := Handle(srv.nextHandle.Add(1))

	m.linksMu.Lock()
	m.links[local] = link{peer: srv, remote: remote}
	m.linksMu.Unlock()
	srv.linksMu.Lock()
	srv.links[remote] = link{peer: m, remote: local}
	srv.linksMu.Unlock()

	m.addPeer(local)
	srv.addPeer(remote)
	return nil
}

// Send 同步投递到对端；对端队列满时丢弃最旧消息
func (m *Memory) Send(h Handle, channel uint8, payload []byte) error {
	if m.isClosed() {
		return ErrClosed
	}
	if _, ok := m.registered(channel); !ok {
		return errors.Wrapf(ErrChannelNotRegistered, "channel %d", channel)
	}
	m.linksMu.RLock()
	l, ok := m.links[h]
	drop := m.drop
	m.linksMu.RUnlock()
	if !ok {
		return errors.Wrapf(ErrUnknownHandle, "handle %d", h)
	}
	if drop != nil && drop(channel, payload) {
		return nil
	}
	l.peer.deliver(l.remote, frame(channel, payload))
	return nil
}

// Broadcast 发送给所有连接
func (m *Memory) Broadcast(channel uint8, payload []byte) error {
	var err error
	for _, h := range m.Connections() {
		err = multierr.Append(err, m.Send(h, channel, payload))
	}
	return err
}

// Disconnect 断开单个连接，双方收到 Disconnected
func (m *Memory) Disconnect(h Handle) error {
	m.linksMu.Lock()
	l, ok := m.links[h]
	delete(m.links, h)
	m.linksMu.Unlock()
	if !ok {
		return errors.Wrapf(ErrUnknownHandle, "handle %d", h)
	}
	l.peer.linksMu.Lock()
	delete(l.peer.links, l.remote)
	l.peer.linksMu.Unlock()

	m.removePeer(h)
	l.peer.removePeer(l.remote)
	return nil
}

// Close 断开全部连接并释放监听地址
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	for _, h := range m.Connections() {
		_ = m.Disconnect(h)
	}
	m.network.mu.Lock()
	if m.addr != "" && m.network.listeners[m.addr] == m {
		delete(m.network.listeners, m.addr)
	}
	m.network.mu.Unlock()
	return nil
}
