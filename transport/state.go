package transport

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

const defaultBufferSize = 8

// queue 有界 FIFO，满时丢弃最旧的一条
type queue struct {
	items [][]byte
	limit int
}

func (q *queue) push(b []byte) (dropped bool) {
	if len(q.items) >= q.limit {
		q.items = q.items[1:]
		dropped = true
	}
	q.items = append(q.items, b)
	return dropped
}

func (q *queue) pop() ([]byte, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	b := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return b, true
}

// state 两种传输实现共用的簿记：通道注册、事件队列、每连接入站队列
type state struct {
	mu       sync.Mutex
	channels map[uint8]ChannelSettings
	events   []Event
	inboxes  map[Handle]map[uint8]*queue
	closed   bool
	overflow uint64 // 因入站队列满而丢弃的消息数
}

func (s *state) init() {
	s.channels = make(map[uint8]ChannelSettings)
	s.inboxes = make(map[Handle]map[uint8]*queue)
}

func (s *state) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Register 注册通道
func (s *state) Register(cs ChannelSettings) error {
	if cs.Mode != Unreliable {
		return errors.Wrapf(ErrUnsupportedMode, "channel %d", cs.Channel)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[cs.Channel]; ok {
		return errors.Wrapf(ErrAlreadyRegistered, "channel %d", cs.Channel)
	}
	if cs.MessageBufferSize <= 0 {
		cs.MessageBufferSize = defaultBufferSize
	}
	if cs.PacketBufferSize <= 0 {
		cs.PacketBufferSize = defaultBufferSize
	}
	s.channels[cs.Channel] = cs
	return nil
}

// PollEvents 取出全部待处理事件
func (s *state) PollEvents() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := s.events
	s.events = nil
	return ev
}

// Recv 取出某连接某通道的下一条消息
func (s *state) Recv(h Handle, channel uint8) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.inboxes[h][channel]
	if !ok {
		return nil, false
	}
	return q.pop()
}

// Connections 当前连接句柄（升序）
func (s *state) Connections() []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs := make([]Handle, 0, len(s.inboxes))
	for h := range s.inboxes {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
	return hs
}

// Overflow 因入站队列满被丢弃的消息总数
func (s *state) Overflow() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overflow
}

func (s *state) registered(channel uint8) (ChannelSettings, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.channels[channel]
	return cs, ok
}

// packetBufferSize 出站队列深度取各通道配置的总和
func (s *state) packetBufferSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, cs := range s.channels {
		n += cs.PacketBufferSize
	}
	if n == 0 {
		n = defaultBufferSize
	}
	return n
}

func (s *state) pushEvent(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *state) addPeer(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inboxes[h] = make(map[uint8]*queue)
	s.events = append(s.events, Event{Kind: Connected, Handle: h})
}

// removePeer 移除连接并推送 Disconnected；重复移除返回 false
func (s *state) removePeer(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inboxes[h]; !ok {
		return false
	}
	delete(s.inboxes, h)
	s.events = append(s.events, Event{Kind: Disconnected, Handle: h})
	return true
}

// deliver 将一帧 [channel][payload] 放入对应入站队列；未注册通道作为 Packet 事件上报
func (s *state) deliver(h Handle, frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inbox, ok := s.inboxes[h]
	if !ok {
		return
	}
	if len(frame) == 0 {
		s.events = append(s.events, Event{Kind: Error, Handle: h, Err: errors.New("empty frame")})
		return
	}
	channel, payload := frame[0], frame[1:]
	cs, ok := s.channels[channel]
	if !ok {
		s.events = append(s.events, Event{Kind: Packet, Handle: h, Payload: frame})
		return
	}
	q, ok := inbox[channel]
	if !ok {
		q = &queue{limit: cs.MessageBufferSize}
		inbox[channel] = q
	}
	if q.push(payload) {
		s.overflow++
	}
}

func frame(channel uint8, payload []byte) []byte {
	b := make([]byte, 0, len(payload)+1)
	b = append(b, channel)
	return append(b, payload...)
}
