package server

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"movesync/protocol"
	"movesync/transport"
)

// Accumulator 广播累加器：帧号与自上次广播以来新加入的玩家
type Accumulator struct {
	Frame             uint32
	PendingNewPlayers []uint32
}

// Simulation 权威世界：只在单一 Tick 协程中被修改，不做任何 I/O
type Simulation struct {
	players map[transport.Handle]*Player
	conns   map[transport.Handle]ConnState
	acc     Accumulator
	speed   float32
}

// NewSimulation 创建空世界，speed 为每秒移动单位
func NewSimulation(speed float32) *Simulation {
	return &Simulation{
		players: make(map[transport.Handle]*Player),
		conns:   make(map[transport.Handle]ConnState),
		speed:   speed,
	}
}

// OnConnect 仅记录连接；收到 Join 之前不创建实体
func (s *Simulation) OnConnect(h transport.Handle) {
	if _, ok := s.conns[h]; !ok {
		s.conns[h] = StateConnected
	}
}

// OnJoin 为句柄创建玩家并登记到待广播列表；重复 Join 不创建第二个实体，返回 false
func (s *Simulation) OnJoin(h transport.Handle) bool {
	s.conns[h] = StateJoined
	if _, ok := s.players[h]; ok {
		return false
	}
	s.players[h] = &Player{Handle: h}
	s.acc.PendingNewPlayers = append(s.acc.PendingNewPlayers, uint32(h))
	return true
}

// OnDirection 覆盖玩家的移动意图；未知句柄（加入前或断开后）返回 false
func (s *Simulation) OnDirection(h transport.Handle, v mgl32.Vec2) bool {
	p, ok := s.players[h]
	if !ok {
		return false
	}
	p.Movement = sanitize(v)
	return true
}

// OnDisconnect 立即移除玩家，并从待广播列表中剔除该句柄
func (s *Simulation) OnDisconnect(h transport.Handle) bool {
	delete(s.conns, h)
	if _, ok := s.players[h]; !ok {
		return false
	}
	delete(s.players, h)
	pending := s.acc.PendingNewPlayers[:0]
	for _, id := range s.acc.PendingNewPlayers {
		if id != uint32(h) {
			pending = append(pending, id)
		}
	}
	s.acc.PendingNewPlayers = pending
	return true
}

// Integrate 按移动意图推进一个 Tick：双轴同时非零时先归一化，再乘以 speed*dt
func (s *Simulation) Integrate(dt float32) {
	step := s.speed * dt
	for _, p := range s.players {
		d := p.Movement
		if d.X() != 0 && d.Y() != 0 {
			d = d.Normalize()
		}
		p.Position = p.Position.Add(d.Mul(step).Vec3(0))
	}
}

// Snapshot 生成全量快照并清空待广播列表，随后帧号加一
func (s *Simulation) Snapshot() protocol.GameState {
	msg := protocol.GameState{
		Frame:      s.acc.Frame,
		Players:    make([]protocol.PlayerState, 0, len(s.players)),
		NewPlayers: s.acc.PendingNewPlayers,
	}
	s.acc.PendingNewPlayers = nil
	s.acc.Frame++

	for _, p := range s.players {
		msg.Players = append(msg.Players, p.State())
	}
	sort.Slice(msg.Players, func(i, j int) bool { return msg.Players[i].ID < msg.Players[j].ID })
	return msg
}

// Player 返回玩家副本
func (s *Simulation) Player(h transport.Handle) (Player, bool) {
	p, ok := s.players[h]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// Len 当前玩家数
func (s *Simulation) Len() int { return len(s.players) }

// Frame 下一次广播将使用的帧号
func (s *Simulation) Frame() uint32 { return s.acc.Frame }

// Pending 待广播的新玩家（副本）
func (s *Simulation) Pending() []uint32 {
	return append([]uint32(nil), s.acc.PendingNewPlayers...)
}

// ConnState 句柄当前的连接状态
func (s *Simulation) ConnState(h transport.Handle) ConnState { return s.conns[h] }

// Speed 当前移动速度
func (s *Simulation) Speed() float32 { return s.speed }

// SetSpeed 修改移动速度（在 Tick 协程中调用）
func (s *Simulation) SetSpeed(speed float32) { s.speed = speed }

// sanitize 按轴裁剪到 [-1,1]，非有限值视为 0
func sanitize(v mgl32.Vec2) mgl32.Vec2 {
	for i := range v {
		f := float64(v[i])
		if math.IsNaN(f) || math.IsInf(f, 0) {
			v[i] = 0
			continue
		}
		v[i] = mgl32.Clamp(v[i], -1, 1)
	}
	return v
}
