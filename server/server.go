// Package server 实现权威模拟：处理连接生命周期与客户端消息，
// 以固定 Tick 推进玩家位置，并按独立节拍广播全量快照。
package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"movesync/logging"
	"movesync/protocol"
	"movesync/transport"
)

type response struct {
	handle transport.Handle
	msg    protocol.ServerMessage
}

// Server 驱动 Simulation：单协程拥有全部世界状态
type Server struct {
	tr       transport.Transport
	sim      *Simulation
	metrics  *Metrics
	instance uuid.UUID

	cfg       Config
	cfgMu     sync.RWMutex
	published Config // 管理接口读取的配置副本
	updates   chan ConfigUpdate

	responses []response
}

// New 创建服务端并在传输上注册协议通道
func New(tr transport.Transport, opts ...Option) (*Server, error) {
	s := &Server{
		tr:       tr,
		metrics:  &Metrics{},
		instance: uuid.New(),
		cfg:      DefaultConfig(),
		updates:  make(chan ConfigUpdate, 16),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, errors.Wrap(err, "apply Server option failed")
		}
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate Server config failed")
	}
	for _, cs := range protocol.Channels() {
		if err := tr.Register(cs); err != nil {
			return nil, errors.Wrapf(err, "register channel %d failed", cs.Channel)
		}
	}
	s.sim = NewSimulation(s.cfg.MovementSpeed)
	s.published = s.cfg
	return s, nil
}

// Listen 开始监听
func (s *Server) Listen(addr string) error {
	if err := s.tr.Listen(addr); err != nil {
		return errors.Wrap(err, "listen failed")
	}
	logging.Log.Infof("starting as server on %s", addr)
	return nil
}

// Simulation 暴露世界状态（仅限 Tick 协程或测试使用）
func (s *Server) Simulation() *Simulation { return s.sim }

// Metrics 运行指标
func (s *Server) Metrics() *Metrics { return s.metrics }

// Instance 进程实例 id
func (s *Server) Instance() uuid.UUID { return s.instance }

// Config 当前生效配置（并发安全）
func (s *Server) Config() Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.published
}

// RequestConfig 提交配置更新，在下一次 Tick 中生效；队列满时返回错误
func (s *Server) RequestConfig(u ConfigUpdate) error {
	if u.MovementSpeed != nil && *u.MovementSpeed < 0 {
		return errors.New("movement speed must not be negative")
	}
	if u.BroadcastInterval != nil && *u.BroadcastInterval <= 0 {
		return errors.New("broadcast interval must be positive")
	}
	select {
	case s.updates <- u:
		return nil
	default:
		return errors.New("config update queue full")
	}
}

// Poll 处理当前 Tick 的全部输入（非阻塞 drain）：连接事件 → 客户端消息 → 定向回复 → 配置更新
func (s *Server) Poll() {
	for _, ev := range s.tr.PollEvents() {
		s.handleEvent(ev)
	}
	for _, h := range s.tr.Connections() {
		for {
			payload, ok := s.tr.Recv(h, protocol.ChannelClient)
			if !ok {
				break
			}
			msg, err := protocol.DecodeClientMessage(payload)
			if err != nil {
				s.metrics.IncDecodeErrors()
				logging.Log.Debugf("bad client message on %d: %v", h, err)
				continue
			}
			s.handleMessage(h, msg)
		}
	}
	s.flushResponses()
	s.applyUpdates()
}

func (s *Server) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.Connected:
		logging.Log.Infof("incoming connection on %d", ev.Handle)
		s.sim.OnConnect(ev.Handle)
	case transport.Disconnected:
		logging.Log.Infof("disconnected: %d", ev.Handle)
		if s.sim.OnDisconnect(ev.Handle) {
			s.metrics.IncDisconnects()
		}
	case transport.Packet:
		logging.Log.Debugf("packet from %d on unregistered channel: %d bytes", ev.Handle, len(ev.Payload))
	case transport.Error:
		logging.Log.Warnf("error on %d: %v", ev.Handle, ev.Err)
	}
}

func (s *Server) handleMessage(h transport.Handle, msg protocol.ClientMessage) {
	switch msg.Kind {
	case protocol.KindJoin:
		if s.sim.OnJoin(h) {
			s.metrics.IncJoins()
			logging.Log.Infof("client joined on %d", h)
		} else {
			// 上一次 Joined 可能丢失：不建新实体，只重发确认
			s.metrics.IncDuplicateJoins()
			logging.Log.Debugf("duplicate join on %d", h)
		}
		s.responses = append(s.responses, response{handle: h, msg: protocol.Joined(uint32(h))})
	case protocol.KindDirection:
		if s.sim.OnDirection(h, msg.Direction) {
			s.metrics.IncDirectionsApplied()
		} else {
			s.metrics.IncDirectionsUnmatched()
		}
	}
}

// flushResponses 发送定向回复；失败只记录，不重试
func (s *Server) flushResponses() {
	for _, r := range s.responses {
		ch, payload, err := protocol.Encode(r.msg)
		if err != nil {
			logging.Log.Errorf("unable to encode Joined: %v", err)
			continue
		}
		logging.Log.Debugf("sending on %d: %s(%d)", r.handle, r.msg.Kind, r.msg.Handle)
		if err := s.tr.Send(r.handle, ch, payload); err != nil {
			s.metrics.AddSendFailures(1)
			logging.Log.Warnf("unable to send Joined on %d: %v", r.handle, err)
		}
	}
	s.responses = s.responses[:0]
}

func (s *Server) applyUpdates() {
	for {
		select {
		case u := <-s.updates:
			if u.MovementSpeed != nil {
				s.cfg.MovementSpeed = *u.MovementSpeed
				s.sim.SetSpeed(*u.MovementSpeed)
			}
			if u.BroadcastInterval != nil {
				s.cfg.BroadcastInterval = *u.BroadcastInterval
			}
			s.cfgMu.Lock()
			s.published = s.cfg
			s.cfgMu.Unlock()
			logging.Log.Infof("config updated: speed=%.1f broadcast=%s", s.cfg.MovementSpeed, s.cfg.BroadcastInterval)
		default:
			return
		}
	}
}

// Integrate 推进一个积分 Tick
func (s *Server) Integrate() {
	s.sim.Integrate(float32(s.cfg.TickInterval.Seconds()))
}

// BroadcastState 向全部连接发送全量快照；单个连接失败只计数
func (s *Server) BroadcastState() error {
	snap := s.sim.Snapshot()
	s.metrics.IncBroadcasts()
	s.metrics.SetWorld(snap.Frame, len(snap.Players))

	ch, payload, err := protocol.Encode(snap)
	if err != nil {
		return errors.Wrapf(err, "encode frame %d failed", snap.Frame)
	}
	if err := s.tr.Broadcast(ch, payload); err != nil {
		errs := multierr.Errors(err)
		s.metrics.AddSendFailures(len(errs))
		logging.Log.Warnf("broadcast of frame %d failed on %d connections: %v", snap.Frame, len(errs), err)
	}
	return nil
}

// Run 启动 Tick 循环（单协程推进世界），ctx 取消时返回
func (s *Server) Run(ctx context.Context) error {
	tick := time.NewTicker(s.cfg.TickInterval)
	defer tick.Stop()
	interval := s.cfg.BroadcastInterval
	bcast := time.NewTicker(interval)
	defer bcast.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			// 核心循环：处理输入 → 推进世界
			start := time.Now()
			s.Poll()
			s.Integrate()
			s.metrics.AddTick(time.Since(start).Nanoseconds())
		case <-bcast.C:
			s.Poll()
			if err := s.BroadcastState(); err != nil {
				logging.Log.Errorf("broadcast: %v", err)
			}
		}
		if s.cfg.BroadcastInterval != interval {
			interval = s.cfg.BroadcastInterval
			bcast.Reset(interval)
		}
	}
}
