// Package client 实现客户端：发送加入请求与移动意图，并按帧号把服务端快照合并进本地实体镜像。
package client

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"movesync/input"
	"movesync/logging"
	"movesync/protocol"
	"movesync/transport"
)

// TicksPerSecond 输入采样频率
const TicksPerSecond = 60

// Config 客户端调参
type Config struct {
	TickInterval      time.Duration
	JoinRetryInterval time.Duration // 未收到 Joined 时重发 Join 的间隔
	StatusInterval    time.Duration // 状态日志间隔，0 表示关闭
	AdoptUnknown      bool
}

// DefaultConfig 60Hz 采样，1s 重发 Join
func DefaultConfig() Config {
	return Config{
		TickInterval:      time.Second / TicksPerSecond,
		JoinRetryInterval: time.Second,
		StatusInterval:    5 * time.Second,
		AdoptUnknown:      true,
	}
}

// Option 配置 Client
type Option func(*Client) error

// WithTickInterval 设置采样间隔
func WithTickInterval(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return errors.New("tick interval must be positive")
		}
		c.cfg.TickInterval = d
		return nil
	}
}

// WithJoinRetryInterval 设置 Join 重发间隔
func WithJoinRetryInterval(d time.Duration) Option {
	return func(c *Client) error {
		c.cfg.JoinRetryInterval = d
		return nil
	}
}

// WithStatusInterval 设置状态日志间隔
func WithStatusInterval(d time.Duration) Option {
	return func(c *Client) error {
		c.cfg.StatusInterval = d
		return nil
	}
}

// WithAdoptUnknown 是否创建快照中出现的未知实体
func WithAdoptUnknown(adopt bool) Option {
	return func(c *Client) error {
		c.cfg.AdoptUnknown = adopt
		return nil
	}
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(c *Client) error {
		c.now = now
		return nil
	}
}

// Client 单协程驱动 Reconciler 与输入采样
type Client struct {
	tr      transport.Transport
	src     input.Source
	rec     *Reconciler
	metrics *Metrics
	cfg     Config
	now     func() time.Time

	server    transport.Handle
	connected bool
	lastJoin  time.Time
}

// New 创建客户端并在传输上注册协议通道
func New(tr transport.Transport, src input.Source, opts ...Option) (*Client, error) {
	c := &Client{
		tr:      tr,
		src:     src,
		metrics: &Metrics{},
		cfg:     DefaultConfig(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.Wrap(err, "apply Client option failed")
		}
	}
	if c.src == nil {
		c.src = input.Static{}
	}
	for _, cs := range protocol.Channels() {
		if err := tr.Register(cs); err != nil {
			return nil, errors.Wrapf(err, "register channel %d failed", cs.Channel)
		}
	}
	c.rec = NewReconciler(c.cfg.AdoptUnknown)
	return c, nil
}

// Connect 连接服务端
func (c *Client) Connect(addr string) error {
	if err := c.tr.Connect(addr); err != nil {
		return errors.Wrap(err, "connect failed")
	}
	logging.Log.Infof("starting as client, server %s", addr)
	return nil
}

// Session 当前会话
func (c *Client) Session() Session { return c.rec.Session() }

// Entities 本地实体镜像
func (c *Client) Entities() []RemoteEntity { return c.rec.Entities() }

// Reconciler 底层合并器（测试用）
func (c *Client) Reconciler() *Reconciler { return c.rec }

// Metrics 运行指标
func (c *Client) Metrics() *Metrics { return c.metrics }

// Poll 处理连接事件与全部待处理的服务端消息；与服务端断开时返回 ErrDisconnected
func (c *Client) Poll() error {
	for _, ev := range c.tr.PollEvents() {
		switch ev.Kind {
		case transport.Connected:
			logging.Log.Infof("connected on %d", ev.Handle)
			c.server = ev.Handle
			c.connected = true
			c.sendJoin()
		case transport.Disconnected:
			logging.Log.Warnf("disconnected: %d", ev.Handle)
			if c.connected && ev.Handle == c.server {
				c.connected = false
				c.rec.Reset()
				return ErrDisconnected
			}
		case transport.Packet:
			logging.Log.Debugf("packet from %d on unregistered channel: %d bytes", ev.Handle, len(ev.Payload))
		case transport.Error:
			logging.Log.Warnf("error on %d: %v", ev.Handle, ev.Err)
		}
	}
	if !c.connected {
		return nil
	}

	for {
		b, ok := c.tr.Recv(c.server, protocol.ChannelServer)
		if !ok {
			break
		}
		msg, err := protocol.DecodeServerMessage(b)
		if err != nil {
			c.metrics.IncDecodeErrors()
			logging.Log.Debugf("bad server message: %v", err)
			continue
		}
		if c.rec.OnJoined(msg.Handle) {
			logging.Log.Infof("server acknowledged join, client's handle is %d", msg.Handle)
		}
	}

	for {
		b, ok := c.tr.Recv(c.server, protocol.ChannelGameState)
		if !ok {
			break
		}
		msg, err := protocol.DecodeGameState(b)
		if err != nil {
			c.metrics.IncDecodeErrors()
			logging.Log.Debugf("bad game state: %v", err)
			continue
		}
		res := c.rec.OnGameState(msg)
		c.metrics.add(res)
		if res.Spawned > 0 || res.Removed > 0 {
			logging.Log.Debugf("frame %d: spawned=%d removed=%d stale=%d", msg.Frame, res.Spawned, res.Removed, res.Stale)
		}
	}

	if !c.rec.Session().HasJoined && c.cfg.JoinRetryInterval > 0 && c.now().Sub(c.lastJoin) >= c.cfg.JoinRetryInterval {
		c.sendJoin()
	}
	return nil
}

func (c *Client) send(m protocol.Message) error {
	ch, payload, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return c.tr.Send(c.server, ch, payload)
}

// sendJoin 发送加入请求；失败只记录，由重发间隔兜底
func (c *Client) sendJoin() {
	c.lastJoin = c.now()
	if err := c.send(protocol.Join()); err != nil {
		c.metrics.IncSendFailures()
		logging.Log.Errorf("unable to send Join: %v", err)
		return
	}
	c.metrics.IncJoinsSent()
}

// SampleInput 采样一次按键并发送原始方向（不归一化）；未连接时不发送
func (c *Client) SampleInput() error {
	if !c.connected {
		return nil
	}
	if err := c.send(protocol.Direction(c.src.Keys().Axis())); err != nil {
		c.metrics.IncSendFailures()
		return errors.Wrap(err, "send direction failed")
	}
	c.metrics.IncDirectionsSent()
	return nil
}

// Run 固定步长驱动：每个 Tick 先合并消息，再采样输入
func (c *Client) Run(ctx context.Context) error {
	tick := time.NewTicker(c.cfg.TickInterval)
	defer tick.Stop()
	var status <-chan time.Time
	if c.cfg.StatusInterval > 0 {
		st := time.NewTicker(c.cfg.StatusInterval)
		defer st.Stop()
		status = st.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if err := c.Poll(); err != nil {
				return err
			}
			if err := c.SampleInput(); err != nil {
				logging.Log.Debugf("sample input: %v", err)
			}
		case <-status:
			c.logStatus()
		}
	}
}

func (c *Client) logStatus() {
	s := c.rec.Session()
	for _, e := range c.rec.Entities() {
		logging.Log.Infow("entity",
			"id", e.ID,
			"local", e.Local,
			"frame", e.Frame,
			"x", e.Position.X(),
			"y", e.Position.Y(),
		)
	}
	logging.Log.Infof("joined=%v handle=%d latest_frame=%d", s.HasJoined, s.Handle, s.LatestFrame)
}
