package transport

import (
	"math/rand"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"movesync/logging"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	readLimit  = 1 << 20 // 1MB
)

// Impairment 发送端的网络劣化模拟：按概率丢包、随机延迟（延迟不同即乱序）
type Impairment struct {
	DropProb float64
	DelayMin time.Duration
	DelayMax time.Duration
}

func (im Impairment) active() bool {
	return im.DropProb > 0 || im.DelayMax > 0
}

// WSOption 配置 WebSocket 传输
type WSOption func(*WebSocket) error

// WithPath 设置 WebSocket 升级路径（默认 /ws）
func WithPath(path string) WSOption {
	return func(w *WebSocket) error {
		w.path = path
		return nil
	}
}

// WithHandler 在监听端口上挂载额外的 HTTP 接口（管理、监控）
func WithHandler(pattern string, h http.Handler) WSOption {
	return func(w *WebSocket) error {
		w.handlers[pattern] = h
		return nil
	}
}

// WithRateLimit 每连接入站限速，超出的消息直接丢弃
func WithRateLimit(limit rate.Limit, burst int) WSOption {
	return func(w *WebSocket) error {
		if burst <= 0 {
			return errors.New("rate limit burst must be positive")
		}
		w.limit, w.burst = limit, burst
		return nil
	}
}

// WithImpairment 启用发送端丢包/延迟模拟
func WithImpairment(im Impairment) WSOption {
	return func(w *WebSocket) error {
		if im.DropProb < 0 || im.DropProb > 1 {
			return errors.Errorf("drop probability %.2f out of range", im.DropProb)
		}
		if im.DelayMax < im.DelayMin {
			return errors.Errorf("delay max %s below min %s", im.DelayMax, im.DelayMin)
		}
		w.impair = im
		return nil
	}
}

// WebSocket 基于 gorilla/websocket 的传输：二进制帧 [channel][payload]
type WebSocket struct {
	state

	path     string
	handlers map[string]http.Handler
	limit    rate.Limit
	burst    int
	impair   Impairment

	nextHandle  atomic.Uint32
	rateLimited atomic.Uint64

	connsMu sync.RWMutex
	conns   map[Handle]*wsConn

	rngMu sync.Mutex
	rng   *rand.Rand

	listener net.Listener
	srv      *http.Server
	upgrader websocket.Upgrader
}

var _ Transport = (*WebSocket)(nil)

// NewWebSocket 创建 WebSocket 传输
func NewWebSocket(opts ...WSOption) (*WebSocket, error) {
	w := &WebSocket{
		path:     "/ws",
		handlers: make(map[string]http.Handler),
		limit:    rate.Inf,
		burst:    1,
		conns:    make(map[Handle]*wsConn),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())), // nolint: gosec // 仅用于丢包模拟
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// 演示环境：允许所有来源（生产环境需严格限制）
				return true
			},
		},
	}
	w.state.init()
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, errors.Wrap(err, "apply WebSocket option failed")
		}
	}
	return w, nil
}

// wsConn 单条连接：读泵写泵各一个协程，发送走有界队列
type wsConn struct {
	handle  Handle
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
}

// enqueue 非阻塞入队，满则丢弃（防止阻塞 Tick）
func (c *wsConn) enqueue(b []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBufferFull
	}
}

func (c *wsConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// Listen 监听地址并在 path 上接受 WebSocket 升级；地址无法解析或占用时立即返回错误
func (w *WebSocket) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s failed", addr)
	}
	mux := http.NewServeMux()
	mux.HandleFunc(w.path, w.handleUpgrade)
	for pattern, h := range w.handlers {
		mux.Handle(pattern, h)
	}
	w.listener = ln
	w.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := w.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Log.Errorf("websocket serve: %v", err)
		}
	}()
	return nil
}

// Handle 挂载额外的 HTTP 接口，须在 Listen 之前调用
func (w *WebSocket) Handle(pattern string, h http.Handler) {
	w.handlers[pattern] = h
}

// Addr 实际监听地址（Listen 之后有效）
func (w *WebSocket) Addr() string {
	if w.listener == nil {
		return ""
	}
	return w.listener.Addr().String()
}

func (w *WebSocket) handleUpgrade(rw http.ResponseWriter, r *http.Request) {
	ws, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		logging.Log.Warnf("upgrade error: %v", err)
		return
	}
	c := w.attach(ws)
	logging.Log.Infof("incoming connection on %d from %s", c.handle, r.RemoteAddr)
}

// Connect 拨号到服务端（ws://addr/path）
func (w *WebSocket) Connect(addr string) error {
	url := "ws://" + addr + w.path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return errors.Wrapf(err, "dial %s failed", url)
	}
	c := w.attach(ws)
	logging.Log.Infof("connected on %d to %s", c.handle, url)
	return nil
}

func (w *WebSocket) attach(ws *websocket.Conn) *wsConn {
	c := &wsConn{
		handle:  Handle(w.nextHandle.Add(1)),
		ws:      ws,
		send:    make(chan []byte, w.packetBufferSize()),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(w.limit, w.burst),
	}
	w.connsMu.Lock()
	w.conns[c.handle] = c
	w.connsMu.Unlock()
	w.addPeer(c.handle)

	go w.writePump(c)
	go w.readPump(c)
	return c
}

func (w *WebSocket) detach(c *wsConn) {
	c.close()
	w.connsMu.Lock()
	delete(w.conns, c.handle)
	w.connsMu.Unlock()
	w.removePeer(c.handle)
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期发送 ping
func (w *WebSocket) writePump(c *wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer w.detach(c)
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				w.pushEvent(Event{Kind: Error, Handle: c.handle, Err: errors.Wrap(err, "write failed")})
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取对端数据，按通道放入入站队列；退出时移除连接
func (w *WebSocket) readPump(c *wsConn) {
	defer w.detach(c)
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { return c.ws.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		mt, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.pushEvent(Event{Kind: Error, Handle: c.handle, Err: errors.Wrap(err, "read failed")})
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if mt != websocket.BinaryMessage {
			continue
		}
		if !c.limiter.Allow() {
			w.rateLimited.Add(1)
			continue
		}
		w.deliver(c.handle, payload)
	}
}

// Send 发送到单个连接；启用劣化模拟时可能被静默丢弃或延迟
func (w *WebSocket) Send(h Handle, channel uint8, payload []byte) error {
	if _, ok := w.registered(channel); !ok {
		return errors.Wrapf(ErrChannelNotRegistered, "channel %d", channel)
	}
	w.connsMu.RLock()
	c, ok := w.conns[h]
	w.connsMu.RUnlock()
	if !ok {
		return errors.Wrapf(ErrUnknownHandle, "handle %d", h)
	}
	b := frame(channel, payload)
	if !w.impair.active() {
		return errors.Wrapf(c.enqueue(b), "send on %d", h)
	}
	drop, delay := w.roll()
	if drop {
		return nil
	}
	if delay <= 0 {
		return errors.Wrapf(c.enqueue(b), "send on %d", h)
	}
	time.AfterFunc(delay, func() {
		if err := c.enqueue(b); err != nil {
			logging.Log.Debugf("delayed send on %d dropped: %v", h, err)
		}
	})
	return nil
}

func (w *WebSocket) roll() (bool, time.Duration) {
	w.rngMu.Lock()
	defer w.rngMu.Unlock()
	if w.rng.Float64() < w.impair.DropProb {
		return true, 0
	}
	delay := w.impair.DelayMin
	if span := w.impair.DelayMax - w.impair.DelayMin; span > 0 {
		delay += time.Duration(w.rng.Int63n(int64(span)))
	}
	return false, delay
}

// Broadcast 发送给所有连接，返回聚合错误
func (w *WebSocket) Broadcast(channel uint8, payload []byte) error {
	var err error
	for _, h := range w.Connections() {
		err = multierr.Append(err, w.Send(h, channel, payload))
	}
	return err
}

// RateLimited 因入站限速被丢弃的消息数
func (w *WebSocket) RateLimited() uint64 {
	return w.rateLimited.Load()
}

// Close 关闭 HTTP 服务与全部连接
func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	var err error
	if w.srv != nil {
		err = w.srv.Close()
	}
	w.connsMu.RLock()
	conns := make([]*wsConn, 0, len(w.conns))
	for _, c := range w.conns {
		conns = append(conns, c)
	}
	w.connsMu.RUnlock()
	for _, c := range conns {
		c.close()
	}
	return err
}
