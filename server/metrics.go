package server

import (
	"sync/atomic"
)

// Metrics 记录服务端运行期的关键指标（用于监控与调试）
type Metrics struct {
	TickCount           int64 // 积分 Tick 次数
	TotalTickNs         int64 // Tick 累计耗时（纳秒）
	Broadcasts          int64 // 已发出的快照数
	Joins               int64 // 新建的玩家实体数
	DuplicateJoins      int64 // 重复 Join（只重发 Joined，不建实体）
	DirectionsApplied   int64 // 生效的移动意图
	DirectionsUnmatched int64 // 找不到玩家的移动意图
	Disconnects         int64 // 断开并移除的玩家
	SendFailures        int64 // 发送失败（不重试）
	DecodeErrors        int64 // 无法解码的入站消息
	Frame               int64 // 最近一次广播的帧号
	Players             int64 // 当前玩家数
}

func (m *Metrics) IncBroadcasts()          { atomic.AddInt64(&m.Broadcasts, 1) }
func (m *Metrics) IncJoins()               { atomic.AddInt64(&m.Joins, 1) }
func (m *Metrics) IncDuplicateJoins()      { atomic.AddInt64(&m.DuplicateJoins, 1) }
func (m *Metrics) IncDirectionsApplied()   { atomic.AddInt64(&m.DirectionsApplied, 1) }
func (m *Metrics) IncDirectionsUnmatched() { atomic.AddInt64(&m.DirectionsUnmatched, 1) }
func (m *Metrics) IncDisconnects()         { atomic.AddInt64(&m.Disconnects, 1) }
func (m *Metrics) AddSendFailures(n int)   { atomic.AddInt64(&m.SendFailures, int64(n)) }
func (m *Metrics) IncDecodeErrors()        { atomic.AddInt64(&m.DecodeErrors, 1) }
func (m *Metrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}
func (m *Metrics) SetWorld(frame uint32, players int) {
	atomic.StoreInt64(&m.Frame, int64(frame))
	atomic.StoreInt64(&m.Players, int64(players))
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":           tick,
		"avg_tick_ms":          avgMs,
		"broadcasts":           atomic.LoadInt64(&m.Broadcasts),
		"joins":                atomic.LoadInt64(&m.Joins),
		"duplicate_joins":      atomic.LoadInt64(&m.DuplicateJoins),
		"directions_applied":   atomic.LoadInt64(&m.DirectionsApplied),
		"directions_unmatched": atomic.LoadInt64(&m.DirectionsUnmatched),
		"disconnects":          atomic.LoadInt64(&m.Disconnects),
		"send_failures":        atomic.LoadInt64(&m.SendFailures),
		"decode_errors":        atomic.LoadInt64(&m.DecodeErrors),
		"frame":                atomic.LoadInt64(&m.Frame),
		"players":              atomic.LoadInt64(&m.Players),
	}
}
