package client

import "sync/atomic"

// Metrics 客户端运行指标
type Metrics struct {
	Snapshots      int64 // 收到并合并的快照
	Updated        int64 // 被快照更新的实体次数
	Stale          int64 // 因本地帧号更新而跳过的实体次数
	Spawned        int64
	Removed        int64
	JoinsSent      int64
	DirectionsSent int64
	SendFailures   int64
	DecodeErrors   int64
}

func (m *Metrics) add(r Result) {
	atomic.AddInt64(&m.Snapshots, 1)
	atomic.AddInt64(&m.Updated, int64(r.Updated))
	atomic.AddInt64(&m.Stale, int64(r.Stale))
	atomic.AddInt64(&m.Spawned, int64(r.Spawned))
	atomic.AddInt64(&m.Removed, int64(r.Removed))
}

func (m *Metrics) IncJoinsSent()      { atomic.AddInt64(&m.JoinsSent, 1) }
func (m *Metrics) IncDirectionsSent() { atomic.AddInt64(&m.DirectionsSent, 1) }
func (m *Metrics) IncSendFailures()   { atomic.AddInt64(&m.SendFailures, 1) }
func (m *Metrics) IncDecodeErrors()   { atomic.AddInt64(&m.DecodeErrors, 1) }
