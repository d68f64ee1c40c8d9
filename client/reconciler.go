package client

import (
	"sort"

	"movesync/protocol"
)

// goneWindow 已清除实体的记录保留的帧数
const goneWindow = 1024

// Result 单次快照合并的统计
type Result struct {
	Spawned int
	Updated int
	Stale   int // 本地帧号更新而跳过的实体
	Removed int
}

// Reconciler 按帧号合并服务端快照：乱序到达的旧快照不会回退已应用的状态
type Reconciler struct {
	session  Session
	entities map[uint32]*RemoteEntity
	// gone 记录被清除的实体及清除时的帧号，防止迟到的旧快照把它们复活
	gone map[uint32]uint32

	// AdoptUnknown 为 true 时，快照中出现的未知实体也会被创建，
	// 用于恢复丢失的 new_players 通知，以及让后加入者看到已有玩家
	AdoptUnknown bool
}

// NewReconciler 创建空的本地镜像
func NewReconciler(adoptUnknown bool) *Reconciler {
	return &Reconciler{
		entities:     make(map[uint32]*RemoteEntity),
		gone:         make(map[uint32]uint32),
		AdoptUnknown: adoptUnknown,
	}
}

// Session 当前会话状态
func (r *Reconciler) Session() Session { return r.session }

// OnJoined 记录分配的句柄并生成本地玩家实体（帧号 0，位于原点）。
// 快照可能先于 Joined 到达：已存在的同 id 实体直接转为本地实体，保留其帧号与位置。
func (r *Reconciler) OnJoined(handle uint32) bool {
	if r.session.HasJoined && r.session.Handle == handle {
		return false
	}
	if r.session.HasJoined {
		delete(r.entities, r.session.Handle)
	}
	r.session.HasJoined = true
	r.session.Handle = handle
	delete(r.gone, handle)
	if e, ok := r.entities[handle]; ok {
		e.Local = true
		return true
	}
	r.entities[handle] = &RemoteEntity{ID: handle, Local: true}
	return true
}

func (r *Reconciler) isSelf(id uint32) bool {
	return r.session.HasJoined && id == r.session.Handle
}

func (r *Reconciler) spawn(id, frame uint32) bool {
	if _, ok := r.entities[id]; ok {
		return false
	}
	if f, ok := r.gone[id]; ok && f >= frame {
		return false
	}
	delete(r.gone, id)
	r.entities[id] = &RemoteEntity{ID: id, Frame: frame}
	return true
}

// OnGameState 合并一帧快照
func (r *Reconciler) OnGameState(msg protocol.GameState) Result {
	var res Result

	for _, id := range msg.NewPlayers {
		if r.isSelf(id) {
			continue
		}
		if r.spawn(id, msg.Frame) {
			res.Spawned++
		}
	}
	if r.AdoptUnknown {
		for _, p := range msg.Players {
			if r.isSelf(p.ID) {
				continue
			}
			if r.spawn(p.ID, msg.Frame) {
				res.Spawned++
			}
		}
	}

	// 按 id 建索引；每个条目只消费一次
	pending := make(map[uint32]protocol.PlayerState, len(msg.Players))
	for _, p := range msg.Players {
		pending[p.ID] = p
	}
	seen := make(map[uint32]bool, len(msg.Players))
	for id, e := range r.entities {
		if e.Frame > msg.Frame {
			res.Stale++
			continue
		}
		p, ok := pending[id]
		if !ok {
			continue
		}
		delete(pending, id)
		seen[id] = true
		e.Frame = msg.Frame
		e.Movement = p.Movement
		e.Position = p.Position
		res.Updated++
	}

	// 最新的快照里不存在、且帧号更旧的他人实体视为已离开
	if msg.Frame >= r.session.LatestFrame {
		for id, e := range r.entities {
			if e.Local || seen[id] || e.Frame >= msg.Frame {
				continue
			}
			delete(r.entities, id)
			r.gone[id] = msg.Frame
			res.Removed++
		}
		r.session.LatestFrame = msg.Frame
		r.pruneGone()
	}
	return res
}

func (r *Reconciler) pruneGone() {
	if r.session.LatestFrame < goneWindow {
		return
	}
	floor := r.session.LatestFrame - goneWindow
	for id, f := range r.gone {
		if f < floor {
			delete(r.gone, id)
		}
	}
}

// Entity 按 id 查找实体副本
func (r *Reconciler) Entity(id uint32) (RemoteEntity, bool) {
	e, ok := r.entities[id]
	if !ok {
		return RemoteEntity{}, false
	}
	return *e, true
}

// Entities 全部实体副本（按 id 升序）
func (r *Reconciler) Entities() []RemoteEntity {
	out := make([]RemoteEntity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reset 断开后清空会话与全部实体
func (r *Reconciler) Reset() {
	r.session = Session{}
	r.entities = make(map[uint32]*RemoteEntity)
	r.gone = make(map[uint32]uint32)
}
