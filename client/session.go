package client

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Session 客户端会话：收到 Joined 时设置一次，合并快照时用来区分“自己”与“他人”
type Session struct {
	HasJoined   bool
	Handle      uint32
	LatestFrame uint32 // 已合并的最大快照帧号
}

// RemoteEntity 服务端实体在本地的镜像
type RemoteEntity struct {
	ID       uint32 // 服务端实体 id（即其控制句柄）
	Frame    uint32 // 最近一次合并的快照帧号，只增不减
	Movement mgl32.Vec2
	Position mgl32.Vec3
	Local    bool // 本地玩家自己的实体
}
