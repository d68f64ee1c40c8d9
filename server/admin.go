package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// Mux 可挂载 HTTP 接口的目标（WebSocket 传输或 http.ServeMux）
type Mux interface {
	Handle(pattern string, h http.Handler)
}

// MountAdmin 挂载管理与监控接口
func (s *Server) MountAdmin(mux Mux) {
	mux.Handle("/admin/config", http.HandlerFunc(s.HandleAdminConfig))
	mux.Handle("/metrics", http.HandlerFunc(s.HandleMetrics))
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
}

type adminConfig struct {
	MovementSpeed *float32 `json:"movementSpeed,omitempty"`
	BroadcastMs   *int     `json:"broadcastMs,omitempty"`
	TickMs        *int     `json:"tickMs,omitempty"` // 只读
}

// HandleAdminConfig 提供配置的读取与更新（热更新基本规则）
// GET /admin/config  返回当前配置
// POST /admin/config 以 JSON 载荷更新部分字段，下一次 Tick 生效
func (s *Server) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg := s.Config()
		speed := cfg.MovementSpeed
		bms := int(cfg.BroadcastInterval / time.Millisecond)
		tms := int(cfg.TickInterval / time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(adminConfig{MovementSpeed: &speed, BroadcastMs: &bms, TickMs: &tms})
	case http.MethodPost:
		var body adminConfig
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		var u ConfigUpdate
		u.MovementSpeed = body.MovementSpeed
		if body.BroadcastMs != nil {
			d := time.Duration(*body.BroadcastMs) * time.Millisecond
			u.BroadcastInterval = &d
		}
		if err := s.RequestConfig(u); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleMetrics 输出运行指标
// GET /metrics
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"instance": s.instance.String(),
		"metrics":  s.metrics.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
