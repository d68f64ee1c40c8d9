package server

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// TicksPerSecond 世界推进频率（20 TPS）
	TicksPerSecond = 20
	// DefaultMovementSpeed 每秒移动单位
	DefaultMovementSpeed = 300
)

// Config 服务端调参；均为调优常量，不属于协议
type Config struct {
	TickInterval      time.Duration
	BroadcastInterval time.Duration // 与积分 Tick 解耦，可单独调整
	MovementSpeed     float32
}

// DefaultConfig 默认 20Hz 积分、20Hz 广播
func DefaultConfig() Config {
	return Config{
		TickInterval:      time.Second / TicksPerSecond,
		BroadcastInterval: time.Second / TicksPerSecond,
		MovementSpeed:     DefaultMovementSpeed,
	}
}

// Validate 检查配置合法性
func (c Config) Validate() error {
	if c.TickInterval <= 0 {
		return errors.New("tick interval must be positive")
	}
	if c.BroadcastInterval <= 0 {
		return errors.New("broadcast interval must be positive")
	}
	if c.MovementSpeed < 0 {
		return errors.New("movement speed must not be negative")
	}
	return nil
}

// Option 配置 Server
type Option func(*Server) error

// WithTickInterval 设置积分 Tick 间隔
func WithTickInterval(d time.Duration) Option {
	return func(s *Server) error {
		s.cfg.TickInterval = d
		return nil
	}
}

// WithBroadcastInterval 设置广播间隔
func WithBroadcastInterval(d time.Duration) Option {
	return func(s *Server) error {
		s.cfg.BroadcastInterval = d
		return nil
	}
}

// WithMovementSpeed 设置移动速度
func WithMovementSpeed(speed float32) Option {
	return func(s *Server) error {
		s.cfg.MovementSpeed = speed
		return nil
	}
}

// WithInstance 指定实例 id（默认随机生成）
func WithInstance(id uuid.UUID) Option {
	return func(s *Server) error {
		s.instance = id
		return nil
	}
}

// ConfigUpdate 管理接口提交的部分更新，在 Tick 协程中生效
type ConfigUpdate struct {
	MovementSpeed     *float32
	BroadcastInterval *time.Duration
}
