// Package input 表示按住的移动键快照，以及若干无界面的输入源。
package input

import (
	"math/rand"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

// Keys 当前按住的方向键
type Keys struct {
	Up    bool
	Down  bool
	Left  bool
	Right bool
}

func b2f(b bool) float32 {
	if b {
		return 1
	}
	return 0
}

// Axis 原始轴向和：x = 右-左，y = 上-下，每轴取值 {-1,0,1}，不做归一化
func (k Keys) Axis() mgl32.Vec2 {
	return mgl32.Vec2{b2f(k.Right) - b2f(k.Left), b2f(k.Up) - b2f(k.Down)}
}

// Source 每个客户端 Tick 采样一次的按键来源
type Source interface {
	Keys() Keys
}

// Static 固定按键
type Static Keys

func (s Static) Keys() Keys { return Keys(s) }

// Script 依次循环给定的按键序列，每个元素保持 Hold 次采样
type Script struct {
	Steps []Keys
	Hold  int

	mu sync.Mutex
	n  int
}

func (s *Script) Keys() Keys {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Steps) == 0 {
		return Keys{}
	}
	hold := s.Hold
	if hold <= 0 {
		hold = 1
	}
	k := s.Steps[(s.n/hold)%len(s.Steps)]
	s.n++
	return k
}

// Bot 随机游走：每隔 Hold 次采样重新随机一组按键
type Bot struct {
	mu   sync.Mutex
	rng  *rand.Rand
	hold int
	left int
	cur  Keys
}

// NewBot 创建随机游走输入源
func NewBot(seed int64, hold int) *Bot {
	if hold <= 0 {
		hold = 60
	}
	return &Bot{rng: rand.New(rand.NewSource(seed)), hold: hold} // nolint: gosec // 非安全用途
}

func (b *Bot) Keys() Keys {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.left == 0 {
		b.cur = Keys{
			Up:    b.rng.Intn(3) == 0,
			Down:  b.rng.Intn(3) == 0,
			Left:  b.rng.Intn(3) == 0,
			Right: b.rng.Intn(3) == 0,
		}
		b.left = b.hold
	}
	b.left--
	return b.cur
}
