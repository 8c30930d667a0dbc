package idgen

import (
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// 雪花 ID
// ============================================================================
//
// 审计事件的消息 key 需要全局唯一且按时间递增，方便下游按 key 去重和排序。
//
//   0 | 41 位毫秒时间戳 | 10 位节点 | 12 位序列号
//
// ============================================================================

const (
	epoch          = int64(1767225600000) // 2026-01-01 00:00:00 UTC
	nodeBits       = 10
	sequenceBits   = 12
	MaxNode        = -1 ^ (-1 << nodeBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	nodeShift      = sequenceBits
	timestampShift = sequenceBits + nodeBits
)

// Generator 雪花 ID 生成器
type Generator struct {
	mu        sync.Mutex
	node      int64
	timestamp int64
	sequence  int64
	now       func() time.Time
}

// NewGenerator node 超出范围返回错误
func NewGenerator(node int64) (*Generator, error) {
	if node < 0 || node > MaxNode {
		return nil, fmt.Errorf("idgen: node 必须在 0-%d 之间", MaxNode)
	}
	return &Generator{node: node, now: time.Now}, nil
}

var (
	defaultGenerator = &Generator{node: 1, now: time.Now}
	defaultMu        sync.RWMutex
)

// SetNode 修改默认生成器的节点号，启动时调用一次
func SetNode(node int64) error {
	g, err := NewGenerator(node)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	defaultGenerator = g
	defaultMu.Unlock()
	return nil
}

// NextID 默认生成器的下一个 ID
func NextID() int64 {
	defaultMu.RLock()
	g := defaultGenerator
	defaultMu.RUnlock()
	return g.Next()
}

func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UnixMilli()
	if now < g.timestamp {
		// 时钟回拨，沿用上一个时间戳
		now = g.timestamp
	}

	if now == g.timestamp {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			for now <= g.timestamp {
				now = g.now().UnixMilli()
			}
		}
	} else {
		g.sequence = 0
	}
	g.timestamp = now

	return ((now - epoch) << timestampShift) | (g.node << nodeShift) | g.sequence
}

// GenerateAuditKey 审计消息 key
// 格式：AUD + 年月日时分秒 + 雪花 ID 后 8 位，例如 AUD20261019143052_12345678
func GenerateAuditKey() string {
	id := NextID()
	return fmt.Sprintf("AUD%s_%08d", time.Now().UTC().Format("20060102150405"), id%100000000)
}
