package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 同一受益人并发创建借款时，"取最大序号 + 1" 会拿到相同的序号；
// 同一借款并发删除时，两个请求都可能去外部机构做释放额度。
// 两类场景都需要按业务维度串行化：
//
//   创建：consign:lock:beneficiary:<id>
//   删除：consign:lock:consignment:<id>
//
// 加锁：SET key value NX EX timeout
// 释放：Lua 脚本校验 value 后再 DEL，避免误删别人的锁
// ============================================================================

var ErrLockFailed = errors.New("获取分布式锁失败")

const (
	defaultExpiration    = 30 * time.Second
	defaultRetryInterval = 100 * time.Millisecond
	defaultMaxRetries    = 30
)

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 持有者标识
	expiration time.Duration // 过期时间，防止进程崩溃后死锁
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// Key 锁的 key
func (l *DistributedLock) Key() string {
	return l.key
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// LockDefault 使用默认重试参数加锁（100ms * 30 次）
func (l *DistributedLock) LockDefault(ctx context.Context) error {
	return l.Lock(ctx, defaultRetryInterval, defaultMaxRetries)
}

// LockWithin 在 wait 时间内反复尝试加锁
func (l *DistributedLock) LockWithin(ctx context.Context, wait time.Duration) error {
	retries := int(wait / defaultRetryInterval)
	if retries < 1 {
		retries = 1
	}
	return l.Lock(ctx, defaultRetryInterval, retries)
}

// WithExpiration 调整过期时间，持锁期间有外部调用时使用
func (l *DistributedLock) WithExpiration(expiration time.Duration) *DistributedLock {
	if expiration > l.expiration {
		l.expiration = expiration
	}
	return l
}

// Expiration 锁的过期时间
func (l *DistributedLock) Expiration() time.Duration {
	return l.expiration
}

// Unlock 释放锁，只删除自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

// NewBeneficiaryLock 创建借款时按受益人加锁，保证序号递增不冲突
func NewBeneficiaryLock(client *redis.Client, beneficiaryID int64, owner string) *DistributedLock {
	key := fmt.Sprintf("consign:lock:beneficiary:%d", beneficiaryID)
	return NewDistributedLock(client, key, owner, defaultExpiration)
}

// NewConsignmentLock 删除/取消借款时按借款加锁
func NewConsignmentLock(client *redis.Client, consignmentID int64, owner string) *DistributedLock {
	key := fmt.Sprintf("consign:lock:consignment:%d", consignmentID)
	return NewDistributedLock(client, key, owner, defaultExpiration)
}
