package outbox

import (
	"context"
	"time"

	"scm/internal/pkg/logger"
	"scm/internal/zookeeper"
)

type lockHandle interface {
	Lock(timeout time.Duration) error
	Unlock() error
}

// ZkElector 用 ZooKeeper 分布式锁实现发布器选主。
// 水平扩容时多个实例同时启动，只有拿到锁的那个实例运行轮询循环；
// 持锁实例宕机后会话过期，锁自动易主。
type ZkElector struct {
	lock    lockHandle
	backoff time.Duration
}

func NewZkElector(conn *zookeeper.Conn, serviceName string) (*ZkElector, error) {
	lock, err := zookeeper.NewDistributedLock(conn, "outbox-publisher-"+serviceName)
	if err != nil {
		return nil, err
	}
	return &ZkElector{lock: lock, backoff: 3 * time.Second}, nil
}

// Campaign 阻塞直到成为发布器主实例。
// Lock 立即出错（比如会话已断开）时退避后再竞选，不能空转刷日志。
func (e *ZkElector) Campaign(ctx context.Context) error {
	for {
		err := e.lock.Lock(30 * time.Second)
		if err == nil {
			logger.Ctx(ctx).Info().Msg("acquired outbox publisher leadership")
			return nil
		}
		logger.Ctx(ctx).Warn().Err(err).Msg("waiting for outbox publisher leadership")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.backoff):
		}
	}
}

func (e *ZkElector) Resign() {
	if err := e.lock.Unlock(); err != nil {
		logger.Ctx(context.Background()).Error().Err(err).Msg("failed to release publisher lock")
	}
}
