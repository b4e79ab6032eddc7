package zookeeper

import (
	"time"

	"github.com/go-zookeeper/zk"
)

// Conn 包装一个 ZooKeeper 会话。
type Conn struct {
	*zk.Conn
}

// Connect 建立 ZooKeeper 会话。会话超时决定了持锁实例宕机后
// 临时节点（以及锁）多快被自动释放。
func Connect(servers []string) (*Conn, error) {
	c, _, err := zk.Connect(servers, 10*time.Second)
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: c}, nil
}
