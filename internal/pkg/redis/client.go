// internal/pkg/redis/client.go
package redis

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client 封装了 go-redis 的 UniversalClient，
// 单节点和集群地址都可以用同一套配置接入。
type Client struct {
	client redis.UniversalClient
}

// NewClient 创建客户端，addrs 格式为 "host1:port1,host2:port2"。
func NewClient(addrs string) (*Client, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: strings.Split(addrs, ","),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Client{client: client}, nil
}

// GetClient 暴露底层客户端，给需要 Pipeline 等高级能力的调用方。
func (c *Client) GetClient() redis.UniversalClient {
	return c.client
}

// SetNX 仅当 key 不存在时写入，返回是否写入成功。
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Close() error {
	return c.client.Close()
}
