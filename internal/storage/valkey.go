package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

var _ Cache = (*ValkeyCache)(nil)

// DefaultKeyPrefix namespaces cache keys in a shared Valkey.
const DefaultKeyPrefix = "traduwiki:"

// ValkeyCache is a Cache shared between replicas.
type ValkeyCache struct {
	client valkey.Client
	prefix string
}

// NewValkeyCache connects to the given addresses
func NewValkeyCache(addrs []string, prefix string) (*ValkeyCache, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("at least one valkey address is required")
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: addrs})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}
	return &ValkeyCache{client: client, prefix: prefix}, nil
}

func (c *ValkeyCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Do(ctx, c.client.B().Get().Key(c.prefix+key).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("valkey get %s: %w", key, err)
	}
	return value, true, nil
}

func (c *ValkeyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cmd := c.client.B().Psetex().Key(c.prefix + key).Milliseconds(ttl.Milliseconds()).Value(valkey.BinaryString(value)).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey set %s: %w", key, err)
	}
	return nil
}

func (c *ValkeyCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Do(ctx, c.client.B().Del().Key(c.prefix+key).Build()).Error(); err != nil {
		return fmt.Errorf("valkey del %s: %w", key, err)
	}
	return nil
}

func (c *ValkeyCache) Close() error {
	c.client.Close()
	return nil
}
