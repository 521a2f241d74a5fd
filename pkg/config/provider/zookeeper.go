package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-zookeeper/zk"
)

// ZookeeperProvider loads config from a znode and watches it with
// re-registered one-shot watches.
type ZookeeperProvider struct {
	conn *zk.Conn
	path string
}

// NewZookeeperProvider connects to the given ensemble.
func NewZookeeperProvider(endpoints []string, path string) (*ZookeeperProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("zookeeper endpoints are required")
	}
	if path == "" {
		return nil, fmt.Errorf("zookeeper path is required")
	}

	conn, _, err := zk.Connect(endpoints, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}

	return &ZookeeperProvider{
		conn: conn,
		path: path,
	}, nil
}

func (p *ZookeeperProvider) Type() Type {
	return TypeZookeeper
}

// Load reads the config znode.
func (p *ZookeeperProvider) Load(ctx context.Context) ([]byte, error) {
	data, _, err := p.conn.Get(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zookeeper path %s: %w", p.path, err)
	}
	return data, nil
}

// Watch re-arms GetW after every event; zookeeper watches fire once.
func (p *ZookeeperProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	changes := make(chan struct{}, 1)

	go func() {
		defer close(changes)

		for {
			_, _, eventCh, err := p.conn.GetW(p.path)
			if err != nil {
				slog.Warn("Zookeeper watch error, retrying", "path", p.path, "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
				continue
			}

			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if event.Type == zk.EventNodeDataChanged {
					select {
					case changes <- struct{}{}:
					default:
					}
				}
				if event.Type == zk.EventNodeDeleted {
					return
				}
			}
		}
	}()

	return changes, nil
}

func (p *ZookeeperProvider) Close() error {
	p.conn.Close()
	return nil
}
