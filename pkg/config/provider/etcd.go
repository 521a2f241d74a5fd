package provider

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdProvider loads config from an etcd key and watches it natively.
type EtcdProvider struct {
	client *clientv3.Client
	key    string
}

// NewEtcdProvider creates a provider backed by an etcd cluster.
func NewEtcdProvider(endpoints []string, key string) (*EtcdProvider, error) {
	if key == "" {
		return nil, fmt.Errorf("etcd key is required")
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	return &EtcdProvider{
		client: client,
		key:    key,
	}, nil
}

func (p *EtcdProvider) Type() Type {
	return TypeEtcd
}

// Load reads the config key.
func (p *EtcdProvider) Load(ctx context.Context) ([]byte, error) {
	resp, err := p.client.Get(ctx, p.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read etcd key %s: %w", p.key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("etcd key %s not found", p.key)
	}
	return resp.Kvs[0].Value, nil
}

// Watch uses etcd's native watch stream.
func (p *EtcdProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	changes := make(chan struct{}, 1)

	go func() {
		defer close(changes)

		watchCh := p.client.Watch(ctx, p.key)
		for resp := range watchCh {
			if resp.Err() != nil {
				return
			}
			if len(resp.Events) == 0 {
				continue
			}
			select {
			case changes <- struct{}{}:
			default:
			}
		}
	}()

	return changes, nil
}

func (p *EtcdProvider) Close() error {
	return p.client.Close()
}
