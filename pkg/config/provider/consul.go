package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/consul/api"
)

// ConsulProvider loads config from a Consul KV key and watches it with
// blocking queries.
type ConsulProvider struct {
	client *api.Client
	key    string
}

// NewConsulProvider creates a provider reading from the given Consul agent.
func NewConsulProvider(address, key string) (*ConsulProvider, error) {
	if key == "" {
		return nil, fmt.Errorf("consul key is required")
	}

	cfg := api.DefaultConfig()
	if address != "" {
		cfg.Address = address
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return &ConsulProvider{
		client: client,
		key:    key,
	}, nil
}

func (p *ConsulProvider) Type() Type {
	return TypeConsul
}

// Load reads the config key.
func (p *ConsulProvider) Load(ctx context.Context) ([]byte, error) {
	pair, _, err := p.client.KV().Get(p.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %s: %w", p.key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul key %s not found", p.key)
	}
	return pair.Value, nil
}

// Watch uses consul blocking queries: each Get parks until the key's modify
// index moves past the last observed one.
func (p *ConsulProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	changes := make(chan struct{}, 1)

	go func() {
		defer close(changes)

		var lastIndex uint64
		for {
			opts := &api.QueryOptions{
				WaitIndex: lastIndex,
				WaitTime:  5 * time.Minute,
			}
			pair, meta, err := p.client.KV().Get(p.key, opts.WithContext(ctx))
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				slog.Warn("Consul watch error, retrying", "key", p.key, "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
				continue
			}
			if pair == nil || meta == nil {
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
				continue
			}

			if lastIndex != 0 && meta.LastIndex != lastIndex {
				select {
				case changes <- struct{}{}:
				default:
				}
			}
			lastIndex = meta.LastIndex
		}
	}()

	return changes, nil
}

func (p *ConsulProvider) Close() error {
	return nil
}
