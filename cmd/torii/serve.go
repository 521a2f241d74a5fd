package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/torii/pkg/agent"
	"github.com/kadirpekel/torii/pkg/auth"
	"github.com/kadirpekel/torii/pkg/config"
	"github.com/kadirpekel/torii/pkg/config/provider"
	"github.com/kadirpekel/torii/pkg/crypto"
	"github.com/kadirpekel/torii/pkg/llms"
	"github.com/kadirpekel/torii/pkg/observability"
	"github.com/kadirpekel/torii/pkg/prompts"
	"github.com/kadirpekel/torii/pkg/ratelimit"
	"github.com/kadirpekel/torii/pkg/server"
	"github.com/kadirpekel/torii/pkg/tools"
	"github.com/kadirpekel/torii/pkg/tools/builtin"
	"github.com/kadirpekel/torii/pkg/tools/remote"
	"github.com/kadirpekel/torii/pkg/tools/wrappers"
)

const shutdownTimeout = 30 * time.Second

// ServeCmd starts the gateway server.
type ServeCmd struct {
	Config         string   `short:"c" help:"Path to config file. Without it, configuration comes from the environment." type:"path"`
	ConfigProvider string   `name:"config-provider" help:"Config source: file, consul, etcd, zookeeper." default:"file" enum:"file,consul,etcd,zookeeper"`
	Endpoints      []string `help:"Remote config provider endpoints."`
	Watch          bool     `help:"Watch the config source and log changes."`

	Host string `help:"Listen host (overrides config)."`
	Port int    `help:"Listen port (overrides config)." default:"0"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, loader, err := c.loadConfig(ctx)
	if err != nil {
		return err
	}
	if loader != nil {
		defer func() { _ = loader.Close() }()
	}

	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	if c.Watch && loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	providers, err := llms.NewRegistry(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize model providers: %w", err)
	}
	defer func() { _ = providers.Close() }()

	factories := builtin.Factories()
	factories = append(factories, wrappers.Factories()...)
	factories = append(factories, remote.CatalogFactory(), remote.MCPFactory())
	services, err := tools.NewRegistry(factories...)
	if err != nil {
		return fmt.Errorf("failed to initialize tool services: %w", err)
	}

	var cipher *crypto.Cipher
	if cfg.EncryptionKey != "" {
		cipher, err = crypto.NewCipher(cfg.EncryptionKey)
		if err != nil {
			return fmt.Errorf("failed to initialize credential cipher: %w", err)
		}
		slog.Info("Credential decryption enabled")
	}

	validator, err := auth.NewValidator(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT validator: %w", err)
	}
	if validator != nil {
		slog.Info("Authentication enabled")
	}

	limiter, err := ratelimit.New(cfg.RateLimit, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize rate limiter: %w", err)
	}
	if limiter != nil {
		slog.Info("Rate limiting enabled", "rules", len(cfg.RateLimit.Rules))
	}

	obs := observability.NewManager(cfg.Observability)
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Observability shutdown error", "error", err)
		}
	}()

	engine := agent.NewEngine(providers, services, cipher, cfg.Agent)

	srv, err := server.New(cfg, server.Dependencies{
		Engine:    engine,
		Enhancer:  prompts.NewEnhancer(providers, cfg.Enhancement),
		Services:  services,
		Cipher:    cipher,
		Validator: validator,
		Limiter:   limiter,
		Obs:       obs,
	})
	if err != nil {
		return err
	}

	printStartupInfo(cfg, providers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// loadConfig loads from the configured source, or builds an env-only config
// when no path is given.
func (c *ServeCmd) loadConfig(ctx context.Context) (*config.Config, *config.Loader, error) {
	if c.Config == "" {
		slog.Info("No config file given, using environment configuration")
		return config.FromEnv(), nil, nil
	}

	p, err := provider.New(provider.ProviderConfig{
		Type:      provider.Type(c.ConfigProvider),
		Path:      c.Config,
		Endpoints: c.Endpoints,
	})
	if err != nil {
		return nil, nil, err
	}

	loader := config.NewLoader(p, config.WithOnChange(func(*config.Config) {
		slog.Warn("Configuration changed; restart to apply")
	}))
	cfg, err := loader.Load(ctx)
	if err != nil {
		_ = loader.Close()
		return nil, nil, err
	}
	slog.Info("Loaded configuration", "source", c.ConfigProvider, "path", c.Config)
	return cfg, loader, nil
}

func printStartupInfo(cfg *config.Config, providers *llms.Registry) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("\nTorii gateway ready\n")
	fmt.Printf("   API:     http://%s/api/v1\n", addr)
	fmt.Printf("   Health:  http://%s/health\n", addr)
	if cfg.Observability.Metrics.Enabled {
		fmt.Printf("   Metrics: http://%s/metrics\n", addr)
	}
	fmt.Printf("   Providers: %v\n", providers.Names())
	fmt.Printf("   Environment: %s\n", cfg.Environment)
	fmt.Println("\nPress Ctrl+C to stop")
}
