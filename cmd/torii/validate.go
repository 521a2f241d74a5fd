package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/torii/pkg/config"
	"github.com/kadirpekel/torii/pkg/config/provider"
)

// ValidateCmd validates a configuration file.
type ValidateCmd struct {
	Config string `arg:"" name:"config" help:"Configuration file path." placeholder:"PATH"`

	Format      string `short:"f" help:"Output format: compact, json." default:"compact" enum:"compact,json"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the expanded configuration (defaults applied, env vars resolved)."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	p, err := provider.NewFileProvider(c.Config)
	if err != nil {
		return err
	}
	loader := config.NewLoader(p)
	defer func() { _ = loader.Close() }()

	cfg, err := loader.Load(context.Background())
	if err != nil {
		if c.Format == "json" {
			_ = json.NewEncoder(os.Stdout).Encode(map[string]any{
				"valid": false,
				"error": err.Error(),
			})
			return nil
		}
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	switch c.Format {
	case "json":
		_ = json.NewEncoder(os.Stdout).Encode(map[string]any{"valid": true})
	default:
		fmt.Printf("✓ %s is valid\n", c.Config)
	}

	if c.PrintConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Println("---")
		os.Stdout.Write(out)
	}
	return nil
}
