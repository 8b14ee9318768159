package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check that the nftmarket server is up",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			cl, err := newAPIClient(c, c.Duration("timeout"))
			if err != nil {
				return err
			}

			start := time.Now()
			h, err := cl.Health(c.Context)
			if err != nil {
				return fmt.Errorf("server unhealthy: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(h)
			}

			fmt.Printf("✓ Server is healthy (%s)\n", time.Since(start).Round(time.Millisecond))
			fmt.Printf("  URL:       %s\n", c.String("server-url"))
			if h.RefreshedAt != nil {
				fmt.Printf("  Catalog:   refreshed %s\n", h.RefreshedAt.Format(time.RFC3339))
			} else {
				fmt.Printf("  Catalog:   not loaded yet\n")
			}
			fmt.Printf("  Journal:   %s\n", enabled(h.Journal))
			fmt.Printf("  Stream:    %s\n", enabled(h.Stream))
			return nil
		},
	}
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

// versionInfo is the build plus the endpoints this invocation would use.
type versionInfo struct {
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	Built       string `json:"built"`
	NodeURL     string `json:"node_url,omitempty"`
	Marketplace string `json:"marketplace_address,omitempty"`
	Module      string `json:"module_address,omitempty"`
	ServerURL   string `json:"server_url,omitempty"`
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show build information and the configured marketplace",
		Action: func(c *cli.Context) error {
			info := versionInfo{
				Version:     version,
				Commit:      commit,
				Built:       date,
				NodeURL:     c.String("node-url"),
				Marketplace: c.String("marketplace-address"),
				Module:      c.String("module-address"),
				ServerURL:   c.String("server-url"),
			}
			if info.Module == "" {
				info.Module = info.Marketplace
			}

			if c.Bool("json") {
				return outputJSON(info)
			}

			fmt.Printf("nftmarket %s\n", info.Version)
			fmt.Printf("  Commit:      %s\n", info.Commit)
			fmt.Printf("  Built:       %s\n", info.Built)
			fmt.Printf("  Node:        %s\n", orUnset(info.NodeURL))
			fmt.Printf("  Marketplace: %s\n", orUnset(info.Marketplace))
			fmt.Printf("  Module:      %s\n", orUnset(info.Module))
			fmt.Printf("  Server:      %s\n", orUnset(info.ServerURL))
			return nil
		},
	}
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
