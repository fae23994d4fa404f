package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/vibefs/vibed/internal/config"
)

// cmdConfig implements `vibe config show|path`.
func cmdConfig(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: vibe config show|path")
	}

	switch args[0] {
	case "path":
		path := config.GetDefaultConfigPath()
		if !config.ConfigExists() {
			fmt.Printf("%s (does not exist; defaults are in effect)\n", path)
			return nil
		}
		fmt.Println(path)
		return nil

	case "show":
		cfg, err := config.Load("")
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)

	default:
		return fmt.Errorf("usage: vibe config show|path")
	}
}
