package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dotsetgreg/sessiond/pkg/config"
)

var version = "dev"

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func configPath() string {
	if p := os.Getenv("SESSIOND_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "sessiond.json"
	}
	return filepath.Join(home, ".sessiond", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(configPath())
}
