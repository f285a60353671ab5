package main

import (
	"fmt"
	"os"

	"github.com/deploymenttheory/go-vdi-inspector/cmd"
	"github.com/deploymenttheory/go-vdi-inspector/internal/config"
	"github.com/deploymenttheory/go-vdi-inspector/internal/logger"
	"github.com/deploymenttheory/go-vdi-inspector/pkg/tooling"
)

func main() {
	// Get app configuration file from environment if specified
	configFile := os.Getenv("VDI_INSPECTOR_CONFIG")

	// 1. Initialize configuration and logging. A config file that exists but
	// cannot be read is fatal here; tooling.Initialize only warns about it.
	if err := config.Initialize(configFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing configuration: %v\n", err)
		os.Exit(1)
	}
	if err := tooling.Initialize(tooling.InitOptions{ConfigFile: configFile}); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}

	logger.LogDebug("Application started", map[string]interface{}{
		"version":     tooling.GetVersion(),
		"config_file": config.ConfigFile,
	})

	// 2. Hand over to the CLI
	cmd.Execute()

	// Ensure logs are flushed before exit
	tooling.Shutdown()
}
