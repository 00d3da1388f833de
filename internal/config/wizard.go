package config

import (
	"fmt"
	"strconv"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard and returns the
// resulting Config. It also saves the config to .vecsync.yml.
func RunWizard() (*Config, error) {
	fmt.Println("Welcome to vecsync! Let's configure your project.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Source root.
	rootPrompt := promptui.Prompt{
		Label:   "Source directory to index",
		Default: cfg.SourceRoot,
	}
	root, err := rootPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("source root: %w", err)
	}
	cfg.SourceRoot = root

	// 2. Embedding model.
	modelPrompt := promptui.Select{
		Label: "Select embedding model",
		Items: []string{
			"text-embedding-3-small — fast & cheap (1536 dims)",
			"text-embedding-3-large — highest quality (3072 dims)",
		},
	}
	modelIdx, _, err := modelPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("embedding model selection: %w", err)
	}
	models := []string{"text-embedding-3-small", "text-embedding-3-large"}
	cfg.EmbeddingModel = models[modelIdx]

	// 3. Store backend.
	backendPrompt := promptui.Select{
		Label: "Select vector store backend",
		Items: []string{
			"chromem — embedded vector DB with native filtering",
			"sqlite  — plain SQLite table with auxiliary document index",
		},
	}
	backendIdx, _, err := backendPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("store backend selection: %w", err)
	}
	backends := []StoreBackend{StoreChromem, StoreSQLite}
	cfg.StoreBackend = backends[backendIdx]

	// 4. Admin server port.
	portPrompt := promptui.Prompt{
		Label:   "Admin server port",
		Default: strconv.Itoa(cfg.Port),
		Validate: func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 || n > 65535 {
				return fmt.Errorf("must be a port number")
			}
			return nil
		},
	}
	portStr, err := portPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("port: %w", err)
	}
	cfg.Port, _ = strconv.Atoi(portStr)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Save(DefaultConfigFile); err != nil {
		return nil, err
	}

	fmt.Println()
	fmt.Printf("Configuration saved to %s\n", DefaultConfigFile)
	fmt.Println("Set OPENAI_API_KEY in your environment before running `vecsync sync`.")
	return cfg, nil
}
