package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wabridge/wabridge/pkg/config"
	"github.com/wabridge/wabridge/pkg/storage"
	"github.com/wabridge/wabridge/pkg/storage/repository"
)

// exportDataCommand exports the message log from the configured storage
// backend to a JSON file.
func exportDataCommand(outputDir string) {
	fmt.Println("wabridge message log export")
	fmt.Println("===========================")
	fmt.Println()

	cfg, err := config.LoadConfig(getConfigPath())
	if err != nil {
		fmt.Printf("error loading config: %v\n", err)
		os.Exit(1)
	}

	storeCfg := storage.Config{
		Type:        cfg.Storage.Type,
		FilePath:    cfg.Storage.FilePath,
		DatabaseURL: cfg.Storage.DatabaseURL,
	}

	fmt.Printf("storage type: %s\n", cfg.Storage.Type)
	fmt.Printf("output directory: %s\n", outputDir)
	fmt.Println()

	store, err := storage.NewStorage(storeCfg)
	if err != nil {
		fmt.Printf("error creating storage: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := store.Connect(ctx); err != nil {
		fmt.Printf("error connecting to storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		fmt.Printf("error creating output directory: %v\n", err)
		os.Exit(1)
	}

	// Page through the full log, oldest record last.
	records, err := store.Messages().List(ctx, repository.ListOptions{
		Limit: 1 << 20,
	})
	if err != nil {
		fmt.Printf("error reading message log: %v\n", err)
		os.Exit(1)
	}

	filename := filepath.Join(outputDir, "messages.json")
	if err := writeExportJSON(filename, records); err != nil {
		fmt.Printf("error writing %s: %v\n", filename, err)
		os.Exit(1)
	}

	fmt.Printf("exported %d messages to %s\n", len(records), filename)
}

func writeExportJSON(filename string, data interface{}) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
