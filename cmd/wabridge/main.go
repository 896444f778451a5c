package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wabridge/wabridge/pkg/api"
	"github.com/wabridge/wabridge/pkg/bus"
	"github.com/wabridge/wabridge/pkg/config"
	"github.com/wabridge/wabridge/pkg/logger"
	"github.com/wabridge/wabridge/pkg/sched"
	"github.com/wabridge/wabridge/pkg/storage"
	"github.com/wabridge/wabridge/pkg/wa"
	"github.com/wabridge/wabridge/pkg/webhook"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "export":
			outputDir := "./export"
			if len(os.Args) > 2 {
				outputDir = os.Args[2]
			}
			exportDataCommand(outputDir)
			return
		case "version":
			fmt.Println("wabridge 0.1.0")
			return
		case "help", "-h", "--help":
			printUsage()
			return
		default:
			fmt.Printf("unknown command: %s\n\n", os.Args[1])
			printUsage()
			os.Exit(1)
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: wabridge [command]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  (none)         run the bridge")
	fmt.Println("  export [dir]   export the message log to JSON")
	fmt.Println("  version        print the version")
}

func getConfigPath() string {
	if path := os.Getenv("WABRIDGE_CONFIG"); path != "" {
		return path
	}
	return config.DefaultConfigPath()
}

func run() error {
	cfg, err := config.LoadConfig(getConfigPath())
	if err != nil {
		return err
	}

	logger.Setup(cfg.Log.Level, cfg.Log.JSON)
	logger.InfoCF("main", "Starting wabridge", map[string]interface{}{
		"session": cfg.SessionName,
		"mode":    cfg.Mode,
	})

	token, err := config.EnsureAPIToken(cfg)
	if err != nil {
		return fmt.Errorf("failed to resolve API token: %w", err)
	}
	cfg.API.Token = token

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := bus.NewEventBus()

	// Message log
	dataStore, err := storage.NewStorage(storage.Config{
		Type:        cfg.Storage.Type,
		FilePath:    cfg.Storage.FilePath,
		DatabaseURL: cfg.Storage.DatabaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	if err := dataStore.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect storage: %w", err)
	}
	defer dataStore.Close()

	recorder := storage.NewRecorder(dataStore)
	go recorder.Run(ctx, eventBus)

	// Webhook dispatcher
	dispatcher := webhook.NewDispatcher()
	go dispatcher.Run(ctx, eventBus)

	// Session manager
	creds, err := wa.NewCredentialStore(cfg.StorePath, cfg.SessionName)
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	defer creds.Close()

	pipeline := wa.NewPipeline(eventBus, nil, cfg.Embedded)
	manager := wa.NewManager(creds, wa.NewWhatsmeowTransport, eventBus, pipeline, wa.ManagerOptions{
		Mode:        cfg.Mode,
		PhoneNumber: cfg.PhoneNumber,
		DisplayQR:   true,
	})
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer manager.Stop()

	sender := wa.NewSender(manager)

	// Control surface
	server := api.NewServer(cfg.API, manager, sender, dispatcher, dataStore, eventBus)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	defer server.Stop()

	// Maintenance scheduler
	scheduler := sched.NewScheduler(cfg.Digest.Enabled, cfg.Digest.Schedule, dataStore, dispatcher, manager)
	go scheduler.Run(ctx)

	logger.InfoCF("main", "wabridge running", map[string]interface{}{
		"api": fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.InfoCF("main", "Shutting down", map[string]interface{}{
		"signal": sig.String(),
	})
	return nil
}
