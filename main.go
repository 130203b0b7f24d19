package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"RestoPOS/app/api"
	"RestoPOS/app/config"
	"RestoPOS/app/database"
	"RestoPOS/app/models"
	"RestoPOS/app/ordersync"
	"RestoPOS/app/security"
	"RestoPOS/app/services"
	"RestoPOS/app/till"
	"RestoPOS/app/websocket"
)

// App holds the services shared by both run modes
type App struct {
	Config        *config.AppConfig
	ConfigPath    string
	Vault         *security.Vault
	LoggerService *services.LoggerService
}

func main() {
	mode := flag.String("mode", "till", "run mode: server or till")
	newAPIKey := flag.Bool("new-api-key", false, "generate a till API key, store its hash in the config and print it")
	tableID := flag.Uint("table", 0, "table to serve (till mode; overrides config)")
	flag.Parse()

	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	app, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	defer app.LoggerService.Close()

	if *newAPIKey {
		if err := app.createAPIKey(); err != nil {
			app.LoggerService.LogError("Could not create API key", err)
			os.Exit(1)
		}
		return
	}
	if *tableID > 0 {
		app.Config.Till.TableID = *tableID
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "server":
		err = app.runServer(ctx)
	case "till":
		err = app.runTill(ctx)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		app.LoggerService.LogError("RestoPOS stopped with an error", err)
		os.Exit(1)
	}
}

func newApp() (*App, error) {
	dataDir, err := config.DefaultDataDir()
	if err != nil {
		return nil, err
	}
	vault, err := security.NewVault(dataDir)
	if err != nil {
		return nil, fmt.Errorf("could not open key vault: %w", err)
	}
	configPath := config.GetConfigPath(dataDir)
	cfg, err := config.LoadOrCreate(configPath, vault)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	logger := services.NewLoggerService(cfg.System.LogDir, os.Stdout)
	if err := logger.CleanOldLogs(cfg.System.LogRetentionDays); err != nil {
		logger.LogWarning("Could not clean old logs", err.Error())
	}
	if cfg.FirstRun {
		logger.LogInfo("First run: default configuration written", configPath)
	}

	return &App{
		Config:        cfg,
		ConfigPath:    configPath,
		Vault:         vault,
		LoggerService: logger,
	}, nil
}

// createAPIKey registers a new till key. Only its bcrypt hash is stored.
func (a *App) createAPIKey() error {
	key, err := security.GenerateAPIKey()
	if err != nil {
		return err
	}
	hash, err := security.HashAPIKey(key)
	if err != nil {
		return err
	}
	a.Config.Server.APIKeyHashes = append(a.Config.Server.APIKeyHashes, hash)
	a.Config.FirstRun = false
	if err := config.SaveConfig(a.ConfigPath, a.Config, a.Vault); err != nil {
		return err
	}
	a.LoggerService.LogInfo("Till API key created", a.ConfigPath)
	fmt.Printf("New till API key (shown once): %s\n", key)
	return nil
}

func (a *App) runServer(ctx context.Context) error {
	if err := a.Config.Validate("server"); err != nil {
		return err
	}

	db, err := database.Open(a.Config.Database, a.LoggerService)
	if err != nil {
		return err
	}
	defer database.Close(db)

	receipts, err := services.NewReceiptStore(a.Config.Server.ReceiptsDir)
	if err != nil {
		return err
	}
	orders := services.NewOrderService(db, a.LoggerService)
	server := websocket.NewServer(websocket.ServerOptions{
		Port:         a.Config.Server.Port,
		InstanceName: a.Config.Server.InstanceName,
		AnnounceMDNS: a.Config.Server.AnnounceMDNS,
		APIKeyHashes: a.Config.Server.APIKeyHashes,
	}, orders, receipts, a.LoggerService)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer a.LoggerService.RecoverPanic()
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		a.LoggerService.LogInfo("Shutting down order server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *App) runTill(ctx context.Context) error {
	cfg := a.Config.Till
	if err := a.Config.Validate("till"); err != nil {
		return err
	}

	serverURL := cfg.ServerURL
	if serverURL == "" {
		a.LoggerService.LogInfo("No server URL configured, looking for the order server", api.ServiceType)
		found, err := api.Discover(ctx, cfg.DiscoveryTimeout())
		if err != nil {
			return fmt.Errorf("order server not found; set till.server_url or POS_SERVER_URL: %w", err)
		}
		serverURL = found
		a.LoggerService.LogInfo("Order server discovered", serverURL)
	}

	journal, err := database.OpenLocalDB(cfg.DraftDBPath)
	if err != nil {
		return err
	}
	defer journal.Close()
	if removed, err := journal.ClearOldDrafts(7 * 24 * time.Hour); err != nil {
		a.LoggerService.LogWarning("Could not clear old drafts", err.Error())
	} else if removed > 0 {
		a.LoggerService.LogInfo("Cleared old drafts", fmt.Sprintf("%d removed", removed))
	}

	client := api.NewClient(serverURL, cfg.APIKey, cfg.RequestTimeout())
	terminal := till.New(client, services.NewReceiptService(a.Config.Business.Name), a.LoggerService, os.Stdin, os.Stdout)
	ctrl := ordersync.NewController(client, ordersync.Options{
		SyncDelay:     cfg.SyncDelay(),
		DrainAttempts: cfg.DrainAttempts,
		Logger:        a.LoggerService,
		Alerter:       terminal,
		Journal:       journal,
	})
	defer ctrl.Close()
	terminal.Attach(ctrl)

	subscriber, err := api.NewSubscriber(serverURL, cfg.APIKey, a.LoggerService, func(update models.OrdersUpdatedData) {
		// an empty update follows every reconnect and always refreshes
		current := ctrl.Order()
		if current != nil && update.OrderID != "" && update.OrderID != current.ID {
			return
		}
		ctrl.RequestRefresh()
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	tillDone := make(chan struct{})
	g.Go(func() error {
		defer a.LoggerService.RecoverPanic()
		subCtx, cancel := context.WithCancel(gctx)
		defer cancel()
		go func() {
			select {
			case <-tillDone:
				cancel()
			case <-subCtx.Done():
			}
		}()
		return subscriber.Run(subCtx)
	})
	g.Go(func() error {
		defer close(tillDone)
		err := terminal.Run(gctx, cfg.TableID)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return g.Wait()
}
