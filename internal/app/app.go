package app

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/handlers"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/services/auth"
	"github.com/ternarybob/colligo/internal/services/browser"
	"github.com/ternarybob/colligo/internal/services/egress"
	"github.com/ternarybob/colligo/internal/services/emulation"
	"github.com/ternarybob/colligo/internal/services/extraction"
	"github.com/ternarybob/colligo/internal/services/health"
	"github.com/ternarybob/colligo/internal/services/scheduler"
	"github.com/ternarybob/colligo/internal/services/vault"
	badgerstore "github.com/ternarybob/colligo/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager

	// Pipeline services
	VaultService  *vault.Service
	Emulator      *emulation.Emulator
	HealthMonitor *health.Monitor
	EgressRouter  *egress.Router
	AuthService   *auth.Service
	Runner        *extraction.Service
	Sweeper       *scheduler.Sweeper

	// Browser automation
	BrowserPool *browser.Pool

	// Session lock registry shared by auth and extraction
	SessionLocks *common.SessionLocks

	// HTTP handlers
	APIHandler     *handlers.APIHandler
	SessionHandler *handlers.SessionHandler
	JobHandler     *handlers.JobHandler
	RecordHandler  *handlers.RecordHandler
	WSHandler      *handlers.WebSocketHandler

	wsWriter *handlers.WebSocketLogWriter
}

// New builds the application graph: storage, pipeline services, browser
// automation, and HTTP handlers.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
	}

	storageManager, err := badgerstore.NewManager(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = storageManager

	if err := a.initServices(); err != nil {
		storageManager.Close()
		return nil, err
	}
	if err := a.initHandlers(); err != nil {
		storageManager.Close()
		return nil, err
	}

	return a, nil
}

func (a *App) initServices() error {
	cfg := a.Config
	sessions := a.StorageManager.Sessions()

	vaultService, err := vault.NewService(&cfg.Vault, cfg.Sessions.TTL, sessions, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize credential vault: %w", err)
	}
	a.VaultService = vaultService

	a.Emulator = emulation.New(cfg.Emulation)
	a.HealthMonitor = health.NewMonitor(sessions, a.Logger)
	a.EgressRouter = egress.NewRouter(cfg.Egress.Identities, a.Logger)
	a.SessionLocks = common.NewSessionLocks()

	a.BrowserPool = browser.NewPool(cfg.Browser, a.Logger)
	surfaces := browser.NewSurfaceFactory(a.BrowserPool, a.Emulator, cfg.Browser, a.Logger)

	a.AuthService = auth.NewService(
		cfg.Auth,
		a.VaultService,
		sessions,
		a.HealthMonitor,
		a.EgressRouter,
		surfaces,
		a.SessionLocks,
		a.Logger,
	)

	// The WebSocket handler doubles as the event publisher; it exists before
	// the runner so progress events have somewhere to go.
	a.WSHandler = handlers.NewWebSocketHandler(&cfg.WebSocket, a.Logger)

	fetcher := browser.NewFetcher(cfg.Extraction, cfg.Browser, a.BrowserPool, a.Emulator, a.EgressRouter, a.Logger)
	a.Runner = extraction.NewService(
		cfg.Extraction,
		cfg.Sessions.IdleTimeout,
		a.StorageManager,
		a.VaultService,
		a.HealthMonitor,
		a.AuthService,
		fetcher,
		a.Emulator,
		a.SessionLocks,
		a.WSHandler,
		a.Logger,
	)

	a.Sweeper = scheduler.NewSweeper(cfg.Sessions, a.StorageManager, a.WSHandler, a.Logger)

	return nil
}

func (a *App) initHandlers() error {
	a.APIHandler = handlers.NewAPIHandler()
	a.SessionHandler = handlers.NewSessionHandler(
		a.AuthService,
		a.VaultService,
		a.StorageManager.Sessions(),
		a.EgressRouter,
		a.Logger,
	)
	a.JobHandler = handlers.NewJobHandler(a.Runner, a.StorageManager.Jobs(), a.Logger)
	a.RecordHandler = handlers.NewRecordHandler(a.StorageManager.Records(), a.Logger)

	// Route service logs to connected WebSocket clients via arbor's channel
	// mechanism.
	a.wsWriter = handlers.NewWebSocketLogWriter(a.WSHandler, &a.Config.WebSocket, a.Logger)
	a.wsWriter.Start()
	a.Logger.SetChannel("websocket", a.wsWriter.GetChannel())

	return nil
}

// Start launches the background components.
func (a *App) Start() error {
	if err := a.Sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}
	a.Runner.Start()
	return nil
}

// Close shuts everything down in dependency order.
func (a *App) Close() error {
	a.Runner.Stop()
	a.Sweeper.Stop()
	a.BrowserPool.Shutdown()

	if a.wsWriter != nil {
		if err := a.wsWriter.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close WebSocket log writer")
		}
	}

	if err := a.StorageManager.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}
	return nil
}
