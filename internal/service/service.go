package service

import (
	"context"
	"time"

	"github.com/mdario971/cactus-flasher/internal/builder"
	"github.com/mdario971/cactus-flasher/internal/config"
	"github.com/mdario971/cactus-flasher/internal/logger"
	"github.com/mdario971/cactus-flasher/internal/models"
	"github.com/mdario971/cactus-flasher/internal/ota"
	"github.com/mdario971/cactus-flasher/internal/repository"
)

type Authorization interface {
	SignUp(username, password string) (int, error)
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (Identity, error)
	EnsureDefaultUser(username, password string) (bool, error)
}

// Boards manages the registry and renders boards with their derived ports.
type Boards interface {
	List(ctx context.Context) ([]models.BoardView, error)
	Get(ctx context.Context, name string) (models.BoardView, error)
	Create(ctx context.Context, in models.BoardCreate) (models.BoardView, error)
	Update(ctx context.Context, name string, u models.BoardUpdate) (models.BoardView, error)
	Delete(ctx context.Context, name string) error
	Export(ctx context.Context) ([]models.Board, error)
	Import(ctx context.Context, boards []models.Board) ([]string, error)
	// Endpoint returns where the board's web server is reachable and its credentials.
	Endpoint(ctx context.Context, name string) (WebEndpoint, error)
}

// Scanner probes boards and writes what it learns back to the registry.
type Scanner interface {
	ScanAll(ctx context.Context) ([]ScanResult, error)
	Discover(ctx context.Context, autoRegister bool) (DiscoveryReport, error)
	Ping(ctx context.Context, name string) (ScanResult, error)
}

// StatusLog exposes the online/offline transition history.
type StatusLog interface {
	Record(ctx context.Context, board string, online bool, details string) (bool, error)
	List(ctx context.Context, f LogFilter) ([]models.StatusLogEntry, error)
	DeleteEntry(ctx context.Context, ts time.Time, board string) error
	Clear(ctx context.Context) error
}

// Flasher starts uploads and reports their progress.
type Flasher interface {
	Start(ctx context.Context, req FlashRequest) (models.FlashOperation, error)
	Status(flashID string) (models.FlashOperation, error)
	History() []models.FlashOperation
}

// Builder starts firmware compilations and reports their progress.
type Builder interface {
	Start(ctx context.Context, req BuildRequest) (models.BuildOperation, error)
	Status(buildID string) (models.BuildOperation, error)
	List() []models.BuildOperation
	FirmwareFor(buildID string) ([]byte, error)
}

// Monitor runs the periodic fleet scan.
// Stop via context cancellation in main() for graceful shutdown.
type Monitor interface {
	Run(ctx context.Context, interval time.Duration)
}

type Service struct {
	Authorization
	Boards
	Scanner
	StatusLog
	Flasher
	Builder
	Monitor
}

// NewService wires repositories, the OTA engine and the toolchain into concrete services.
func NewService(repos *repository.Repository, cfg *config.Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	statusLog := NewStatusLogService(repos.StatusLog)
	scanner := NewScannerService(repos.Boards, statusLog, ScannerOptions{
		DDNSHost:            cfg.DDNSHost,
		TCPTimeout:          cfg.Scan.TCPTimeout,
		HTTPTimeout:         cfg.Scan.HTTPTimeout,
		MetaTimeout:         cfg.Scan.MetaTimeout,
		Retries:             cfg.Scan.Retries,
		RetryDelay:          cfg.Scan.RetryDelay,
		Concurrency:         cfg.Scan.Concurrency,
		DiscoverMin:         cfg.Discover.PortMin,
		DiscoverMax:         cfg.Discover.PortMax,
		DiscoverTimeout:     cfg.Discover.Timeout,
		DiscoverConcurrency: cfg.Discover.Concurrency,
	}, log.With("component", "scanner"))

	engine := ota.NewEngine(ota.Options{
		Timeout:   cfg.OTA.Timeout,
		ChunkSize: cfg.OTA.ChunkSize,
	}, log.With("component", "ota"))

	toolchain := builder.NewToolchain(builder.Paths{
		ESPHome:    cfg.Tools.ESPHome,
		ArduinoCLI: cfg.Tools.ArduinoCLI,
		PlatformIO: cfg.Tools.PlatformIO,
	}, log.With("component", "builder"))

	builds := NewBuildService(toolchain, cfg.Storage.UploadsDir, cfg.Storage.BuildsDir, log.With("component", "build"))
	flashes := NewFlashService(repos.Boards, builds, engine, FlashOptions{
		DDNSHost:  cfg.DDNSHost,
		BuildsDir: cfg.Storage.BuildsDir,
	}, log.With("component", "flash"))

	return &Service{
		Authorization: NewAuthService(repos.Auth, AuthOptions{
			SecretKey: cfg.Auth.SecretKey,
			TokenTTL:  cfg.Auth.TokenTTL,
		}),
		Boards:    NewBoardService(repos.Boards, scanner, cfg.DDNSHost),
		Scanner:   scanner,
		StatusLog: statusLog,
		Flasher:   flashes,
		Builder:   builds,
		Monitor:   NewMonitorService(scanner, log.With("component", "monitor")),
	}
}
