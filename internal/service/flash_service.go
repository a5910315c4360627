package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mdario971/cactus-flasher/internal/logger"
	"github.com/mdario971/cactus-flasher/internal/models"
	"github.com/mdario971/cactus-flasher/internal/ota"
	"github.com/mdario971/cactus-flasher/internal/ports"
	"github.com/mdario971/cactus-flasher/internal/repository"
)

// FirmwareSource resolves a finished build to its firmware image.
type FirmwareSource interface {
	FirmwareFor(buildID string) ([]byte, error)
}

// uploader delivers an image to a board. *ota.Engine implements it.
type uploader interface {
	Flash(ctx context.Context, t ota.Target, img ota.Image, onProgress func(ota.Progress)) (ota.Result, error)
}

type FlashOptions struct {
	DDNSHost  string
	BuildsDir string
}

// FlashService validates flash requests and runs each upload in the background.
type FlashService struct {
	boards   repository.BoardRepo
	firmware FirmwareSource
	engine   uploader
	tracker  *FlashTracker
	opts     FlashOptions
	log      *logger.Logger
	wg       sync.WaitGroup
}

func NewFlashService(boards repository.BoardRepo, firmware FirmwareSource, engine uploader, opts FlashOptions, log *logger.Logger) *FlashService {
	if log == nil {
		log = logger.Nop()
	}
	return &FlashService{
		boards:   boards,
		firmware: firmware,
		engine:   engine,
		tracker:  NewFlashTracker(),
		opts:     opts,
		log:      log,
	}
}

// Start checks the request, registers a pending operation and returns it at once.
// The upload itself is not tied to ctx: closing the request does not abort it.
func (s *FlashService) Start(ctx context.Context, req FlashRequest) (models.FlashOperation, error) {
	name := strings.TrimSpace(req.BoardName)
	if name == "" {
		return models.FlashOperation{}, models.Invalid("board_name", "must not be empty")
	}
	b, err := s.boards.Get(ctx, name)
	if err != nil {
		return models.FlashOperation{}, err
	}
	tr, err := ports.Resolve(b.ID)
	if err != nil {
		return models.FlashOperation{}, err
	}
	img, err := s.image(req)
	if err != nil {
		return models.FlashOperation{}, err
	}

	target := ota.Target{
		Host:        networkHost(b, s.opts.DDNSHost),
		OTAPort:     tr.OTA,
		WebPort:     tr.Webserver,
		WebUsername: b.WebUsername,
		WebPassword: b.WebPassword,
	}
	op := s.tracker.Create(b.Name)
	s.log.Infow("flash_started", "flash_id", op.FlashID, "board", b.Name, "host", target.Host,
		"ota_port", target.OTAPort, "bytes", len(img.Data))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(op.FlashID, target, img)
	}()
	return op, nil
}

func (s *FlashService) run(id string, target ota.Target, img ota.Image) {
	s.tracker.Begin(id, "Preparing upload...")
	res, err := s.engine.Flash(context.Background(), target, img, func(p ota.Progress) {
		if p.Percent < 100 {
			s.tracker.Progress(id, p.Percent, p.Message)
		}
	})
	if err != nil {
		kind := ""
		var oe *ota.Error
		if errors.As(err, &oe) {
			kind = string(oe.Kind)
		}
		s.tracker.Fail(id, kind, err.Error())
		s.log.Warnw("flash_failed", "flash_id", id, "kind", kind, "err", err)
		return
	}
	s.tracker.Succeed(id, "Flash successful! Board is rebooting...")
	s.log.Infow("flash_succeeded", "flash_id", id, "target", res.Target, "md5", res.MD5)
}

// image picks the single firmware source of a request.
func (s *FlashService) image(req FlashRequest) (ota.Image, error) {
	sources := 0
	for _, set := range []bool{req.Firmware != nil, req.BuildID != "", req.FirmwarePath != ""} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return ota.Image{}, models.Invalid("firmware", "exactly one of an uploaded file, build_id or firmware_path is required")
	}

	var (
		data []byte
		err  error
		name = "firmware.bin"
	)
	switch {
	case req.Firmware != nil:
		if !strings.EqualFold(filepath.Ext(req.FileName), ".bin") {
			return ota.Image{}, models.Invalid("file", "only .bin files are allowed")
		}
		data, name = req.Firmware, filepath.Base(req.FileName)
	case req.BuildID != "":
		if s.firmware == nil {
			return ota.Image{}, models.NotFound("build %q", req.BuildID)
		}
		data, err = s.firmware.FirmwareFor(req.BuildID)
	default:
		data, err = s.readArtifact(req.FirmwarePath)
	}
	if err != nil {
		return ota.Image{}, err
	}
	if len(data) == 0 {
		return ota.Image{}, models.Invalid("firmware", "image is empty")
	}
	return ota.Image{Name: name, Data: data}, nil
}

// readArtifact reads a firmware file that must live inside the builds directory.
func (s *FlashService) readArtifact(path string) ([]byte, error) {
	root, err := filepath.Abs(s.opts.BuildsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve builds dir: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, models.Invalid("firmware_path", "%v", err)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, models.Invalid("firmware_path", "must be inside the builds directory")
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, models.NotFound("firmware %q", path)
	}
	if err != nil {
		return nil, fmt.Errorf("read firmware: %w", err)
	}
	return data, nil
}

func (s *FlashService) Status(flashID string) (models.FlashOperation, error) {
	op, ok := s.tracker.Get(flashID)
	if !ok {
		return models.FlashOperation{}, models.NotFound("flash operation %q", flashID)
	}
	return op, nil
}

// History lists flash operations newest first.
func (s *FlashService) History() []models.FlashOperation {
	return s.tracker.List()
}

// Wait blocks until every running upload has finished.
func (s *FlashService) Wait() {
	s.wg.Wait()
}
