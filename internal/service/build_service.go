package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mdario971/cactus-flasher/internal/builder"
	"github.com/mdario971/cactus-flasher/internal/logger"
	"github.com/mdario971/cactus-flasher/internal/models"
)

const firmwareFile = "firmware.bin"

// compiler runs one toolchain job. *builder.Toolchain implements it.
type compiler interface {
	Build(ctx context.Context, job builder.Job) (builder.Output, error)
}

// BuildService stores uploaded sources, compiles them in the background and
// keeps each artifact under buildsDir/{build_id}/firmware.bin.
type BuildService struct {
	compiler   compiler
	tracker    *BuildTracker
	uploadsDir string
	buildsDir  string
	log        *logger.Logger
	wg         sync.WaitGroup
}

func NewBuildService(c compiler, uploadsDir, buildsDir string, log *logger.Logger) *BuildService {
	if log == nil {
		log = logger.Nop()
	}
	return &BuildService{
		compiler:   c,
		tracker:    NewBuildTracker(),
		uploadsDir: uploadsDir,
		buildsDir:  buildsDir,
		log:        log,
	}
}

// Start lays out the sources of req and queues the compilation.
func (s *BuildService) Start(ctx context.Context, req BuildRequest) (models.BuildOperation, error) {
	if err := checkSource(req); err != nil {
		return models.BuildOperation{}, err
	}
	op := s.tracker.Create(req.ProjectType, req.BoardType)

	job, err := s.stage(op.BuildID, req)
	if err != nil {
		s.tracker.Fail(op.BuildID, err.Error(), "")
		if errors.Is(err, models.ErrValidation) {
			return models.BuildOperation{}, err
		}
		return models.BuildOperation{}, fmt.Errorf("stage build sources: %w", err)
	}
	s.log.Infow("build_started", "build_id", op.BuildID, "project", req.ProjectType, "file", req.FileName)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(op.BuildID, job)
	}()
	return op, nil
}

func checkSource(req BuildRequest) error {
	name := filepath.Base(req.FileName)
	if len(req.Source) == 0 || name == "." || name == string(filepath.Separator) {
		return models.Invalid("file", "a source file is required")
	}
	ext := strings.ToLower(filepath.Ext(name))
	switch req.ProjectType {
	case models.ProjectESPHome:
		if ext != ".yaml" && ext != ".yml" {
			return models.Invalid("file", "only YAML files are supported for ESPHome builds")
		}
	case models.ProjectArduino:
		if ext != ".ino" {
			return models.Invalid("file", "only .ino files are supported for Arduino builds")
		}
	case models.ProjectPlatformIO:
		if ext != ".zip" {
			return models.Invalid("file", "only .zip project archives are supported for PlatformIO builds")
		}
	default:
		return models.Invalid("project_type", "unsupported project type %q", req.ProjectType)
	}
	return nil
}

// stage writes the sources under uploadsDir/{id} the way each toolchain expects them.
func (s *BuildService) stage(id string, req BuildRequest) (builder.Job, error) {
	dir := filepath.Join(s.uploadsDir, id)
	name := filepath.Base(req.FileName)
	job := builder.Job{Project: req.ProjectType, BoardType: req.BoardType, Environment: req.Environment}

	switch req.ProjectType {
	case models.ProjectArduino:
		// arduino-cli wants the sketch inside a directory of the same name.
		sketchDir := filepath.Join(dir, strings.TrimSuffix(name, filepath.Ext(name)))
		job.Source = filepath.Join(sketchDir, name)
		if err := writeSource(job.Source, req.Source); err != nil {
			return job, err
		}
		for _, lib := range req.Libraries {
			libName := filepath.Base(lib.Name)
			if libName == "." || libName == string(filepath.Separator) {
				continue
			}
			if err := writeSource(filepath.Join(sketchDir, "libraries", libName), lib.Data); err != nil {
				return job, err
			}
		}
	case models.ProjectPlatformIO:
		job.Source = dir
		if err := writeSource(filepath.Join(dir, name), req.Source); err != nil {
			return job, err
		}
		if err := builder.ExtractZip(req.Source, dir); err != nil {
			return job, err
		}
	default:
		job.Source = filepath.Join(dir, name)
		if err := writeSource(job.Source, req.Source); err != nil {
			return job, err
		}
	}
	return job, nil
}

func writeSource(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *BuildService) run(id string, job builder.Job) {
	s.tracker.Begin(id)
	out, err := s.compiler.Build(context.Background(), job)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, builder.ErrCompile) {
			msg = "Compilation failed"
		}
		s.tracker.Fail(id, msg, out.Logs)
		s.log.Warnw("build_failed", "build_id", id, "err", err)
		return
	}

	dest := filepath.Join(s.buildsDir, id, firmwareFile)
	if err := copyFile(out.FirmwarePath, dest); err != nil {
		s.tracker.Fail(id, fmt.Sprintf("store firmware: %v", err), out.Logs)
		s.log.Errorw("build_store_failed", "build_id", id, "err", err)
		return
	}
	s.tracker.Succeed(id, dest, out.Logs)
	s.log.Infow("build_succeeded", "build_id", id, "firmware", dest)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func (s *BuildService) Status(buildID string) (models.BuildOperation, error) {
	op, ok := s.tracker.Get(buildID)
	if !ok {
		return models.BuildOperation{}, models.NotFound("build operation %q", buildID)
	}
	return op, nil
}

// List returns builds newest first.
func (s *BuildService) List() []models.BuildOperation {
	return s.tracker.List()
}

// FirmwareFor returns the artifact of a successful build. Artifacts left by a
// previous run of the process are served from disk.
func (s *BuildService) FirmwareFor(buildID string) ([]byte, error) {
	if buildID == "" || buildID != filepath.Base(buildID) || strings.HasPrefix(buildID, ".") {
		return nil, models.Invalid("build_id", "malformed build id %q", buildID)
	}
	if op, ok := s.tracker.Get(buildID); ok && op.Status != models.BuildSuccess {
		return nil, models.Invalid("build_id", "build %q is %s", buildID, op.Status)
	}
	data, err := os.ReadFile(filepath.Join(s.buildsDir, buildID, firmwareFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, models.NotFound("firmware of build %q", buildID)
	}
	if err != nil {
		return nil, fmt.Errorf("read firmware: %w", err)
	}
	return data, nil
}

// Wait blocks until every running build has finished.
func (s *BuildService) Wait() {
	s.wg.Wait()
}
