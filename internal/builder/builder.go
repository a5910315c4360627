// Package builder compiles firmware with the external ESPHome, Arduino and
// PlatformIO toolchains.
package builder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mdario971/cactus-flasher/internal/logger"
	"github.com/mdario971/cactus-flasher/internal/models"
)

// ErrCompile is returned when a toolchain exits non-zero or leaves no firmware behind.
var ErrCompile = errors.New("compilation failed")

// DefaultFQBN is used for Arduino builds that name no board.
const DefaultFQBN = "esp32:esp32:esp32"

// Paths locates the toolchain executables.
type Paths struct {
	ESPHome    string
	ArduinoCLI string
	PlatformIO string
}

// Runner executes name with args in dir and returns its combined output.
type Runner func(ctx context.Context, dir, name string, args ...string) (string, error)

func execRunner(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Job is one compilation request. Source is the YAML file, the sketch file or
// the project directory depending on Project.
type Job struct {
	Project     models.ProjectType
	Source      string
	BoardType   string
	Environment string
}

// Output is what a finished compilation left behind.
type Output struct {
	FirmwarePath string
	Logs         string
}

type Toolchain struct {
	paths Paths
	run   Runner
	log   *logger.Logger
}

func NewToolchain(paths Paths, log *logger.Logger) *Toolchain {
	if paths.ESPHome == "" {
		paths.ESPHome = "esphome"
	}
	if paths.ArduinoCLI == "" {
		paths.ArduinoCLI = "arduino-cli"
	}
	if paths.PlatformIO == "" {
		paths.PlatformIO = "pio"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Toolchain{paths: paths, run: execRunner, log: log}
}

// Build compiles job. Logs are returned even when the build fails.
func (t *Toolchain) Build(ctx context.Context, job Job) (Output, error) {
	var (
		out Output
		err error
	)
	switch job.Project {
	case models.ProjectESPHome:
		out, err = t.esphome(ctx, job.Source)
	case models.ProjectArduino:
		out, err = t.arduino(ctx, job.Source, job.BoardType)
	case models.ProjectPlatformIO:
		out, err = t.platformio(ctx, job.Source, job.Environment)
	default:
		return Output{}, models.Invalid("project_type", "unsupported project type %q", job.Project)
	}
	if err != nil {
		t.log.Warnw("build_failed", "project", job.Project, "source", job.Source, "err", err)
		return out, err
	}
	t.log.Infow("build_done", "project", job.Project, "firmware", out.FirmwarePath)
	return out, nil
}

func (t *Toolchain) esphome(ctx context.Context, yamlPath string) (Output, error) {
	if _, err := os.Stat(yamlPath); err != nil {
		return Output{Logs: fmt.Sprintf("YAML file not found: %s\n", yamlPath)}, ErrCompile
	}
	dir := filepath.Dir(yamlPath)
	var logs strings.Builder
	fmt.Fprintf(&logs, "Running: %s compile %s\n", t.paths.ESPHome, filepath.Base(yamlPath))

	res, err := t.run(ctx, dir, t.paths.ESPHome, "compile", filepath.Base(yamlPath))
	logs.WriteString(res)
	if err != nil {
		return Output{Logs: toolFailure(&logs, t.paths.ESPHome, err)}, ErrCompile
	}

	stem := strings.TrimSuffix(filepath.Base(yamlPath), filepath.Ext(yamlPath))
	buildDir := filepath.Join(dir, ".esphome", "build", stem)
	fw := firstExisting(
		filepath.Join(buildDir, ".pioenvs", stem, "firmware.bin"),
		filepath.Join(buildDir, ".pio", "build", stem, "firmware.bin"),
		filepath.Join(dir, ".pioenvs", stem, "firmware.bin"),
	)
	if fw == "" {
		fw = findFile(filepath.Join(dir, ".esphome"), "firmware.bin")
	}
	return finish(&logs, fw, "firmware.bin")
}

func (t *Toolchain) arduino(ctx context.Context, sketchPath, board string) (Output, error) {
	if _, err := os.Stat(sketchPath); err != nil {
		return Output{Logs: fmt.Sprintf("Sketch file not found: %s\n", sketchPath)}, ErrCompile
	}
	sketchDir := filepath.Dir(sketchPath)
	sketchName := filepath.Base(sketchDir)
	if filepath.Base(sketchPath) != sketchName+".ino" {
		return Output{Logs: fmt.Sprintf("Sketch must be named %s.ino to match directory %s\n", sketchName, sketchName)}, ErrCompile
	}
	fqbn := FQBN(board)
	outDir := filepath.Join(sketchDir, "build")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	var logs strings.Builder
	core := coreOf(fqbn)
	logs.WriteString("Checking board support...\n")
	res, err := t.run(ctx, "", t.paths.ArduinoCLI, "core", "list")
	logs.WriteString(res)
	if err != nil {
		return Output{Logs: toolFailure(&logs, t.paths.ArduinoCLI, err)}, ErrCompile
	}
	if !strings.Contains(res, core) {
		fmt.Fprintf(&logs, "\nInstalling %s core...\n", core)
		res, err = t.run(ctx, "", t.paths.ArduinoCLI, "core", "install", core)
		logs.WriteString(res)
		if err != nil {
			return Output{Logs: toolFailure(&logs, t.paths.ArduinoCLI, err)}, ErrCompile
		}
	}

	args := []string{"compile", "--fqbn", fqbn, "--output-dir", outDir}
	if libs := filepath.Join(sketchDir, "libraries"); isDir(libs) {
		args = append(args, "--libraries", libs)
	}
	args = append(args, sketchDir)
	fmt.Fprintf(&logs, "\nCompiling: %s %s\n", t.paths.ArduinoCLI, strings.Join(args, " "))
	res, err = t.run(ctx, sketchDir, t.paths.ArduinoCLI, args...)
	logs.WriteString(res)
	if err != nil {
		return Output{Logs: toolFailure(&logs, t.paths.ArduinoCLI, err)}, ErrCompile
	}

	fw := firstExisting(
		filepath.Join(outDir, sketchName+".ino.bin"),
		filepath.Join(outDir, sketchName+".bin"),
	)
	if fw == "" {
		matches, _ := filepath.Glob(filepath.Join(outDir, "*.bin"))
		sort.Strings(matches)
		if len(matches) > 0 {
			fw = matches[0]
		}
	}
	return finish(&logs, fw, ".bin file")
}

func (t *Toolchain) platformio(ctx context.Context, projectDir, env string) (Output, error) {
	dir := projectDir
	if !isFile(filepath.Join(dir, "platformio.ini")) {
		ini := findFile(projectDir, "platformio.ini")
		if ini == "" {
			return Output{Logs: fmt.Sprintf("platformio.ini not found in %s\n", projectDir)}, ErrCompile
		}
		dir = filepath.Dir(ini)
	}

	args := []string{"run"}
	if env != "" {
		args = append(args, "-e", env)
	}
	var logs strings.Builder
	fmt.Fprintf(&logs, "Running: %s %s\nProject directory: %s\n\n", t.paths.PlatformIO, strings.Join(args, " "), dir)
	res, err := t.run(ctx, dir, t.paths.PlatformIO, args...)
	logs.WriteString(res)
	if err != nil {
		return Output{Logs: toolFailure(&logs, t.paths.PlatformIO, err)}, ErrCompile
	}

	buildDir := filepath.Join(dir, ".pio", "build")
	var fw string
	if env != "" {
		fw = firstExisting(filepath.Join(buildDir, env, "firmware.bin"))
	} else {
		fw = findFile(buildDir, "firmware.bin")
	}
	return finish(&logs, fw, "firmware.bin")
}

// FQBN turns a board type into a fully qualified Arduino board name.
// Values that already look like an FQBN are returned unchanged.
func FQBN(board string) string {
	board = strings.TrimSpace(board)
	if strings.Count(board, ":") >= 2 {
		return board
	}
	switch models.BoardType(board) {
	case models.BoardESP32S2, models.BoardESP32S3, models.BoardESP32C3:
		return "esp32:esp32:" + board
	case models.BoardESP8266:
		return "esp8266:esp8266:nodemcuv2"
	}
	return DefaultFQBN
}

// coreOf returns the "vendor:arch" platform of an FQBN.
func coreOf(fqbn string) string {
	parts := strings.SplitN(fqbn, ":", 3)
	if len(parts) < 2 {
		return "esp32:esp32"
	}
	return parts[0] + ":" + parts[1]
}

func toolFailure(logs *strings.Builder, tool string, err error) string {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(logs, "\n%s not found\n", tool)
	} else {
		fmt.Fprintf(logs, "\n%s: %v\n", tool, err)
	}
	return logs.String()
}

func finish(logs *strings.Builder, fw, what string) (Output, error) {
	if fw == "" {
		fmt.Fprintf(logs, "\nCompilation succeeded but %s not found\n", what)
		return Output{Logs: logs.String()}, ErrCompile
	}
	fmt.Fprintf(logs, "\nFirmware generated: %s\n", fw)
	return Output{FirmwarePath: fw, Logs: logs.String()}, nil
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if isFile(p) {
			return p
		}
	}
	return ""
}

// findFile returns the first file called name under root in lexical walk order.
func findFile(root, name string) string {
	var found string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && d.Name() == name {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	return found
}

func isFile(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}
