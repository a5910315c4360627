package builder

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mdario971/cactus-flasher/internal/models"
)

// maxExtractBytes bounds the unpacked size of an uploaded project.
const maxExtractBytes = 512 << 20

// ExtractZip unpacks data into dir. Entries that would land outside dir are rejected.
func ExtractZip(data []byte, dir string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return models.Invalid("file", "not a zip archive: %v", err)
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	var written int64
	for _, f := range zr.File {
		dest := filepath.Join(root, filepath.FromSlash(f.Name))
		if dest != root && !strings.HasPrefix(dest, root+string(filepath.Separator)) {
			return models.Invalid("file", "archive entry %q escapes the project directory", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return err
			}
			continue
		}
		n, err := extractFile(f, dest, maxExtractBytes-written)
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}

func extractFile(f *zip.File, dest string, budget int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, io.LimitReader(rc, budget+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("extract %s: %w", f.Name, err)
	}
	if n > budget {
		return n, models.Invalid("file", "archive is too large once extracted")
	}
	return n, nil
}
