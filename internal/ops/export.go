package ops

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/hpungsan/drip/internal/config"
	"github.com/hpungsan/drip/internal/errors"
	"github.com/hpungsan/drip/internal/export"
)

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Format string // json, csv, text or html; default json
	Path   string // optional, default: <exports dir>/emails-export-<date>.<ext>
	Stdout bool   // return the content instead of writing a file
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path     string `json:"path,omitempty"`
	Filename string `json:"filename"`
	Format   string `json:"format"`
	MIMEType string `json:"mime_type"`
	Count    int    `json:"count"`
	Bytes    int    `json:"bytes"`
	Content  string `json:"content,omitempty"`
}

// WriteExport writes an encoded export to path (or to exportsDir/<filename> when path is empty).
// The file is written to a temp file first and renamed into place, so an existing
// export is preserved if anything fails.
func WriteExport(ctx context.Context, cfg *config.Config, exportsDir, path string, art *export.Artifact) (string, error) {
	exportPath := path
	if exportPath == "" {
		exportPath = filepath.Join(exportsDir, art.Filename)
	}

	// Default paths are validated too
	if err := ValidatePath(exportPath, "."+art.Format.Extension(), exportsDir, cfg); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return "", errors.NewExportFailed(fmt.Errorf("failed to create export directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return "", errors.NewExportFailed(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := exportPath + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return "", err
		}
		return "", errors.NewExportFailed(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if err := ctx.Err(); err != nil {
		return "", errors.NewCancelled("export")
	}
	if _, err := file.Write(art.Content); err != nil {
		return "", errors.NewExportFailed(err)
	}
	if err := file.Sync(); err != nil {
		return "", errors.NewExportFailed(err)
	}

	// Close before the rename (required on Windows)
	if err := file.Close(); err != nil {
		return "", errors.NewExportFailed(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink at the destination
	if info, err := os.Lstat(exportPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return "", errors.NewInvalidRequest("export path is a symlink")
	}

	// On Windows os.Rename fails if the destination exists. Fail safely rather than
	// delete-then-rename, which could lose the original.
	if err := os.Rename(tempPath, exportPath); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(exportPath); statErr == nil {
				return "", errors.NewInvalidRequest("export destination already exists; overwriting is not supported on Windows (choose a new path or delete the existing file)")
			}
		}
		return "", errors.NewExportFailed(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return exportPath, nil
}
