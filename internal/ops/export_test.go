package ops

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpungsan/drip/internal/config"
	"github.com/hpungsan/drip/internal/errors"
	"github.com/hpungsan/drip/internal/export"
)

func testArtifact(t *testing.T, f export.Format) *export.Artifact {
	t.Helper()
	art, err := export.Encode(nil, f, testNow)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return art
}

func TestWriteExport_DefaultPath(t *testing.T) {
	exportsDir := t.TempDir()
	art := testArtifact(t, export.FormatCSV)

	path, err := WriteExport(context.Background(), config.DefaultConfig(), exportsDir, "", art)
	if err != nil {
		t.Fatalf("WriteExport failed: %v", err)
	}
	if want := filepath.Join(exportsDir, "emails-export-2026-03-14.csv"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != string(art.Content) {
		t.Errorf("content = %q, want %q", data, art.Content)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("perm = %o, want 600", perm)
	}
}

func TestWriteExport_OverwritesAndLeavesNoTempFiles(t *testing.T) {
	exportsDir := t.TempDir()
	path := filepath.Join(exportsDir, "mine.json")
	if err := os.WriteFile(path, []byte("old"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := WriteExport(context.Background(), config.DefaultConfig(), exportsDir, path, testArtifact(t, export.FormatJSON)); err != nil {
		t.Fatalf("WriteExport failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"totalEmails": 0`) {
		t.Errorf("export not replaced: %q", data)
	}

	entries, err := os.ReadDir(exportsDir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestWriteExport_WrongExtension(t *testing.T) {
	exportsDir := t.TempDir()
	_, err := WriteExport(context.Background(), config.DefaultConfig(), exportsDir, filepath.Join(exportsDir, "emails.json"), testArtifact(t, export.FormatCSV))
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got: %v", err)
	}
}

func TestWriteExport_Cancelled(t *testing.T) {
	exportsDir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WriteExport(ctx, config.DefaultConfig(), exportsDir, "", testArtifact(t, export.FormatText))
	if !errors.Is(err, errors.ErrCancelled) {
		t.Errorf("expected ErrCancelled, got: %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(exportsDir, "emails-export-2026-03-14.txt")); !os.IsNotExist(statErr) {
		t.Error("cancelled export must not create the destination")
	}
}
