package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cutroom/internal/assets"
	"cutroom/internal/catalog"
	"cutroom/internal/config"
	"cutroom/internal/logging"
	"cutroom/internal/media/ffmpeg"
	"cutroom/internal/procrun"
	"cutroom/internal/storage"
)

// MustOpenCatalog opens the catalog configured for cfg and closes it when the test ends.
func MustOpenCatalog(t testing.TB, cfg *config.Config) *catalog.Store {
	t.Helper()
	store, err := catalog.Open(cfg.CatalogPath())
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// NewLayout returns a storage layout under cfg's data dir backed by a catalog.
func NewLayout(t testing.TB, cfg *config.Config) *storage.Layout {
	t.Helper()
	return storage.New(cfg.SessionsDir(), MustOpenCatalog(t, cfg), logging.NewNop())
}

// NewRunner returns a real subprocess runner writing tool logs under cfg.
func NewRunner(cfg *config.Config) procrun.Runner {
	return procrun.NewExec(cfg.ToolLogDir(), logging.NewNop())
}

// FFmpegTool binds the configured ffmpeg binary to runner.
func FFmpegTool(cfg *config.Config, runner procrun.Runner) ffmpeg.Tool {
	return ffmpeg.Tool{Binary: cfg.FFmpeg.FFmpegBinary, Runner: runner, Timeout: cfg.FFmpegTimeout()}
}

// NewAssets wires an asset service the way the daemon does. Pending
// thumbnail work is awaited on cleanup so temp dirs can be removed.
func NewAssets(t testing.TB, cfg *config.Config, layout *storage.Layout) *assets.Service {
	t.Helper()
	runner := NewRunner(cfg)
	svc := assets.New(assets.Options{
		Layout:         layout,
		Runner:         runner,
		FFprobeBinary:  cfg.FFmpeg.FFprobeBinary,
		FFmpeg:         FFmpegTool(cfg, runner),
		ThumbnailWidth: cfg.FFmpeg.ThumbnailWidth,
		Logger:         logging.NewNop(),
	})
	t.Cleanup(svc.Wait)
	return svc
}

// NewSession creates a session and returns its id.
func NewSession(t testing.TB, layout *storage.Layout) string {
	t.Helper()
	sess, err := layout.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess.ID
}

// IngestBytes writes data as an upload named name and registers it.
func IngestBytes(t testing.TB, svc *assets.Service, sessionID, name string, data []byte) assets.Asset {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer f.Close()
	asset, err := svc.Ingest(context.Background(), sessionID, f, assets.IngestOptions{FileName: name})
	if err != nil {
		t.Fatalf("ingest %s: %v", name, err)
	}
	return asset
}
