package assets_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"cutroom/internal/assets"
	"cutroom/internal/config"
	"cutroom/internal/services"
	"cutroom/internal/storage"
	"cutroom/internal/testsupport"
)

type fixture struct {
	cfg     *config.Config
	layout  *storage.Layout
	svc     *assets.Service
	session string
}

func newFixture(t *testing.T, ffmpegBody string) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t,
		testsupport.WithStubScript("ffprobe", testsupport.FFprobeStub),
		testsupport.WithStubScript("ffmpeg", ffmpegBody),
	)
	layout := testsupport.NewLayout(t, cfg)
	svc := testsupport.NewAssets(t, cfg, layout)
	return fixture{cfg: cfg, layout: layout, svc: svc, session: testsupport.NewSession(t, layout)}
}

func TestIngestRegistersAndProbes(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegCopyStub)
	asset := testsupport.IngestBytes(t, f.svc, f.session, "Crème brûlée.mp4", []byte("video-bytes"))

	if asset.Kind != assets.KindVideo || asset.Source != assets.SourceUpload {
		t.Fatalf("unexpected asset %#v", asset)
	}
	if asset.Duration() != 10 || asset.Metadata.Width != 640 || !asset.HasAudio() {
		t.Fatalf("expected probe metadata, got %#v", asset.Metadata)
	}
	if asset.OriginalName != "Creme brulee.mp4" {
		t.Fatalf("unexpected sanitized name %q", asset.OriginalName)
	}
	if !strings.HasSuffix(asset.FileName, ".mp4") || !strings.HasPrefix(asset.FileName, asset.ID) {
		t.Fatalf("unexpected stored file name %q", asset.FileName)
	}
	if asset.Version == "" || !strings.Contains(asset.StreamURL, "?v=") || asset.ThumbnailURL == "" {
		t.Fatalf("expected derived urls, got %#v", asset)
	}

	f.svc.Wait()
	path, ok, err := f.svc.ThumbnailPath(context.Background(), f.session, asset.ID)
	if err != nil || !ok {
		t.Fatalf("expected thumbnail at %s (ok=%v err=%v)", path, ok, err)
	}

	tmp, _ := f.layout.TempDir(f.session)
	entries, _ := os.ReadDir(tmp)
	if len(entries) != 0 {
		t.Fatalf("expected empty tmp dir, found %d entries", len(entries))
	}
}

func TestIngestRejectsEmptyAndUnsupported(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegCopyStub)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, f.session, bytes.NewReader(nil), assets.IngestOptions{FileName: "a.mp4"})
	if !errors.Is(err, assets.ErrEmptyFile) || !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected empty file validation error, got %v", err)
	}

	_, err = f.svc.Ingest(ctx, f.session, strings.NewReader("plain text"), assets.IngestOptions{FileName: "notes.txt"})
	if !errors.Is(err, assets.ErrUnsupportedType) {
		t.Fatalf("expected unsupported type, got %v", err)
	}

	_, err = f.svc.Ingest(ctx, f.session, strings.NewReader("x"), assets.IngestOptions{FileName: "a.bin", DeclaredType: "application/pdf"})
	if !errors.Is(err, assets.ErrUnsupportedType) {
		t.Fatalf("expected declared pdf to be rejected, got %v", err)
	}

	list, err := f.svc.List(ctx, f.session)
	if err != nil || len(list) != 0 {
		t.Fatalf("expected nothing registered, got %d (%v)", len(list), err)
	}
}

func TestIngestSniffsPNGWithoutExtension(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegCopyStub)
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
	asset, err := f.svc.Ingest(context.Background(), f.session, bytes.NewReader(png), assets.IngestOptions{FileName: "pasted"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if asset.Kind != assets.KindImage || !strings.HasSuffix(asset.FileName, ".png") {
		t.Fatalf("expected png image, got %s %s", asset.Kind, asset.FileName)
	}
}

type abortingReader struct {
	cancel context.CancelFunc
	sent   bool
}

func (r *abortingReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		copy(p, "partial")
		return len("partial"), nil
	}
	r.cancel()
	return 0, io.ErrUnexpectedEOF
}

func TestIngestAbortLeavesNothingBehind(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegCopyStub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := f.svc.Ingest(ctx, f.session, &abortingReader{cancel: cancel}, assets.IngestOptions{FileName: "a.mp4"})
	if err == nil {
		t.Fatal("expected aborted upload to fail")
	}
	tmp, _ := f.layout.TempDir(f.session)
	entries, _ := os.ReadDir(tmp)
	if len(entries) != 0 {
		t.Fatalf("staged file not removed: %d entries", len(entries))
	}
	list, _ := f.svc.List(context.Background(), f.session)
	if len(list) != 0 {
		t.Fatalf("aborted upload registered an asset")
	}
}

func TestIngestUnknownSession(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegCopyStub)
	_, err := f.svc.Ingest(context.Background(), "0b1f8a4e-5a41-4f3b-9d59-3d5b4b7a2c10", strings.NewReader("x"), assets.IngestOptions{FileName: "a.mp4"})
	if !errors.Is(err, services.ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
}

func TestProbeFailureDoesNotFailIngest(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithStubScript("ffprobe", "echo broken >&2; exit 1"),
		testsupport.WithStubScript("ffmpeg", testsupport.FFmpegCopyStub),
	)
	layout := testsupport.NewLayout(t, cfg)
	svc := testsupport.NewAssets(t, cfg, layout)
	session := testsupport.NewSession(t, layout)

	asset := testsupport.IngestBytes(t, svc, session, "clip.mp4", []byte("bytes"))
	if asset.Metadata != nil {
		t.Fatalf("expected empty metadata, got %#v", asset.Metadata)
	}
}

func TestEditSwapsInPlace(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegCopyStub)
	ctx := context.Background()
	orig := testsupport.IngestBytes(t, f.svc, f.session, "clip.mp4", []byte("original"))
	path, _, _ := f.svc.Path(ctx, f.session, orig.ID)
	time.Sleep(10 * time.Millisecond)

	updated, err := f.svc.Edit(ctx, f.session, orig.ID, func(_ context.Context, src, dst string) error {
		return os.WriteFile(dst, []byte("rewritten"), 0o644)
	})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if updated.ID != orig.ID || updated.EditCount != 1 {
		t.Fatalf("expected same id and editCount 1, got %s %d", updated.ID, updated.EditCount)
	}
	if updated.Version == orig.Version {
		t.Fatal("expected freshness token to change")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "rewritten" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestEditFailureLeavesOriginal(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegCopyStub)
	ctx := context.Background()
	orig := testsupport.IngestBytes(t, f.svc, f.session, "clip.mp4", []byte("original"))
	path, _, _ := f.svc.Path(ctx, f.session, orig.ID)

	boom := errors.New("boom")
	if _, err := f.svc.Edit(ctx, f.session, orig.ID, func(context.Context, string, string) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected edit error, got %v", err)
	}
	_, err := f.svc.Edit(ctx, f.session, orig.ID, func(context.Context, string, string) error { return nil })
	if !errors.Is(err, services.ErrProcessing) {
		t.Fatalf("expected empty output to be rejected, got %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "original" {
		t.Fatalf("original modified: %q", data)
	}
	got, _ := f.svc.Get(ctx, f.session, orig.ID)
	if got.EditCount != 0 {
		t.Fatalf("editCount changed on failure: %d", got.EditCount)
	}
}

func TestEditNoChange(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegCopyStub)
	orig := testsupport.IngestBytes(t, f.svc, f.session, "clip.mp4", []byte("original"))
	got, err := f.svc.Edit(context.Background(), f.session, orig.ID, func(context.Context, string, string) error {
		return assets.ErrNoChange
	})
	if err != nil || got.EditCount != 0 {
		t.Fatalf("expected no-op, got %d %v", got.EditCount, err)
	}
}

func TestConcurrentEditsSerialize(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegCopyStub)
	ctx := context.Background()
	orig := testsupport.IngestBytes(t, f.svc, f.session, "clip.mp4", []byte("0"))

	var (
		mu     sync.Mutex
		inside int
		wg     sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Edit(ctx, f.session, orig.ID, func(_ context.Context, src, dst string) error {
				mu.Lock()
				inside++
				if inside > 1 {
					t.Error("two edits of one asset ran concurrently")
				}
				mu.Unlock()
				data, _ := os.ReadFile(src)
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return os.WriteFile(dst, append(data, '+'), 0o644)
			})
			if err != nil {
				t.Errorf("Edit: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := f.svc.Get(ctx, f.session, orig.ID)
	if got.EditCount != 5 {
		t.Fatalf("expected 5 edits, got %d", got.EditCount)
	}
	path, _, _ := f.svc.Path(ctx, f.session, orig.ID)
	data, _ := os.ReadFile(path)
	if string(data) != "0+++++" {
		t.Fatalf("lost update: %q", data)
	}
}

func TestUpdateMetaMergesFields(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegCopyStub)
	ctx := context.Background()
	orig := testsupport.IngestBytes(t, f.svc, f.session, "clip.mp4", []byte("x"))

	yes := true
	if _, err := f.svc.UpdateMeta(ctx, f.session, orig.ID, assets.Patch{AIGenerated: &yes}); err != nil {
		t.Fatal(err)
	}
	count := 7
	got, err := f.svc.UpdateMeta(ctx, f.session, orig.ID, assets.Patch{EditCount: &count})
	if err != nil {
		t.Fatal(err)
	}
	if !got.AIGenerated || got.EditCount != 7 {
		t.Fatalf("expected both fields merged, got %#v", got)
	}

	neg := -1
	if _, err := f.svc.UpdateMeta(ctx, f.session, orig.ID, assets.Patch{EditCount: &neg}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.svc.UpdateMeta(ctx, f.session, "01ARZ3NDEKTSV4RRFFQ69G5FAV", assets.Patch{AIGenerated: &yes}); !errors.Is(err, assets.ErrAssetNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRemoveAndListOrder(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegCopyStub)
	ctx := context.Background()
	a := testsupport.IngestBytes(t, f.svc, f.session, "a.mp4", []byte("a"))
	b := testsupport.IngestBytes(t, f.svc, f.session, "b.wav", []byte("b"))

	list, err := f.svc.List(ctx, f.session)
	if err != nil || len(list) != 2 || list[0].ID != a.ID || list[1].ID != b.ID {
		t.Fatalf("unexpected list %v %v", list, err)
	}
	if list[1].Kind != assets.KindAudio || list[1].ThumbnailURL != "" {
		t.Fatalf("audio assets have no thumbnail url: %#v", list[1])
	}

	f.svc.Wait()
	if err := f.svc.Remove(ctx, f.session, a.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := f.svc.Get(ctx, f.session, a.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected removed asset to be gone, got %v", err)
	}
}

func TestIngestFileMovesFromTmp(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegCopyStub)
	staged, err := f.layout.TempFile(f.session, "gen-*.png")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(staged, []byte("png-ish"), 0o644); err != nil {
		t.Fatal(err)
	}
	asset, err := f.svc.IngestFile(context.Background(), f.session, staged, assets.IngestOptions{
		Source: assets.SourceGenerated, AIGenerated: true,
	})
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Fatalf("expected staged file to be moved, stat err=%v", err)
	}
	if !asset.AIGenerated || asset.Source != assets.SourceGenerated || asset.Kind != assets.KindImage {
		t.Fatalf("unexpected asset %#v", asset)
	}
}
