package storage_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cutroom/internal/catalog"
	"cutroom/internal/ids"
	"cutroom/internal/services"
	"cutroom/internal/storage"
)

func newLayout(t *testing.T) *storage.Layout {
	t.Helper()
	base := t.TempDir()
	cat, err := catalog.Open(filepath.Join(base, "catalog.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { _ = cat.Close() })
	return storage.New(filepath.Join(base, "sessions"), cat, nil)
}

func TestCreateSessionLayout(t *testing.T) {
	layout := newLayout(t)
	sess, err := layout.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !ids.ValidSessionID(sess.ID) {
		t.Fatalf("unexpected session id %q", sess.ID)
	}
	root, err := layout.SessionPath(sess.ID)
	if err != nil {
		t.Fatalf("SessionPath: %v", err)
	}
	for _, sub := range []string{"assets", "assets/thumbs", "renders", "tmp", "session.json"} {
		if _, err := os.Stat(filepath.Join(root, sub)); err != nil {
			t.Fatalf("expected %s to exist: %v", sub, err)
		}
	}

	loaded, err := layout.Session(sess.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if !loaded.CreatedAt.Equal(sess.CreatedAt) {
		t.Fatalf("created time mismatch: %v vs %v", loaded.CreatedAt, sess.CreatedAt)
	}

	list, err := layout.Catalog().List(context.Background())
	if err != nil || len(list) != 1 || list[0].ID != sess.ID {
		t.Fatalf("expected catalog entry, got %v %v", list, err)
	}
}

func TestSessionPathErrors(t *testing.T) {
	layout := newLayout(t)
	cases := []struct {
		name   string
		id     string
		marker error
	}{
		{"traversal", "../../etc", services.ErrValidation},
		{"slash", "a/b", services.ErrValidation},
		{"uppercase uuid", "3F2504E0-4F89-41D3-9A0C-0305E82C3301", services.ErrValidation},
		{"unknown", ids.NewSessionID(), services.ErrSessionNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := layout.SessionPath(tc.id)
			if !errors.Is(err, tc.marker) {
				t.Fatalf("expected %v, got %v", tc.marker, err)
			}
		})
	}
}

func TestResolversStayInsideSession(t *testing.T) {
	layout := newLayout(t)
	sess, err := layout.CreateSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"../session.json", "..", "", "a/b.mp4"} {
		if _, err := layout.AssetPath(sess.ID, name); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("AssetPath(%q) expected validation error, got %v", name, err)
		}
	}
	if _, err := layout.ThumbnailPath(sess.ID, "../x"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for thumbnail id, got %v", err)
	}
	path, err := layout.AssetPath(sess.ID, "01J00000000000000000000000.mp4")
	if err != nil {
		t.Fatalf("AssetPath: %v", err)
	}
	if !layout.Contains(sess.ID, path) {
		t.Fatalf("expected %s inside session", path)
	}
	if layout.Contains(sess.ID, filepath.Join(layout.Root(), "other")) {
		t.Fatal("expected path outside session to be rejected")
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	layout := newLayout(t)
	ctx := context.Background()
	a, _ := layout.CreateSession(ctx)
	b, _ := layout.CreateSession(ctx)

	aFile, err := layout.AssetPath(a.ID, "x.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if layout.Contains(b.ID, aFile) {
		t.Fatal("session b must not contain session a's files")
	}
}

func TestManifestRoundTripAndVersioning(t *testing.T) {
	layout := newLayout(t)
	sess, _ := layout.CreateSession(context.Background())

	empty, err := layout.ReadManifest(sess.ID)
	if err != nil {
		t.Fatalf("ReadManifest on fresh session: %v", err)
	}
	if empty.Version != 0 {
		t.Fatalf("expected version 0, got %d", empty.Version)
	}

	m := storage.Manifest{Timeline: json.RawMessage(`{"width":1920,"height":1080,"fps":30,"tracks":[]}`), Settings: map[string]any{"snap": true}}
	saved, err := layout.WriteManifest(sess.ID, m)
	if err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	if saved.Version != 1 {
		t.Fatalf("expected version 1, got %d", saved.Version)
	}
	saved, err = layout.WriteManifest(sess.ID, m)
	if err != nil || saved.Version != 2 {
		t.Fatalf("expected version 2, got %d (%v)", saved.Version, err)
	}

	loaded, err := layout.ReadManifest(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Settings["snap"] != true || len(loaded.Timeline) == 0 {
		t.Fatalf("unexpected manifest %#v", loaded)
	}

	root, _ := layout.SessionPath(sess.ID)
	matches, _ := filepath.Glob(filepath.Join(root, ".project.json*"))
	if len(matches) != 0 {
		t.Fatalf("temp files left behind: %v", matches)
	}
}

func TestCorruptManifestIsProcessingError(t *testing.T) {
	layout := newLayout(t)
	sess, _ := layout.CreateSession(context.Background())
	root, _ := layout.SessionPath(sess.ID)
	if err := os.WriteFile(filepath.Join(root, "project.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := layout.ReadManifest(sess.ID); !errors.Is(err, services.ErrProcessing) {
		t.Fatalf("expected processing error, got %v", err)
	}
}

func TestDeleteSessionIdempotent(t *testing.T) {
	layout := newLayout(t)
	ctx := context.Background()
	sess, _ := layout.CreateSession(ctx)

	if err := layout.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := layout.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := layout.SessionPath(sess.ID); !errors.Is(err, services.ErrSessionNotFound) {
		t.Fatalf("expected session gone, got %v", err)
	}
	if err := layout.DeleteSession(ctx, "../.."); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected traversal delete to be rejected, got %v", err)
	}
	list, _ := layout.Catalog().List(ctx)
	if len(list) != 0 {
		t.Fatalf("expected catalog cleared, got %v", list)
	}
}

func TestListSessionsSkipsForeignDirectories(t *testing.T) {
	layout := newLayout(t)
	ctx := context.Background()
	a, _ := layout.CreateSession(ctx)
	if err := os.MkdirAll(filepath.Join(layout.Root(), "not-a-session"), 0o755); err != nil {
		t.Fatal(err)
	}
	list, err := layout.ListSessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != a.ID {
		t.Fatalf("unexpected sessions %v", list)
	}
}

func TestTempFileInsideSession(t *testing.T) {
	layout := newLayout(t)
	sess, _ := layout.CreateSession(context.Background())
	path, err := layout.TempFile(sess.ID, "stage-*.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if !layout.Contains(sess.ID, path) || filepath.Ext(path) != ".mp4" {
		t.Fatalf("unexpected temp path %s", path)
	}
}
