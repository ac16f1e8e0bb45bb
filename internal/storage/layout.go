package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cutroom/internal/catalog"
	"cutroom/internal/fileutil"
	"cutroom/internal/ids"
	"cutroom/internal/logging"
	"cutroom/internal/services"
)

const (
	assetsDir     = "assets"
	thumbsDir     = "thumbs"
	rendersDir    = "renders"
	tmpDir        = "tmp"
	manifestFile  = "project.json"
	assetMetaFile = "assets-meta.json"
	sessionFile   = "session.json"
)

// Session describes an on-disk session.
type Session struct {
	ID        string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
	Root      string    `json:"-"`
}

// Manifest is the saved project document. The timeline is kept as raw JSON
// here; decoding and validation belong to the timeline package.
type Manifest struct {
	Version   int             `json:"version"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Timeline  json.RawMessage `json:"timeline,omitempty"`
	Settings  map[string]any  `json:"settings,omitempty"`
}

// Layout maps session identifiers to directories under a single root. It is
// the only component that knows the directory structure.
type Layout struct {
	root    string
	catalog *catalog.Store
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a layout rooted at dir. The catalog is optional; when present it
// is kept in sync on a best-effort basis.
func New(dir string, cat *catalog.Store, logger *slog.Logger) *Layout {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Layout{
		root:    dir,
		catalog: cat,
		logger:  logging.NewComponentLogger(logger, "storage"),
		now:     time.Now,
	}
}

// Root returns the sessions directory.
func (l *Layout) Root() string {
	return l.root
}

// CreateSession allocates a new session directory tree.
func (l *Layout) CreateSession(ctx context.Context) (Session, error) {
	id := ids.NewSessionID()
	root := filepath.Join(l.root, id)
	for _, dir := range []string{
		filepath.Join(root, assetsDir, thumbsDir),
		filepath.Join(root, rendersDir),
		filepath.Join(root, tmpDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Session{}, services.Wrap(services.ErrProcessing, "create session", "mkdir", "create session directory", err)
		}
	}
	sess := Session{ID: id, CreatedAt: l.now().UTC(), Root: root}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return Session{}, fmt.Errorf("encode session: %w", err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(root, sessionFile), data, 0o644); err != nil {
		_ = os.RemoveAll(root)
		return Session{}, services.Wrap(services.ErrProcessing, "create session", "write", "write session descriptor", err)
	}
	if l.catalog != nil {
		if err := l.catalog.Register(ctx, id, sess.CreatedAt); err != nil {
			l.catalogWarning("register", id, err)
		}
	}
	l.logger.Info("session created", logging.String(logging.FieldSessionID, id), logging.String(logging.FieldEventType, "session_created"))
	return sess, nil
}

// SessionPath returns the root directory of an existing session.
func (l *Layout) SessionPath(id string) (string, error) {
	if err := ValidateSessionID(id); err != nil {
		return "", err
	}
	root := filepath.Join(l.root, id)
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return "", services.Wrap(services.ErrSessionNotFound, "resolve session", "", fmt.Sprintf("session %s does not exist", id), nil)
	}
	return root, nil
}

// Session reads the session descriptor. Sessions created before the
// descriptor existed fall back to the directory modification time.
func (l *Layout) Session(id string) (Session, error) {
	root, err := l.SessionPath(id)
	if err != nil {
		return Session{}, err
	}
	sess := Session{ID: id, Root: root}
	data, err := os.ReadFile(filepath.Join(root, sessionFile))
	if err == nil && json.Unmarshal(data, &sess) == nil {
		sess.ID = id
		sess.Root = root
		return sess, nil
	}
	if info, statErr := os.Stat(root); statErr == nil {
		sess.CreatedAt = info.ModTime().UTC()
	}
	return sess, nil
}

// ListSessions scans the sessions directory, oldest first.
func (l *Layout) ListSessions() ([]Session, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}
	out := make([]Session, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !ids.ValidSessionID(entry.Name()) {
			continue
		}
		sess, err := l.Session(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteSession removes the session tree. Deleting an absent session is not
// an error.
func (l *Layout) DeleteSession(ctx context.Context, id string) error {
	if err := ValidateSessionID(id); err != nil {
		return err
	}
	root := filepath.Join(l.root, id)
	if err := os.RemoveAll(root); err != nil {
		return services.Wrap(services.ErrProcessing, "delete session", "remove", "remove session directory", err)
	}
	if l.catalog != nil {
		if err := l.catalog.Remove(ctx, id); err != nil {
			l.catalogWarning("remove", id, err)
		}
	}
	l.logger.Info("session deleted", logging.String(logging.FieldSessionID, id), logging.String(logging.FieldEventType, "session_deleted"))
	return nil
}

// Touch records session activity in the catalog.
func (l *Layout) Touch(ctx context.Context, id string) {
	if l.catalog == nil {
		return
	}
	if err := l.catalog.Touch(ctx, id, l.now()); err != nil {
		l.catalogWarning("touch", id, err)
	}
}

// Catalog exposes the optional session catalog.
func (l *Layout) Catalog() *catalog.Store {
	return l.catalog
}

// ReadManifest loads project.json. A session that was never saved returns an
// empty manifest.
func (l *Layout) ReadManifest(id string) (Manifest, error) {
	var m Manifest
	found, err := l.readJSON(id, manifestFile, &m)
	if err != nil {
		return Manifest{}, err
	}
	if !found {
		return Manifest{Settings: map[string]any{}}, nil
	}
	return m, nil
}

// WriteManifest replaces project.json as a whole and bumps its version.
func (l *Layout) WriteManifest(id string, m Manifest) (Manifest, error) {
	prev, err := l.ReadManifest(id)
	if err != nil {
		return Manifest{}, err
	}
	m.Version = prev.Version + 1
	m.UpdatedAt = l.now().UTC()
	if err := l.writeJSON(id, manifestFile, m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// ReadAssetMeta decodes assets-meta.json into v. It reports false when the
// file does not exist yet.
func (l *Layout) ReadAssetMeta(id string, v any) (bool, error) {
	return l.readJSON(id, assetMetaFile, v)
}

// WriteAssetMeta replaces assets-meta.json as a whole.
func (l *Layout) WriteAssetMeta(id string, v any) error {
	return l.writeJSON(id, assetMetaFile, v)
}

// AssetsDir returns the directory holding asset files.
func (l *Layout) AssetsDir(id string) (string, error) {
	return l.within(id, assetsDir)
}

// AssetPath resolves a stored asset file name.
func (l *Layout) AssetPath(id, fileName string) (string, error) {
	if err := validateFileName(fileName); err != nil {
		return "", err
	}
	return l.within(id, assetsDir, fileName)
}

// ThumbnailPath resolves the thumbnail for an asset id.
func (l *Layout) ThumbnailPath(id, assetID string) (string, error) {
	if err := ValidateAssetID(assetID); err != nil {
		return "", err
	}
	return l.within(id, assetsDir, thumbsDir, assetID+".jpg")
}

// RenderPath resolves a render output file.
func (l *Layout) RenderPath(id, renderID string) (string, error) {
	if err := ValidateAssetID(renderID); err != nil {
		return "", err
	}
	return l.within(id, rendersDir, renderID+".mp4")
}

// TempDir returns the session staging directory. It lives on the same
// filesystem as the assets so staged files can be renamed into place.
func (l *Layout) TempDir(id string) (string, error) {
	dir, err := l.within(id, tmpDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrProcessing, "resolve temp dir", "mkdir", "create temp directory", err)
	}
	return dir, nil
}

// TempFile reserves a unique staging path. The pattern follows os.CreateTemp.
// The file exists (empty) when returned.
func (l *Layout) TempFile(id, pattern string) (string, error) {
	dir, err := l.TempDir(id)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", services.Wrap(services.ErrProcessing, "reserve temp file", "create", "create temp file", err)
	}
	name := f.Name()
	_ = f.Close()
	return name, nil
}

// MkdirTemp reserves a unique staging directory.
func (l *Layout) MkdirTemp(id, pattern string) (string, error) {
	dir, err := l.TempDir(id)
	if err != nil {
		return "", err
	}
	out, err := os.MkdirTemp(dir, pattern)
	if err != nil {
		return "", services.Wrap(services.ErrProcessing, "reserve temp dir", "create", "create temp directory", err)
	}
	return out, nil
}

// Contains reports whether path lies inside the session tree.
func (l *Layout) Contains(id, path string) bool {
	root, err := l.SessionPath(id)
	if err != nil {
		return false
	}
	return inside(root, path)
}

func (l *Layout) within(id string, parts ...string) (string, error) {
	root, err := l.SessionPath(id)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(append([]string{root}, parts...)...)
	if !inside(root, joined) {
		return "", services.Validation("resolve path", "path escapes session directory")
	}
	return joined, nil
}

func (l *Layout) readJSON(id, name string, v any) (bool, error) {
	path, err := l.within(id, name)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, services.Wrap(services.ErrProcessing, "read "+name, "read", "read session document", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, services.Wrap(services.ErrProcessing, "read "+name, "decode", "session document is corrupt", err)
	}
	return true, nil
}

func (l *Layout) writeJSON(id, name string, v any) error {
	path, err := l.within(id, name)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return services.Wrap(services.ErrProcessing, "write "+name, "encode", "encode session document", err)
	}
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return services.Wrap(services.ErrProcessing, "write "+name, "write", "write session document", err)
	}
	return nil
}

func (l *Layout) catalogWarning(op, id string, err error) {
	logging.WarnWithContext(l.logger, "session catalog update failed", "catalog_"+op+"_failed",
		logging.String(logging.FieldSessionID, id),
		logging.Error(err),
		logging.String(logging.FieldImpact, "session listing and TTL sweeps may be stale"),
		logging.String(logging.FieldErrorHint, "check catalog.db permissions or delete it to rebuild"),
	)
}

func inside(root, path string) bool {
	rel, err := filepath.Rel(root, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
