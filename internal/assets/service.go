package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"cutroom/internal/fileutil"
	"cutroom/internal/ids"
	"cutroom/internal/keylock"
	"cutroom/internal/logging"
	"cutroom/internal/media/ffmpeg"
	"cutroom/internal/media/ffprobe"
	"cutroom/internal/procrun"
	"cutroom/internal/services"
	"cutroom/internal/storage"
)

// Options wires the service to its collaborators.
type Options struct {
	Layout         *storage.Layout
	Runner         procrun.Runner
	FFprobeBinary  string
	FFmpeg         ffmpeg.Tool
	ThumbnailWidth int
	Logger         *slog.Logger
}

// Service registers media files in sessions and performs the in-place swap
// shared by every destructive edit.
type Service struct {
	layout     *storage.Layout
	runner     procrun.Runner
	ffprobe    string
	ffmpeg     ffmpeg.Tool
	thumbWidth int
	logger     *slog.Logger

	assetLocks keylock.Map
	metaLocks  keylock.Map
	pending    sync.WaitGroup
	now        func() time.Time
}

// New constructs an asset service.
func New(opts Options) *Service {
	width := opts.ThumbnailWidth
	if width <= 0 {
		width = 320
	}
	bin := opts.FFprobeBinary
	if bin == "" {
		bin = "ffprobe"
	}
	tool := opts.FFmpeg
	if tool.Runner == nil {
		tool.Runner = opts.Runner
	}
	return &Service{
		layout:     opts.Layout,
		runner:     opts.Runner,
		ffprobe:    bin,
		ffmpeg:     tool,
		thumbWidth: width,
		logger:     logging.NewComponentLogger(opts.Logger, "assets"),
		now:        time.Now,
	}
}

// Layout exposes the storage layout used by this service.
func (s *Service) Layout() *storage.Layout {
	return s.layout
}

// IngestOptions describes an incoming file.
type IngestOptions struct {
	FileName     string
	DeclaredType string
	Source       Source
	AIGenerated  bool
	Scene        []byte
}

// Ingest stages r into the session, validates it, and registers it as a new
// asset. Cancelling ctx mid-stream removes the staged bytes.
func (s *Service) Ingest(ctx context.Context, sessionID string, r io.Reader, opts IngestOptions) (Asset, error) {
	if _, err := s.layout.SessionPath(sessionID); err != nil {
		return Asset{}, err
	}
	staged, err := s.layout.TempFile(sessionID, "upload-*"+safeExt(opts.FileName))
	if err != nil {
		return Asset{}, err
	}
	n, err := copyToFile(ctx, staged, r)
	if err != nil {
		_ = os.Remove(staged)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Asset{}, services.Wrap(services.ErrValidation, "ingest", "upload", "upload aborted", ctxErr)
		}
		return Asset{}, services.Wrap(services.ErrValidation, "ingest", "upload", "read upload body", err)
	}
	if n == 0 {
		_ = os.Remove(staged)
		return Asset{}, services.Wrap(services.ErrValidation, "ingest", "validate", "uploaded file is empty", ErrEmptyFile)
	}
	return s.register(ctx, sessionID, staged, opts)
}

// IngestFile registers a file that already exists on disk. Files staged in the
// session tmp directory are moved; anything else is copied first.
func (s *Service) IngestFile(ctx context.Context, sessionID, path string, opts IngestOptions) (Asset, error) {
	if _, err := s.layout.SessionPath(sessionID); err != nil {
		return Asset{}, err
	}
	if opts.FileName == "" {
		opts.FileName = filepath.Base(path)
	}
	if !fileutil.NonEmpty(path) {
		return Asset{}, services.Wrap(services.ErrProcessing, "ingest file", "validate", "output file is missing or empty", ErrEmptyFile)
	}
	tmpDir, err := s.layout.TempDir(sessionID)
	if err != nil {
		return Asset{}, err
	}
	staged := path
	if !strings.HasPrefix(filepath.Clean(path), tmpDir+string(filepath.Separator)) {
		staged, err = s.layout.TempFile(sessionID, "import-*"+safeExt(path))
		if err != nil {
			return Asset{}, err
		}
		if err := fileutil.CopyFile(path, staged); err != nil {
			_ = os.Remove(staged)
			return Asset{}, services.Wrap(services.ErrProcessing, "ingest file", "copy", "copy into session", err)
		}
	}
	return s.register(ctx, sessionID, staged, opts)
}

func (s *Service) register(ctx context.Context, sessionID, staged string, opts IngestOptions) (Asset, error) {
	kind, ext := resolveKind(opts.DeclaredType, staged, opts.FileName)
	if kind == "" || kind == KindGenerated {
		_ = os.Remove(staged)
		return Asset{}, services.Wrap(services.ErrValidation, "ingest", "validate",
			fmt.Sprintf("type %q is not video, image or audio", firstNonEmpty(opts.DeclaredType, filepath.Ext(opts.FileName))), ErrUnsupportedType)
	}
	if kindFromDeclared(opts.DeclaredType) == KindGenerated {
		opts.AIGenerated = true
	}

	id := ids.New()
	fileName := id + ext
	dst, err := s.layout.AssetPath(sessionID, fileName)
	if err != nil {
		_ = os.Remove(staged)
		return Asset{}, err
	}
	if err := fileutil.MoveFile(staged, dst); err != nil {
		_ = os.Remove(staged)
		return Asset{}, services.Wrap(services.ErrProcessing, "ingest", "store", "move file into session", err)
	}

	source := opts.Source
	if source == "" {
		source = SourceUpload
	}
	now := s.now().UTC()
	asset := Asset{
		ID:           id,
		SessionID:    sessionID,
		Kind:         kind,
		FileName:     fileName,
		OriginalName: sanitizeName(firstNonEmpty(opts.FileName, fileName)),
		AIGenerated:  opts.AIGenerated,
		Source:       source,
		Scene:        opts.Scene,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	asset.Metadata = s.probe(ctx, sessionID, id, dst)
	asset.SizeBytes = fileSize(dst)

	if err := s.mutate(ctx, sessionID, func(doc *metaDocument) error {
		doc.Assets[id] = asset
		return nil
	}); err != nil {
		_ = os.Remove(dst)
		return Asset{}, err
	}

	s.layout.Touch(ctx, sessionID)
	s.scheduleThumbnail(sessionID, id)
	s.logger.Info("asset ingested",
		logging.String(logging.FieldSessionID, sessionID),
		logging.String(logging.FieldAssetID, id),
		logging.String("kind", string(kind)),
		logging.String("source", string(source)),
		logging.Int64("size_bytes", asset.SizeBytes),
		logging.Seconds("duration_seconds", asset.Duration()),
		logging.String(logging.FieldEventType, "asset_ingested"),
	)
	return s.decorated(asset)
}

// List returns every asset in the session ordered by id (creation order).
func (s *Service) List(ctx context.Context, sessionID string) ([]Asset, error) {
	doc, err := s.read(sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]Asset, 0, len(doc.Assets))
	for _, asset := range doc.Assets {
		decorated, err := s.decorated(asset)
		if err != nil {
			return nil, err
		}
		out = append(out, decorated)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns one asset.
func (s *Service) Get(ctx context.Context, sessionID, assetID string) (Asset, error) {
	if err := storage.ValidateAssetID(assetID); err != nil {
		return Asset{}, err
	}
	doc, err := s.read(sessionID)
	if err != nil {
		return Asset{}, err
	}
	asset, ok := doc.Assets[assetID]
	if !ok {
		return Asset{}, notFound(assetID)
	}
	return s.decorated(asset)
}

// Path resolves the current on-disk file of an asset. Callers must not cache
// the result across operations.
func (s *Service) Path(ctx context.Context, sessionID, assetID string) (string, Asset, error) {
	asset, err := s.Get(ctx, sessionID, assetID)
	if err != nil {
		return "", Asset{}, err
	}
	path, err := s.layout.AssetPath(sessionID, asset.FileName)
	if err != nil {
		return "", Asset{}, err
	}
	return path, asset, nil
}

// ThumbnailPath resolves the thumbnail file if it has been generated.
func (s *Service) ThumbnailPath(ctx context.Context, sessionID, assetID string) (string, bool, error) {
	asset, err := s.Get(ctx, sessionID, assetID)
	if err != nil {
		return "", false, err
	}
	path, err := s.layout.ThumbnailPath(sessionID, asset.ID)
	if err != nil {
		return "", false, err
	}
	return path, asset.Thumbnail != "" && fileutil.NonEmpty(path), nil
}

// UpdateMeta merges a patch into persisted metadata, last write wins per field.
func (s *Service) UpdateMeta(ctx context.Context, sessionID, assetID string, patch Patch) (Asset, error) {
	if err := storage.ValidateAssetID(assetID); err != nil {
		return Asset{}, err
	}
	if patch.EditCount != nil && *patch.EditCount < 0 {
		return Asset{}, services.Validation("update asset", "editCount must not be negative")
	}
	var updated Asset
	err := s.mutate(ctx, sessionID, func(doc *metaDocument) error {
		asset, ok := doc.Assets[assetID]
		if !ok {
			return notFound(assetID)
		}
		if patch.AIGenerated != nil {
			asset.AIGenerated = *patch.AIGenerated
		}
		if patch.EditCount != nil {
			asset.EditCount = *patch.EditCount
		}
		if len(patch.Scene) > 0 {
			asset.Scene = append([]byte(nil), patch.Scene...)
		}
		if patch.Name != nil {
			asset.OriginalName = sanitizeName(*patch.Name)
		}
		asset.UpdatedAt = s.now().UTC()
		doc.Assets[assetID] = asset
		updated = asset
		return nil
	})
	if err != nil {
		return Asset{}, err
	}
	return s.decorated(updated)
}

// EditFunc writes a transformed copy of src to dst. Returning ErrNoChange
// leaves the asset untouched.
type EditFunc func(ctx context.Context, src, dst string) error

// EditOption adjusts metadata as part of a successful swap.
type EditOption func(*Asset)

// WithScene stores the animation scene that produced the new bytes.
func WithScene(scene []byte) EditOption {
	return func(a *Asset) {
		a.Scene = append([]byte(nil), scene...)
	}
}

// Edit performs an in-place replacement of an asset's bytes. The per-asset
// lock is held for the whole operation so concurrent edits of one asset queue
// while edits of different assets run in parallel. On any failure the
// original file is untouched.
func (s *Service) Edit(ctx context.Context, sessionID, assetID string, fn EditFunc, opts ...EditOption) (Asset, error) {
	if err := storage.ValidateAssetID(assetID); err != nil {
		return Asset{}, err
	}
	if _, err := s.layout.SessionPath(sessionID); err != nil {
		return Asset{}, err
	}
	unlock, err := s.assetLocks.Lock(ctx, lockKey(sessionID, assetID))
	if err != nil {
		return Asset{}, services.Wrap(services.ErrProcessing, "edit asset", "lock", "canceled while waiting for asset", err)
	}
	defer unlock()

	src, asset, err := s.Path(ctx, sessionID, assetID)
	if err != nil {
		return Asset{}, err
	}
	staged, err := s.layout.TempFile(sessionID, "edit-*"+filepath.Ext(asset.FileName))
	if err != nil {
		return Asset{}, err
	}

	if err := fn(ctx, src, staged); err != nil {
		_ = os.Remove(staged)
		if errors.Is(err, ErrNoChange) {
			return asset, nil
		}
		return Asset{}, err
	}
	if err := fileutil.ReplaceFile(staged, src); err != nil {
		if errors.Is(err, fileutil.ErrEmptyOutput) {
			return Asset{}, services.Wrap(services.ErrProcessing, "edit asset", "swap", "tool produced an empty file", err)
		}
		return Asset{}, services.Wrap(services.ErrProcessing, "edit asset", "swap", "replace original", err)
	}

	summary := s.probe(ctx, sessionID, assetID, src)
	size := fileSize(src)
	var updated Asset
	err = s.mutate(ctx, sessionID, func(doc *metaDocument) error {
		current, ok := doc.Assets[assetID]
		if !ok {
			return notFound(assetID)
		}
		current.EditCount++
		current.Metadata = summary
		current.SizeBytes = size
		current.UpdatedAt = s.now().UTC()
		for _, opt := range opts {
			opt(&current)
		}
		doc.Assets[assetID] = current
		updated = current
		return nil
	})
	if err != nil {
		return Asset{}, err
	}

	s.layout.Touch(ctx, sessionID)
	s.scheduleThumbnail(sessionID, assetID)
	s.logger.Info("asset replaced in place",
		logging.String(logging.FieldSessionID, sessionID),
		logging.String(logging.FieldAssetID, assetID),
		logging.Int("edit_count", updated.EditCount),
		logging.String(logging.FieldEventType, "asset_edited"),
	)
	return s.decorated(updated)
}

// Remove deletes an asset's file, thumbnail and metadata entry.
func (s *Service) Remove(ctx context.Context, sessionID, assetID string) error {
	if err := storage.ValidateAssetID(assetID); err != nil {
		return err
	}
	unlock, err := s.assetLocks.Lock(ctx, lockKey(sessionID, assetID))
	if err != nil {
		return services.Wrap(services.ErrProcessing, "remove asset", "lock", "canceled while waiting for asset", err)
	}
	defer unlock()

	var removed Asset
	if err := s.mutate(ctx, sessionID, func(doc *metaDocument) error {
		asset, ok := doc.Assets[assetID]
		if !ok {
			return notFound(assetID)
		}
		removed = asset
		delete(doc.Assets, assetID)
		return nil
	}); err != nil {
		return err
	}
	if path, err := s.layout.AssetPath(sessionID, removed.FileName); err == nil {
		_ = os.Remove(path)
	}
	if thumb, err := s.layout.ThumbnailPath(sessionID, assetID); err == nil {
		_ = os.Remove(thumb)
	}
	s.logger.Info("asset removed",
		logging.String(logging.FieldSessionID, sessionID),
		logging.String(logging.FieldAssetID, assetID),
		logging.String(logging.FieldEventType, "asset_removed"),
	)
	return nil
}

// Wait blocks until background thumbnail work has finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

func (s *Service) probe(ctx context.Context, sessionID, assetID, path string) *ffprobe.Summary {
	result, err := ffprobe.Inspect(ctx, s.runner, s.ffprobe, path)
	if err != nil {
		logging.WarnWithContext(s.logger, "probe failed; metadata left empty", "probe_failed",
			logging.String(logging.FieldSessionID, sessionID),
			logging.String(logging.FieldAssetID, assetID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "duration and dimensions unknown until the next edit"),
			logging.String(logging.FieldErrorHint, "verify ffprobe is installed and the file is valid media"),
		)
		return nil
	}
	summary := result.Summarize()
	return &summary
}

func (s *Service) read(sessionID string) (metaDocument, error) {
	doc := metaDocument{Assets: map[string]Asset{}}
	if _, err := s.layout.ReadAssetMeta(sessionID, &doc); err != nil {
		return metaDocument{}, err
	}
	if doc.Assets == nil {
		doc.Assets = map[string]Asset{}
	}
	return doc, nil
}

// mutate serializes read-modify-write of assets-meta.json per session.
func (s *Service) mutate(ctx context.Context, sessionID string, fn func(*metaDocument) error) error {
	unlock, err := s.metaLocks.Lock(ctx, sessionID)
	if err != nil {
		return services.Wrap(services.ErrProcessing, "update asset metadata", "lock", "canceled while waiting for metadata", err)
	}
	defer unlock()

	doc, err := s.read(sessionID)
	if err != nil {
		return err
	}
	if err := fn(&doc); err != nil {
		return err
	}
	for id, asset := range doc.Assets {
		asset.stripDerived()
		doc.Assets[id] = asset
	}
	return s.layout.WriteAssetMeta(sessionID, doc)
}

func (s *Service) decorated(asset Asset) (Asset, error) {
	version := fmt.Sprintf("0-%d", asset.EditCount)
	if path, err := s.layout.AssetPath(asset.SessionID, asset.FileName); err == nil {
		if info, statErr := os.Stat(path); statErr == nil {
			version = fmt.Sprintf("%d-%d", info.ModTime().UnixNano(), asset.EditCount)
		}
	}
	asset.decorate(version)
	return asset, nil
}

func notFound(assetID string) error {
	return services.Wrap(services.ErrNotFound, "resolve asset", "", fmt.Sprintf("asset %s does not exist", assetID), ErrAssetNotFound)
}

func lockKey(sessionID, assetID string) string {
	return sessionID + "/" + assetID
}

// ctxReader stops a long copy as soon as the request is abandoned.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func copyToFile(ctx context.Context, path string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(f, ctxReader{ctx: ctx, r: r})
	syncErr := f.Sync()
	closeErr := f.Close()
	if copyErr != nil {
		return n, copyErr
	}
	if syncErr != nil {
		return n, syncErr
	}
	return n, closeErr
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := extensionKinds[ext]; ok {
		return ext
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
