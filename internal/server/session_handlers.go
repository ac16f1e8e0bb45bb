package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"cutroom/internal/assets"
	"cutroom/internal/catalog"
	"cutroom/internal/logging"
	"cutroom/internal/services"
	"cutroom/internal/storage"
	"cutroom/internal/timeline"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Status == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"running": true})
		return
	}
	s.writeJSON(w, http.StatusOK, s.deps.Status(r.Context()))
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.deps.Layout.CreateSession(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

type renderView struct {
	RenderID  string    `json:"renderId"`
	Duration  float64   `json:"duration"`
	SizeBytes int64     `json:"sizeBytes"`
	AssetID   string    `json:"assetId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type sessionView struct {
	storage.Session
	Assets         []assets.Asset `json:"assets"`
	ProjectVersion int            `json:"projectVersion"`
	Renders        []renderView   `json:"renders"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctx := sessionContext(r)
	id := mux.Vars(r)["id"]
	session, err := s.deps.Layout.Session(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.deps.Assets.List(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view := sessionView{Session: session, Assets: list, Renders: []renderView{}}
	if s.deps.Projects != nil {
		if project, err := s.deps.Projects.Load(ctx, id); err == nil {
			view.ProjectVersion = project.Version
		}
	}
	if cat := s.deps.Layout.Catalog(); cat != nil {
		renders, err := cat.Renders(ctx, id)
		if err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, s.logger), "render history unavailable", "catalog_read_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "session view omits past renders"),
				logging.String(logging.FieldErrorHint, "check catalog.db permissions"),
			)
		}
		view.Renders = renderViews(renders)
	}
	s.deps.Layout.Touch(ctx, id)
	s.writeJSON(w, http.StatusOK, view)
}

func renderViews(renders []catalog.Render) []renderView {
	out := make([]renderView, 0, len(renders))
	for _, rd := range renders {
		out = append(out, renderView{
			RenderID:  rd.ID,
			Duration:  rd.Duration,
			SizeBytes: rd.SizeBytes,
			AssetID:   rd.AssetID,
			CreatedAt: rd.CreatedAt,
		})
	}
	return out
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	ctx := sessionContext(r)
	id := mux.Vars(r)["id"]
	if err := s.deps.Layout.DeleteSession(ctx, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.deps.Jobs != nil {
		s.deps.Jobs.DropSession(id)
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type uploadResponse struct {
	AssetID      string       `json:"assetId"`
	Duration     float64      `json:"duration"`
	ThumbnailURL string       `json:"thumbnailUrl,omitempty"`
	Asset        assets.Asset `json:"asset"`
}

// handleUpload streams the multipart "file" part straight into the session.
// A "type" part sent before the file is passed to ingest as the declared
// type; "generated" sent after it still marks the asset as AI generated.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	const op = "upload asset"
	ctx := sessionContext(r)
	id := mux.Vars(r)["id"]
	if _, err := s.deps.Layout.Session(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.cfg.MaxUploadMB > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxUploadMB)<<20)
	}
	reader, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, op, "upload", "expected multipart/form-data", err))
		return
	}

	var (
		declared string
		uploaded *assets.Asset
	)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if uploaded == nil {
				s.writeError(w, r, services.Wrap(services.ErrValidation, op, "upload", "read multipart body", err))
				return
			}
			break
		}
		switch part.FormName() {
		case "type":
			raw, _ := io.ReadAll(io.LimitReader(part, 64))
			declared = strings.ToLower(strings.TrimSpace(string(raw)))
		case "file":
			if uploaded != nil {
				break
			}
			asset, err := s.deps.Assets.Ingest(ctx, id, part, assets.IngestOptions{
				FileName:     part.FileName(),
				DeclaredType: declared,
			})
			if err != nil {
				_ = part.Close()
				s.writeError(w, r, err)
				return
			}
			uploaded = &asset
		}
		_ = part.Close()
	}
	if uploaded == nil {
		s.writeError(w, r, services.Validation(op, "multipart field %q is required", "file"))
		return
	}
	if declared == string(assets.KindGenerated) && !uploaded.AIGenerated {
		flag := true
		asset, err := s.deps.Assets.UpdateMeta(ctx, id, uploaded.ID, assets.Patch{AIGenerated: &flag})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		uploaded = &asset
	}
	s.writeJSON(w, http.StatusOK, uploadResponse{
		AssetID:      uploaded.ID,
		Duration:     uploaded.Duration(),
		ThumbnailURL: uploaded.ThumbnailURL,
		Asset:        *uploaded,
	})
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Assets.List(sessionContext(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"assets": list})
}

// handleStream serves the asset bytes with range support. Responses for a
// URL whose ?v= matches the current version may be cached.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	ctx := services.WithAssetID(sessionContext(r), v["assetId"])
	path, asset, err := s.deps.Assets.Path(ctx, v["id"], v["assetId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("v") == asset.Version && asset.Version != "" {
		w.Header().Set("Cache-Control", "private, max-age=86400, immutable")
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}
	s.serveFile(w, r, path, asset.FileName)
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	ctx := services.WithAssetID(sessionContext(r), v["assetId"])
	path, ok, err := s.deps.Assets.ThumbnailPath(ctx, v["id"], v["assetId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		s.writeError(w, r, services.Wrap(services.ErrNotFound, "thumbnail", "", "thumbnail is not available yet", nil))
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	s.serveFile(w, r, path, "thumbnail.jpg")
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, path, name string) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.writeError(w, r, services.Wrap(services.ErrNotFound, "stream", "", "file is missing on disk", err))
			return
		}
		s.writeError(w, r, services.Wrap(services.ErrProcessing, "stream", "open", "open file", err))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrProcessing, "stream", "open", "stat file", err))
		return
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
}

type assetPatch struct {
	AIGenerated  *bool           `json:"aiGenerated"`
	OriginalName *string         `json:"originalName"`
	Scene        json.RawMessage `json:"scene"`
}

func (s *Server) handlePatchAsset(w http.ResponseWriter, r *http.Request) {
	const op = "update asset"
	v := mux.Vars(r)
	ctx := services.WithAssetID(sessionContext(r), v["assetId"])
	var body assetPatch
	if err := decodeJSON(w, r, op, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	patch := assets.Patch{AIGenerated: body.AIGenerated, Name: body.OriginalName}
	if len(body.Scene) > 0 && string(body.Scene) != "null" {
		patch.Scene = body.Scene
	}
	if patch.Empty() {
		s.writeError(w, r, services.Validation(op, "nothing to update"))
		return
	}
	asset, err := s.deps.Assets.UpdateMeta(ctx, v["id"], v["assetId"], patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"asset": asset})
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	ctx := services.WithAssetID(sessionContext(r), v["assetId"])
	if err := s.deps.Assets.Remove(ctx, v["id"], v["assetId"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.deps.Projects.Load(sessionContext(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, project)
}

type projectBody struct {
	Timeline json.RawMessage `json:"timeline"`
	Settings map[string]any  `json:"settings"`
}

func (s *Server) handlePutProject(w http.ResponseWriter, r *http.Request) {
	const op = "save project"
	var body projectBody
	if err := decodeJSON(w, r, op, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(body.Timeline) == 0 || string(body.Timeline) == "null" {
		s.writeError(w, r, services.Validation(op, "timeline is required"))
		return
	}
	tl, err := timeline.Parse(body.Timeline)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	project, err := s.deps.Projects.Save(sessionContext(r), mux.Vars(r)["id"], tl, body.Settings)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleEditClip(w http.ResponseWriter, r *http.Request) {
	const op = "edit clip"
	v := mux.Vars(r)
	var edit timeline.Edit
	if err := decodeJSON(w, r, op, &edit); err != nil {
		s.writeError(w, r, err)
		return
	}
	project, clips, err := s.deps.Projects.EditClip(sessionContext(r), v["id"], v["clipId"], edit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"project": project, "clips": clips})
}
