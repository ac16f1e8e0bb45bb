package server

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"cutroom/internal/animation"
	"cutroom/internal/commands"
	"cutroom/internal/render"
	"cutroom/internal/services"
	"cutroom/internal/silence"
	"cutroom/internal/timeline"
)

type assetRequest struct {
	AssetID string `json:"assetId"`
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	const op = "transcribe"
	var body assetRequest
	if err := decodeJSON(w, r, op, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireField(op, "assetId", body.AssetID); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.deps.Transcribe == nil {
		s.writeError(w, r, unavailable(op, "transcription"))
		return
	}
	res, err := s.deps.Transcribe.Transcribe(sessionContext(r), mux.Vars(r)["id"], body.AssetID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type suggestRequest struct {
	AssetID     string `json:"assetId"`
	Instruction string `json:"instruction"`
}

func (s *Server) handleSuggestCommand(w http.ResponseWriter, r *http.Request) {
	const op = "suggest command"
	var body suggestRequest
	if err := decodeJSON(w, r, op, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireField(op, "instruction", body.Instruction); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.deps.Advisor == nil {
		s.writeError(w, r, unavailable(op, "command advice"))
		return
	}
	ctx := sessionContext(r)
	var media *commands.Media
	if body.AssetID != "" {
		asset, err := s.deps.Assets.Get(ctx, mux.Vars(r)["id"], body.AssetID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		m := commands.MediaOf(asset)
		media = &m
	}
	advice, err := s.deps.Advisor.Suggest(ctx, body.Instruction, media)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, advice)
}

type processRequest struct {
	AssetID string          `json:"assetId"`
	Command json.RawMessage `json:"command"`
}

// handleProcessAsset applies a structured command. The command may arrive as
// an object or as a string holding the object.
func (s *Server) handleProcessAsset(w http.ResponseWriter, r *http.Request) {
	const op = "process asset"
	var body processRequest
	if err := decodeJSON(w, r, op, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireField(op, "assetId", body.AssetID); err != nil {
		s.writeError(w, r, err)
		return
	}
	raw := []byte(strings.TrimSpace(string(body.Command)))
	if len(raw) > 0 && raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			raw = []byte(text)
		}
	}
	if len(raw) == 0 || string(raw) == "null" {
		s.writeError(w, r, services.Validation(op, "command is required"))
		return
	}
	var spec commands.Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, op, "parse", "invalid command: "+err.Error(), nil))
		return
	}
	ctx := services.WithAssetID(sessionContext(r), body.AssetID)
	asset, err := s.deps.Commands.Apply(ctx, mux.Vars(r)["id"], body.AssetID, spec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"assetId":   asset.ID,
		"editCount": asset.EditCount,
		"asset":     asset,
	})
}

type deadAirRequest struct {
	AssetID     string   `json:"assetId"`
	ThresholdDB *float64 `json:"thresholdDb"`
	MinDuration *float64 `json:"minDuration"`
}

func (s *Server) handleRemoveDeadAir(w http.ResponseWriter, r *http.Request) {
	const op = "remove dead air"
	var body deadAirRequest
	if err := decodeJSON(w, r, op, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireField(op, "assetId", body.AssetID); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := services.WithAssetID(sessionContext(r), body.AssetID)
	res, err := s.deps.Silence.Remove(ctx, mux.Vars(r)["id"], body.AssetID, silence.Options{
		ThresholdDB: body.ThresholdDB,
		MinDuration: body.MinDuration,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExtractAudio(w http.ResponseWriter, r *http.Request) {
	const op = "extract audio"
	var body assetRequest
	if err := decodeJSON(w, r, op, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireField(op, "assetId", body.AssetID); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := services.WithAssetID(sessionContext(r), body.AssetID)
	video, audio, err := s.deps.Commands.ExtractAudio(ctx, mux.Vars(r)["id"], body.AssetID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"video": video, "audio": audio})
}

func (s *Server) handleDetectFaces(w http.ResponseWriter, r *http.Request) {
	const op = "detect faces"
	var body assetRequest
	if err := decodeJSON(w, r, op, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireField(op, "assetId", body.AssetID); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.deps.Faces == nil {
		s.writeError(w, r, unavailable(op, "face tracking"))
		return
	}
	res, err := s.deps.Faces.Detect(sessionContext(r), mux.Vars(r)["id"], body.AssetID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handleRender composes the posted timeline. By default the video is streamed
// back; ?register=1 registers it as an asset and returns the asset instead.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	const op = "render"
	data, err := readBody(w, r, op)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Accept both a bare timeline and {timeline: ...} as saved in project.json.
	var wrapped struct {
		Timeline json.RawMessage `json:"timeline"`
	}
	if json.Unmarshal(data, &wrapped) == nil && len(wrapped.Timeline) > 0 && string(wrapped.Timeline) != "null" {
		data = wrapped.Timeline
	}
	tl, err := timeline.Parse(data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	register, _ := strconv.ParseBool(r.URL.Query().Get("register"))
	out, err := s.deps.Render.Render(sessionContext(r), mux.Vars(r)["id"], tl, render.Options{RegisterAsset: register})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("X-Render-ID", out.RenderID)
	if register {
		s.writeJSON(w, http.StatusOK, out)
		return
	}
	f, err := os.Open(out.Path)
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrProcessing, op, "encode", "open rendered file", err))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrProcessing, op, "encode", "stat rendered file", err))
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", `attachment; filename="`+out.RenderID+`.mp4"`)
	http.ServeContent(w, r, out.RenderID+".mp4", info.ModTime(), f)
}

type sceneRequest struct {
	Scene json.RawMessage `json:"scene"`
}

func (s *Server) handleRenderMotionGraphic(w http.ResponseWriter, r *http.Request) {
	const op = "render motion graphic"
	var body sceneRequest
	if err := decodeJSON(w, r, op, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(body.Scene) == 0 || string(body.Scene) == "null" {
		s.writeError(w, r, services.Validation(op, "scene is required"))
		return
	}
	scene, err := animation.ParseScene(body.Scene)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, err := s.deps.Animation.RenderScene(sessionContext(r), mux.Vars(r)["id"], scene)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"assetId": asset.ID, "asset": asset})
}

type generateAnimationRequest struct {
	Prompt          string  `json:"prompt"`
	DurationSeconds float64 `json:"durationSeconds"`
}

func (s *Server) handleGenerateAnimation(w http.ResponseWriter, r *http.Request) {
	const op = "generate animation"
	var body generateAnimationRequest
	if err := decodeJSON(w, r, op, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireField(op, "prompt", body.Prompt); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.DurationSeconds < 0 {
		s.writeError(w, r, services.Validation(op, "durationSeconds must not be negative"))
		return
	}
	asset, err := s.deps.Animation.Generate(sessionContext(r), mux.Vars(r)["id"], body.Prompt, body.DurationSeconds)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"assetId": asset.ID, "asset": asset})
}

type editAnimationRequest struct {
	AssetID     string          `json:"assetId"`
	Instruction string          `json:"instruction"`
	Scene       json.RawMessage `json:"scene"`
}

func (s *Server) handleEditAnimation(w http.ResponseWriter, r *http.Request) {
	const op = "edit animation"
	var body editAnimationRequest
	if err := decodeJSON(w, r, op, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireField(op, "assetId", body.AssetID); err != nil {
		s.writeError(w, r, err)
		return
	}
	req := animation.EditRequest{Instruction: strings.TrimSpace(body.Instruction)}
	if len(body.Scene) > 0 && string(body.Scene) != "null" {
		scene, err := animation.ParseScene(body.Scene)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		req.Scene = &scene
	}
	if req.Scene == nil && req.Instruction == "" {
		s.writeError(w, r, services.Validation(op, "instruction or scene is required"))
		return
	}
	ctx := services.WithAssetID(sessionContext(r), body.AssetID)
	asset, err := s.deps.Animation.Edit(ctx, mux.Vars(r)["id"], body.AssetID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"assetId": asset.ID, "editCount": asset.EditCount, "asset": asset})
}

func unavailable(op, feature string) error {
	return services.Wrap(services.ErrConfiguration, op, "", feature+" is not configured", nil)
}
