package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cutroom/internal/generate"
)

type route struct {
	name    string
	method  string
	path    string
	handler http.HandlerFunc
}

func (s *Server) routes() []route {
	return []route{
		{"health", http.MethodGet, "/health", s.handleHealth},
		{"status", http.MethodGet, "/api/status", s.handleStatus},

		{"session-create", http.MethodPost, "/session/create", s.handleCreateSession},
		{"session-get", http.MethodGet, "/session/{id}", s.handleGetSession},
		{"session-delete", http.MethodDelete, "/session/{id}", s.handleDeleteSession},

		{"asset-upload", http.MethodPost, "/session/{id}/assets", s.handleUpload},
		{"asset-list", http.MethodGet, "/session/{id}/assets", s.handleListAssets},
		{"asset-stream", http.MethodGet, "/session/{id}/assets/{assetId}/stream", s.handleStream},
		{"asset-thumbnail", http.MethodGet, "/session/{id}/assets/{assetId}/thumbnail", s.handleThumbnail},
		{"asset-patch", http.MethodPatch, "/session/{id}/assets/{assetId}", s.handlePatchAsset},
		{"asset-delete", http.MethodDelete, "/session/{id}/assets/{assetId}", s.handleDeleteAsset},

		{"project-get", http.MethodGet, "/session/{id}/project", s.handleGetProject},
		{"project-put", http.MethodPut, "/session/{id}/project", s.handlePutProject},
		{"clip-edit", http.MethodPost, "/session/{id}/project/clips/{clipId}/edit", s.handleEditClip},

		{"transcribe", http.MethodPost, "/session/{id}/transcribe", s.handleTranscribe},
		{"suggest-command", http.MethodPost, "/session/{id}/suggest-command", s.handleSuggestCommand},
		{"process-asset", http.MethodPost, "/session/{id}/process-asset", s.handleProcessAsset},
		{"remove-dead-air", http.MethodPost, "/session/{id}/remove-dead-air", s.handleRemoveDeadAir},
		{"extract-audio", http.MethodPost, "/session/{id}/extract-audio", s.handleExtractAudio},
		{"detect-faces", http.MethodPost, "/session/{id}/detect-faces", s.handleDetectFaces},

		{"render", http.MethodPost, "/session/{id}/render", s.handleRender},
		{"render-motion-graphic", http.MethodPost, "/session/{id}/render-motion-graphic", s.handleRenderMotionGraphic},
		{"generate-animation", http.MethodPost, "/session/{id}/generate-animation", s.handleGenerateAnimation},
		{"edit-animation", http.MethodPost, "/session/{id}/edit-animation", s.handleEditAnimation},

		{"generate-image", http.MethodPost, "/session/{id}/generate-image", s.generationHandler(generate.KindImage)},
		{"generate-video", http.MethodPost, "/session/{id}/generate-video", s.generationHandler(generate.KindVideoFromImage)},
		{"restyle-video", http.MethodPost, "/session/{id}/restyle-video", s.generationHandler(generate.KindVideoRestyle)},
		{"remove-video-bg", http.MethodPost, "/session/{id}/remove-video-bg", s.generationHandler(generate.KindBackgroundRemoval)},
		{"job-get", http.MethodGet, "/session/{id}/jobs/{jobId}", s.handleGetJob},
	}
}

// validateRoutes rejects duplicate method and path pairs, missing handlers,
// and session paths that do not bind the session id.
func validateRoutes(table []route) error {
	seen := make(map[string]string, len(table))
	names := make(map[string]struct{}, len(table))
	var errs []error
	for _, rt := range table {
		key := rt.method + " " + rt.path
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("route %s: %s already registered by %s", rt.name, key, prev))
		}
		seen[key] = rt.name
		if _, ok := names[rt.name]; ok || rt.name == "" {
			errs = append(errs, fmt.Errorf("route %q: name must be unique and non-empty", rt.name))
		}
		names[rt.name] = struct{}{}
		if rt.handler == nil {
			errs = append(errs, fmt.Errorf("route %s: handler is nil", rt.name))
		}
		if !strings.HasPrefix(rt.path, "/") {
			errs = append(errs, fmt.Errorf("route %s: path %q must be absolute", rt.name, rt.path))
		}
		if strings.HasPrefix(rt.path, "/session/") && rt.path != "/session/create" &&
			!strings.HasPrefix(rt.path, "/session/{id}") {
			errs = append(errs, fmt.Errorf("route %s: session path %q must start with /session/{id}", rt.name, rt.path))
		}
	}
	return errors.Join(errs...)
}
