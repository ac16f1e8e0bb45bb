package animation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"cutroom/internal/assets"
	"cutroom/internal/logging"
	"cutroom/internal/services"
	"cutroom/internal/services/llm"
)

// Service renders scenes into session assets and edits existing animations.
type Service struct {
	assets   *assets.Service
	renderer *Renderer
	llm      *llm.Client
	logger   *slog.Logger
}

// NewService wires the animation service. client may be nil; Generate and
// instruction edits then fail with a configuration error.
func NewService(svc *assets.Service, renderer *Renderer, client *llm.Client, logger *slog.Logger) *Service {
	return &Service{
		assets:   svc,
		renderer: renderer,
		llm:      client,
		logger:   logging.NewComponentLogger(logger, "animation"),
	}
}

// RenderScene renders scene and registers the result as a new asset.
func (s *Service) RenderScene(ctx context.Context, sessionID string, scene Scene) (assets.Asset, error) {
	scene.Normalize()
	if err := scene.Validate(); err != nil {
		return assets.Asset{}, err
	}
	ctx = services.WithStage(services.WithSessionID(ctx, sessionID), "render")
	output, err := s.assets.Layout().TempFile(sessionID, "animation-*.mov")
	if err != nil {
		return assets.Asset{}, err
	}
	if err := s.renderer.Render(ctx, scene, output); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "animation render failed", "animation_render_failed",
			logging.String("scene_kind", string(scene.Kind())),
			logging.Error(err),
			logging.String(logging.FieldImpact, "no asset was created"),
			logging.String(logging.FieldErrorHint, "check animation.command and the renderer project"),
		)
		return assets.Asset{}, err
	}
	raw, err := json.Marshal(scene)
	if err != nil {
		return assets.Asset{}, services.Wrap(services.ErrProcessing, "render animation", "props", "encode scene", err)
	}
	asset, err := s.assets.IngestFile(ctx, sessionID, output, assets.IngestOptions{
		FileName:    string(scene.Kind()) + ".mov",
		Source:      assets.SourceAnimation,
		AIGenerated: true,
		Scene:       raw,
	})
	if err != nil {
		return assets.Asset{}, err
	}
	s.logger.Info("animation rendered",
		logging.String(logging.FieldSessionID, sessionID),
		logging.String(logging.FieldAssetID, asset.ID),
		logging.String("scene_kind", string(scene.Kind())),
		logging.Float64("duration_seconds", scene.DurationSeconds),
		logging.String(logging.FieldEventType, "animation_rendered"),
	)
	return asset, nil
}

const scenePrompt = `You design short motion-graphic scenes for a video editor.
Respond with one JSON object only. Pick exactly one "kind":
- title: title, subtitle
- lower_third: name, role
- kinetic_text: lines (array of short strings, at most 12)
- bullet_list: heading, items (array, at most 8)
- counter: from, to (numbers), label, suffix
Always include durationSeconds (1..60). Do not include width, height or fps.`

// Generate asks the model for a scene matching prompt and renders it. A
// positive duration overrides whatever the model chose.
func (s *Service) Generate(ctx context.Context, sessionID, prompt string, duration float64) (assets.Asset, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return assets.Asset{}, services.Validation("generate animation", "prompt is required")
	}
	if duration < 0 || duration > MaxDuration {
		return assets.Asset{}, services.Validation("generate animation", "durationSeconds must be in (0, %g]", MaxDuration)
	}
	user := "Request: " + prompt
	if duration > 0 {
		user += fmt.Sprintf("\nDuration: %g seconds", duration)
	}
	scene, err := s.askScene(ctx, "generate animation", user)
	if err != nil {
		return assets.Asset{}, err
	}
	if duration > 0 {
		scene.DurationSeconds = duration
	}
	return s.RenderScene(ctx, sessionID, scene)
}

// EditRequest changes an existing animation either by instruction or by a
// complete replacement scene. Replacement wins when both are set.
type EditRequest struct {
	Instruction string
	Scene       *Scene
}

// Edit re-renders an animation asset in place. The asset id is unchanged and
// its edit count increases by one.
func (s *Service) Edit(ctx context.Context, sessionID, assetID string, req EditRequest) (assets.Asset, error) {
	const op = "edit animation"
	current, err := s.assets.Get(ctx, sessionID, assetID)
	if err != nil {
		return assets.Asset{}, err
	}
	if current.Source != assets.SourceAnimation || len(current.Scene) == 0 {
		return assets.Asset{}, services.Validation(op, "asset %s is not an animation", assetID)
	}

	var next Scene
	switch {
	case req.Scene != nil:
		next = *req.Scene
	case strings.TrimSpace(req.Instruction) != "":
		user := fmt.Sprintf("Current scene:\n%s\n\nChange request: %s\nReturn the complete updated scene.",
			current.Scene, strings.TrimSpace(req.Instruction))
		next, err = s.askScene(ctx, op, user)
		if err != nil {
			return assets.Asset{}, err
		}
	default:
		return assets.Asset{}, services.Validation(op, "instruction or scene is required")
	}
	if previous, err := ParseScene(current.Scene); err == nil {
		inheritCanvas(&next, previous)
	}
	next.Normalize()
	if err := next.Validate(); err != nil {
		return assets.Asset{}, err
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return assets.Asset{}, services.Wrap(services.ErrProcessing, op, "props", "encode scene", err)
	}

	ctx = services.WithAssetID(services.WithSessionID(ctx, sessionID), assetID)
	return s.assets.Edit(ctx, sessionID, assetID, func(ctx context.Context, _, dst string) error {
		return s.renderer.Render(ctx, next, dst)
	}, assets.WithScene(raw))
}

func (s *Service) askScene(ctx context.Context, op, user string) (Scene, error) {
	if !s.llm.Configured() {
		return Scene{}, services.Wrap(services.ErrConfiguration, op, "", "llm.api_key is not set", nil)
	}
	var raw json.RawMessage
	content, err := s.llm.CompleteInto(ctx, scenePrompt, user, &raw)
	if err != nil {
		return Scene{}, services.Wrap(services.ErrExternalService, op, "llm", "model request failed", err)
	}
	var scene Scene
	if err := json.Unmarshal(raw, &scene); err != nil {
		return Scene{}, services.WrapDetail(services.ErrExternalService, op, "parse", "model returned an unusable scene", content, err)
	}
	scene.Normalize()
	if err := scene.Validate(); err != nil {
		return Scene{}, services.WrapDetail(services.ErrExternalService, op, "validate", "model returned an invalid scene", content, err)
	}
	return scene, nil
}

// inheritCanvas keeps the canvas of the animation being edited unless the new
// scene sets its own.
func inheritCanvas(next *Scene, previous Scene) {
	if next.Width == 0 && next.Height == 0 {
		next.Width, next.Height = previous.Width, previous.Height
	}
	if next.FPS == 0 {
		next.FPS = previous.FPS
	}
	if next.DurationSeconds == 0 {
		next.DurationSeconds = previous.DurationSeconds
	}
}
