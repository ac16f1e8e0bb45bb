package animation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"cutroom/internal/config"
	"cutroom/internal/fileutil"
	"cutroom/internal/procrun"
	"cutroom/internal/services"
)

// Renderer invokes the external motion-graphics CLI. Every scene renders the
// same composition; the scene itself travels as the props file.
type Renderer struct {
	cfg    config.Animation
	runner procrun.Runner
}

// NewRenderer returns a renderer for the configured command.
func NewRenderer(cfg config.Animation, runner procrun.Runner) *Renderer {
	return &Renderer{cfg: cfg, runner: runner}
}

// Render writes scene as JSON next to output and renders a ProRes 4444 .mov
// with an alpha channel to output.
func (r *Renderer) Render(ctx context.Context, scene Scene, output string) error {
	const op = "render animation"
	if len(r.cfg.Command) == 0 {
		return services.Wrap(services.ErrConfiguration, op, "", "animation.command is not set", nil)
	}
	props, err := json.Marshal(scene)
	if err != nil {
		return services.Wrap(services.ErrValidation, op, "props", "encode scene", err)
	}
	propsPath := output + ".props.json"
	if err := os.WriteFile(propsPath, props, 0o644); err != nil {
		return services.Wrap(services.ErrProcessing, op, "props", "write props file", err)
	}
	defer os.Remove(propsPath)

	if _, err := r.runner.Run(ctx, r.command(scene, propsPath, output)); err != nil {
		_ = os.Remove(output)
		return procrun.Classify(op, "render", err)
	}
	if !fileutil.NonEmpty(output) {
		return services.Wrap(services.ErrProcessing, op, "render", "renderer produced no output", nil)
	}
	return nil
}

func (r *Renderer) command(scene Scene, propsPath, output string) procrun.Command {
	args := append([]string{}, r.cfg.Command[1:]...)
	args = append(args,
		r.cfg.EntryPoint,
		r.cfg.CompositionID,
		output,
		"--props="+propsPath,
		"--codec=prores",
		"--prores-profile=4444",
		"--pixel-format=yuva444p10le",
		"--image-format=png",
		"--width="+strconv.Itoa(scene.Width),
		"--height="+strconv.Itoa(scene.Height),
		fmt.Sprintf("--frames=0-%d", scene.Frames()-1),
		"--overwrite",
	)
	var dir string
	if r.cfg.WorkDir != "" {
		dir = filepath.Clean(r.cfg.WorkDir)
	}
	return procrun.Command{
		Name:    r.cfg.Command[0],
		Args:    args,
		Dir:     dir,
		Timeout: time.Duration(r.cfg.TimeoutSeconds) * time.Second,
	}
}
