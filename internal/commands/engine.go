package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cutroom/internal/assets"
	"cutroom/internal/logging"
	"cutroom/internal/media/ffmpeg"
	"cutroom/internal/services"
)

// Engine applies structured commands to assets through the shared in-place swap.
type Engine struct {
	assets *assets.Service
	ffmpeg ffmpeg.Tool
	logger *slog.Logger
}

// New constructs a command engine.
func New(svc *assets.Service, tool ffmpeg.Tool, logger *slog.Logger) *Engine {
	return &Engine{
		assets: svc,
		ffmpeg: tool,
		logger: logging.NewComponentLogger(logger, "commands"),
	}
}

// MediaOf summarizes an asset for validation and argument building.
func MediaOf(a assets.Asset) Media {
	m := Media{
		Duration: a.Duration(),
		HasVideo: a.HasVideo(),
		HasAudio: a.HasAudio(),
		Still:    a.Kind == assets.KindImage,
	}
	if a.Metadata != nil {
		m.Width = a.Metadata.Width
		m.Height = a.Metadata.Height
	}
	if m.Still {
		m.HasAudio = false
	}
	return m
}

// Apply runs spec against the asset and swaps the result in place. The asset
// is re-read under its lock so validation sees the bytes that will be edited.
func (e *Engine) Apply(ctx context.Context, sessionID, assetID string, spec Spec) (assets.Asset, error) {
	if spec.Operation == nil {
		return assets.Asset{}, invalid("", "command is empty")
	}
	ctx = services.WithAssetID(services.WithSessionID(ctx, sessionID), assetID)
	logger := logging.WithContext(ctx, e.logger)
	op := string(spec.Op())

	updated, err := e.assets.Edit(ctx, sessionID, assetID, func(ctx context.Context, src, dst string) error {
		current, err := e.assets.Get(ctx, sessionID, assetID)
		if err != nil {
			return err
		}
		m := MediaOf(current)
		if err := spec.Validate(m); err != nil {
			return err
		}
		logger.Info("applying command",
			logging.String("op", op),
			logging.String(logging.FieldEventType, "command_started"),
		)
		_, err = e.ffmpeg.Run(ctx, "process asset", op, BuildCommand(spec, m, src, dst))
		return err
	})
	if err != nil {
		logging.WarnWithContext(logger, "command failed; original kept", "command_failed",
			logging.String("op", op),
			logging.Error(err),
			logging.String(logging.FieldImpact, "asset unchanged"),
			logging.String(logging.FieldErrorHint, "inspect the error detail for the ffmpeg diagnostic"),
		)
		return assets.Asset{}, err
	}
	logger.Info("command applied",
		logging.String("op", op),
		logging.Int("edit_count", updated.EditCount),
		logging.String(logging.FieldEventType, "command_completed"),
	)
	return updated, nil
}

// ExtractAudio splits an asset into a muted video copy and an audio track,
// registering both as new derived assets. The source is not modified.
func (e *Engine) ExtractAudio(ctx context.Context, sessionID, assetID string) (assets.Asset, assets.Asset, error) {
	src, asset, err := e.assets.Path(ctx, sessionID, assetID)
	if err != nil {
		return assets.Asset{}, assets.Asset{}, err
	}
	m := MediaOf(asset)
	if !m.HasVideo || m.Still {
		return assets.Asset{}, assets.Asset{}, services.Validation("extract audio", "asset has no video track to separate")
	}
	if !m.HasAudio {
		return assets.Asset{}, assets.Asset{}, services.Validation("extract audio", "asset has no audio track")
	}
	layout := e.assets.Layout()
	ext := strings.ToLower(filepath.Ext(asset.FileName))

	videoOut, err := layout.TempFile(sessionID, "extract-video-*"+ext)
	if err != nil {
		return assets.Asset{}, assets.Asset{}, err
	}
	defer os.Remove(videoOut)
	audioOut, err := layout.TempFile(sessionID, "extract-audio-*.m4a")
	if err != nil {
		return assets.Asset{}, assets.Asset{}, err
	}
	defer os.Remove(audioOut)

	videoCmd := ffmpeg.New().Input(src).Map("0:v:0").Set("-c:v", "copy", "-an").Output(videoOut)
	if _, err := e.ffmpeg.Run(ctx, "extract audio", "video", videoCmd); err != nil {
		return assets.Asset{}, assets.Asset{}, err
	}
	audioCmd := ffmpeg.New().Input(src).Map("0:a:0").Set("-vn").Set(ffmpeg.Preset(ffmpeg.AAC)...).Output(audioOut)
	if _, err := e.ffmpeg.Run(ctx, "extract audio", "audio", audioCmd); err != nil {
		return assets.Asset{}, assets.Asset{}, err
	}

	base := strings.TrimSuffix(asset.OriginalName, filepath.Ext(asset.OriginalName))
	video, err := e.assets.IngestFile(ctx, sessionID, videoOut, assets.IngestOptions{
		FileName:     base + " (video)" + ext,
		DeclaredType: string(assets.KindVideo),
		Source:       assets.SourceDerived,
		AIGenerated:  asset.AIGenerated,
	})
	if err != nil {
		return assets.Asset{}, assets.Asset{}, err
	}
	audio, err := e.assets.IngestFile(ctx, sessionID, audioOut, assets.IngestOptions{
		FileName:     base + " (audio).m4a",
		DeclaredType: string(assets.KindAudio),
		Source:       assets.SourceDerived,
		AIGenerated:  asset.AIGenerated,
	})
	if err != nil {
		return assets.Asset{}, assets.Asset{}, err
	}
	e.logger.Info("audio extracted",
		logging.String(logging.FieldSessionID, sessionID),
		logging.String(logging.FieldAssetID, assetID),
		logging.String("video_asset_id", video.ID),
		logging.String("audio_asset_id", audio.ID),
		logging.String(logging.FieldEventType, "audio_extracted"),
	)
	return video, audio, nil
}
