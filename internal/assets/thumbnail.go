package assets

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"cutroom/internal/fileutil"
	"cutroom/internal/logging"
	"cutroom/internal/media/ffmpeg"
)

const thumbnailTimeout = 2 * time.Minute

// scheduleThumbnail regenerates the thumbnail in the background. The work is
// detached from the request context; it takes the asset lock so it never
// reads a file that is mid-swap.
func (s *Service) scheduleThumbnail(sessionID, assetID string) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), thumbnailTimeout)
		defer cancel()
		if err := s.generateThumbnail(ctx, sessionID, assetID); err != nil {
			logging.WarnWithContext(s.logger, "thumbnail generation failed", "thumbnail_failed",
				logging.String(logging.FieldSessionID, sessionID),
				logging.String(logging.FieldAssetID, assetID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "asset shows without a preview image"),
				logging.String(logging.FieldErrorHint, "check the ffmpeg tool log for this asset"),
			)
		}
	}()
}

func (s *Service) generateThumbnail(ctx context.Context, sessionID, assetID string) error {
	unlock, err := s.assetLocks.Lock(ctx, lockKey(sessionID, assetID))
	if err != nil {
		return err
	}
	defer unlock()

	src, asset, err := s.Path(ctx, sessionID, assetID)
	if err != nil {
		return err
	}
	if asset.Kind == KindAudio || !asset.HasVideo() {
		return nil
	}
	dst, err := s.layout.ThumbnailPath(sessionID, assetID)
	if err != nil {
		return err
	}
	staged, err := s.layout.TempFile(sessionID, "thumb-*.jpg")
	if err != nil {
		return err
	}
	defer os.Remove(staged)

	scale := fmt.Sprintf("scale=%d:-2", s.thumbWidth)
	cmd := ffmpeg.New()
	if asset.Kind == KindVideo {
		at := thumbnailOffset(asset.Duration())
		cmd.Input(src, "-ss", ffmpeg.Seconds(at))
	} else {
		cmd.Input(src)
	}
	cmd.VideoFilter(scale).Set("-frames:v", "1", "-q:v", "4").Output(staged)
	if _, err := s.ffmpeg.Run(ctx, "thumbnail", "extract", cmd); err != nil {
		return err
	}
	if err := fileutil.ReplaceFile(staged, dst); err != nil {
		return err
	}

	return s.mutate(ctx, sessionID, func(doc *metaDocument) error {
		current, ok := doc.Assets[assetID]
		if !ok {
			_ = os.Remove(dst)
			return nil
		}
		current.Thumbnail = assetID + ".jpg"
		doc.Assets[assetID] = current
		return nil
	})
}

// thumbnailOffset picks min(1s, duration/2) so very short clips still yield a frame.
func thumbnailOffset(duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	return math.Min(1, duration/2)
}
