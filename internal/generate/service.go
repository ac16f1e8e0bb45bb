package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cutroom/internal/assets"
	"cutroom/internal/config"
	"cutroom/internal/logging"
	"cutroom/internal/services"
)

// Kind names a generation operation.
type Kind string

const (
	KindImage             Kind = "image"
	KindVideoFromImage    Kind = "video_from_image"
	KindVideoRestyle      Kind = "video_restyle"
	KindBackgroundRemoval Kind = "background_removal"
)

// Params carries the caller's request. Fields that a kind does not use are ignored.
type Params struct {
	Prompt        string `json:"prompt,omitempty"`
	SourceAssetID string `json:"sourceAssetId,omitempty"`
	AspectRatio   string `json:"aspectRatio,omitempty"`
}

type spec struct {
	model      func(config.Generation) string
	source     assets.Kind
	needPrompt bool
	fallback   string
}

var kinds = map[Kind]spec{
	KindImage: {
		model:      func(c config.Generation) string { return c.ImageModel },
		needPrompt: true,
		fallback:   ".png",
	},
	KindVideoFromImage: {
		model:    func(c config.Generation) string { return c.VideoModel },
		source:   assets.KindImage,
		fallback: ".mp4",
	},
	KindVideoRestyle: {
		model:      func(c config.Generation) string { return c.RestyleModel },
		source:     assets.KindVideo,
		needPrompt: true,
		fallback:   ".mp4",
	},
	KindBackgroundRemoval: {
		model:    func(c config.Generation) string { return c.BackgroundRemovalModel },
		source:   assets.KindVideo,
		fallback: ".mp4",
	},
}

const (
	stageSubmit   = "submit"
	stagePoll     = "poll"
	stageDownload = "download"
	stageRegister = "register"

	maxPollErrors = 3
)

// Service submits generation requests and registers their results as assets.
type Service struct {
	assets   *assets.Service
	provider Provider
	cfg      config.Generation
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error
}

// Option customizes a Service.
type Option func(*Service)

// WithSleeper overrides how the poll loop waits between requests.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(s *Service) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// NewService wires a gateway. A nil provider makes every call fail with a
// configuration error.
func NewService(svc *assets.Service, provider Provider, cfg config.Generation, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		assets:   svc,
		provider: provider,
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "generate"),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ParseKind accepts the kind names used by the HTTP API.
func ParseKind(value string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_"))
	if _, ok := kinds[k]; !ok {
		return "", services.Validation("generate", "unknown generation kind %q", value)
	}
	return k, nil
}

// Check validates a request without contacting the provider so callers can
// reject bad input before starting a job.
func (s *Service) Check(ctx context.Context, sessionID string, kind Kind, params Params) error {
	sp, ok := kinds[kind]
	if !ok {
		return services.Validation("generate", "unknown generation kind %q", kind)
	}
	if s.provider == nil {
		return services.Wrap(services.ErrConfiguration, "generate", "", "generation provider is not configured", nil)
	}
	if sp.needPrompt && strings.TrimSpace(params.Prompt) == "" {
		return services.Validation("generate", "%s requires a prompt", kind)
	}
	if sp.source == "" {
		_, err := s.assets.Layout().SessionPath(sessionID)
		return err
	}
	_, err := s.source(ctx, sessionID, sp.source, params.SourceAssetID)
	return err
}

// Generate runs one generation to completion and returns the new asset.
func (s *Service) Generate(ctx context.Context, sessionID string, kind Kind, params Params) (assets.Asset, error) {
	if err := s.Check(ctx, sessionID, kind, params); err != nil {
		return assets.Asset{}, err
	}
	sp := kinds[kind]
	op := "generate " + string(kind)
	ctx = services.WithSessionID(ctx, sessionID)
	logger := logging.WithContext(ctx, s.logger).With(logging.String("kind", string(kind)))

	input, source, err := s.input(ctx, sessionID, kind, sp, params)
	if err != nil {
		return assets.Asset{}, err
	}

	timeout := time.Duration(s.cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	model := sp.model(s.cfg)
	prediction, err := s.provider.Submit(ctx, model, input)
	if err != nil {
		return assets.Asset{}, s.classify(ctx, op, stageSubmit, "submit prediction", err)
	}
	logger.Info("generation submitted",
		logging.String("prediction_id", prediction.ID),
		logging.String("model", model),
		logging.String("source_asset_id", source),
		logging.String(logging.FieldEventType, "generation_submitted"),
	)

	prediction, err = s.await(ctx, op, prediction)
	if err != nil {
		return assets.Asset{}, err
	}
	if len(prediction.Output) == 0 || strings.TrimSpace(prediction.Output[0]) == "" {
		return assets.Asset{}, services.Wrap(services.ErrExternalService, op, stagePoll, "provider returned no output", nil)
	}

	asset, err := s.fetch(ctx, op, sessionID, kind, sp, prediction.Output[0])
	if err != nil {
		logging.WarnWithContext(logger, "generation result not registered", "generation_failed",
			logging.String("prediction_id", prediction.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the generated media is discarded"),
			logging.String(logging.FieldErrorHint, "retry the generation"),
		)
		return assets.Asset{}, err
	}
	logger.Info("generation registered",
		logging.String(logging.FieldAssetID, asset.ID),
		logging.String("prediction_id", prediction.ID),
		logging.String(logging.FieldEventType, "generation_complete"),
	)
	return asset, nil
}

// SelectSource picks the asset a generation should start from when the
// caller did not name one: the newest asset of kind that is not itself
// AI-generated, else the newest AI-generated one.
func (s *Service) SelectSource(ctx context.Context, sessionID string, kind assets.Kind) (assets.Asset, error) {
	list, err := s.assets.List(ctx, sessionID)
	if err != nil {
		return assets.Asset{}, err
	}
	var natural, synthetic *assets.Asset
	// List is ordered by id, which sorts by creation time.
	for i := len(list) - 1; i >= 0; i-- {
		a := &list[i]
		if a.Kind != kind {
			continue
		}
		if !a.AIGenerated && natural == nil {
			natural = a
		}
		if a.AIGenerated && synthetic == nil {
			synthetic = a
		}
	}
	switch {
	case natural != nil:
		return *natural, nil
	case synthetic != nil:
		return *synthetic, nil
	}
	return assets.Asset{}, services.Validation("generate", "session has no %s asset to start from", kind)
}

func (s *Service) source(ctx context.Context, sessionID string, kind assets.Kind, explicit string) (assets.Asset, error) {
	if explicit == "" {
		return s.SelectSource(ctx, sessionID, kind)
	}
	asset, err := s.assets.Get(ctx, sessionID, explicit)
	if err != nil {
		return assets.Asset{}, err
	}
	if asset.Kind != kind {
		return assets.Asset{}, services.Validation("generate", "asset %s is %s, need %s", explicit, asset.Kind, kind)
	}
	return asset, nil
}

func (s *Service) input(ctx context.Context, sessionID string, kind Kind, sp spec, params Params) (map[string]any, string, error) {
	input := map[string]any{}
	if prompt := strings.TrimSpace(params.Prompt); prompt != "" {
		input["prompt"] = prompt
	}
	if kind == KindImage {
		aspect := params.AspectRatio
		if aspect == "" {
			aspect = "16:9"
		}
		input["aspect_ratio"] = aspect
		input["output_format"] = "png"
		return input, "", nil
	}

	asset, err := s.source(ctx, sessionID, sp.source, params.SourceAssetID)
	if err != nil {
		return nil, "", err
	}
	path, _, err := s.assets.Path(ctx, sessionID, asset.ID)
	if err != nil {
		return nil, "", err
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	uri, err := fileDataURI(path, mimeType)
	if err != nil {
		return nil, "", services.Wrap(services.ErrProcessing, "generate "+string(kind), stageSubmit, "read source asset", err)
	}
	field := "video"
	if sp.source == assets.KindImage {
		field = "image"
	}
	input[field] = uri
	return input, asset.ID, nil
}

func (s *Service) await(ctx context.Context, op string, prediction Prediction) (Prediction, error) {
	interval := time.Duration(s.cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}
	failures := 0
	for !prediction.Done() {
		if err := s.sleep(ctx, interval); err != nil {
			return Prediction{}, s.classify(ctx, op, stagePoll, "wait for prediction", err)
		}
		next, err := s.provider.Poll(ctx, prediction.ID)
		if err != nil {
			failures++
			if transient(err) && failures < maxPollErrors {
				continue
			}
			return Prediction{}, s.classify(ctx, op, stagePoll, "poll prediction", err)
		}
		failures = 0
		prediction = next
	}
	if prediction.Status != PredictionSucceeded {
		msg := strings.TrimSpace(prediction.Error)
		if msg == "" {
			msg = "prediction " + prediction.Status
		}
		return Prediction{}, services.WrapDetail(services.ErrExternalService, op, stagePoll, "provider reported failure", msg, nil)
	}
	return prediction, nil
}

func (s *Service) fetch(ctx context.Context, op, sessionID string, kind Kind, sp spec, rawURL string) (assets.Asset, error) {
	ext := resultExt(rawURL, sp.fallback)
	tmp, err := s.assets.Layout().TempFile(sessionID, "generated-*"+ext)
	if err != nil {
		return assets.Asset{}, err
	}
	defer os.Remove(tmp)
	f, err := os.Create(tmp)
	if err != nil {
		return assets.Asset{}, services.Wrap(services.ErrProcessing, op, stageDownload, "open staging file", err)
	}
	err = s.provider.Download(ctx, rawURL, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return assets.Asset{}, s.classify(ctx, op, stageDownload, "download result", err)
	}
	asset, err := s.assets.IngestFile(ctx, sessionID, tmp, assets.IngestOptions{
		FileName:    fmt.Sprintf("%s%s", kind, ext),
		Source:      assets.SourceGenerated,
		AIGenerated: true,
	})
	if err != nil {
		if _, ok := services.AsServiceError(err); ok {
			return assets.Asset{}, err
		}
		return assets.Asset{}, services.Wrap(services.ErrProcessing, op, stageRegister, "register result", err)
	}
	return asset, nil
}

func (s *Service) classify(ctx context.Context, op, stage, msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, op, stage, "generation did not finish in time", err)
	}
	if rejected(err) {
		return services.Wrap(services.ErrExternalRejected, op, stage, msg, err)
	}
	return services.Wrap(services.ErrExternalService, op, stage, msg, err)
}

// resultExt keeps the provider's extension when it is one the asset store
// understands.
func resultExt(rawURL, fallback string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	ext := strings.ToLower(path.Ext(u.Path))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".webp", ".gif", ".mp4", ".mov", ".webm":
		return ext
	}
	return fallback
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
