package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"cutroom/internal/animation"
	"cutroom/internal/assets"
	"cutroom/internal/catalog"
	"cutroom/internal/commands"
	"cutroom/internal/config"
	"cutroom/internal/deps"
	"cutroom/internal/faces"
	"cutroom/internal/generate"
	"cutroom/internal/jobs"
	"cutroom/internal/logging"
	"cutroom/internal/media/ffmpeg"
	"cutroom/internal/preflight"
	"cutroom/internal/procrun"
	"cutroom/internal/render"
	"cutroom/internal/server"
	"cutroom/internal/services/llm"
	"cutroom/internal/services/whisperx"
	"cutroom/internal/silence"
	"cutroom/internal/storage"
	"cutroom/internal/timeline"
	"cutroom/internal/transcribe"
)

const jobSweepInterval = time.Minute

// Daemon owns the services behind the HTTP API and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	catalog *catalog.Store
	layout  *storage.Layout
	assets  *assets.Service
	jobs    *jobs.Store
	server  *server.Server

	lockPath string
	lock     *flock.Flock

	depsMu sync.Mutex
	deps   []deps.Status

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool                `json:"running"`
	Address      string              `json:"address,omitempty"`
	DataDir      string              `json:"dataDir"`
	CatalogPath  string              `json:"catalogPath"`
	LockFilePath string              `json:"lockFilePath"`
	Sessions     int                 `json:"sessions"`
	Jobs         map[jobs.Status]int `json:"jobs"`
	Dependencies []deps.Status       `json:"dependencies"`
	Features     []preflight.Result  `json:"features"`
}

// New opens the catalog and constructs every service. Nothing listens until Start.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	cat, err := catalog.Open(cfg.CatalogPath())
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		catalog:  cat,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
		now:      time.Now,
	}
	if err := d.wire(); err != nil {
		_ = cat.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) wire() error {
	cfg := d.cfg
	component := func(name string) *slog.Logger { return logging.NewComponentLogger(d.logger, name) }

	d.layout = storage.New(cfg.SessionsDir(), d.catalog, component("storage"))
	runner := procrun.NewExec(cfg.ToolLogDir(), component("procrun"))
	tool := ffmpeg.Tool{Binary: cfg.FFmpeg.FFmpegBinary, Runner: runner, Timeout: cfg.FFmpegTimeout()}

	d.assets = assets.New(assets.Options{
		Layout:         d.layout,
		Runner:         runner,
		FFprobeBinary:  cfg.FFmpeg.FFprobeBinary,
		FFmpeg:         tool,
		ThumbnailWidth: cfg.FFmpeg.ThumbnailWidth,
		Logger:         component("assets"),
	})

	llmCfg := cfg.GetLLM()
	client := llm.NewClient(llm.Config{
		APIKey:         llmCfg.APIKey,
		BaseURL:        llmCfg.BaseURL,
		Model:          llmCfg.Model,
		Referer:        llmCfg.Referer,
		Title:          llmCfg.Title,
		TimeoutSeconds: llmCfg.TimeoutSeconds,
	})

	var advisor commands.Advisor
	if client.Configured() {
		advisor = commands.NewLLMAdvisor(client)
	}

	var local *whisperx.Service
	if cfg.Transcription.LocalEnabled {
		local = whisperx.NewService(whisperx.Config{
			Model:     cfg.Transcription.WhisperXModel,
			UVXBinary: cfg.Transcription.UVXBinary,
			VADMethod: whisperx.VADMethodSilero,
			Timeout:   time.Duration(cfg.Transcription.TimeoutSeconds) * time.Second,
		}, runner)
	}
	var remote *transcribe.RemoteClient
	if cfg.Transcription.RemoteAPIKey != "" {
		remote = transcribe.NewRemoteClient(transcribe.RemoteConfig{
			BaseURL: cfg.Transcription.RemoteBaseURL,
			APIKey:  cfg.Transcription.RemoteAPIKey,
			Model:   cfg.Transcription.RemoteModel,
			Timeout: time.Duration(cfg.Transcription.TimeoutSeconds) * time.Second,
		})
	}

	scenes := animation.NewService(d.assets, animation.NewRenderer(cfg.Animation, runner), client, component("animation"))

	// A nil *HTTPProvider stored in the Provider interface would not compare
	// equal to nil, so only assign a configured provider.
	var provider generate.Provider
	if p := generate.NewHTTPProvider(generate.HTTPConfig{
		BaseURL:  cfg.Generation.BaseURL,
		APIToken: cfg.Generation.APIToken,
	}); p.Configured() {
		provider = p
	}

	d.jobs = jobs.NewStore(cfg.JobTTL(), jobs.WithLogger(component("jobs")))

	srv, err := server.New(cfg.Server, server.Deps{
		Layout:   d.layout,
		Assets:   d.assets,
		Commands: commands.New(d.assets, tool, component("commands")),
		Advisor:  advisor,
		Silence:  silence.New(d.assets, tool, cfg.Silence, component("silence")),
		Transcribe: transcribe.New(transcribe.Options{
			Assets:         d.assets,
			FFmpeg:         tool,
			Local:          local,
			Remote:         remote,
			RemoteMaxBytes: cfg.Transcription.RemoteMaxBytes,
			Logger:         component("transcribe"),
		}),
		Projects: timeline.NewStore(d.layout),
		Render: render.New(render.Config{
			Assets:        d.assets,
			FFmpeg:        tool,
			Runner:        runner,
			FFprobeBinary: cfg.FFmpeg.FFprobeBinary,
			Scenes:        scenes,
			Logger:        component("render"),
		}),
		Animation: scenes,
		Generate:  generate.NewService(d.assets, provider, cfg.Generation, component("generate")),
		Jobs:      d.jobs,
		Faces:     faces.NewDetector(d.assets, runner, cfg.Faces, component("faces")),
		Status:    func(ctx context.Context) any { return d.Status(ctx) },
	}, component("server"))
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	d.server = srv
	return nil
}

// Start acquires the daemon lock, checks dependencies, starts the HTTP
// server and launches the sweep loops.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another cutroom daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.refreshDeps(runCtx)
	d.logPreflight(runCtx)

	if err := d.server.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start server: %w", err)
	}
	d.cancel = cancel

	d.wg.Add(2)
	go d.sessionSweepLoop(runCtx)
	go d.jobSweepLoop(runCtx)

	d.running.Store(true)
	d.logger.Info("cutroom daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.server.Addr()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop stops the server and background loops and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.server.Stop()
	d.wg.Wait()
	d.jobs.Wait()
	d.assets.Wait()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "next start may report another instance running"),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("cutroom daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.catalog != nil {
		return d.catalog.Close()
	}
	return nil
}

// Addr returns the listening address, or "" before Start.
func (d *Daemon) Addr() string {
	return d.server.Addr()
}

// Layout exposes session storage for maintenance commands.
func (d *Daemon) Layout() *storage.Layout {
	return d.layout
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	st := Status{
		Running:      d.running.Load(),
		Address:      d.server.Addr(),
		DataDir:      d.cfg.Paths.DataDir,
		CatalogPath:  d.catalog.Path(),
		LockFilePath: d.lockPath,
		Jobs:         d.jobs.Counts(),
		Features:     preflight.Features(d.cfg),
	}
	if sessions, err := d.catalog.List(ctx); err == nil {
		st.Sessions = len(sessions)
	}
	d.depsMu.Lock()
	st.Dependencies = append([]deps.Status(nil), d.deps...)
	d.depsMu.Unlock()
	return st
}

// Sweep deletes sessions idle longer than the configured TTL and returns how
// many were removed. A zero TTL disables sweeping.
func (d *Daemon) Sweep(ctx context.Context) (int, error) {
	ttl := d.cfg.SessionTTL()
	if ttl <= 0 {
		return 0, nil
	}
	expired, err := d.catalog.Expired(ctx, d.now().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("list expired sessions: %w", err)
	}
	removed := 0
	var errs []error
	for _, id := range expired {
		if err := d.layout.DeleteSession(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("delete session %s: %w", id, err))
			continue
		}
		d.jobs.DropSession(id)
		removed++
		d.logger.Info("expired session removed",
			logging.String(logging.FieldSessionID, id),
			logging.String(logging.FieldEventType, "session_expired"),
		)
	}
	return removed, errors.Join(errs...)
}

func (d *Daemon) sessionSweepLoop(ctx context.Context) {
	defer d.wg.Done()
	interval := time.Duration(d.cfg.Sessions.SweepIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Daemon) sweepOnce(ctx context.Context) {
	if _, err := d.Sweep(ctx); err != nil && ctx.Err() == nil {
		logging.WarnWithContext(d.logger, "session sweep incomplete", "session_sweep_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "expired sessions stay on disk until the next sweep"),
			logging.String(logging.FieldErrorHint, "check permissions under data_dir"),
		)
	}
	logging.CleanupOldLogs(d.logger, d.cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: d.cfg.ToolLogDir(), Pattern: "*.log"},
		logging.RetentionTarget{Dir: d.cfg.Paths.LogDir, Pattern: "*.log"},
	)
}

func (d *Daemon) jobSweepLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(jobSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := d.jobs.Evict(); n > 0 {
				d.logger.Debug("unclaimed jobs evicted", logging.Int("count", n), logging.String(logging.FieldEventType, "jobs_evicted"))
			}
		}
	}
}

func (d *Daemon) refreshDeps(ctx context.Context) {
	statuses := preflight.CheckSystemDeps(ctx, d.cfg)
	d.depsMu.Lock()
	d.deps = statuses
	d.depsMu.Unlock()
	for _, missing := range deps.Missing(statuses) {
		logging.WarnWithContext(d.logger, "required dependency missing", "dependency_missing",
			logging.String("dependency", missing.Name),
			logging.String("command", missing.Command),
			logging.String(logging.FieldImpact, missing.Description),
			logging.String(logging.FieldErrorHint, "install "+missing.Command+" or set its path in config.toml"),
		)
	}
}

func (d *Daemon) logPreflight(ctx context.Context) {
	for _, result := range preflight.RunAll(ctx, d.cfg) {
		if result.Passed {
			d.logger.Debug("preflight passed", logging.String("check", result.Name), logging.String("detail", result.Detail))
			continue
		}
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "features depending on "+result.Name+" will fail"),
			logging.String(logging.FieldErrorHint, "run cutroom status for details"),
		)
	}
}
