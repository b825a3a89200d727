package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"phototheology.app/palace/internal/audio"
	"phototheology.app/palace/internal/cache"
	"phototheology.app/palace/internal/config"
	"phototheology.app/palace/internal/metrics"
	"phototheology.app/palace/internal/player"
	"phototheology.app/palace/internal/tracking"
	"phototheology.app/palace/internal/tts"
)

// ErrNoTTSEndpoint is returned by speech commands when tts.endpoint is unset
var ErrNoTTSEndpoint = errors.New("no TTS endpoint configured (set tts.endpoint or PALACE_TTS_ENDPOINT)")

// runtime is the set of services one command invocation works with
type runtime struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	cache   *cache.Cache
	engine  *player.Engine
	client  *tts.Client

	trackingDB *sql.DB
	recorder   *tracking.Recorder

	metricsServer *http.Server
}

// openCache builds the two-tier cache over the configured persistent store
func (c *CLI) openCache(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*cache.Cache, error) {
	store, path, err := c.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	slog.Debug("audio cache opened", "store", cfg.Cache.Store, "path", path, "persistent", store != nil)

	return cache.New(store,
		cache.WithFetcher(audio.NewFetcher(audio.WithFilesystem(c.fs))),
		cache.WithMetrics(m),
	), nil
}

// openTracking opens the history database, or returns nil when tracking is off
func (c *CLI) openTracking(cfg *config.Config) (*sql.DB, error) {
	if cfg.Tracking == nil || !cfg.Tracking.Enabled {
		slog.Debug("playback history disabled")
		return nil, nil
	}
	path := c.configManager.ResolveTrackingPath(cfg.Tracking)
	db, err := tracking.NewDatabase(path)
	if err != nil {
		return nil, err
	}
	if keep := cfg.Tracking.Retention(); keep > 0 {
		pruned, err := tracking.Prune(db, time.Now().Add(-keep))
		if err != nil {
			slog.Warn("history pruning failed", "error", err)
		} else if pruned > 0 {
			slog.Info("pruned old playback history", "events", pruned, "retention_days", cfg.Tracking.RetentionDays)
		}
	}
	slog.Debug("playback history enabled", "path", path)
	return db, nil
}

// buildRuntime wires output, cache, engine, TTS, history and metrics for cfg
func (c *CLI) buildRuntime(ctx context.Context, cfg *config.Config) (rt *runtime, err error) {
	rt = &runtime{cfg: cfg, metrics: metrics.NewMetrics()}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	if cfg.MetricsAddr != "" {
		if err = rt.serveMetrics(cfg.MetricsAddr); err != nil {
			return rt, err
		}
	}

	if rt.cache, err = c.openCache(ctx, cfg, rt.metrics); err != nil {
		return rt, err
	}

	out, err := c.outputFactory.Create(cfg.AudioBackend)
	if err != nil {
		return rt, fmt.Errorf("failed to create audio output: %w", err)
	}

	opts := []player.Option{
		player.WithFetcher(audio.NewFetcher(
			audio.WithFilesystem(c.fs),
			audio.WithBlobResolver(rt.cache),
		)),
		player.WithProgressInterval(cfg.ProgressInterval()),
		player.WithMetrics(rt.metrics),
	}
	if cfg.RequiresUnlock != nil {
		opts = append(opts, player.WithRequiresUnlock(*cfg.RequiresUnlock))
	}
	rt.engine = player.New(out, opts...)
	player.SetDefault(rt.engine)
	if err = rt.engine.SetVolume(cfg.Volume); err != nil {
		return rt, err
	}
	if err = rt.engine.SetPlaybackRate(cfg.PlaybackRate); err != nil {
		return rt, err
	}

	if cfg.TTS.Endpoint != "" {
		rt.client, err = tts.NewClient(tts.Config{
			Endpoint: cfg.TTS.Endpoint,
			APIKey:   cfg.TTS.APIKey,
			Provider: cfg.TTS.Provider,
			Voice:    cfg.Voice,
			Timeout:  cfg.TTSTimeout(),
		}, rt.metrics)
		if err != nil {
			return rt, err
		}
	}

	if rt.trackingDB, err = c.openTracking(cfg); err != nil {
		// history is optional; playback goes on without it
		slog.Warn("playback history unavailable", "error", err)
		err = nil
	}
	if rt.trackingDB != nil {
		rt.recorder = tracking.NewRecorder(rt.trackingDB, "")
		rt.recorder.Attach(rt.engine)
	}

	slog.Info("palace runtime ready",
		"output", out.Name(),
		"tts", rt.client != nil,
		"history", rt.recorder != nil)
	return rt, nil
}

func (rt *runtime) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.metrics.Handler())
	rt.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := rt.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server stopped", "error", err)
		}
	}()
	slog.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}

func (rt *runtime) speaker() (*tts.Speaker, error) {
	if rt.client == nil {
		return nil, ErrNoTTSEndpoint
	}
	return tts.NewSpeaker(rt.client, rt.cache, rt.engine, rt.cfg.Voice, rt.cfg.Speed), nil
}

func (rt *runtime) prefetcher() (*tts.Prefetcher, error) {
	if rt.client == nil {
		return nil, ErrNoTTSEndpoint
	}
	return tts.NewPrefetcher(rt.client, rt.cache, rt.cfg.Speed, rt.metrics), nil
}

// Close flushes pending events and releases everything buildRuntime opened
func (rt *runtime) Close() error {
	var errs []error
	if rt.engine != nil {
		rt.engine.Stop()
		rt.engine.Sync()
	}
	if rt.recorder != nil {
		rt.recorder.Detach()
	}
	if rt.engine != nil {
		player.SetDefault(nil)
		if err := rt.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("engine: %w", err))
		}
	}
	if rt.cache != nil {
		if err := rt.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	if rt.trackingDB != nil {
		if err := rt.trackingDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("history: %w", err))
		}
	}
	if rt.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rt.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}
