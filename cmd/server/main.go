// Reverser server - runs the mirrored-text recognition pipeline behind HTTP, WebSocket and gRPC health
package main

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/GriffinCanCode/reverser/internal/errors"
	"github.com/GriffinCanCode/reverser/internal/config"
	"github.com/GriffinCanCode/reverser/internal/frames"
	"github.com/GriffinCanCode/reverser/internal/grpcserver"
	"github.com/GriffinCanCode/reverser/internal/history"
	"github.com/GriffinCanCode/reverser/internal/ocr/tesseract"
	"github.com/GriffinCanCode/reverser/internal/overlay"
	"github.com/GriffinCanCode/reverser/internal/pipeline"
	"github.com/GriffinCanCode/reverser/internal/publish"
	"github.com/GriffinCanCode/reverser/internal/resilience"
	"github.com/GriffinCanCode/reverser/internal/server"
	"github.com/GriffinCanCode/reverser/internal/viewfinder"
)

func main() {
	if err := run(); err != nil {
		slog.Error("reverser exited", "error", err, "code", apperrors.CodeOf(err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := tesseract.NewEngine(tesseract.Options{Languages: cfg.Languages, TessdataPrefix: cfg.TessdataPrefix})
	defer func() { _ = engine.Close() }()

	mode := pipeline.Continuous
	if !cfg.Continuous {
		mode = pipeline.SingleShot
	}
	ctrl := pipeline.New(engine, pipeline.Options{
		Params:            cfg.Params(),
		MinMeanConfidence: cfg.MinMeanConfidence,
		Mode:              mode,
	})

	viewport := image.Pt(cfg.ViewportWidth, cfg.ViewportHeight)
	preview := image.Pt(cfg.PreviewWidth, cfg.PreviewHeight)
	vf := viewfinder.New(viewport, preview)
	vf.OnResize(func(image.Rectangle) { ctrl.ClearResult() })

	renderer, err := overlay.NewRenderer(cfg.WordRenderConfidence)
	if err != nil {
		return err
	}

	var dedupe *frames.Deduper
	if cfg.SkipSimilarFrames {
		dedupe = frames.NewDeduper(cfg.MaxHashDistance)
	}
	pump := frames.NewPump(ctrl, vf, preview, dedupe)

	src, err := openSource(cfg)
	if err != nil {
		return err
	}
	if src != nil {
		defer src.Close()
	}

	hist := history.NewStore(cfg.HistorySize)

	var batcher *publish.Batcher
	if cfg.RedisURL != "" {
		sink, err := publish.NewRedisSink(ctx, cfg.RedisURL, cfg.RedisChannel, cfg.HistorySize)
		if err != nil {
			return err
		}
		defer func() { _ = sink.Close() }()
		batcher = publish.NewBatcher(sink, 0, 0)
		defer batcher.Stop()
		slog.Info("publishing results", "channel", cfg.RedisChannel)
	}

	ctx, terminate := context.WithCancel(ctx)
	defer terminate()

	srv := server.New(server.Deps{
		Pipeline:    ctrl,
		Viewfinder:  vf,
		Renderer:    renderer,
		Frames:      pump,
		History:     hist,
		OnTerminate: terminate,
	})
	defer srv.Close()

	health := grpcserver.New(ctrl)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeResourceUnavailable, "listen grpc").WithMetadata("addr", cfg.GRPCAddr)
	}

	events, cancelEvents := ctrl.Subscribe(0)
	defer cancelEvents()

	// Frames arrive from the configured source or POST /api/frame; the engine
	// gates admission until it is up.
	ctrl.Activate()
	ctrl.SetSourceReady(true)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error {
		// Language data may still be unpacking on first start
		if err := resilience.Retry(gctx, resilience.InitRetryConfig(), engine.Start); err != nil {
			err = apperrors.Wrap(err, apperrors.CodeResourceUnavailable, "recognition engine unavailable")
			ctrl.ReportTerminal(err)
			return err
		}
		slog.Info("recognition engine ready", "engine", engine.String(), "tesseract", tesseract.Version())
		ctrl.SetEngineReady(true)
		return nil
	})
	g.Go(func() error { return health.Serve(gctx, lis) })
	g.Go(func() error {
		record(gctx, events, hist, batcher, ctrl.SessionID())
		return nil
	})
	if src != nil {
		g.Go(func() error { return pump.Run(gctx, src, cfg.FrameRate) })
	}

	// Start HTTP server
	httpServer := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     srv.Handler(),
		ReadTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		slog.Info("reverser server starting", "http", cfg.HTTPAddr, "grpc", cfg.GRPCAddr, "mode", mode.String(), "session", ctrl.SessionID())
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	slog.Info("shutdown complete")
	return err
}

// openSource returns nil for push-only input.
func openSource(cfg *config.Config) (frames.Source, error) {
	switch cfg.FrameSource {
	case config.FrameSourceDir:
		dir, err := frames.NewDirSource(cfg.FrameDir)
		if err != nil {
			return nil, err
		}
		slog.Info("replaying frames", "dir", cfg.FrameDir, "files", dir.Len(), "rate", cfg.FrameRate)
		return dir, nil
	case config.FrameSourceCommand:
		cmd, err := frames.NewCommandSource(cfg.FrameCommand)
		if err != nil {
			return nil, err
		}
		slog.Info("capturing frames", "rate", cfg.FrameRate)
		return cmd, nil
	}
	return nil, nil
}

// record keeps history and publishes each newly accepted text.
func record(ctx context.Context, events <-chan pipeline.Event, hist *history.Store, batcher *publish.Batcher, session string) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != pipeline.EventResultChanged || e.Result == nil {
				continue
			}
			if hist.Add(e.Result) && batcher != nil {
				batcher.Add(publish.Item{Session: session, Entry: history.NewEntry(e.Result)})
			}
		}
	}
}
