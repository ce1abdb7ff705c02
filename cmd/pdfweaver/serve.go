package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/local/pdfweaver/internal/config"
	"github.com/local/pdfweaver/internal/dispatcher"
	"github.com/local/pdfweaver/internal/fetch"
	"github.com/local/pdfweaver/internal/limiter"
	"github.com/local/pdfweaver/internal/metrics"
	"github.com/local/pdfweaver/internal/orchestrator"
	"github.com/local/pdfweaver/internal/pdfcheck"
	"github.com/local/pdfweaver/internal/queue"
	"github.com/local/pdfweaver/internal/statuscheck"
	"github.com/local/pdfweaver/internal/storage"
	"github.com/local/pdfweaver/internal/store"
	"github.com/local/pdfweaver/internal/weaver"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP merge service and its queue workers",
		Long: `serve accepts merge jobs over HTTP (multipart uploads or JSON lists of
local, file://, http(s):// and s3:// references), queues them on a Redis
stream and runs the merge workers in-process unless worker.enabled is false.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				a.cfg.HTTP.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a.cfg)
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides http.addr)")
	return cmd
}

// serve wires Redis, S3, the dispatcher and the HTTP routes and blocks until ctx ends.
func serve(ctx context.Context, cfg config.Config) error {
	metrics.Init()

	rc, err := queue.Connect(cfg.Queue.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	rq, err := queue.NewRedisQueue(rc, cfg.Queue.Stream, cfg.Queue.Group, cfg.Queue.PollInterval)
	if err != nil {
		_ = rc.Close()
		return fmt.Errorf("init queue: %w", err)
	}
	defer rq.Close()
	status := store.NewRedisStatus(rc, cfg.Worker.ResultTTL)

	downloads := filepath.Join(cfg.Worker.WorkDir, "downloads")
	for _, dir := range []string{cfg.Worker.WorkDir, downloads, cfg.HTTP.UploadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	fopts := fetch.Options{
		TempDir: downloads,
		Limiter: limiter.New(rc, limiter.Options{MaxInflight: cfg.Worker.FetchPerHost}),
	}
	hopts := statuscheck.Options{Redis: rq}
	var uploader dispatcher.Uploader
	if cfg.Storage.Bucket != "" {
		s3c, err := storage.NewS3Client(ctx, storage.Options{
			Bucket:          cfg.Storage.Bucket,
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("init s3: %w", err)
		}
		fopts.S3 = s3c
		hopts.S3 = s3c
		hopts.S3Bucket = s3c.Bucket()
		if cfg.Storage.Upload {
			uploader = s3c
		}
	}

	checker := pdfcheck.New()
	hopts.MuPDF = checker

	orch := orchestrator.New(orchestrator.Config{
		UploadDir:      cfg.HTTP.UploadDir,
		MaxUploadBytes: cfg.HTTP.MaxUploadMB << 20,
	}, orchestrator.Dependencies{
		Queue:   rq,
		Status:  status,
		Preview: checker,
		Health:  statuscheck.New(hopts),
	})
	mux := http.NewServeMux()
	orch.RegisterRoutes(mux)

	if cfg.Worker.Enabled {
		eng, err := weaver.New(weaver.Options{
			PageSize:       cfg.Merge.PageSize,
			ImageMargin:    cfg.Merge.ImageMargin,
			SkipUnreadable: cfg.Merge.SkipUnreadable,
		})
		if err != nil {
			return err
		}
		var verifier dispatcher.Verifier
		if cfg.Merge.Verify {
			verifier = checker
		}
		disp := dispatcher.New(dispatcher.Config{
			Concurrency:    cfg.Worker.Concurrency,
			WorkDir:        cfg.Worker.WorkDir,
			JobTimeout:     cfg.Worker.JobTimeout,
			MaxAttempts:    cfg.Worker.JobMaxAttempts,
			RetryBaseDelay: cfg.Worker.RetryBaseDelay,
			DoneTTL:        cfg.Worker.ResultTTL,
			S3Prefix:       cfg.Storage.Prefix,
		}, dispatcher.Dependencies{
			Queue:    rq,
			Status:   status,
			Engine:   eng,
			Fetcher:  fetch.New(fopts),
			Uploader: uploader,
			Verifier: verifier,
		})
		disp.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			if err := disp.Stop(stopCtx); err != nil {
				log.Warn().Err(err).Msg("dispatcher did not stop in time")
			}
		}()
		log.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("dispatcher started")
	}

	go sweepTemps(ctx, downloads, 30*time.Minute)

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	log.Info().Msg("shutdown complete")
	return nil
}

// sweepTemps removes stale download temp files until ctx ends.
func sweepTemps(ctx context.Context, dir string, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := fetch.CleanupTemps(dir, time.Hour); n > 0 {
				log.Info().Int("removed", n).Str("dir", dir).Msg("removed stale downloads")
			}
		}
	}
}
