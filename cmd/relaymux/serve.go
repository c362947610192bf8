package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alfredjeanlab/relaymux/internal/config"
	"github.com/alfredjeanlab/relaymux/internal/events"
	"github.com/alfredjeanlab/relaymux/internal/flags"
	"github.com/alfredjeanlab/relaymux/internal/index"
	"github.com/alfredjeanlab/relaymux/internal/presence"
	"github.com/alfredjeanlab/relaymux/internal/pubsub"
	"github.com/alfredjeanlab/relaymux/internal/relay"
	"github.com/alfredjeanlab/relaymux/internal/server"
	"github.com/alfredjeanlab/relaymux/internal/store"
	"github.com/alfredjeanlab/relaymux/internal/store/postgres"
	relaysync "github.com/alfredjeanlab/relaymux/internal/sync"
	"github.com/alfredjeanlab/relaymux/internal/watermark"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the relaymux server",
	GroupID: "system",
	// Override PersistentPreRunE so we don't create a client connection.
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Runtime flags.
		initial := flags.Defaults()
		if cfg.FlagsFile != "" {
			f, err := flags.LoadFile(cfg.FlagsFile)
			switch {
			case err == nil:
				initial = f
			case errors.Is(err, os.ErrNotExist):
				logger.Info("flags file not found, using defaults", "path", cfg.FlagsFile)
			default:
				return err
			}
		}
		cell := flags.NewCell(initial)
		cell.OnChange(func(f flags.Flags) {
			logger.Info("flags updated",
				"logging", f.LoggingEnabled,
				"specialized_subset", f.UseSpecializedRelaySubset,
				"external_pool", f.UseExternalPool)
		})

		// Persistent tier and watermark storage.
		var (
			pg      *postgres.PostgresStore
			scanner *store.Scanner
			wmStore watermark.Store
		)
		if cfg.DatabaseURL != "" {
			pg, err = postgres.New(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			scanner = store.NewScanner(pg, store.ScannerConfig{Logger: logger})
			wmStore = watermark.NewKVStore(pg)
			logger.Info("persistent tier enabled")
		} else {
			path := cfg.StateFile
			if path == "" {
				if path, err = watermark.DefaultStatePath(); err != nil {
					return fmt.Errorf("resolving state file: %w", err)
				}
			}
			wmStore = watermark.NewFileStore(path)
			logger.Info("persistent tier disabled (RELAYMUX_DATABASE_URL not set)", "state_file", path)
		}
		wm := watermark.Open(ctx, wmStore, time.Now, logger)

		// Relays.
		tracker := presence.New(logger)
		tracker.StartReaper(&presence.ReaperConfig{
			OnDead: func(r string) { logger.Warn("relay idle, marked dead", "relay", r) },
		})
		transport := relay.New(relay.Config{
			Relays:        cfg.Relays,
			SubjectPrefix: cfg.RelaySubject,
			Presence:      tracker,
			Logger:        logger,
		})

		idx := index.NewMemory(cfg.IndexCapacity)
		coordCfg := pubsub.Config{
			Index:             idx,
			Transport:         transport,
			Watermark:         wm,
			Flags:             cell,
			SpecializedRelays: cfg.SpecializedRelays,
			MaxSubscriptions:  cfg.MaxSubscriptions,
			Logger:            logger,
		}
		if scanner != nil {
			coordCfg.Store = scanner
			coordCfg.Recorder = scanner
		}
		coord := pubsub.New(coordCfg)
		if scanner != nil {
			scanner.Start(ctx, coord.Replay())
		}

		// Flag bus.
		var (
			flagSub *events.NATSSubscriber
			flagPub events.Publisher = &events.NoopPublisher{}
		)
		if cfg.NATSURL != "" {
			if pub, err := events.NewNATSPublisher(cfg.NATSURL, events.DefaultOptions()...); err != nil {
				logger.Error("failed to create flag publisher", "err", err)
			} else {
				flagPub = pub
			}
			flagSub, err = events.NewNATSSubscriber(cfg.NATSURL)
			if err != nil {
				logger.Error("failed to connect flag bus", "err", err)
			} else {
				go func() {
					if err := flags.Watch(ctx, cell, flagSub, events.SubjectFlags, logger); err != nil {
						logger.Error("flag bus error", "err", err)
					}
				}()
				logger.Info("flag bus enabled", "nats_url", cfg.NATSURL, "subject", events.SubjectFlags)
			}
		}

		srvCfg := server.Config{
			Coordinator:        coord,
			Index:              idx,
			Broadcaster:        transport,
			Presence:           tracker,
			Watermark:          wm,
			FlagsFile:          cfg.FlagsFile,
			Bus:                flagPub,
			RejectEmptyFilters: cfg.RejectEmptyFilters,
			Logger:             logger,
		}
		if pg != nil {
			srvCfg.Store = pg
		}
		relayServer := server.New(srvCfg)

		// Export schedule.
		var scheduler *relaysync.Scheduler
		if cfg.SyncEnabled() {
			var dests []relaysync.Destination
			if cfg.SyncS3Bucket != "" {
				s3Dest, err := relaysync.NewS3Destination(ctx, cfg.SyncS3Bucket, cfg.SyncS3Key, cfg.SyncS3Region, cfg.SyncS3Endpoint)
				if err != nil {
					logger.Error("failed to create S3 sync destination", "err", err)
				} else {
					dests = append(dests, s3Dest)
					logger.Info("sync S3 destination enabled", "bucket", cfg.SyncS3Bucket, "key", cfg.SyncS3Key)
				}
			}
			if cfg.SyncGitRepo != "" {
				gitDest := relaysync.NewGitDestination(cfg.SyncGitRepo, cfg.SyncGitFile, cfg.SyncGitBranch)
				if !cfg.SyncGitPush {
					gitDest = gitDest.LocalOnly()
				}
				dests = append(dests, gitDest)
				logger.Info("sync git destination enabled", "repo", cfg.SyncGitRepo, "file", cfg.SyncGitFile)
			}
			if len(dests) > 0 {
				scheduler = relaysync.NewScheduler(pg, dests, cfg.SyncInterval, logger)
				scheduler.Start()
				logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
			}
		}

		// Listeners.
		grpcServer := server.NewGRPCServer(relayServer, cfg.AuthToken)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		baseCtx, cancelBase := context.WithCancel(context.Background())
		defer cancelBase()
		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           relayServer.NewHTTPHandler(cfg.AuthToken),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return baseCtx },
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		logger.Info("relaymux server started",
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
			"relays", cfg.Relays,
			"last_opened", wm.Watermark(),
			"auth", cfg.AuthToken != "",
		)

		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Open SSE streams only end when their request context does.
		cancelBase()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		// Subscribe streams outlive GracefulStop; cut them off after the grace period.
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		logger.Info("gRPC server stopped")

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("sync scheduler stopped")
		}
		if flagSub != nil {
			flagSub.Close()
		}
		if err := flagPub.Close(); err != nil {
			logger.Error("error closing flag publisher", "err", err)
		}
		if err := transport.Close(); err != nil {
			logger.Error("error closing relay transport", "err", err)
		}
		tracker.Stop()
		if scanner != nil {
			scanner.Stop()
		}
		if pg != nil {
			if err := pg.Close(); err != nil {
				logger.Error("error closing store", "err", err)
			}
		}

		logger.Info("shutdown complete")
		return nil
	},
}
