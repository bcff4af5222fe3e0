// Package main запускает HTTP-сервер учёта кредитов на занятия.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/lesson-credits/internal/archive"
	"github.com/mmeshcher/lesson-credits/internal/config"
	"github.com/mmeshcher/lesson-credits/internal/handler"
	"github.com/mmeshcher/lesson-credits/internal/middleware"
	"github.com/mmeshcher/lesson-credits/internal/repository"
	"github.com/mmeshcher/lesson-credits/internal/service"
)

func openRepository(cfg *config.Config) (*repository.Repository, error) {
	if cfg.DatabaseURI != "" {
		return repository.NewPostgresRepository(cfg.DatabaseURI)
	}
	return repository.NewSQLiteRepository(cfg.SQLitePath)
}

func openArchive(cfg *config.Config) (archive.Store, error) {
	switch {
	case cfg.ArchiveURL != "":
		return archive.NewHTTPStore(cfg.ArchiveURL), nil
	case cfg.ArchiveDir != "":
		return archive.NewFileStore(cfg.ArchiveDir)
	default:
		return nil, nil
	}
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := openRepository(cfg)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	svc := service.NewService(repo,
		service.WithLogger(logger),
		service.WithAllowedValidity(cfg.AllowedValidityMonths...),
	)
	defer svc.Close()

	store, err := openArchive(cfg)
	if err != nil {
		sugar.Fatalw("archive initialization error", "error", err.Error())
	}

	var exporter handler.Exporter
	var worker *archive.Exporter
	if store != nil {
		worker = archive.NewExporter(svc, store, logger)
		exporter = worker
	} else {
		sugar.Info("ledger export is disabled: no archive configured")
	}

	if cfg.AdminToken == "" {
		sugar.Warn("admin token is empty: admin routes are closed")
	}

	h := handler.NewHandler(svc, exporter, logger, middleware.NewAdminMiddleware(cfg.AdminToken))

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Периодическая выгрузка журнала
	if worker != nil {
		g.Go(func() error {
			worker.Start(ctx, cfg.ExportInterval)
			return nil
		})
	}

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting lesson credits server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
