// Package main запускает HTTP-сервер сервиса dime.
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

	"github.com/notcolumbus/dime/internal/analytics"
	"github.com/notcolumbus/dime/internal/categorizer"
	"github.com/notcolumbus/dime/internal/config"
	"github.com/notcolumbus/dime/internal/handler"
	"github.com/notcolumbus/dime/internal/points"
	"github.com/notcolumbus/dime/internal/repository"
	"github.com/notcolumbus/dime/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	// Хранилище опционально: без DATABASE_URI сервис отвечает sample-данными
	// в аналитике и ошибкой в мутациях.
	var serviceRepo service.Repository
	var analyticsRepo analytics.Repository
	if cfg.DatabaseURI != "" {
		repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		serviceRepo = repo
		analyticsRepo = repo
	} else {
		sugar.Warn("database uri is empty, running without store")
	}

	var classifier categorizer.Classifier
	if cfg.ClassifierAddress != "" {
		classifier = categorizer.NewClient(cfg.ClassifierAddress)
	}

	assigner := categorizer.NewAssigner(classifier, logger)
	calculator := points.NewCalculator(points.DefaultBenefits())

	svc := service.NewService(serviceRepo, assigner, calculator, logger, cfg.EnrichWorkers)
	defer svc.Close()

	aggregator := analytics.NewAggregator(analyticsRepo, logger)

	h := handler.NewHandler(svc, aggregator, logger)
	r := handler.NewRouter(h, logger)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting dime server", "addr", cfg.RunAddress)
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
