// Package main запускает разовый прогон массового обогащения транзакций
// без HTTP-сервера: категоризация, расчёт баллов, сводка в stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/notcolumbus/dime/internal/categorizer"
	"github.com/notcolumbus/dime/internal/config"
	"github.com/notcolumbus/dime/internal/points"
	"github.com/notcolumbus/dime/internal/repository"
	"github.com/notcolumbus/dime/internal/service"
)

func main() {
	var (
		userID         string
		fixMethods     bool
		recalcExisting bool
	)
	flag.StringVar(&userID, "user", "", "limit the run to one user")
	flag.BoolVar(&fixMethods, "fix-methods", false, "backfill empty payment_method values before the run")
	flag.BoolVar(&recalcExisting, "recalculate", false, "recalculate points for already categorized transactions")

	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	if cfg.DatabaseURI == "" {
		sugar.Fatal("DATABASE_URI is required for the backfill run")
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var classifier categorizer.Classifier
	if cfg.ClassifierAddress != "" {
		classifier = categorizer.NewClient(cfg.ClassifierAddress)
	}

	assigner := categorizer.NewAssigner(classifier, logger)
	calculator := points.NewCalculator(points.DefaultBenefits())

	svc := service.NewService(repo, assigner, calculator, logger, cfg.EnrichWorkers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if fixMethods {
		updated, err := svc.BackfillPaymentMethods(ctx)
		if err != nil {
			sugar.Fatalw("backfill payment methods error", "error", err.Error())
		}
		fmt.Printf("payment methods backfilled: %d\n", updated)
	}

	var scope *string
	if userID != "" {
		scope = &userID
	}

	summary, err := svc.ProcessAllUncategorized(ctx, scope)
	if err != nil {
		sugar.Fatalw("enrichment run error", "error", err.Error())
	}

	fmt.Printf("run %s\n", summary.RunID)
	fmt.Printf("  transactions found: %d\n", summary.TransactionsFound)
	fmt.Printf("  categorized:        %d\n", summary.Categorized)
	fmt.Printf("  points calculated:  %d\n", summary.PointsCalculated)
	if failed := summary.Failed(); failed > 0 {
		fmt.Printf("  failed:             %d\n", failed)
	}

	if recalcExisting {
		updated, err := svc.RecalculateAllPoints(ctx)
		if err != nil {
			sugar.Fatalw("recalculate points error", "error", err.Error())
		}
		fmt.Printf("points recalculated: %d\n", updated)
	}
}
