package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/delmenhorst/Buchhaltung/constants"
	"github.com/delmenhorst/Buchhaltung/internal/common"
	"github.com/delmenhorst/Buchhaltung/internal/entity"
	repo "github.com/delmenhorst/Buchhaltung/internal/repository"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file (optional)")
	listReview := flag.Bool("review", false, "list documents waiting for manual review")
	flag.Parse()

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log, err := common.NewLogger("warn", "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store, err := repo.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatalf("opening DB: %v", err)
	}
	defer store.Close()

	if err := store.HealthCheck(ctx, time.Second); err != nil {
		log.Fatalf("DB health: FAIL (%v)", err)
	}
	fmt.Printf("DB health: OK (%s)\n", store.Dialect())

	businesses, err := repo.NewBusinessRepository(store, log).List(ctx)
	if err != nil {
		log.Fatalf("listing businesses: %v", err)
	}
	docs := repo.NewDocumentRepository(store, log)

	fmt.Printf("businesses: %d\n", len(businesses))
	for _, b := range businesses {
		counts, err := docs.CountByStatus(ctx, b.ID)
		if err != nil {
			log.Fatalf("counting documents of %s: %v", b.Name, err)
		}
		fmt.Printf("- [%d] %s (%s)", b.ID, b.Name, b.Prefix)
		for _, s := range constants.AllStatuses {
			fmt.Printf("  %s=%d", s, counts[s])
		}
		fmt.Println()

		if !*listReview {
			continue
		}
		pending, err := docs.List(ctx, entity.NeedsReviewFilter(b.ID))
		if err != nil {
			log.Fatalf("listing review queue of %s: %v", b.Name, err)
		}
		for _, d := range pending {
			fmt.Printf("    #%d %s\n", d.ID, d.Path)
		}
	}
}
