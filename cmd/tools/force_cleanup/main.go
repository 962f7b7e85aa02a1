package main

import (
	"context"
	"flag"
	"log"
	"os"

	"condoscan/internal/repository"
)

// Flips every non-terminal scrape task to cancelled. Operator escape hatch
// for a wedged orchestrator or a dirty shutdown.
func main() {
	var listOnly bool
	flag.BoolVar(&listOnly, "list", false, "list non-terminal tasks without cancelling")
	flag.Parse()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	repo, err := repository.NewRepository(dbURL)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()

	if listOnly {
		tasks, err := repo.ListTasks(ctx, 30)
		if err != nil {
			log.Fatalf("list tasks: %v", err)
		}
		for _, t := range tasks {
			log.Printf("%s  %-10s  scrapers=%v areas=%v", t.TaskID, t.Status, t.Scrapers, t.AreaCodes)
		}
		return
	}

	ids, err := repo.ForceCleanupTasks(ctx)
	if err != nil {
		log.Fatalf("force cleanup: %v", err)
	}
	if len(ids) == 0 {
		log.Println("no non-terminal tasks")
		return
	}
	for _, id := range ids {
		log.Printf("cancelled %s", id)
	}
}
