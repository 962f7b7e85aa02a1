package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"condoscan/internal/pricechange"
	"condoscan/internal/repository"
)

// Re-derives the canonical price-change rows from listing price history,
// for one property or the whole catalog. Safe to run at any time: the
// derivation is a pure function of the stored observations.
func main() {
	var (
		propertyID int64
		dryRun     bool
	)
	flag.Int64Var(&propertyID, "property", 0, "recompute a single master property (0 = all)")
	flag.BoolVar(&dryRun, "dry-run", false, "list the affected property ids without writing")
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
	calc := pricechange.NewCalculator(repo)

	var ids []int64
	if propertyID > 0 {
		ids = []int64{propertyID}
	} else {
		ids, err = repo.AllPropertyIDs(ctx)
		if err != nil {
			log.Fatalf("list properties: %v", err)
		}
	}

	log.Printf("recomputing price changes for %d propert(ies)", len(ids))
	if dryRun {
		for _, id := range ids {
			log.Printf("would recompute property %d", id)
		}
		return
	}

	start := time.Now()
	var failed int
	for i, id := range ids {
		if err := calc.Recompute(ctx, id); err != nil {
			failed++
			log.Printf("property %d: %v", id, err)
		}
		if (i+1)%500 == 0 {
			log.Printf("progress: %d/%d", i+1, len(ids))
		}
	}
	log.Printf("done: %d ok, %d failed in %s", len(ids)-failed, failed, time.Since(start).Round(time.Second))
}
