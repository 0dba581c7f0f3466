package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/closeness/sweeper/internal/config"
	"github.com/closeness/sweeper/internal/db"
	"github.com/closeness/sweeper/internal/models"
	"github.com/closeness/sweeper/pkg/worm"
)

func main() {
	dbURL := flag.String("db", os.Getenv("SWEEPER_DATABASE_DSN"), "Postgres connection string")
	flag.Parse()

	if *dbURL == "" {
		flag.Usage()
		os.Exit(2)
	}
	os.Exit(verify(context.Background(), *dbURL))
}

// verify walks the chain and returns the process exit code.
func verify(ctx context.Context, dsn string) int {
	database, err := db.Connect(ctx, config.DatabaseConfig{DSN: dsn, MaxOpenConns: 2})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer database.Close()

	fmt.Println("Starting verification of cleanup run chain...")

	v := worm.NewVerifier()
	var (
		last           *models.CycleRun
		deleted, fails int
	)
	err = database.Runs.WalkChain(ctx, func(run *models.CycleRun) error {
		// The stored digest must match the stored columns before the link is trusted.
		if digest := db.Digest(run); digest != run.OutcomeDigest {
			return fmt.Errorf("run %s (seq %d): outcome digest mismatch: stored %s, computed %s",
				run.ID, run.Seq, run.OutcomeDigest, digest)
		}
		if err := v.Next(worm.Link{RunID: run.ID.String(), Digest: run.OutcomeDigest, ChainHash: run.ChainHash}); err != nil {
			return err
		}
		last = run
		deleted += len(run.DeletedIDs)
		fails += len(run.FailedIDs)
		if v.Count()%1000 == 0 {
			fmt.Printf("Verified %d runs...\r", v.Count())
		}
		return nil
	})

	var brk *worm.BreakError
	switch {
	case errors.As(err, &brk):
		fmt.Printf("BROKEN CHAIN at link %d (run %s)\n", brk.Index, brk.RunID)
		fmt.Printf("   Expected: %s\n", brk.Expected)
		fmt.Printf("   Stored:   %s\n", brk.Stored)
		return 1
	case err != nil:
		fmt.Printf("Verification failed: %v\n", err)
		return 1
	}

	fmt.Printf("\nVerification Complete. Chain is INTACT.\n")
	fmt.Printf("   Total Runs:    %d\n", v.Count())
	fmt.Printf("   Deleted IDs:   %d\n", deleted)
	fmt.Printf("   Failed IDs:    %d\n", fails)
	if last != nil {
		fmt.Printf("   Last Run:      %s (%s)\n", last.ID, last.FinishedAt)
	}
	fmt.Printf("   Final Hash:    %s\n", v.Head())
	return 0
}
