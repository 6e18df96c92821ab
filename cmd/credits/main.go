package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mediaqueue/internal/adapter/repo"
	"mediaqueue/internal/domain"
)

// Operator tool to grant credits and inspect balances.
//
//	credits -owner <uuid> -grant 500
//	credits -owner <uuid> -show
func main() {
	var (
		ownerFlag string
		grantFlag int
		showFlag  bool
	)
	flag.StringVar(&ownerFlag, "owner", "", "owner ID (UUID)")
	flag.IntVar(&grantFlag, "grant", 0, "credits to add to the owner's balance")
	flag.BoolVar(&showFlag, "show", false, "print the owner's balance")
	flag.Parse()

	ownerID := strings.TrimSpace(ownerFlag)
	if ownerID == "" {
		exitWithError(errors.New("-owner is required"))
	}
	if grantFlag <= 0 && !showFlag {
		exitWithError(errors.New("either -grant or -show must be provided"))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	ledger := repo.NewCreditLedger(pool)

	if grantFlag > 0 {
		if err := ledger.Grant(ctx, ownerID, grantFlag); err != nil {
			exitWithError(fmt.Errorf("grant credits: %w", err))
		}
		fmt.Printf("granted %d credits to %s\n", grantFlag, ownerID)
	}

	account, err := ledger.Account(ctx, ownerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			fmt.Printf("owner %s has no credit account\n", ownerID)
			return
		}
		exitWithError(fmt.Errorf("load account: %w", err))
	}
	fmt.Printf("owner %s: balance=%d reserved=%d\n", account.OwnerID, account.Balance, account.Reserved)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
