package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mediaqueue/internal/infra/credentials"
)

// Operator tool to store the gateway API token in the database, so deployments
// can rotate it without restarting the services.
//
//	gatewaytoken -token <value>
//	gatewaytoken            (reads GATEWAY_API_TOKEN)
func main() {
	var (
		tokenFlag    string
		providerFlag string
	)
	flag.StringVar(&tokenFlag, "token", "", "API token for the provider (falls back to GATEWAY_API_TOKEN)")
	flag.StringVar(&providerFlag, "provider", "gateway", "provider name the token belongs to")
	flag.Parse()

	token := strings.TrimSpace(tokenFlag)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("GATEWAY_API_TOKEN"))
	}
	if token == "" {
		fmt.Fprintln(os.Stderr, "a token is required via -token or GATEWAY_API_TOKEN")
		os.Exit(1)
	}

	provider := strings.TrimSpace(strings.ToLower(providerFlag))
	if provider == "" {
		provider = "gateway"
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := credentials.NewStore(pool)
	if err := store.SetToken(ctx, provider, token); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("token stored for provider %s\n", provider)
}
