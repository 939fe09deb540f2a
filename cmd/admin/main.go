// Command admin exports a member's transaction log as CSV.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"alliance.ledger/internal/config"
	"alliance.ledger/internal/report"
)

func main() {
	cfg, err := config.LoadAdmin(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "admin: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Admin) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := report.New(db).WriteTransactions(ctx, os.Stdout, cfg.MemberID)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "exported %d transactions\n", n)
	return nil
}
