// Command migrate applies, rolls back, and seeds the ledger schema.
//
// Usage:
//
//	migrate [-dsn ...] [-timeout 30s] up|down|seed|status
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"unitask.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("UNITASK_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "ops/migrations/sql", "Path to SQL migrations")
		seedsPath      = flag.String("seeds", "ops/migrations/seeds", "Path to SQL seeds")
		timeout        = flag.Duration("timeout", 30*time.Second, "Overall deadline")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or UNITASK_PG_DSN")
	}
	command := flag.Arg(0)
	if command == "" {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	runner := migrate.NewFromDirs(db, *migrationsPath, *seedsPath)

	if err := run(ctx, runner, command); err != nil {
		log.Fatalf("migrate %s: %v", command, err)
	}
}

func run(ctx context.Context, runner *migrate.Runner, command string) error {
	switch command {
	case "up":
		return runner.Up(ctx)
	case "down":
		return runner.Down(ctx)
	case "seed":
		return runner.Seed(ctx)
	case "status":
		applied, err := runner.Applied(ctx)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Println("no migrations applied")
			return nil
		}
		for _, name := range applied {
			fmt.Println(name)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
