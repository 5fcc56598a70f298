package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"triplab/pkg/database"
)

const usage = "Usage: go run ./cmd/migrate [up|drop|reset|status]"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}
	command := os.Args[1]

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	switch command {
	case "up":
		if err := run(ctx, conn, database.SchemaStatements); err != nil {
			log.Fatalf("Failed to create tables: %v", err)
		}
		fmt.Println("✅ documents table ready")

	case "drop":
		if err := run(ctx, conn, database.DropStatements); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		fmt.Println("✅ documents table dropped")

	case "reset":
		if err := run(ctx, conn, append(append([]string{}, database.DropStatements...), database.SchemaStatements...)); err != nil {
			log.Fatalf("Failed to reset tables: %v", err)
		}
		fmt.Println("✅ documents table recreated")

	case "status":
		if err := status(ctx, conn); err != nil {
			log.Fatalf("Failed to read status: %v", err)
		}

	default:
		fmt.Printf("Unknown command: %s\n", command)
		fmt.Println(usage)
		os.Exit(1)
	}
}

func run(ctx context.Context, conn *pgx.Conn, statements []string) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func status(ctx context.Context, conn *pgx.Conn) error {
	var trips, codes int
	err := conn.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE root LIKE 'trips/%'),
			COUNT(*) FILTER (WHERE root LIKE 'codes/%')
		FROM documents`).Scan(&trips, &codes)
	if err != nil {
		return err
	}
	fmt.Printf("trips: %d\ncodes: %d\n", trips, codes)
	return nil
}
