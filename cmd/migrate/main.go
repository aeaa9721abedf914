package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dhawalhost/wardgate/migrations"
	"github.com/dhawalhost/wardgate/pkg/database"
	"github.com/dhawalhost/wardgate/pkg/logger"
)

func main() {
	dsn := os.Getenv("AUTHZ_DB_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("postgres://%s:%s@%s:5432/%s?sslmode=%s",
			envOr("DB_USER", "user"),
			envOr("DB_PASSWORD", "password"),
			envOr("DB_HOST", "localhost"),
			envOr("DB_NAME", "wardgate"),
			envOr("DB_SSLMODE", "disable"),
		)
	}

	zl, err := logger.New(envOr("AUTHZ_LOG_LEVEL", "info"), envOr("AUTHZ_LOG_FORMAT", "console"))
	if err != nil {
		log.Fatalln(err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.NewConnection(ctx, database.Config{DSN: dsn, MaxOpenConns: 2})
	if err != nil {
		log.Fatalln(err)
	}
	defer db.Close()

	applied, err := database.Migrate(ctx, db, migrations.FS, zl)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	if len(applied) == 0 {
		fmt.Println("Schema is up to date")
		return
	}
	fmt.Printf("Applied %d migrations\n", len(applied))
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
