package main

import (
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

func main() {
	conn := os.Getenv("DB_URL")
	if conn == "" {
		slog.Error("DB_URL env var is required")
		os.Exit(1)
	}

	db, err := sql.Open("pgx", conn)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	wd, err := os.Getwd()
	if err != nil {
		slog.Error("working directory", "error", err)
		os.Exit(1)
	}
	migrationsDir := filepath.Join(wd, "db", "migrations")

	slog.Info("applying migrations", "dir", migrationsDir)
	if err := goose.Up(db, migrationsDir); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}
	slog.Info("migrations applied")
}
