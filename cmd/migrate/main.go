package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"cloud.google.com/go/bigquery"

	bq "github.com/dvloznov/finance-agent/internal/infra/bigquery"
	"github.com/dvloznov/finance-agent/internal/logger"
)

var (
	projectID     = flag.String("project", os.Getenv("BQ_PROJECT"), "GCP project ID (required)")
	datasetID     = flag.String("dataset", envOr("BQ_DATASET", "finance"), "BigQuery dataset ID")
	appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	migrationsDir = flag.String("migrations", "", "Directory of migration files (defaults to the embedded set)")
)

func main() {
	flag.Parse()
	log := logger.New()

	if *projectID == "" {
		log.Fatal().Msg("-project flag or BQ_PROJECT is required")
	}

	ctx := context.Background()
	client, err := bigquery.NewClient(ctx, *projectID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create BigQuery client")
	}
	defer client.Close()

	source, err := migrationSource(*migrationsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open migrations")
	}

	log.Info().Str("project", *projectID).Str("dataset", *datasetID).Msg("connected to BigQuery")

	migrator := bq.NewMigrator(client, *projectID, *datasetID, *appliedBy, log)
	applied, err := migrator.Up(ctx, source)
	if err != nil {
		log.Fatal().Err(err).Int("applied", applied).Msg("migration failed")
	}

	if applied == 0 {
		log.Info().Msg("no new migrations to apply, database is up to date")
		return
	}
	log.Info().Int("applied", applied).Msg("migrations applied")
}

// migrationSource returns the embedded migrations unless dir is set.
func migrationSource(dir string) (fs.FS, error) {
	if dir == "" {
		return bq.Migrations(), nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("migrations directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("migrations path %s is not a directory", dir)
	}
	return os.DirFS(dir), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
