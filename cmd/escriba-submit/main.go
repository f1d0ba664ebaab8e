// Command escriba-submit is a one-shot client that creates a Transfer
// directly in the archival pipeline's database: it reads a newline
// separated list of URLs (from a file, or stdin) and inserts a Transfer
// plus a PENDING TransferJob row for escribad's control loops to pick
// up on their next poll.
//
// Usage:
//
//	escriba-submit --input urls.txt
//	cat urls.txt | escriba-submit
//
// Environment variables:
//
//	ESCRIBA_DB_URI      Store location (default: :memory:)
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"go.vereda.tec.br/escriba/internal/config"
	"go.vereda.tec.br/escriba/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	inputPath := flag.String("input", "", "Path to a file of newline-separated URLs (default: read from stdin)")
	dbDriver := flag.String("db-driver", "sqlite", "Database driver (sqlite or postgres)")
	flag.Parse()

	var (
		raw []byte
		err error
	)
	if *inputPath != "" {
		raw, err = os.ReadFile(*inputPath)
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("no input provided — pass --input or pipe URLs on stdin")
	}

	logger, _ := zap.NewDevelopment()

	database, err := store.New(store.Config{
		Driver:   *dbDriver,
		DSN:      config.DBURI(),
		Logger:   logger,
		LogLevel: gormlogger.Silent,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	transfers := store.NewTransferRepository(database)
	transferJobs := store.NewTransferJobRepository(database)

	ctx := context.Background()
	transfer, err := transfers.Create(ctx, string(raw))
	if err != nil {
		return fmt.Errorf("create transfer: %w", err)
	}

	job, err := transferJobs.Create(ctx, transfer.ID)
	if err != nil {
		return fmt.Errorf("create transfer job: %w", err)
	}

	fmt.Printf("Transfer created\n")
	fmt.Printf("  Transfer ID:     %s\n", transfer.ID)
	fmt.Printf("  Transfer Job ID: %s\n", job.ID)
	return nil
}
