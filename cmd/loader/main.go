package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/akosyrev/chronicle/internal/config"
	"github.com/akosyrev/chronicle/internal/db"
	"github.com/akosyrev/chronicle/internal/ingestion"
	"github.com/akosyrev/chronicle/internal/repository/postgres"
	"github.com/akosyrev/chronicle/internal/versioning"
)

func main() {
	var (
		configPath string
		kindCode   string
		actor      string
		changeAt   string
	)

	rootCmd := &cobra.Command{
		Use:   "loader <file>",
		Short: "Load entities from a CSV, JSON or XLSX file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd.Context(), configPath, args[0], kindCode, actor, changeAt)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", ".", "directory containing config.yaml")
	rootCmd.Flags().StringVar(&kindCode, "kind", "", "entity kind for rows without a kind column")
	rootCmd.Flags().StringVar(&actor, "actor", "", "actor recorded on audit entries (default batch_loader)")
	rootCmd.Flags().StringVar(&changeAt, "change-timestamp", "", "business timestamp for the load (RFC 3339, default now)")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func runLoad(ctx context.Context, configPath, path, kindCode, actor, changeAt string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := db.Migrate(cfg.Database); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	engine := versioning.NewEngine(postgres.NewUnitOfWork(conn))
	service := ingestion.NewService(engine, cfg.Ingestion.DefaultKind)

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	req := ingestion.Request{
		FileName: path,
		KindCode: kindCode,
		Actor:    actor,
		Data:     file,
	}
	if changeAt != "" {
		at, err := time.Parse(time.RFC3339, changeAt)
		if err != nil {
			return fmt.Errorf("invalid change timestamp %q: %w", changeAt, err)
		}
		req.ChangeAt = &at
	}

	summary, err := service.Load(ctx, req)
	if err != nil {
		return err
	}

	log.Printf("loaded %d of %d rows (%d failed)", summary.Loaded, summary.TotalRows, summary.Failed)
	for _, rowErr := range summary.Errors {
		log.Printf("  row %d: %s", rowErr.RowNumber, rowErr.Message)
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d rows failed", summary.Failed)
	}
	return nil
}
