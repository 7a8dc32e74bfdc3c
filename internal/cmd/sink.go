package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/masahif/oppcrawl/internal/sink"
	"github.com/masahif/oppcrawl/internal/storage"
)

const (
	defaultSinkDatabase = "sink.db"
	shutdownTimeout     = 10 * time.Second
)

func newSinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sink",
		Short: "Run the reference webhook sink",
		Long: `Run an HTTP server implementing the delivery contract. Batches posted to
/webhook are upserted by (tenant, natural id) into SQLite and can be listed
with GET /records?tenant=<id>.`,
		Args: cobra.NoArgs,
		RunE: runSink,
	}
	cmd.Flags().String("addr", ":8088", "Listen address")
	cmd.Flags().String("token", "", "Bearer token required on /webhook (default from the sink token env)")
	cmd.Flags().Bool("debug", false, "Enable gin debug mode")
	return cmd
}

func runSink(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	closer, err := setupLogging(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() { _ = closer.Close() }()

	addr, _ := cmd.Flags().GetString("addr")
	token, _ := cmd.Flags().GetString("token")
	debug, _ := cmd.Flags().GetBool("debug")
	if token == "" {
		token = cfg.GetSinkToken()
	}

	dbPath := cfg.State.DatabasePath
	if dbPath == "" {
		dbPath = defaultSinkDatabase
	}
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open sink database: %w", err)
	}
	defer func() { _ = store.Close() }()

	if token == "" {
		slog.Warn("Sink accepts unauthenticated deliveries")
	}
	server := sink.NewServer(sink.Config{Addr: addr, Token: token, Debug: debug}, store)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down sink server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("sink shutdown: %w", err)
	}
	return <-errCh
}
