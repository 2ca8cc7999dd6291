package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/manus-ai/secret-resolver/pkg/config"
	"github.com/manus-ai/secret-resolver/pkg/resolver_server"
	"github.com/manus-ai/secret-resolver/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference resolver server",
	Long:  "Serve the preimages from the configuration over the resolver protocol. For testing only.",
	RunE:  runServer,
}

// newPreimageTable keys the configured preimages by the configured algorithm.
func newPreimageTable(sc config.ServerConfig) (*resolver_server.PreimageTable, error) {
	algo, err := types.ParseHashAlgorithm(sc.HashAlgorithm)
	if err != nil {
		return nil, err
	}

	preimages := make([][]byte, 0, len(sc.Preimages))
	for _, p := range sc.Preimages {
		preimages = append(preimages, []byte(p))
	}
	return resolver_server.NewPreimageTable(algo, preimages...), nil
}

func runServer(cmd *cobra.Command, args []string) error {
	table, err := newPreimageTable(cfg.Server)
	if err != nil {
		return err
	}

	server := resolver_server.NewServer(&cfg.Server, table, newMetrics(), logger.Named("resolver_server"))

	logger.Info("Starting reference resolver server",
		zap.String("listen_address", cfg.Server.ListenAddress),
		zap.String("hash_algorithm", table.Algorithm().String()),
		zap.Int("preimages", table.Len()))

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.ListenAndServe()
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("resolver server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
		return err
	}

	logger.Info("Resolver server stopped successfully")
	return nil
}
