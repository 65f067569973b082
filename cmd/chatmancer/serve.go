package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chatmancer/chatmancer/internal/backend"
	"github.com/chatmancer/chatmancer/internal/config"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listen     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference chat backend",
		Long:  "Migrates the database and serves the chat API, under /api in development mode and at the root in production.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Backend.Listen = listen
			}
			return runServe(cmd, cfg)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "address to listen on (overrides backend.listen)")
	return cmd
}

// newBackend migrates the database and builds the server for cfg.
func newBackend(cmd *cobra.Command, cfg *config.Config) (*backend.Server, error) {
	gormDB, err := runMigrate(cmd.OutOrStdout(), cfg)
	if err != nil {
		return nil, err
	}
	b := cfg.Backend
	return backend.New(backend.Options{
		DB:        gormDB,
		UploadDir: b.UploadDir,
		MaxUpload: int64(b.MaxUpload),
		Prefix:    cfg.Server.RoutePrefix(),
		Images:    backend.PlaceholderImages{BaseURL: b.ImageBaseURL},
		Responder: backend.CannedResponder{},
		RPS:       b.Rate.RPS,
		Burst:     b.Rate.Burst,
	})
}

func runServe(cmd *cobra.Command, cfg *config.Config) error {
	srv, err := newBackend(cmd, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return backend.Start(ctx, backend.StartOpts{
		Server:        srv,
		Addr:          cfg.Backend.Listen,
		SweepSchedule: cfg.Backend.SweepSchedule,
		ContextTTL:    cfg.Backend.ContextTTL,
		Out:           cmd.OutOrStdout(),
	})
}
