package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/chatmancer/chatmancer/internal/config"
)

func newContextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Inspect or clear the backend's context file",
	}

	cmd.AddCommand(newContextShowCmd())
	cmd.AddCommand(newContextClearCmd())
	return cmd
}

func newContextShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the active context file name",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			return runContextShow(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runContextShow(ctx context.Context, out io.Writer, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	name, err := client.ContextDocument(ctx)
	if err != nil {
		return fmt.Errorf("context show: %w", err)
	}
	if name == "" {
		fmt.Fprintln(out, "No context file loaded.")
		return nil
	}
	fmt.Fprintf(out, "Context file: %s\n", name)
	return nil
}

func newContextClearCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Ask the backend to forget the context file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			return runContextClear(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runContextClear(ctx context.Context, out io.Writer, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	msg, err := client.ClearContextDocument(ctx)
	if err != nil {
		return fmt.Errorf("context clear: %w", err)
	}
	if msg == "" {
		return fmt.Errorf("context clear: not acknowledged by the backend")
	}
	fmt.Fprintln(out, msg)
	return nil
}
