package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/chatmancer/chatmancer/internal/config"
	"github.com/chatmancer/chatmancer/internal/conversation"
	"github.com/chatmancer/chatmancer/internal/render"
)

func newHistoryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the conversation held by the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			return runHistory(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runHistory(ctx context.Context, out io.Writer, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	turns, err := client.History(ctx)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if len(turns) == 0 {
		fmt.Fprintln(out, "No messages yet.")
		return nil
	}
	return render.ForTerminal(out).Messages(conversation.MessagesFromTurns(turns))
}
