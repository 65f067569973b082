package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/chatmancer/chatmancer/internal/config"
	"github.com/chatmancer/chatmancer/internal/conversation"
	"github.com/chatmancer/chatmancer/internal/notify"
	"github.com/chatmancer/chatmancer/internal/notify/discord"
	"github.com/chatmancer/chatmancer/internal/notify/slack"
	"github.com/chatmancer/chatmancer/internal/transport"
)

const defaultConfigPath = "chatmancer.yaml"

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", defaultConfigPath, "path to Chatmancer config file")
}

// loadConfig reads the config file. When the flag was left at its default
// and the file does not exist, built-in defaults are used.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := config.LoadEnv(".env"); err != nil {
				return nil, err
			}
			return config.Default(), nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newClient builds the backend client for cfg.
func newClient(cfg *config.Config) (*transport.Client, error) {
	return transport.New(transport.Options{
		BaseURL: cfg.Server.Endpoint(),
		Timeout: cfg.Server.Timeout,
	})
}

// newNotifier prints notifications to out and forwards them to any
// configured chat platforms. The returned func flushes the platform sinks.
func newNotifier(cfg *config.Config, out io.Writer) (notify.Notifier, func(), error) {
	sinks := notify.Multi{notify.NewWriter(out)}
	var closers []*notify.Async

	if cfg.Notify.Slack.Enabled() {
		s, err := slack.New(slack.SinkOpts{
			BotToken:  cfg.Notify.Slack.BotToken,
			ChannelID: cfg.Notify.Slack.ChannelID,
		})
		if err != nil {
			return nil, nil, err
		}
		a := notify.NewAsync("slack", s, 0)
		sinks = append(sinks, a)
		closers = append(closers, a)
	}
	if cfg.Notify.Discord.Enabled() {
		s, err := discord.New(discord.SinkOpts{
			BotToken:  cfg.Notify.Discord.BotToken,
			ChannelID: cfg.Notify.Discord.ChannelID,
		})
		if err != nil {
			for _, c := range closers {
				c.Close()
			}
			return nil, nil, err
		}
		a := notify.NewAsync("discord", s, 0)
		sinks = append(sinks, a)
		closers = append(closers, a)
	}
	if cfg.Notify.Command != "" {
		a := notify.NewAsync("command", notify.Command{Template: cfg.Notify.Command}, 0)
		sinks = append(sinks, a)
		closers = append(closers, a)
	}

	return sinks, func() {
		for _, c := range closers {
			c.Close()
		}
	}, nil
}

// newController wires a conversation controller to the backend.
func newController(cfg *config.Config, t conversation.Transport, n notify.Notifier) (*conversation.Controller, error) {
	return conversation.NewController(conversation.Options{
		Transport:   t,
		Notifier:    n,
		DraftPolicy: conversation.DraftPolicy(cfg.Client.DraftPolicy),
		Attachments: conversation.AttachmentRules{
			MaxBytes:   int64(cfg.Client.MaxAttachment),
			Extensions: cfg.Client.Extensions,
		},
	})
}
