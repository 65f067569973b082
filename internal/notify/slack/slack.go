// Package slack forwards chat notifications to a Slack channel.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/chatmancer/chatmancer/internal/notify"
	slackapi "github.com/slack-go/slack"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Sink posts notifications as colored attachments.
type Sink struct {
	client    slackClient
	channelID string
}

// SinkOpts holds parameters for creating a Slack Sink.
type SinkOpts struct {
	BotToken  string // xoxb-... Slack bot token
	ChannelID string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Slack Sink.
func New(opts SinkOpts) (*Sink, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.BotToken)
	}
	return &Sink{client: client, channelID: opts.ChannelID}, nil
}

// Deliver posts n to the configured channel, retrying on rate limits.
func (s *Sink) Deliver(ctx context.Context, n notify.Notification) error {
	options := buildMessageOptions(n)
	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := s.client.PostMessageContext(ctx, s.channelID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

func buildMessageOptions(n notify.Notification) []slackapi.MsgOption {
	att := slackapi.Attachment{
		Title:    string(n.Severity),
		Text:     n.Message,
		Color:    n.Severity.Color(),
		Fallback: n.Message,
	}
	return []slackapi.MsgOption{
		slackapi.MsgOptionText(n.Message, false),
		slackapi.MsgOptionAttachments(att),
	}
}

// retryOnRateLimit retries fn when Slack returns a rate-limit error, waiting
// for the server-provided Retry-After or an exponential fallback.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
