package backend

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ImageGenerator turns a description into a hosted image URL.
type ImageGenerator interface {
	Generate(ctx context.Context, description string) (string, error)
}

// Responder answers free-form questions during the chat step. doc is the
// active context document name, or "".
type Responder interface {
	Respond(ctx context.Context, question, doc string) (string, error)
}

// PlaceholderImages returns a unique URL under BaseURL for every request.
// It stands in for a real text-to-image model.
type PlaceholderImages struct {
	BaseURL string
}

// Generate returns BaseURL/<uuid>.png?prompt=<description>.
func (p PlaceholderImages) Generate(ctx context.Context, description string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	base := strings.TrimRight(p.BaseURL, "/")
	return fmt.Sprintf("%s/%s.png?prompt=%s", base, uuid.NewString(), url.QueryEscape(description)), nil
}

// CannedResponder acknowledges the question without a language model.
type CannedResponder struct{}

// Respond returns a fixed acknowledgement that mentions the document.
func (CannedResponder) Respond(ctx context.Context, question, doc string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if doc != "" {
		return fmt.Sprintf("Thanks for your question about %s. No language model is configured, so I can't answer %q yet.", doc, question), nil
	}
	return fmt.Sprintf("Thanks for your question. No language model is configured, so I can't answer %q yet.", question), nil
}
