package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Command runs a shell command for every notification, e.g. a desktop
// notifier:
//
//	notify-send Chatmancer {{.Message}} --urgency={{.Urgency}}
//
// Placeholders are replaced with shell-quoted values.
type Command struct {
	Template string
}

// Deliver runs the rendered command with sh -c.
func (c Command) Deliver(ctx context.Context, n Notification) error {
	if c.Template == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", c.render(n))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notify: command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// render replaces placeholders in the template with quoted notification
// values.
func (c Command) render(n Notification) string {
	r := strings.NewReplacer(
		"{{.Message}}", shellQuote(n.Message),
		"{{.Severity}}", shellQuote(string(n.Severity)),
		"{{.Urgency}}", shellQuote(urgency(n.Severity)),
	)
	return r.Replace(c.Template)
}

// urgency maps a severity onto the freedesktop urgency levels.
func urgency(s Severity) string {
	if s == SeverityError {
		return "critical"
	}
	return "normal"
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
