package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatmancer/chatmancer/internal/config"
	"github.com/chatmancer/chatmancer/internal/conversation"
	"github.com/chatmancer/chatmancer/internal/gate"
	"github.com/chatmancer/chatmancer/internal/notify"
	"github.com/chatmancer/chatmancer/internal/render"
)

// Local commands. Everything else, including the backend's own slash
// commands, is sent as a question.
const (
	cmdQuit         = "/quit"
	cmdExit         = "/exit"
	cmdHelp         = "/help"
	cmdAttach       = "/attach"
	cmdDetach       = "/detach"
	cmdClearContext = "/clear-context"
)

const chatHelp = `Commands:
  /attach <path>   stage a file for the next message
  /detach          drop the staged file
  /clear-context   ask the backend to forget the context file
  /help            show this help
  /quit            leave the chat
Anything else is sent to ChatBot. Start with /introduction.
`

// typingDelay is how long a send may run before the typing status is shown.
const typingDelay = 300 * time.Millisecond

func newChatCmd() *cobra.Command {
	var (
		configPath string
		name       string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long:  "Registers your name with the backend, loads the conversation and reads messages from the terminal.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			if !verbose {
				log.SetOutput(io.Discard)
				defer log.SetOutput(os.Stderr)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), cfg, name)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&name, "name", "n", "", "participant name (prompted when empty)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "write diagnostic logs to stderr")
	return cmd
}

// lockedWriter serializes writes from the prompt loop and from
// notifications raised while a send is in flight.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func runChat(ctx context.Context, in io.Reader, out io.Writer, cfg *config.Config, name string) error {
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	links := render.IsTerminal(out)
	out = &lockedWriter{w: out}
	r := render.New(out, render.Options{Hyperlinks: links})

	notifier, flush, err := newNotifier(cfg, out)
	if err != nil {
		return err
	}
	defer flush()

	lines := bufio.NewScanner(in)
	g := gate.New(client)
	if err := admit(ctx, g, lines, out, name); err != nil {
		return err
	}

	ctrl, err := newController(cfg, client, notifier)
	if err != nil {
		return err
	}
	// Load failures are notified by the controller and leave an empty log.
	_ = ctrl.Load(ctx)

	fmt.Fprintf(out, "Welcome, %s. Type %s for commands.\n\n", g.Name(), cmdHelp)
	if err := r.Messages(ctrl.Messages()); err != nil {
		return err
	}

	for {
		if status := render.Status(ctrl.Snapshot()); status != "" {
			fmt.Fprintln(out, status)
		}
		fmt.Fprint(out, "> ")
		if !lines.Scan() {
			fmt.Fprintln(out)
			break
		}
		quit, err := handleLine(ctx, ctrl, r, notifier, out, lines.Text())
		if err != nil {
			return err
		}
		if quit || ctx.Err() != nil {
			break
		}
	}
	return lines.Err()
}

// admit asks for a name until the backend accepts one. A name given on the
// command line is tried first.
func admit(ctx context.Context, g *gate.Gate, lines *bufio.Scanner, out io.Writer, name string) error {
	for {
		if name == "" {
			fmt.Fprint(out, "Type your name: ")
			if !lines.Scan() {
				fmt.Fprintln(out)
				if err := lines.Err(); err != nil {
					return err
				}
				return errors.New("chat: no name entered")
			}
			name = lines.Text()
		}

		err := g.Admit(ctx, name)
		if err == nil {
			return nil
		}
		var denied *gate.DeniedError
		if !errors.As(err, &denied) {
			return err
		}
		fmt.Fprintln(out, denied.Reason)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name = ""
	}
}

// handleLine runs one line of input and reports whether the session should
// end.
func handleLine(ctx context.Context, ctrl *conversation.Controller, r *render.Renderer, n notify.Notifier, out io.Writer, line string) (bool, error) {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == cmdQuit || trimmed == cmdExit:
		return true, nil

	case trimmed == cmdHelp:
		fmt.Fprint(out, chatHelp)
		return false, nil

	case trimmed == cmdAttach || strings.HasPrefix(trimmed, cmdAttach+" "):
		path := strings.TrimSpace(strings.TrimPrefix(trimmed, cmdAttach))
		if path == "" {
			n.Notify(notify.Error("Usage: " + cmdAttach + " <path>"))
			return false, nil
		}
		att, err := conversation.FileAttachment(path)
		if err != nil {
			log.Printf("chat: %v", err)
			n.Notify(notify.Error(fmt.Sprintf("Could not open %s.", path)))
			return false, nil
		}
		// Rejections are notified by the controller.
		_ = ctrl.StageAttachment(att)
		return false, nil

	case trimmed == cmdDetach:
		if ctrl.PendingAttachment() != nil {
			ctrl.RemoveAttachment()
			n.Notify(notify.Info("Attachment removed."))
		}
		return false, nil

	case trimmed == cmdClearContext:
		_ = ctrl.ClearDocument(ctx)
		return false, nil
	}

	return false, send(ctx, ctrl, r, out, line)
}

// send runs one turn and renders the messages it added.
func send(ctx context.Context, ctrl *conversation.Controller, r *render.Renderer, out io.Writer, line string) error {
	before := len(ctrl.Messages())

	done := make(chan error, 1)
	go func() { done <- ctrl.SendText(ctx, line) }()

	var err error
	select {
	case err = <-done:
	case <-time.After(typingDelay):
		if status := render.Status(ctrl.Snapshot()); status != "" {
			fmt.Fprintln(out, status)
		}
		err = <-done
	}

	// A blank line is not sent. Send failures are already notified and
	// keep the question in the log.
	if err != nil && !errors.Is(err, conversation.ErrBlankDraft) {
		log.Printf("chat: %v", err)
	}

	msgs := ctrl.Messages()
	if before > len(msgs) {
		before = 0
	}
	return r.Messages(msgs[before:])
}
