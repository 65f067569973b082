package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/chatmancer/chatmancer/internal/notify"
	"github.com/chatmancer/chatmancer/internal/reply"
)

// Transport is the remote chat endpoint. It is the only dependency of the
// controller that touches the network.
type Transport interface {
	// History returns the conversation held by the backend, oldest first.
	History(ctx context.Context) ([]reply.Turn, error)

	// Ask sends a question with an optional attachment and returns the
	// assistant's reply payload. A nil attachment sends text only.
	Ask(ctx context.Context, question string, att *Attachment) (reply.Payload, error)

	// ContextDocument returns the name of the backend's active document, or
	// "" when none is loaded.
	ContextDocument(ctx context.Context) (string, error)

	// ClearContextDocument drops the active document and returns the
	// backend's confirmation text. An empty confirmation means the clear
	// was not acknowledged.
	ClearContextDocument(ctx context.Context) (string, error)
}

// DraftPolicy decides what happens to the composed text when a send fails.
type DraftPolicy string

const (
	// DraftClear resets the draft after every dispatched send.
	DraftClear DraftPolicy = "clear"
	// DraftKeepOnError keeps the draft when the send fails.
	DraftKeepOnError DraftPolicy = "keep_on_error"
)

// Sentinel errors returned by Send and SetDraft.
var (
	ErrBlankDraft   = errors.New("conversation: draft is blank")
	ErrSendInFlight = errors.New("conversation: a send is already in flight")
)

// User-facing notification texts.
const (
	msgHistoryFailed  = "An error occurred while fetching chat history."
	msgSendFailed     = "An error occurred while sending the message."
	msgDocumentFailed = "An error occurred while fetching context file."
	msgClearFailed    = "An error occurred while clearing context file."
	msgClearRejected  = "Error Clearing Context File."
	msgFileAdded      = "File added successfully."
	msgDocumentActive = "A context file is already loaded. Clear it before attaching another."
)

// Options holds parameters for creating a Controller.
type Options struct {
	Transport   Transport
	Notifier    notify.Notifier // defaults to notify.Discard
	DraftPolicy DraftPolicy     // defaults to DraftClear
	Attachments AttachmentRules
}

// Controller owns the state of one chat session and runs the send-turn
// protocol: validate, optimistic append, dispatch, reconcile. At most one
// send is in flight at a time.
//
// Controller is safe for concurrent use. The mutex is never held across a
// Transport call.
type Controller struct {
	transport Transport
	notifier  notify.Notifier
	policy    DraftPolicy
	rules     AttachmentRules

	mu         sync.Mutex
	history    Log
	doc        DocumentTracker
	draft      string
	attachment *Attachment
	pending    bool
	ready      bool
}

// NewController creates a Controller with an empty log.
func NewController(opts Options) (*Controller, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("conversation: transport is required")
	}
	n := opts.Notifier
	if n == nil {
		n = notify.Discard
	}
	policy := opts.DraftPolicy
	switch policy {
	case "":
		policy = DraftClear
	case DraftClear, DraftKeepOnError:
	default:
		return nil, fmt.Errorf("conversation: unknown draft policy %q", policy)
	}
	rules := opts.Attachments
	if rules.MaxBytes <= 0 {
		rules.MaxBytes = DefaultMaxAttachmentBytes
	}
	return &Controller{
		transport: opts.Transport,
		notifier:  n,
		policy:    policy,
		rules:     rules,
	}, nil
}

// State is a point-in-time copy of the controller's state.
type State struct {
	Messages       []Message
	Pending        bool
	Ready          bool
	Draft          string
	ActiveDocument string // "" when none
	Attachment     *Attachment
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	name, _ := c.doc.Active()
	return State{
		Messages:       c.history.Messages(),
		Pending:        c.pending,
		Ready:          c.ready,
		Draft:          c.draft,
		ActiveDocument: name,
		Attachment:     c.attachment,
	}
}

// Messages returns a copy of the log.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Messages()
}

// Pending reports whether a send is in flight.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Ready reports whether the initial history and document fetches finished.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// ActiveDocument returns the active document name, if any.
func (c *Controller) ActiveDocument() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.Active()
}

// PendingAttachment returns the staged attachment, or nil.
func (c *Controller) PendingAttachment() *Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachment
}

// CanStageAttachment reports whether the attach affordance is available.
func (c *Controller) CanStageAttachment() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.CanStage()
}

// Draft returns the text being composed.
func (c *Controller) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// SetDraft replaces the text being composed. Input is disabled while a send
// is in flight.
func (c *Controller) SetDraft(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending {
		return ErrSendInFlight
	}
	c.draft = text
	return nil
}

// Load fetches the history and the active document in parallel. The
// controller is Ready once both have completed, successfully or not. Each
// failure is notified once; the joined error is returned for the caller's
// information.
func (c *Controller) Load(ctx context.Context) error {
	var (
		wg         sync.WaitGroup
		historyErr error
		docErr     error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		historyErr = c.loadHistory(ctx)
	}()
	go func() {
		defer wg.Done()
		docErr = c.RefreshDocument(ctx)
	}()
	wg.Wait()

	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()
	return errors.Join(historyErr, docErr)
}

func (c *Controller) loadHistory(ctx context.Context) error {
	turns, err := c.transport.History(ctx)
	if err != nil {
		log.Printf("conversation: fetch history: %v", err)
		c.notifier.Notify(notify.Error(msgHistoryFailed))
		return fmt.Errorf("conversation: fetch history: %w", err)
	}
	msgs := MessagesFromTurns(turns)

	c.mu.Lock()
	installed := c.history.ReplaceSeed(msgs)
	c.mu.Unlock()
	if !installed {
		log.Printf("conversation: history (%d turns) arrived after local activity, discarded", len(msgs))
	}
	return nil
}

// Send runs one turn with the current draft.
//
// A blank draft returns ErrBlankDraft and a concurrent call returns
// ErrSendInFlight; neither touches the log or the network. Otherwise the
// human message is appended before dispatch and is kept even if the send
// fails. Transport failures are notified once and returned wrapped.
func (c *Controller) Send(ctx context.Context) error {
	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	text := strings.TrimSpace(c.draft)
	if text == "" {
		c.mu.Unlock()
		return ErrBlankDraft
	}
	c.history.AppendHuman(text)
	c.pending = true
	att := c.attachment
	c.mu.Unlock()

	payload, err := c.transport.Ask(ctx, text, att)
	if err != nil {
		c.mu.Lock()
		if c.policy == DraftClear {
			c.draft = ""
		}
		c.pending = false
		c.mu.Unlock()

		log.Printf("conversation: send: %v", err)
		c.notifier.Notify(notify.Error(msgSendFailed))
		return fmt.Errorf("conversation: send: %w", err)
	}

	v := reply.Classify(payload)
	c.mu.Lock()
	c.history.AppendAssistant(v)
	c.draft = ""
	if att != nil && c.attachment == att {
		c.attachment = nil
	}
	c.mu.Unlock()

	// Refresh failures are already notified and leave the last known value.
	_ = c.RefreshDocument(ctx)

	c.mu.Lock()
	c.pending = false
	c.mu.Unlock()
	return nil
}

// SendText sets the draft to text and sends it.
func (c *Controller) SendText(ctx context.Context, text string) error {
	if err := c.SetDraft(text); err != nil {
		return err
	}
	return c.Send(ctx)
}

// RefreshDocument reconciles the active document with the backend, which is
// the source of truth. A document becoming active drops any staged file.
func (c *Controller) RefreshDocument(ctx context.Context) error {
	name, err := c.transport.ContextDocument(ctx)
	if err != nil {
		log.Printf("conversation: fetch context document: %v", err)
		c.notifier.Notify(notify.Error(msgDocumentFailed))
		return fmt.Errorf("conversation: fetch context document: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc.SetActive(name)
	if _, active := c.doc.Active(); active {
		c.attachment = nil
	}
	return nil
}

// StageAttachment selects a file for the next send. Rejections are notified
// once and leave the state unchanged.
func (c *Controller) StageAttachment(a *Attachment) error {
	c.mu.Lock()
	if !c.doc.CanStage() {
		c.mu.Unlock()
		c.notifier.Notify(notify.Error(msgDocumentActive))
		return &ValidationError{Reason: msgDocumentActive}
	}
	if err := c.rules.Check(a); err != nil {
		c.mu.Unlock()
		var ve *ValidationError
		if errors.As(err, &ve) {
			c.notifier.Notify(notify.Error(ve.Reason))
		}
		return err
	}
	c.attachment = a
	c.mu.Unlock()

	c.notifier.Notify(notify.Info(msgFileAdded))
	return nil
}

// RemoveAttachment drops the staged file, if any.
func (c *Controller) RemoveAttachment() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachment = nil
}

// ClearDocument asks the backend to drop the active document. On
// confirmation the local document and any staged file are cleared and the
// backend's message is shown.
func (c *Controller) ClearDocument(ctx context.Context) error {
	msg, err := c.transport.ClearContextDocument(ctx)
	if err != nil {
		log.Printf("conversation: clear context document: %v", err)
		c.notifier.Notify(notify.Error(msgClearFailed))
		return fmt.Errorf("conversation: clear context document: %w", err)
	}
	if msg == "" {
		c.notifier.Notify(notify.Error(msgClearRejected))
		return fmt.Errorf("conversation: clear context document: not acknowledged")
	}

	c.mu.Lock()
	c.doc.Clear()
	c.attachment = nil
	c.mu.Unlock()

	c.notifier.Notify(notify.Info(msg))
	return nil
}
