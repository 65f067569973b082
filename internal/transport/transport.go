// Package transport is the HTTP client for the chat backend. It implements
// conversation.Transport and the identity gate's registration call.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/chatmancer/chatmancer/internal/conversation"
	"github.com/chatmancer/chatmancer/internal/reply"
)

// DefaultTimeout bounds a single request, including attachment upload.
const DefaultTimeout = 2 * time.Minute

// Endpoint paths relative to the base URL.
const (
	PathChat             = "/chat"
	PathContextFile      = "/context_file"
	PathClearContextFile = "/clear_context_file"
	PathAddUser          = "/add_user"
)

// maxErrorBody caps how much of a failed response is read for diagnostics.
const maxErrorBody = 4096

// Error describes a failed backend call. StatusCode is zero when no response
// was received. Message carries the backend's own error text, if it sent one.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("transport: ")
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Options configures a Client.
type Options struct {
	BaseURL    string        // required, e.g. http://localhost:5173/api
	Timeout    time.Duration // defaults to DefaultTimeout
	HTTPClient *http.Client  // optional; Timeout is ignored when set
}

// Client talks to the chat backend over HTTP.
type Client struct {
	base string
	http *http.Client
}

var _ conversation.Transport = (*Client)(nil)

// New creates a Client.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("transport: base URL is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{base: base, http: hc}, nil
}

// BaseURL returns the resolved endpoint prefix.
func (c *Client) BaseURL() string { return c.base }

// envelope is the outer shape of every backend response. Older backends
// put image fields next to "response" instead of inside it.
type envelope struct {
	Response  json.RawMessage `json:"response"`
	ImageURLs json.RawMessage `json:"image_urls"`
	ImageURL  *string         `json:"image_url"`
}

func (e envelope) empty() bool {
	r := bytes.TrimSpace(e.Response)
	return len(r) == 0 || bytes.Equal(r, []byte("null"))
}

// History fetches the conversation held by the backend.
func (c *Client) History(ctx context.Context) ([]reply.Turn, error) {
	const op = "fetch history"
	env, err := c.do(ctx, op, http.MethodGet, PathChat, nil, "")
	if err != nil {
		return nil, err
	}
	if env.empty() {
		return nil, nil
	}
	var body struct {
		Messages []reply.Turn `json:"messages"`
	}
	if err := json.Unmarshal(env.Response, &body); err != nil {
		return nil, &Error{Op: op, Err: fmt.Errorf("decode messages: %w", err)}
	}
	return body.Messages, nil
}

// Ask posts a question as multipart form data, with the attachment under
// the "file" field when one is given.
func (c *Client) Ask(ctx context.Context, question string, att *conversation.Attachment) (reply.Payload, error) {
	const op = "send message"
	body, contentType, err := multipartBody(question, att)
	if err != nil {
		return reply.Payload{}, &Error{Op: op, Err: err}
	}
	defer body.Close()

	env, err := c.do(ctx, op, http.MethodPost, PathChat, body, contentType)
	if err != nil {
		return reply.Payload{}, err
	}
	if env.empty() {
		return reply.Payload{}, &Error{Op: op, Err: fmt.Errorf("response field missing")}
	}

	var p reply.Payload
	if err := json.Unmarshal(env.Response, &p); err != nil {
		return reply.Payload{}, &Error{Op: op, Err: err}
	}
	if len(p.ImageURLs) == 0 {
		urls, err := reply.DecodeURLList(env.ImageURLs)
		if err != nil {
			return reply.Payload{}, &Error{Op: op, Err: err}
		}
		p.ImageURLs = urls
	}
	if p.ImageURL == "" && env.ImageURL != nil {
		p.ImageURL = *env.ImageURL
	}
	return p, nil
}

// ContextDocument returns the backend's active document name, or "".
func (c *Client) ContextDocument(ctx context.Context) (string, error) {
	const op = "fetch context file"
	env, err := c.do(ctx, op, http.MethodGet, PathContextFile, nil, "")
	if err != nil {
		return "", err
	}
	if env.empty() {
		return "", nil
	}
	var name string
	if err := json.Unmarshal(env.Response, &name); err != nil {
		return "", &Error{Op: op, Err: fmt.Errorf("decode name: %w", err)}
	}
	return name, nil
}

// ClearContextDocument asks the backend to drop the active document and
// returns its confirmation text.
func (c *Client) ClearContextDocument(ctx context.Context) (string, error) {
	const op = "clear context file"
	env, err := c.do(ctx, op, http.MethodPost, PathClearContextFile, nil, "")
	if err != nil {
		return "", err
	}
	if env.empty() {
		return "", nil
	}
	var msg string
	if err := json.Unmarshal(env.Response, &msg); err != nil {
		return "", &Error{Op: op, Err: fmt.Errorf("decode confirmation: %w", err)}
	}
	return msg, nil
}

// AddUser registers a participant name. A rejection carries the backend's
// reason in Error.Message.
func (c *Client) AddUser(ctx context.Context, name string) error {
	const op = "add user"
	data, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	_, err = c.do(ctx, op, http.MethodPost, PathAddUser, bytes.NewReader(data), "application/json")
	return err
}

// do sends one request and decodes the envelope of a 2xx response.
func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string) (envelope, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return envelope{}, &Error{Op: op, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return envelope{}, &Error{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return envelope{}, &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode body: %w", err)}
	}
	return env, nil
}

// errorMessage extracts {"error": ...} or {"detail": ...} from a failed
// response body.
func errorMessage(raw []byte) string {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	if body.Error != "" {
		return body.Error
	}
	return body.Detail
}

// multipartBody streams the question and optional file through a pipe so a
// large attachment is never held in memory.
func multipartBody(question string, att *conversation.Attachment) (io.ReadCloser, string, error) {
	var file io.ReadCloser
	if att != nil {
		f, err := att.Open()
		if err != nil {
			return nil, "", fmt.Errorf("open attachment %s: %w", att.Name, err)
		}
		file = f
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeParts(mw, question, att, file)
		if file != nil {
			file.Close()
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()
	return pr, mw.FormDataContentType(), nil
}

func writeParts(mw *multipart.Writer, question string, att *conversation.Attachment, file io.Reader) error {
	if err := mw.WriteField("question", question); err != nil {
		return err
	}
	if file == nil {
		return nil
	}
	part, err := mw.CreateFormFile("file", att.Name)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, file)
	return err
}
