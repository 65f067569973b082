package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatmancer/chatmancer/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, mutate ...func(*Options)) *Server {
	t.Helper()
	opts := Options{
		DB:        newTestDB(t),
		UploadDir: filepath.Join(t.TempDir(), "uploads"),
		MaxUpload: 1024,
		Prefix:    "/api",
		Images:    &fakeImages{},
		Responder: &fakeResponder{},
		RPS:       1000,
		Burst:     1000,
	}
	for _, m := range mutate {
		m(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func addUser(t *testing.T, s *Server, name string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"name": name})
	req := httptest.NewRequest(http.MethodPost, "/api/add_user", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return serve(s, req)
}

// chatRequest builds a multipart POST /api/chat. An empty fileName sends no
// file part.
func chatRequest(t *testing.T, question, fileName, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("question", question); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	if fileName != "" {
		part, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		part.Write([]byte(content))
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestNew_Validation(t *testing.T) {
	gdb := newTestDB(t)
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"no db", Options{UploadDir: "u", Images: &fakeImages{}, Responder: &fakeResponder{}}, "db is required"},
		{"no images", Options{DB: gdb, UploadDir: "u", Responder: &fakeResponder{}}, "image generator is required"},
		{"no responder", Options{DB: gdb, UploadDir: "u", Images: &fakeImages{}}, "responder is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestAddUser(t *testing.T) {
	s := newTestServer(t)
	rec := addUser(t, s, "  ada  ")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec)["message"]; got != msgUserAdded {
		t.Errorf("message = %v", got)
	}
	p, err := s.participant()
	if err != nil || p == nil || p.Name != "ada" {
		t.Errorf("current participant = %+v, %v", p, err)
	}
}

func TestAddUser_Rejections(t *testing.T) {
	s := newTestServer(t)
	addUser(t, s, "ada")

	tests := []struct {
		name string
		body string
		want string
	}{
		{"duplicate", `{"name":"ada"}`, msgNameTaken},
		{"blank", `{"name":"   "}`, msgNameRequired},
		{"malformed", `{name`, msgBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/add_user", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := serve(s, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if got := decodeBody(t, rec)["error"]; got != tt.want {
				t.Errorf("error = %v, want %q", got, tt.want)
			}
		})
	}
}

func TestGetChat_NoParticipant(t *testing.T) {
	s := newTestServer(t)
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/chat", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != `{"response":{"messages":[]}}` {
		t.Errorf("body = %s", got)
	}
}

func TestPostChat_NoParticipant(t *testing.T) {
	s := newTestServer(t)
	rec := serve(s, chatRequest(t, "/introduction", "", ""))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPostChat_MissingQuestion(t *testing.T) {
	s := newTestServer(t)
	addUser(t, s, "ada")
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("other=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := serve(s, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestPostChat_FlatEnvelope(t *testing.T) {
	s := newTestServer(t)
	addUser(t, s, "ada")

	rec := serve(s, chatRequest(t, "/introduction", "", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["response"] != TextIntroduction || body["type"] != "ai" {
		t.Errorf("body = %v", body)
	}
	if body["image_urls"] != nil || body["image_url"] != nil {
		t.Errorf("images = %v / %v, want null", body["image_urls"], body["image_url"])
	}

	serve(s, chatRequest(t, "a b c", "", ""))
	rec = serve(s, chatRequest(t, "/image a person", "", ""))
	body = decodeBody(t, rec)
	urls, ok := body["image_urls"].([]any)
	if !ok || len(urls) != multiImageCount {
		t.Errorf("image_urls = %v", body["image_urls"])
	}

	p, _ := s.participant()
	if p.Step != models.StepFitQuestion || p.ThreeWords != "a b c" {
		t.Errorf("participant = %+v", p)
	}
}

func TestGetChat_History(t *testing.T) {
	s := newTestServer(t)
	addUser(t, s, "ada")
	serve(s, chatRequest(t, "/introduction", "", ""))

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/chat", nil))
	var body struct {
		Response struct {
			Messages []historyMessage `json:"messages"`
		} `json:"response"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	msgs := body.Response.Messages
	if len(msgs) != 2 {
		t.Fatalf("messages = %+v, want 2", msgs)
	}
	if msgs[0].Type != "human" || msgs[0].Text != "/introduction" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Type != "ai" || msgs[1].Text != TextIntroduction {
		t.Errorf("msgs[1] = %+v", msgs[1])
	}
}

func TestPostChat_WithFile(t *testing.T) {
	s := newTestServer(t)
	addUser(t, s, "ada")

	rec := serve(s, chatRequest(t, "/introduction", "notes.pdf", "%PDF"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/context_file", nil))
	if got := rec.Body.String(); got != `{"response":"notes.pdf"}` {
		t.Errorf("context_file = %s", got)
	}
}

func TestPostChat_FileTooLarge(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.MaxUpload = 10 })
	addUser(t, s, "ada")

	rec := serve(s, chatRequest(t, "hi", "big.pdf", strings.Repeat("x", 20)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if got := decodeBody(t, rec)["error"]; got != "File size should be less than 10 B." {
		t.Errorf("error = %v", got)
	}

	p, _ := s.participant()
	if p.Step != models.StepIntroduction {
		t.Errorf("step = %q, want unchanged", p.Step)
	}
	if doc, _ := s.store.ActiveDocument(p.ID); doc != nil {
		t.Errorf("document stored: %+v", doc)
	}
}

func TestPostChat_ResponderFailure(t *testing.T) {
	s := newTestServer(t)
	addUser(t, s, "ada")
	p, _ := s.participant()
	p.Step = models.StepChat
	s.store.SaveParticipant(p)
	s.exp.Responder = &fakeResponder{err: context.DeadlineExceeded}

	rec := serve(s, chatRequest(t, "hello", "", ""))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	turns, _ := s.store.Turns(p.ID)
	if len(turns) != 0 {
		t.Errorf("turns recorded on failure: %d", len(turns))
	}
}

func TestContextFile_None(t *testing.T) {
	s := newTestServer(t)
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/context_file", nil))
	if got := rec.Body.String(); got != `{"response":null}` {
		t.Errorf("body = %s", got)
	}
}

func TestClearContextFile(t *testing.T) {
	s := newTestServer(t)
	addUser(t, s, "ada")
	serve(s, chatRequest(t, "/introduction", "notes.pdf", "%PDF"))

	rec := serve(s, httptest.NewRequest(http.MethodPost, "/api/clear_context_file", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeBody(t, rec)["response"]; got != msgContextReset {
		t.Errorf("response = %v", got)
	}
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/context_file", nil))
	if got := rec.Body.String(); got != `{"response":null}` {
		t.Errorf("context_file after clear = %s", got)
	}
}

func TestClearContextFile_NoParticipant(t *testing.T) {
	s := newTestServer(t)
	rec := serve(s, httptest.NewRequest(http.MethodPost, "/api/clear_context_file", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestRoutes_ProductionPrefix(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.Prefix = "" })
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/context_file", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/context_file", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("/api status = %d, want 404", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(o *Options) {
		o.RPS = 0.001
		o.Burst = 1
	})
	first := serve(s, httptest.NewRequest(http.MethodGet, "/api/context_file", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}
	second := serve(s, httptest.NewRequest(http.MethodGet, "/api/context_file", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", second.Code)
	}

	// Metrics are outside the limited group.
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "chatmancer_rate_limited_total 1") {
		t.Errorf("metrics missing rate limit count:\n%s", rec.Body.String())
	}
}

func TestLimiterPool_PerKey(t *testing.T) {
	p := &limiterPool{rps: 0.001, burst: 1}
	if !p.Allow("a") || p.Allow("a") {
		t.Error("key a should allow exactly one request")
	}
	if !p.Allow("b") {
		t.Error("key b should have its own bucket")
	}
}

func TestLimiterPool_Defaults(t *testing.T) {
	p := &limiterPool{}
	l := p.get("x")
	if l.Burst() != 10 || float64(l.Limit()) != 5 {
		t.Errorf("limiter = %v/%d, want 5/10", l.Limit(), l.Burst())
	}
}

func TestMetrics_Turns(t *testing.T) {
	s := newTestServer(t)
	addUser(t, s, "ada")
	serve(s, chatRequest(t, "/introduction", "notes.pdf", "%PDF"))

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	out := rec.Body.String()
	if !strings.Contains(out, `chatmancer_turns_total{step="introduction"} 1`) {
		t.Errorf("metrics missing turn count:\n%s", out)
	}
	if !strings.Contains(out, "chatmancer_uploads_total 1") {
		t.Errorf("metrics missing upload count:\n%s", out)
	}
}

func TestSweep(t *testing.T) {
	s := newTestServer(t)
	addUser(t, s, "ada")
	serve(s, chatRequest(t, "/introduction", "notes.pdf", "%PDF"))

	n, err := s.Sweep(time.Hour)
	if err != nil || n != 0 {
		t.Fatalf("Sweep(1h) = %d, %v, want 0", n, err)
	}
	n, err = s.Sweep(-time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("Sweep(-1h) = %d, %v, want 1", n, err)
	}

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "chatmancer_documents_expired_total 1") {
		t.Errorf("metrics missing expiry count:\n%s", rec.Body.String())
	}
}

func TestScheduleSweep(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.scheduleSweep("not a schedule", time.Hour); err == nil {
		t.Error("expected error for invalid schedule")
	}
	c, err := s.scheduleSweep("*/15 * * * *", time.Hour)
	if err != nil {
		t.Fatalf("scheduleSweep: %v", err)
	}
	if len(c.Entries()) != 1 {
		t.Errorf("entries = %d, want 1", len(c.Entries()))
	}
	c.Stop()
}

func TestStart_NilServer(t *testing.T) {
	err := Start(context.Background(), StartOpts{})
	if err == nil || !strings.Contains(err.Error(), "server is required") {
		t.Errorf("err = %v, want server is required", err)
	}
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- Start(ctx, StartOpts{Server: s, Addr: "127.0.0.1:0", Out: &out})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
