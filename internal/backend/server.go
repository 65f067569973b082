// Package backend is the reference chat backend served by `chatmancer serve`.
// It registers participants, walks them through the guided experience and
// keeps one context document per participant.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/chatmancer/chatmancer/internal/models"
)

// Response texts.
const (
	msgUserAdded      = "User added and experience initialized successfully."
	msgNameTaken      = "User Name already exists."
	msgNameRequired   = "Name is required."
	msgBadRequest     = "Invalid request body."
	msgNoParticipant  = "Please enter your name before chatting."
	msgQuestionNeeded = "Field required: question."
	msgContextReset   = "Context file has been reset"
	msgUnexpected     = "An unexpected error occurred."
)

// Options holds parameters for creating a Server.
type Options struct {
	DB        *gorm.DB
	UploadDir string
	MaxUpload int64  // bytes; 0 disables the check
	Prefix    string // route prefix, "" or "/api"
	Images    ImageGenerator
	Responder Responder
	RPS       float64
	Burst     int
}

// Server handles the chat API. Like the original single-tenant service it
// tracks one current participant: the most recently registered name.
type Server struct {
	store     *Store
	exp       *Experience
	prefix    string
	maxUpload int64
	limiter   *limiterPool
	metrics   *metrics

	// turnMu serializes chat turns so a participant's step advances once
	// per question.
	turnMu sync.Mutex

	mu      sync.Mutex
	current string
}

// New creates a Server.
func New(opts Options) (*Server, error) {
	store, err := NewStore(StoreOpts{DB: opts.DB, UploadDir: opts.UploadDir})
	if err != nil {
		return nil, err
	}
	if opts.Images == nil {
		return nil, fmt.Errorf("backend: image generator is required")
	}
	if opts.Responder == nil {
		return nil, fmt.Errorf("backend: responder is required")
	}
	return &Server{
		store:     store,
		exp:       &Experience{Images: opts.Images, Responder: opts.Responder},
		prefix:    strings.TrimRight(opts.Prefix, "/"),
		maxUpload: opts.MaxUpload,
		limiter:   &limiterPool{rps: opts.RPS, burst: opts.Burst},
		metrics:   newMetrics(),
	}, nil
}

// Handler returns the HTTP handler with every route registered.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())
	s.registerRoutes(router)
	return router
}

// registerRoutes sets up all API routes on the Gin router.
func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(s.metrics.handler()))

	api := router.Group(s.prefix)
	api.Use(rateLimit(s.limiter, s.metrics))
	api.POST("/add_user", s.handleAddUser)
	api.GET("/chat", s.handleGetChat)
	api.POST("/chat", s.handlePostChat)
	api.GET("/context_file", s.handleGetContextFile)
	api.POST("/clear_context_file", s.handleClearContextFile)
}

func (s *Server) setCurrent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = id
}

// participant returns the current participant, or nil when nobody has
// registered yet.
func (s *Server) participant() (*models.Participant, error) {
	s.mu.Lock()
	id := s.current
	s.mu.Unlock()
	if id == "" {
		return nil, nil
	}
	return s.store.Participant(id)
}

func (s *Server) handleAddUser(c *gin.Context) {
	var body struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgBadRequest})
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgNameRequired})
		return
	}

	p, err := s.store.CreateParticipant(name)
	if errors.Is(err, ErrNameTaken) {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgNameTaken})
		return
	}
	if err != nil {
		log.Printf("backend: add user: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgUnexpected})
		return
	}
	s.setCurrent(p.ID)
	log.Printf("backend: participant %s registered as %q", p.ID, p.Name)
	c.JSON(http.StatusCreated, gin.H{"message": msgUserAdded})
}

// historyMessage is one entry of GET /chat.
type historyMessage struct {
	Type      string   `json:"type"`
	Text      string   `json:"text"`
	ImageURLs []string `json:"image_urls,omitempty"`
	ImageURL  string   `json:"image_url,omitempty"`
}

func (s *Server) handleGetChat(c *gin.Context) {
	messages := []historyMessage{}
	p, err := s.participant()
	if err != nil {
		log.Printf("backend: get chat: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgUnexpected})
		return
	}
	if p != nil {
		turns, err := s.store.Turns(p.ID)
		if err != nil {
			log.Printf("backend: get chat: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgUnexpected})
			return
		}
		for _, t := range turns {
			messages = append(messages, historyMessage{
				Type:      t.Speaker,
				Text:      t.Text,
				ImageURLs: decodeImageURLs(t.ImageURLs),
				ImageURL:  t.ImageURL,
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{"response": gin.H{"messages": messages}})
}

func (s *Server) handlePostChat(c *gin.Context) {
	if s.maxUpload > 0 {
		// Leave room for the question field and multipart framing.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload+humanize.MiByte)
	}
	question, ok := c.GetPostForm("question")
	if !ok {
		var maxErr *http.MaxBytesError
		if errors.As(c.Request.ParseMultipartForm(0), &maxErr) {
			s.tooLarge(c)
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": msgQuestionNeeded})
		return
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	p, err := s.participant()
	if err != nil {
		log.Printf("backend: post chat: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgUnexpected})
		return
	}
	if p == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgNoParticipant})
		return
	}

	if fh, err := c.FormFile("file"); err == nil {
		if s.maxUpload > 0 && fh.Size > s.maxUpload {
			s.tooLarge(c)
			return
		}
		f, err := fh.Open()
		if err != nil {
			log.Printf("backend: open upload: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": msgBadRequest})
			return
		}
		doc, err := s.store.SaveDocument(p.ID, fh.Filename, f)
		f.Close()
		if err != nil {
			log.Printf("backend: save upload: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgUnexpected})
			return
		}
		s.metrics.uploads.Inc()
		log.Printf("backend: context document %q (%s) stored for %s", doc.Name, humanize.IBytes(uint64(doc.Size)), p.ID)
	}

	docName := ""
	if doc, err := s.store.ActiveDocument(p.ID); err != nil {
		log.Printf("backend: post chat: %v", err)
	} else if doc != nil {
		docName = doc.Name
	}

	step := p.Step
	reply, err := s.exp.Advance(c.Request.Context(), p, question, docName)
	if err != nil {
		log.Printf("backend: post chat: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": msgUnexpected})
		return
	}
	s.metrics.turns.WithLabelValues(step).Inc()

	if err := s.record(p, step, question, reply); err != nil {
		log.Printf("backend: post chat: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgUnexpected})
		return
	}

	var imageURL *string
	if reply.ImageURL != "" {
		imageURL = &reply.ImageURL
	}
	c.JSON(http.StatusOK, gin.H{
		"response":   reply.Text,
		"type":       models.SpeakerAI,
		"image_urls": reply.ImageURLs,
		"image_url":  imageURL,
	})
}

// record stores both sides of a turn and the participant's new step.
func (s *Server) record(p *models.Participant, step, question string, reply Reply) error {
	if err := s.store.AppendTurn(p.ID, models.SpeakerHuman, step, Reply{Text: question}); err != nil {
		return err
	}
	if err := s.store.AppendTurn(p.ID, models.SpeakerAI, p.Step, reply); err != nil {
		return err
	}
	if err := s.store.SaveParticipant(p); err != nil {
		return err
	}
	if p.Step == models.StepRecorded && step != models.StepRecorded {
		log.Printf("backend: participant %s completed the experience", p.ID)
	}
	return nil
}

func (s *Server) tooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{
		"error": fmt.Sprintf("File size should be less than %s.", humanize.IBytes(uint64(s.maxUpload))),
	})
}

func (s *Server) handleGetContextFile(c *gin.Context) {
	p, err := s.participant()
	if err != nil {
		log.Printf("backend: get context file: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgUnexpected})
		return
	}
	var name *string
	if p != nil {
		doc, err := s.store.ActiveDocument(p.ID)
		if err != nil {
			log.Printf("backend: get context file: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgUnexpected})
			return
		}
		if doc != nil {
			name = &doc.Name
		}
	}
	c.JSON(http.StatusOK, gin.H{"response": name})
}

func (s *Server) handleClearContextFile(c *gin.Context) {
	p, err := s.participant()
	if err == nil && p != nil {
		err = s.store.ClearDocument(p.ID)
	}
	if err != nil {
		log.Printf("backend: clear context file: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgUnexpected})
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": msgContextReset})
}

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Sweep clears context documents older than ttl.
func (s *Server) Sweep(ttl time.Duration) (int, error) {
	n, err := s.store.ExpireDocuments(time.Now().Add(-ttl))
	if err != nil {
		return 0, err
	}
	s.metrics.expired.Add(float64(n))
	return n, nil
}

// scheduleSweep starts a cron job that runs Sweep on schedule.
func (s *Server) scheduleSweep(schedule string, ttl time.Duration) (*cron.Cron, error) {
	if _, err := cronParser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("backend: sweep schedule %q: %w", schedule, err)
	}
	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(schedule, func() {
		n, err := s.Sweep(ttl)
		if err != nil {
			log.Printf("backend: sweep: %v", err)
			return
		}
		if n > 0 {
			log.Printf("backend: sweep cleared %d context document(s)", n)
		}
	}); err != nil {
		return nil, fmt.Errorf("backend: schedule sweep: %w", err)
	}
	c.Start()
	return c, nil
}

// StartOpts holds configuration for running the server.
type StartOpts struct {
	Server        *Server
	Addr          string
	SweepSchedule string        // empty disables the sweep
	ContextTTL    time.Duration // documents older than this are cleared
	Out           io.Writer
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Server == nil {
		return fmt.Errorf("backend: server is required")
	}
	if opts.Addr == "" {
		opts.Addr = ":8000"
	}

	gin.SetMode(gin.ReleaseMode)

	if opts.SweepSchedule != "" && opts.ContextTTL > 0 {
		sweeper, err := opts.Server.scheduleSweep(opts.SweepSchedule, opts.ContextTTL)
		if err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	srv := &http.Server{
		Addr:    opts.Addr,
		Handler: opts.Server.Handler(),
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Chat backend listening on %s (routes under %q)\n", opts.Addr, opts.Server.prefix+"/")
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("backend: %w", err)
	}
	return nil
}
