package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chatmancer/chatmancer/internal/models"
)

// ErrNameTaken is returned when a participant name is already registered.
var ErrNameTaken = errors.New("backend: participant name already registered")

// Store persists participants, their turns and their context documents.
type Store struct {
	db        *gorm.DB
	uploadDir string
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	DB        *gorm.DB
	UploadDir string // required; created on first upload
}

// NewStore creates a Store.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("backend: store: db is required")
	}
	if opts.UploadDir == "" {
		return nil, fmt.Errorf("backend: store: upload dir is required")
	}
	return &Store{db: opts.DB, uploadDir: opts.UploadDir}, nil
}

// CreateParticipant registers name and starts them at the first step.
func (s *Store) CreateParticipant(name string) (*models.Participant, error) {
	var count int64
	if err := s.db.Model(&models.Participant{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("backend: lookup participant %q: %w", name, err)
	}
	if count > 0 {
		return nil, ErrNameTaken
	}
	p := &models.Participant{
		ID:   uuid.NewString(),
		Name: name,
		Step: models.StepIntroduction,
	}
	if err := s.db.Create(p).Error; err != nil {
		return nil, fmt.Errorf("backend: create participant %q: %w", name, err)
	}
	return p, nil
}

// Participant loads a participant by ID.
func (s *Store) Participant(id string) (*models.Participant, error) {
	var p models.Participant
	if err := s.db.First(&p, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("backend: load participant %s: %w", id, err)
	}
	return &p, nil
}

// SaveParticipant writes the participant's step and answers.
func (s *Store) SaveParticipant(p *models.Participant) error {
	if err := s.db.Save(p).Error; err != nil {
		return fmt.Errorf("backend: save participant %s: %w", p.ID, err)
	}
	return nil
}

// AppendTurn records one message.
func (s *Store) AppendTurn(participantID, speaker, step string, r Reply) error {
	urls := ""
	if len(r.ImageURLs) > 0 {
		data, err := json.Marshal(r.ImageURLs)
		if err != nil {
			return fmt.Errorf("backend: encode image urls: %w", err)
		}
		urls = string(data)
	}
	turn := models.Turn{
		ParticipantID: participantID,
		Speaker:       speaker,
		Step:          step,
		Text:          r.Text,
		ImageURLs:     urls,
		ImageURL:      r.ImageURL,
	}
	if err := s.db.Create(&turn).Error; err != nil {
		return fmt.Errorf("backend: append turn: %w", err)
	}
	return nil
}

// Turns returns a participant's turns in insertion order.
func (s *Store) Turns(participantID string) ([]models.Turn, error) {
	var turns []models.Turn
	if err := s.db.Where("participant_id = ?", participantID).Order("id ASC").Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("backend: list turns: %w", err)
	}
	return turns, nil
}

// ActiveDocument returns the participant's active document, or nil.
func (s *Store) ActiveDocument(participantID string) (*models.ContextDocument, error) {
	var doc models.ContextDocument
	err := s.db.Where("participant_id = ? AND cleared_at IS NULL", participantID).
		Order("id DESC").First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("backend: load context document: %w", err)
	}
	return &doc, nil
}

// SaveDocument stores an upload under a generated name and makes it the
// participant's active document, clearing any previous one.
func (s *Store) SaveDocument(participantID, name string, r io.Reader) (*models.ContextDocument, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("backend: create upload dir: %w", err)
	}
	stored := filepath.Join(s.uploadDir, uuid.NewString()+strings.ToLower(filepath.Ext(name)))
	f, err := os.Create(stored)
	if err != nil {
		return nil, fmt.Errorf("backend: create upload: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(stored)
		return nil, fmt.Errorf("backend: write upload: %w", err)
	}

	if err := s.ClearDocument(participantID); err != nil {
		os.Remove(stored)
		return nil, err
	}
	doc := &models.ContextDocument{
		ParticipantID: participantID,
		Name:          filepath.Base(name),
		StoredPath:    stored,
		Size:          n,
	}
	if err := s.db.Create(doc).Error; err != nil {
		os.Remove(stored)
		return nil, fmt.Errorf("backend: record context document: %w", err)
	}
	return doc, nil
}

// ClearDocument marks the participant's active documents cleared and
// removes their files.
func (s *Store) ClearDocument(participantID string) error {
	var docs []models.ContextDocument
	if err := s.db.Where("participant_id = ? AND cleared_at IS NULL", participantID).Find(&docs).Error; err != nil {
		return fmt.Errorf("backend: list context documents: %w", err)
	}
	return s.clear(docs)
}

// ExpireDocuments clears every active document created before cutoff and
// returns how many were cleared.
func (s *Store) ExpireDocuments(cutoff time.Time) (int, error) {
	var docs []models.ContextDocument
	if err := s.db.Where("cleared_at IS NULL AND created_at < ?", cutoff).Find(&docs).Error; err != nil {
		return 0, fmt.Errorf("backend: list expired documents: %w", err)
	}
	if err := s.clear(docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}

func (s *Store) clear(docs []models.ContextDocument) error {
	if len(docs) == 0 {
		return nil
	}
	ids := make([]uint, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	now := time.Now()
	if err := s.db.Model(&models.ContextDocument{}).Where("id IN ?", ids).Update("cleared_at", now).Error; err != nil {
		return fmt.Errorf("backend: clear context documents: %w", err)
	}
	for _, d := range docs {
		if err := os.Remove(d.StoredPath); err != nil && !os.IsNotExist(err) {
			log.Printf("backend: remove %s: %v", d.StoredPath, err)
		}
	}
	return nil
}

// decodeImageURLs reverses the JSON encoding used by AppendTurn.
func decodeImageURLs(raw string) []string {
	if raw == "" {
		return nil
	}
	var urls []string
	if err := json.Unmarshal([]byte(raw), &urls); err != nil {
		log.Printf("backend: decode stored image urls: %v", err)
		return nil
	}
	return urls
}
