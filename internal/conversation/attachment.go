package conversation

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// DefaultMaxAttachmentBytes is the largest file that may be staged (250 MiB).
const DefaultMaxAttachmentBytes int64 = 250 * 1024 * 1024

// DefaultAttachmentExtensions lists the file types accepted by default.
var DefaultAttachmentExtensions = []string{".pdf"}

// Attachment is a file selected for the next send. Open may be called more
// than once, so a failed send can be retried with the same attachment.
type Attachment struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// FileAttachment builds an Attachment backed by a file on disk.
func FileAttachment(path string) (*Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("conversation: attachment: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("conversation: attachment: %s is a directory", path)
	}
	return &Attachment{
		Name: filepath.Base(path),
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// AttachmentRules bounds what may be staged.
type AttachmentRules struct {
	MaxBytes   int64    // defaults to DefaultMaxAttachmentBytes
	Extensions []string // lowercase, with dot; empty allows any type
}

// ValidationError reports input rejected before anything reaches the network.
// Reason is the user-facing text.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "conversation: " + e.Reason
}

// Check validates a against the rules.
func (r AttachmentRules) Check(a *Attachment) error {
	if a == nil || a.Name == "" || a.Open == nil {
		return &ValidationError{Reason: "No file selected."}
	}
	max := r.MaxBytes
	if max <= 0 {
		max = DefaultMaxAttachmentBytes
	}
	if a.Size > max {
		return &ValidationError{Reason: fmt.Sprintf("File size should be less than %s.", humanize.IBytes(uint64(max)))}
	}
	if len(r.Extensions) > 0 {
		ext := strings.ToLower(filepath.Ext(a.Name))
		ok := false
		for _, allowed := range r.Extensions {
			if ext == strings.ToLower(allowed) {
				ok = true
				break
			}
		}
		if !ok {
			return &ValidationError{Reason: fmt.Sprintf("Only %s files can be attached.", strings.Join(r.Extensions, ", "))}
		}
	}
	return nil
}
