// Package render lays out conversation messages for a terminal. Each reply
// kind has its own layout; the switch over reply.Kind is exhaustive.
package render

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/chatmancer/chatmancer/internal/conversation"
	"github.com/chatmancer/chatmancer/internal/reply"
)

// Speaker labels.
const (
	LabelHuman     = "You"
	LabelAssistant = "ChatBot"
)

// Fixed copy shown around generated images.
const (
	multiImageQuestion = "Have you notice any stereotypes in the images🤔"
	multiImageFooter   = "Considering that the model is trained based on data, it is prone to stereotypes in generated images. We are working to improve this. Please try the /diverse-image syntax to see the improvements."
	singleImageHeading = "Check the new picture below:"
	singleImageFooter  = "We generate images by expanding the user's input prompt, in order to indicate their diverse appearances, interests, and professions etc."
)

var singleImageHints = []string{
	"Want to see why these stereotypes are generated? try /why.",
	"What it's like to be autistic: in their own words. try /how",
	"We would like to hear your story and thoughts about autism. try /story",
}

// Plain-text replies that carry a single link after a known prefix.
var linkReplies = []struct {
	prefix string
	label  string
}{
	{"Share your story: ", "We are looking for your story and feedback!"},
	{"In their own words: ", "Click Me!"},
}

const indent = "  "

// Options configures a Renderer.
type Options struct {
	// Hyperlinks wraps URLs in OSC 8 escape sequences.
	Hyperlinks bool
}

// Renderer writes messages to out.
type Renderer struct {
	out   io.Writer
	links bool
}

// New creates a Renderer.
func New(out io.Writer, opts Options) *Renderer {
	return &Renderer{out: out, links: opts.Hyperlinks}
}

// ForTerminal creates a Renderer that emits hyperlinks only when out is an
// interactive terminal.
func ForTerminal(out io.Writer) *Renderer {
	return New(out, Options{Hyperlinks: IsTerminal(out)})
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Messages writes every message in order.
func (r *Renderer) Messages(msgs []conversation.Message) error {
	for _, m := range msgs {
		if err := r.Message(m); err != nil {
			return err
		}
	}
	return nil
}

// Message writes one message followed by a blank line.
func (r *Renderer) Message(m conversation.Message) error {
	_, err := io.WriteString(r.out, Format(m, r.links)+"\n\n")
	return err
}

// Format returns the layout of m without a trailing newline.
func Format(m conversation.Message, links bool) string {
	label := LabelAssistant
	if m.Role == conversation.RoleHuman {
		label = LabelHuman
	}
	lines := Body(m.Body, links)
	if len(lines) == 0 {
		return label + ":"
	}
	var b strings.Builder
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(lines[0])
	for _, l := range lines[1:] {
		b.WriteString("\n")
		if l != "" {
			b.WriteString(indent)
			b.WriteString(l)
		}
	}
	return b.String()
}

// Body returns the lines that make up a variant's content.
func Body(v reply.Variant, links bool) []string {
	switch v.Kind {
	case reply.KindPlainText:
		return plainText(v.Text, links)
	case reply.KindMultiImage:
		var lines []string
		if v.Text != "" {
			lines = append(lines, splitLines(v.Text)...)
		}
		lines = append(lines, fmt.Sprintf("%s images are created for you:", countWord(len(v.URLs))), multiImageQuestion)
		for i, u := range v.URLs {
			lines = append(lines, fmt.Sprintf("[%d] %s", i+1, link(u, u, links)))
		}
		return append(lines, "", multiImageFooter)
	case reply.KindSingleImage:
		var lines []string
		if v.Text != "" {
			lines = append(lines, splitLines(v.Text)...)
		}
		lines = append(lines, singleImageHeading, link(v.URL, v.URL, links), "", singleImageFooter)
		return append(lines, singleImageHints...)
	default:
		panic(fmt.Sprintf("render: unhandled reply kind %v", v.Kind))
	}
}

func plainText(text string, links bool) []string {
	for _, lr := range linkReplies {
		if url, ok := strings.CutPrefix(text, lr.prefix); ok && url != "" {
			if links {
				return []string{link(url, lr.label, true)}
			}
			return []string{lr.label + " " + url}
		}
	}
	return splitLines(text)
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

// link returns text wrapped in an OSC 8 hyperlink to url when enabled.
func link(url, text string, enabled bool) string {
	if !enabled {
		return text
	}
	return "\x1b]8;;" + url + "\x1b\\" + text + "\x1b]8;;\x1b\\"
}

var countWords = []string{"Zero", "One", "Two", "Three", "Four", "Five", "Six", "Seven", "Eight", "Nine", "Ten"}

func countWord(n int) string {
	if n >= 0 && n < len(countWords) {
		return countWords[n]
	}
	return strconv.Itoa(n)
}

// Status summarizes the session's attachment state in one line, or returns
// "" when there is nothing to show.
func Status(s conversation.State) string {
	var parts []string
	if s.ActiveDocument != "" {
		parts = append(parts, "context file: "+s.ActiveDocument)
	}
	if s.Attachment != nil {
		parts = append(parts, fmt.Sprintf("attached: %s (%s)", s.Attachment.Name, humanize.IBytes(uint64(s.Attachment.Size))))
	}
	if s.Pending {
		parts = append(parts, LabelAssistant+" is typing...")
	}
	if len(parts) == 0 {
		return ""
	}
	return "[" + strings.Join(parts, " | ") + "]"
}
