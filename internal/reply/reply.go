// Package reply classifies assistant reply payloads into a closed set of
// renderable variants.
//
// Every payload maps to exactly one Variant. Rendering code switches on
// Variant.Kind and never re-inspects the raw payload fields.
package reply

import "strings"

// Kind tags a Variant.
type Kind int

const (
	// KindPlainText is a text-only reply.
	KindPlainText Kind = iota
	// KindMultiImage carries an ordered list of generated image URLs.
	KindMultiImage
	// KindSingleImage carries one generated image URL.
	KindSingleImage
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindPlainText:
		return "plain_text"
	case KindMultiImage:
		return "multi_image"
	case KindSingleImage:
		return "single_image"
	default:
		return "unknown"
	}
}

// Variant is the normalized shape of one message body. Only the fields
// belonging to Kind are populated.
type Variant struct {
	Kind Kind
	Text string   // body for PlainText, caption for the image kinds
	URLs []string // MultiImage only
	URL  string   // SingleImage only
}

// PlainText builds a text-only variant.
func PlainText(text string) Variant {
	return Variant{Kind: KindPlainText, Text: text}
}

// MultiImage builds a multi-image variant. The URL slice is copied.
func MultiImage(text string, urls []string) Variant {
	out := make([]string, len(urls))
	copy(out, urls)
	return Variant{Kind: KindMultiImage, Text: text, URLs: out}
}

// SingleImage builds a single-image variant.
func SingleImage(text, url string) Variant {
	return Variant{Kind: KindSingleImage, Text: text, URL: url}
}

// Payload is the raw reply body for one assistant turn, as decoded from the
// transport. ImageURLs and ImageURL are both optional.
type Payload struct {
	Text      string
	ImageURLs []string
	ImageURL  string
}

// Classify maps a payload to its variant. It never fails: a non-empty URL
// list wins over a single URL field, which wins over plain text. URLs are
// cleaned with CleanURL but otherwise passed through unvalidated.
func Classify(p Payload) Variant {
	if len(p.ImageURLs) > 0 {
		urls := make([]string, len(p.ImageURLs))
		for i, u := range p.ImageURLs {
			urls[i] = CleanURL(u)
		}
		return Variant{Kind: KindMultiImage, Text: p.Text, URLs: urls}
	}
	if u := CleanURL(p.ImageURL); u != "" {
		return Variant{Kind: KindSingleImage, Text: p.Text, URL: u}
	}
	return Variant{Kind: KindPlainText, Text: p.Text}
}

// urlCutset is the set of characters stripped from both ends of a URL.
const urlCutset = " \t\r\n\"'"

// CleanURL removes surrounding whitespace and quote characters.
func CleanURL(s string) string {
	return strings.Trim(s, urlCutset)
}
