package reply

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Speaker identifies who produced a history turn on the wire.
type Speaker string

const (
	SpeakerHuman Speaker = "human"
	SpeakerAI    Speaker = "ai"
)

// Turn is one entry of the backend's conversation history.
type Turn struct {
	Speaker Speaker
	Payload Payload
}

// payloadObject is the object form of a reply payload. The backend has used
// "text", "content" and "response" for the body over time.
type payloadObject struct {
	Text      *string         `json:"text"`
	Content   *string         `json:"content"`
	Response  *string         `json:"response"`
	ImageURLs json.RawMessage `json:"image_urls"`
	ImageURL  *string         `json:"image_url"`
}

func (o payloadObject) body() string {
	switch {
	case o.Text != nil:
		return *o.Text
	case o.Content != nil:
		return *o.Content
	case o.Response != nil:
		return *o.Response
	}
	return ""
}

// UnmarshalJSON accepts either a bare JSON string or an object carrying a
// body plus optional image fields.
func (p *Payload) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("reply: decode text payload: %w", err)
		}
		*p = Payload{Text: s}
		return nil
	}

	var obj payloadObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("reply: decode payload: %w", err)
	}
	urls, err := DecodeURLList(obj.ImageURLs)
	if err != nil {
		return err
	}
	out := Payload{Text: obj.body(), ImageURLs: urls}
	if obj.ImageURL != nil {
		out.ImageURL = *obj.ImageURL
	}
	*p = out
	return nil
}

// DecodeURLList decodes an image_urls field. It accepts a JSON array of
// strings, null, or a single string holding a bracketed comma-separated
// list such as "['a.png', 'b.png']". Elements are returned uncleaned.
func DecodeURLList(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch raw[0] {
	case '[':
		var urls []string
		if err := json.Unmarshal(raw, &urls); err != nil {
			return nil, fmt.Errorf("reply: decode image_urls: %w", err)
		}
		return urls, nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("reply: decode image_urls: %w", err)
		}
		return SplitURLList(s), nil
	default:
		return nil, fmt.Errorf("reply: decode image_urls: unexpected %q", raw[0])
	}
}

// SplitURLList splits a textual list like "['a', 'b']" into its elements.
// Brackets are removed; blank elements are dropped.
func SplitURLList(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	var out []string
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// UnmarshalJSON decodes a history entry {type, text|content, image_url?,
// image_urls?}. Any type other than "human" or "user" is an assistant turn.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("reply: decode turn: %w", err)
	}
	var p Payload
	if err := p.UnmarshalJSON(data); err != nil {
		return err
	}
	speaker := SpeakerAI
	switch strings.ToLower(head.Type) {
	case "human", "user":
		speaker = SpeakerHuman
	}
	*t = Turn{Speaker: speaker, Payload: p}
	return nil
}
