package viewdb

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Content is the decoded payload of a log message. It is a closed union:
// ingestion switches over every concrete type and the compiler guarantees a
// new kind cannot slip through a default case unnoticed (decodeContent is the
// only constructor).
type Content interface {
	contentType() string
}

type PostContent struct {
	Type     string        `json:"type"`
	Text     string        `json:"text"`
	Root     string        `json:"root,omitempty"`
	Branch   StringOrSlice `json:"branch,omitempty"`
	Channel  string        `json:"channel,omitempty"`
	Mentions []MentionLink `json:"mentions,omitempty"`
}

type MentionLink struct {
	Link string `json:"link"`
	Name string `json:"name,omitempty"`
}

type ContactContent struct {
	Type      string `json:"type"`
	Contact   string `json:"contact"`
	Following bool   `json:"following"`
	Blocking  bool   `json:"blocking"`
}

type AboutContent struct {
	Type             string   `json:"type"`
	About            string   `json:"about"`
	Name             string   `json:"name,omitempty"`
	Description      string   `json:"description,omitempty"`
	Image            ImageRef `json:"image,omitempty"`
	PublicWebHosting *bool    `json:"publicWebHosting,omitempty"`
}

type VoteContent struct {
	Type string   `json:"type"`
	Vote VoteBody `json:"vote"`
}

type VoteBody struct {
	Link       string `json:"link"`
	Value      int    `json:"value"`
	Expression string `json:"expression,omitempty"`
}

// DropContentRequest asks that one of the author's own earlier messages be
// deleted from views, identified by its per-feed sequence and key.
type DropContentRequest struct {
	Type     string `json:"type"`
	Sequence int64  `json:"sequence"`
	Hash     string `json:"hash"`
}

type RoomAliasAction string

const (
	RoomAliasRegistered RoomAliasAction = "registered"
	RoomAliasRevoked    RoomAliasAction = "revoked"
)

type RoomAliasContent struct {
	Type     string          `json:"type"`
	Room     string          `json:"room"`
	Alias    string          `json:"alias"`
	AliasURL string          `json:"aliasURL,omitempty"`
	Action   RoomAliasAction `json:"action"`
}

// UnsupportedContent keeps the raw bytes of a kind we do not model, so raw
// counts stay honest.
type UnsupportedContent struct {
	Type string
	Raw  []byte
}

func (PostContent) contentType() string        { return "post" }
func (ContactContent) contentType() string     { return "contact" }
func (AboutContent) contentType() string       { return "about" }
func (VoteContent) contentType() string        { return "vote" }
func (DropContentRequest) contentType() string { return "drop-content-request" }
func (RoomAliasContent) contentType() string   { return "room/alias" }
func (UnsupportedContent) contentType() string { return "unsupported" }

// StringOrSlice tolerates the two encodings of branch links seen in the wild:
// a single key or an array of keys.
type StringOrSlice []string

func (s *StringOrSlice) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '[' {
		var out []string
		if err := json.Unmarshal(b, &out); err != nil {
			return err
		}
		*s = out
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = []string{one}
	return nil
}

// ImageRef tolerates image fields that are either a bare blob key or an
// object with a link field.
type ImageRef string

func (r *ImageRef) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			Link string `json:"link"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*r = ImageRef(obj.Link)
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*r = ImageRef(one)
	return nil
}

type contentEnvelope struct {
	Type string `json:"type"`
}

func decodeContent(raw []byte) (Content, error) {
	var env contentEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding content envelope: %w", err)
	}

	switch env.Type {
	case "post":
		var c PostContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decoding post: %w", err)
		}
		return c, nil
	case "contact":
		var c ContactContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decoding contact: %w", err)
		}
		return c, nil
	case "about":
		var c AboutContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decoding about: %w", err)
		}
		return c, nil
	case "vote":
		var c VoteContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decoding vote: %w", err)
		}
		return c, nil
	case "drop-content-request":
		var c DropContentRequest
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decoding drop-content-request: %w", err)
		}
		return c, nil
	case "room/alias":
		var c RoomAliasContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decoding room/alias: %w", err)
		}
		return c, nil
	default:
		return UnsupportedContent{Type: env.Type, Raw: raw}, nil
	}
}

// hashtagsFromPost pulls channel plus #-prefixed mention links out of a post.
func hashtagsFromPost(c PostContent) []string {
	var tags []string
	seen := make(map[string]bool)
	add := func(name string) {
		name = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "#")
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		tags = append(tags, name)
	}

	if c.Channel != "" {
		add(c.Channel)
	}
	for _, m := range c.Mentions {
		if strings.HasPrefix(m.Link, "#") {
			add(m.Link)
		}
	}
	return tags
}
