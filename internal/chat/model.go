// Package chat holds the conversation model and the context windowing that
// bounds an arbitrarily long history into a fixed-size upstream payload.
package chat

import (
	"encoding/json"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the browser-held conversation history. The server
// keeps no history of its own; the full ordered sequence arrives with every
// chat request.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// contentBlock is the structured content shape some clients send instead of
// a plain string.
type contentBlock struct {
	Text    string `json:"text"`
	Content string `json:"content"`
}

// UnmarshalJSON accepts both content shapes: a plain string and a list of
// text blocks, which is flattened to plain text.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    Role            `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	t.Role = raw.Role
	t.Content = ""

	if len(raw.Content) == 0 {
		return nil
	}

	if raw.Content[0] == '[' {
		var blocks []contentBlock
		if err := json.Unmarshal(raw.Content, &blocks); err != nil {
			return err
		}

		var sb strings.Builder
		for _, b := range blocks {
			if b.Text != "" {
				sb.WriteString(b.Text)
			} else {
				sb.WriteString(b.Content)
			}
		}
		t.Content = sb.String()

		return nil
	}

	return json.Unmarshal(raw.Content, &t.Content)
}

// Message is one entry of the upstream request payload. The upstream contract
// is asymmetric: system and assistant turns carry plain-string content, user
// turns carry a one-element text block list.
type Message struct {
	Role    Role `json:"role"`
	Content any  `json:"content"`
}

// TextBlock is the structured content element used for user messages.
type TextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func textMessage(role Role, text string) Message {
	return Message{Role: role, Content: text}
}

func userMessage(text string) Message {
	return Message{Role: RoleUser, Content: []TextBlock{{Type: "text", Text: text}}}
}
