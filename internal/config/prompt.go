package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

// DefaultSystemPrompt is used when no prompt file can be read.
const DefaultSystemPrompt = "You are NetSuite Dev Assist, a highly skilled software engineer " +
	"with extensive knowledge in NetSuite, SuiteScript, SuiteQL, and modern web development."

// LoadSystemPrompt reads the system prompt file, dropping a leading
// "# SYSTEM PROMPT" heading line if present. Missing or unreadable files
// are the caller's decision; they typically fall back to
// DefaultSystemPrompt.
func LoadSystemPrompt(conf Chat) (string, error) {
	raw, err := os.ReadFile(conf.SystemPromptPath)
	if err != nil {
		return "", fmt.Errorf("reading system prompt file: %w", err)
	}

	prompt := string(raw)
	if rest, ok := strings.CutPrefix(prompt, "# SYSTEM PROMPT"); ok {
		prompt = strings.TrimLeft(rest, " \t")
		prompt = strings.TrimPrefix(prompt, "\n")
	}

	return prompt, nil
}

// LoadClientID resolves the OAuth client ID from its configured source.
func LoadClientID(conf OAuth) (string, error) {
	clientID, err := commoncfg.LoadValueFromSourceRef(conf.ClientID)
	if err != nil {
		return "", fmt.Errorf("loading oauth client id: %w", err)
	}
	if len(clientID) == 0 {
		return "", fmt.Errorf("oauth client id is empty")
	}

	return string(clientID), nil
}
