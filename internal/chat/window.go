package chat

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// TruncationMarker replaces the dropped middle of exceptionally long
// assistant replies. It is visible to the model on purpose.
const TruncationMarker = "\n\n[... response truncated for context ...]\n\n"

// WindowConfig bounds the serialized history size. The defaults mirror the
// payload limits of the upstream chat endpoint.
type WindowConfig struct {
	// MaxHistoryChars is the ceiling on the serialized kept history.
	MaxHistoryChars int

	// ShortHistoryTurns is the length up to which the history is kept whole.
	ShortHistoryTurns int

	// LeadingTurns / TrailingTurns select what survives from a long history:
	// the opening turns carry the original intent, the trailing ones the
	// recent context. Everything between is dropped.
	LeadingTurns  int
	TrailingTurns int

	// Assistant replies longer than TruncateReplyAt are reduced to the first
	// TruncatedHead and last TruncatedTail characters around the marker.
	TruncateReplyAt int
	TruncatedHead   int
	TruncatedTail   int
}

func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		MaxHistoryChars:   50000,
		ShortHistoryTurns: 8,
		LeadingTurns:      2,
		TrailingTurns:     6,
		TruncateReplyAt:   3000,
		TruncatedHead:     2000,
		TruncatedTail:     500,
	}
}

// Window builds the bounded message list for one upstream request: the
// system prompt first, the windowed history, and the new user message last.
// The result is freshly allocated and never mutated afterwards.
func Window(history []Turn, message, systemPrompt string, cfg WindowConfig) []Message {
	kept := boundHistory(history, cfg)

	messages := make([]Message, 0, len(kept)+2)
	messages = append(messages, textMessage(RoleSystem, systemPrompt))

	for _, turn := range kept {
		switch turn.Role {
		case RoleUser:
			messages = append(messages, userMessage(turn.Content))
		case RoleAssistant:
			messages = append(messages, textMessage(RoleAssistant, truncateReply(turn.Content, cfg)))
		}
	}

	return append(messages, userMessage(message))
}

// boundHistory applies the deterministic windowing: filter system and blank
// turns, keep everything for short histories, otherwise keep the leading and
// trailing turns, then trim turn pairs after the opener until the serialized
// size fits.
func boundHistory(history []Turn, cfg WindowConfig) []Turn {
	filtered := make([]Turn, 0, len(history))
	for _, turn := range history {
		if turn.Role == RoleSystem || isBlank(turn.Content) {
			continue
		}
		filtered = append(filtered, turn)
	}

	var kept []Turn
	if len(filtered) <= cfg.ShortHistoryTurns {
		kept = filtered
	} else {
		kept = make([]Turn, 0, cfg.LeadingTurns+cfg.TrailingTurns)
		kept = append(kept, filtered[:cfg.LeadingTurns]...)
		kept = append(kept, filtered[len(filtered)-cfg.TrailingTurns:]...)
	}

	// Long code-heavy replies can blow the ceiling even after windowing.
	// Drop the two oldest turns after the preserved opener and re-measure,
	// but never touch the opener itself.
	for serializedSize(kept) > cfg.MaxHistoryChars && len(kept) > cfg.LeadingTurns {
		cut := min(cfg.LeadingTurns+2, len(kept))
		kept = append(kept[:cfg.LeadingTurns:cfg.LeadingTurns], kept[cut:]...)
	}

	return kept
}

// truncateReply keeps the head and tail of an overlong assistant reply and
// drops the middle. Applying it to an already truncated reply is a no-op
// because head + marker + tail stays below the threshold.
func truncateReply(content string, cfg WindowConfig) string {
	if len(content) <= cfg.TruncateReplyAt {
		return content
	}

	// Both cut points count bytes, so back them off to a rune boundary
	// instead of splitting a multi-byte character in half.
	head := cfg.TruncatedHead
	for head > 0 && !utf8.RuneStart(content[head]) {
		head--
	}

	tail := len(content) - cfg.TruncatedTail
	for tail < len(content) && !utf8.RuneStart(content[tail]) {
		tail++
	}

	return content[:head] + TruncationMarker + content[tail:]
}

func serializedSize(turns []Turn) int {
	b, err := json.Marshal(turns)
	if err != nil {
		return 0
	}

	return len(b)
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
