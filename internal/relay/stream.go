package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	slogctx "github.com/veqryn/slog-context"
)

// Stream is an open upstream SSE response. The bytes pass through untouched:
// whatever event framing the upstream emits reaches the browser as-is.
type Stream struct {
	body io.ReadCloser
}

// flusher is the subset of http.Flusher Forward needs; split out so tests
// can observe flushes.
type flusher interface {
	Flush()
}

// Forward copies the stream to w, flushing after every chunk so events reach
// the client as they arrive. When the upstream connection dies mid-stream,
// a terminal SSE error event is appended instead of silently truncating.
func (s *Stream) Forward(ctx context.Context, w io.Writer) error {
	defer s.Close()

	buf := make([]byte, 4<<10)

	for {
		n, err := s.body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				// The browser went away, nothing left to relay to.
				return fmt.Errorf("writing to client: %w", werr)
			}
			if f, ok := w.(flusher); ok {
				f.Flush()
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				slogctx.Info(ctx, "Client disconnected, dropping upstream stream")
				return nil
			}

			slogctx.Error(ctx, "Upstream stream broke mid-response", "error", err)
			WriteErrorEvent(w, "Stream error", err.Error())

			return fmt.Errorf("reading upstream stream: %w", err)
		}
	}
}

// Close releases the upstream connection. Safe to call more than once.
func (s *Stream) Close() {
	_ = s.body.Close()
}

// WriteErrorEvent emits the error frame the browser client understands:
// a data-only SSE event carrying an error label and a message.
func WriteErrorEvent(w io.Writer, label, message string) {
	payload, err := json.Marshal(map[string]string{
		"error":   label,
		"message": message,
	})
	if err != nil {
		return
	}

	_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
	if f, ok := w.(flusher); ok {
		f.Flush()
	}
}
