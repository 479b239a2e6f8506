// Package ssepipe implements the SSE Pipe (C8): parses upstream
// Server-Sent-Events frames into response envelopes and re-emits frames
// downstream using the bare `data: <json>\n\n` format with a terminal
// `data: [DONE]\n\n` sentinel. Unwrapping the envelope and reading token
// counts are left to the caller (geminiapi.EnvelopeResponse.Unwrap).
package ssepipe

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/antigravity-gateway/rotation-gateway/internal/geminiapi"
)

// Frame is one parsed upstream SSE data payload.
type Frame struct {
	Envelope *geminiapi.EnvelopeResponse
	Raw      string // original JSON text; used verbatim when parsing fails
	ParseOK  bool
	Identity string // email of the identity that produced this frame, set by the pump
}

// ScanFrames reads `data: <json>` lines from r, invoking fn once per frame
// with the original JSON text and the parsed envelope (nil if parsing
// failed — the raw text is still forwarded verbatim in that case).
// Scanning stops at EOF or the first error fn returns.
func ScanFrames(r io.Reader, fn func(Frame) error) error {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		jsonText := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if jsonText == "" {
			continue
		}

		var env geminiapi.EnvelopeResponse
		ok := json.Unmarshal([]byte(jsonText), &env) == nil
		frame := Frame{Raw: jsonText, ParseOK: ok}
		if ok {
			frame.Envelope = &env
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Writer streams downstream SSE frames in the bare `data: <json>\n\n`
// format, with a final `data: [DONE]\n\n` sentinel.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter wraps w, requiring it to support flushing (streaming not
// supported otherwise).
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &Writer{w: w, flusher: flusher}, nil
}

// SetHeaders sets the SSE response headers. Call this only once headers may
// be committed (after the header-commit-trap check).
func (w *Writer) SetHeaders() {
	w.w.Header().Set("Content-Type", "text/event-stream")
	w.w.Header().Set("Cache-Control", "no-cache")
	w.w.Header().Set("Connection", "keep-alive")
	w.w.Header().Set("X-Accel-Buffering", "no")
}

// WriteJSON marshals v and writes it as one `data: <json>\n\n` frame.
func (w *Writer) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.WriteRaw(string(data))
}

// WriteRaw writes raw as one `data: <raw>\n\n` frame verbatim.
func (w *Writer) WriteRaw(raw string) error {
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", raw); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

// WriteDone writes the terminal `data: [DONE]\n\n` sentinel.
func (w *Writer) WriteDone() error {
	if _, err := fmt.Fprint(w.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}
