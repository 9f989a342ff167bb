package datastream

import (
	"fmt"
	"net/http"
)

// Protocol headers.
const (
	HeaderProtocol  = "X-Vercel-AI-Data-Stream"
	ProtocolVersion = "v1"
	ContentType     = "text/plain; charset=utf-8"
)

// Writer streams encoded frames to an http.ResponseWriter.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter sets the protocol headers and commits the response. Returns nil
// if the ResponseWriter doesn't support http.Flusher.
func NewWriter(w http.ResponseWriter) *Writer {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}

	w.Header().Set("Content-Type", ContentType)
	w.Header().Set(HeaderProtocol, ProtocolVersion)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no") // nginx
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Writer{w: w, flusher: flusher}
}

// WriteFrame writes one already-encoded frame and flushes it.
func (s *Writer) WriteFrame(frame []byte) error {
	if _, err := s.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// Send encodes f and writes it.
func (s *Writer) Send(f Frame) error {
	b, err := Encode(f)
	if err != nil {
		return err
	}
	return s.WriteFrame(b)
}
