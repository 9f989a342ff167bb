package datastream

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeWriteWait = 5 * time.Second

// WebSocketWriter sends each encoded frame as one text message. The trailing
// newline is stripped since message boundaries already delimit frames.
type WebSocketWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewWebSocketWriter wraps an upgraded connection.
func NewWebSocketWriter(conn *websocket.Conn) *WebSocketWriter {
	return &WebSocketWriter{conn: conn}
}

// WriteFrame writes one encoded frame.
func (s *WebSocketWriter) WriteFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, bytes.TrimSuffix(frame, []byte("\n"))); err != nil {
		return fmt.Errorf("write ws frame: %w", err)
	}
	return nil
}

// Send encodes f and writes it.
func (s *WebSocketWriter) Send(f Frame) error {
	b, err := Encode(f)
	if err != nil {
		return err
	}
	return s.WriteFrame(b)
}

// Close sends a close frame: normal closure when err is nil, internal error
// otherwise. The underlying connection is closed in both cases.
func (s *WebSocketWriter) Close(err error) error {
	code, reason := websocket.CloseNormalClosure, ""
	if err != nil {
		code, reason = websocket.CloseInternalServerErr, truncateReason(err.Error())
	}
	return s.CloseWith(code, reason)
}

// CloseWith sends a close frame with an explicit code and reason.
func (s *WebSocketWriter) CloseWith(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, truncateReason(reason))
	werr := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
	if errors.Is(werr, websocket.ErrCloseSent) {
		werr = nil
	}
	cerr := s.conn.Close()
	if werr != nil {
		return fmt.Errorf("close ws: %w", werr)
	}
	return cerr
}

// Control frame payloads are capped at 125 bytes, two of which hold the code.
func truncateReason(s string) string {
	if len(s) > 123 {
		return s[:123]
	}
	return s
}
