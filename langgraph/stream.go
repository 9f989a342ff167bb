package langgraph

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"wick_chat/runevent"
)

// RunStream reads the server-sent events of one run. It implements
// turn.Source.
type RunStream struct {
	body   io.ReadCloser
	r      *bufio.Reader
	closed sync.Once
	done   bool
}

func newRunStream(body io.ReadCloser) *RunStream {
	return &RunStream{body: body, r: bufio.NewReader(body)}
}

// RunError is an error reported by the server inside the stream.
type RunError struct {
	Kind    string `json:"error"`
	Message string `json:"message"`
}

func (e *RunError) Error() string {
	if e.Kind == "" {
		return "langgraph run: " + e.Message
	}
	return fmt.Sprintf("langgraph run: %s: %s", e.Kind, e.Message)
}

// Next returns the next run event. Only blocks whose event name starts with
// "events" are returned; metadata and other blocks are skipped. It returns
// io.EOF at the end of the run.
func (s *RunStream) Next(ctx context.Context) (runevent.RunEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return runevent.RunEvent{}, err
		}
		if s.done {
			return runevent.RunEvent{}, io.EOF
		}
		name, data, err := s.readBlock()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				return runevent.RunEvent{}, io.EOF
			}
			return runevent.RunEvent{}, fmt.Errorf("read run stream: %w", err)
		}

		switch {
		case strings.HasPrefix(name, "events"):
			var ev runevent.RunEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				// An undecodable envelope is treated like any other unknown event.
				return runevent.RunEvent{Name: name}, nil
			}
			return ev, nil
		case name == "error":
			rerr := &RunError{}
			if err := json.Unmarshal(data, rerr); err != nil || rerr.Message == "" {
				rerr = &RunError{Message: strings.TrimSpace(string(data))}
			}
			s.done = true
			return runevent.RunEvent{}, rerr
		case name == "end":
			s.done = true
			return runevent.RunEvent{}, io.EOF
		}
	}
}

// readBlock reads one blank-line terminated SSE block. Multiple data lines
// are joined with newlines. Comments and unknown fields are ignored.
func (s *RunStream) readBlock() (string, []byte, error) {
	var (
		name    string
		data    bytes.Buffer
		hasData bool
		seen    bool
	)
	for {
		line, err := s.r.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) && seen {
				return name, data.Bytes(), nil
			}
			return "", nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if seen {
				return name, data.Bytes(), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		seen = true
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
	}
}

// Close releases the underlying response body. It is safe to call more
// than once.
func (s *RunStream) Close() error {
	var err error
	s.closed.Do(func() { err = s.body.Close() })
	return err
}
